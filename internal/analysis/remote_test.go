package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/MetaCoach/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRemote(t *testing.T, handler http.HandlerFunc) *RemoteClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewRemoteClient(WithEndpoint(srv.URL), WithAPIKey("secret"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return client
}

func TestNewRemoteClient_RequiresEndpoint(t *testing.T) {
	_, err := NewRemoteClient()
	assert.Error(t, err)
}

func TestRemoteClient_Success(t *testing.T) {
	var gotBody map[string]string
	var gotAuth string
	client := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"analysis":[
			{"pattern_type":"Universalquantor","identified_word":" nie ","generated_question":"Wirklich nie?"},
			{"pattern_type":"cause-effect","identified_word":"weil","generated_question":"Wie genau?"}
		]}`))
	})

	result, err := client.AnalyzeRemote(context.Background(), "Ich schaffe das nie, weil ...")
	require.NoError(t, err)
	assert.Equal(t, "Ich schaffe das nie, weil ...", gotBody["inputText"])
	assert.Equal(t, "Bearer secret", gotAuth)
	require.Len(t, result.Patterns, 2)
	assert.Equal(t, models.DetectedPattern{
		Category:         models.CategoryUniversalQuantifier,
		MatchedKeyword:   "nie",
		FollowUpQuestion: "Wirklich nie?",
	}, result.Patterns[0])
	assert.Equal(t, models.CategoryCausalLink, result.Patterns[1].Category)
	assert.False(t, result.UsedFallback)
}

func TestRemoteClient_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind RemoteErrorKind
	}{
		{"server error", http.StatusInternalServerError, `{"analysis":[]}`, RemoteUnavailable},
		{"not found", http.StatusNotFound, ``, RemoteUnavailable},
		{"missing analysis field", http.StatusOK, `{"result":[]}`, MalformedRemoteResponse},
		{"analysis not an array", http.StatusOK, `{"analysis":"none"}`, MalformedRemoteResponse},
		{"entry missing question", http.StatusOK, `{"analysis":[{"pattern_type":"presupposition","identified_word":"schon"}]}`, MalformedRemoteResponse},
		{"not json", http.StatusOK, `<html>oops</html>`, MalformedRemoteResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.AnalyzeRemote(context.Background(), "irgendwas")
			require.Error(t, err)
			kind, ok := IsRemoteError(err)
			require.True(t, ok, "expected RemoteError, got %T", err)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestRemoteClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	client, err := NewRemoteClient(WithEndpoint(srv.URL))
	require.NoError(t, err)

	_, err = client.AnalyzeRemote(context.Background(), "test")
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, RemoteUnavailable, re.Kind)
}

func TestRemoteClient_DropsUnknownCategories(t *testing.T) {
	client := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"analysis":[
			{"pattern_type":"mind_reading","identified_word":"denkt","generated_question":"Woher weißt du das?"},
			{"pattern_type":"Vorannahme","identified_word":"schon","generated_question":"Was setzt du voraus?"}
		]}`))
	})

	result, err := client.AnalyzeRemote(context.Background(), "Er denkt schon, ich sei faul")
	require.NoError(t, err)
	require.Len(t, result.Patterns, 1)
	assert.Equal(t, models.CategoryPresupposition, result.Patterns[0].Category)
}

func TestNormalizeCategory(t *testing.T) {
	tests := map[string]models.PatternCategory{
		"universal_quantifier":     models.CategoryUniversalQuantifier,
		"Universal Quantifier":     models.CategoryUniversalQuantifier,
		"GENERALIZATION":           models.CategoryUniversalQuantifier,
		"Ursache-Wirkung":          models.CategoryCausalLink,
		"deletion_vague_reference": models.CategoryVagueReference,
		"  Tilgung ":               models.CategoryVagueReference,
		"presupposition":           models.CategoryPresupposition,
	}
	for raw, want := range tests {
		got, ok := NormalizeCategory(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := NormalizeCategory("lost performative")
	assert.False(t, ok)
}

type stubGenAI struct {
	reply string
	err   error
}

func (s *stubGenAI) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.reply, s.err
}

func TestGenAIRemote(t *testing.T) {
	remote := NewGenAIRemote(&stubGenAI{reply: "```json\n{\"analysis\":[{\"pattern_type\":\"causal_link\",\"identified_word\":\"weil\",\"generated_question\":\"Wie hängt das zusammen?\"}]}\n```"})
	result, err := remote.AnalyzeRemote(context.Background(), "Ich bin müde, weil ich arbeite")
	require.NoError(t, err)
	require.Len(t, result.Patterns, 1)
	assert.Equal(t, "weil", result.Patterns[0].MatchedKeyword)

	failing := NewGenAIRemote(&stubGenAI{err: errors.New("rate limited")})
	_, err = failing.AnalyzeRemote(context.Background(), "x")
	kind, ok := IsRemoteError(err)
	require.True(t, ok)
	assert.Equal(t, RemoteUnavailable, kind)

	prose := NewGenAIRemote(&stubGenAI{reply: "Ich sehe hier einen Universalquantor."})
	_, err = prose.AnalyzeRemote(context.Background(), "x")
	kind, _ = IsRemoteError(err)
	assert.Equal(t, MalformedRemoteResponse, kind)
}
