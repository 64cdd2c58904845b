package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/MetaCoach/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote is a scripted RemoteAnalyzer.
type fakeRemote struct {
	result models.AnalysisResult
	err    error
	block  bool
	panics bool
	calls  int
}

func (f *fakeRemote) AnalyzeRemote(ctx context.Context, statement string) (models.AnalysisResult, error) {
	f.calls++
	if f.panics {
		panic("remote exploded")
	}
	if f.block {
		<-ctx.Done()
		return models.AnalysisResult{}, unavailable(ctx.Err())
	}
	return f.result, f.err
}

func TestOrchestrator_RemoteSuccess(t *testing.T) {
	remote := &fakeRemote{result: models.AnalysisResult{Patterns: []models.DetectedPattern{
		{Category: models.CategoryPresupposition, MatchedKeyword: "schon", FollowUpQuestion: "Was setzt du voraus?"},
	}}}
	o := NewOrchestrator(remote, nil)

	result := o.Analyze(context.Background(), "Ich habe es schon versucht", 1)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, remote.result.Patterns, result.Patterns)
	assert.Equal(t, 1, remote.calls)
}

func TestOrchestrator_FallsBackOnAnyFailure(t *testing.T) {
	statement := "Weil alle immer schon etwas von mir wollen"
	heuristic := NewHeuristicAnalyzer(nil)
	expected := heuristic.Analyze(statement, 2).Patterns

	tests := map[string]*fakeRemote{
		"unavailable":       {err: unavailable(errors.New("connection refused"))},
		"malformed":         {err: malformed(errors.New("missing analysis"))},
		"plain error":       {err: errors.New("unexpected")},
		"empty but valid":   {result: models.AnalysisResult{Patterns: []models.DetectedPattern{}}},
		"nil pattern slice": {},
		"panic":             {panics: true},
	}

	for name, remote := range tests {
		t.Run(name, func(t *testing.T) {
			o := NewOrchestrator(remote, heuristic)
			var result models.AnalysisResult
			require.NotPanics(t, func() {
				result = o.Analyze(context.Background(), statement, 2)
			})
			assert.True(t, result.UsedFallback)
			assert.Equal(t, expected, result.Patterns)
		})
	}
}

func TestOrchestrator_NilRemoteAlwaysFallsBack(t *testing.T) {
	o := NewOrchestrator(nil, nil)
	result := o.Analyze(context.Background(), "Ich schaffe das nie!", 2)
	assert.True(t, result.UsedFallback)
	require.Len(t, result.Patterns, 1)
}

func TestOrchestrator_TimeoutTriggersFallback(t *testing.T) {
	remote := &fakeRemote{block: true}
	o := NewOrchestrator(remote, nil, WithTimeout(20*time.Millisecond))

	start := time.Now()
	result := o.Analyze(context.Background(), "Ich schaffe das nie!", 1)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, result.UsedFallback)
	require.Len(t, result.Patterns, 1)
	assert.Equal(t, "nie", result.Patterns[0].MatchedKeyword)
}

// Scenario: remote forced to fail, one quantifier found, level holds because
// the fallback path needs three patterns to advance.
func TestAnalyzeAndAssess_ScenarioRemoteDown(t *testing.T) {
	o := NewOrchestrator(&fakeRemote{err: unavailable(errors.New("offline"))}, nil)

	result := o.Analyze(context.Background(), "Ich schaffe das nie!", 2)
	require.True(t, result.UsedFallback)
	require.Len(t, result.Patterns, 1)
	assert.Equal(t, models.CategoryUniversalQuantifier, result.Patterns[0].Category)
	assert.Equal(t, "nie", result.Patterns[0].MatchedKeyword)

	assessment := AssessNextLevel(result, 2)
	assert.Equal(t, models.ProficiencyLevel(2), assessment.Next)
	assert.False(t, assessment.Increased())
}
