package analysis

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/MetaCoach/internal/models"
)

// genAIAnalysisPrompt asks the model for the same document the hosted endpoint returns.
const genAIAnalysisPrompt = `Du bist ein Coach, der Aussagen nach dem Meta-Modell der Sprache analysiert.
Finde in der Aussage des Nutzers Universalquantoren, Ursache-Wirkung-Verknüpfungen, Tilgungen bzw. unspezifische Bezüge und Vorannahmen.
Antworte ausschließlich mit JSON in genau dieser Form:
{"analysis":[{"pattern_type":"universal_quantifier|causal_link|deletion_vague_reference|presupposition","identified_word":"<Wort aus der Aussage>","generated_question":"<präzisierende Rückfrage>"}]}
Wenn die Aussage bereits präzise ist, antworte mit {"analysis":[]}.`

// PromptGenerator is the part of genai.ClientInterface GenAIRemote needs.
type PromptGenerator interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GenAIRemote implements RemoteAnalyzer on top of a chat model.
type GenAIRemote struct {
	client PromptGenerator
}

// NewGenAIRemote creates a GenAIRemote.
func NewGenAIRemote(client PromptGenerator) *GenAIRemote {
	return &GenAIRemote{client: client}
}

// AnalyzeRemote asks the model for an analysis document and validates it like an endpoint response.
func (g *GenAIRemote) AnalyzeRemote(ctx context.Context, statement string) (models.AnalysisResult, error) {
	reply, err := g.client.GeneratePromptWithContext(ctx, genAIAnalysisPrompt, statement)
	if err != nil {
		return models.AnalysisResult{}, unavailable(err)
	}
	body := stripCodeFence(reply)
	slog.Debug("GenAIRemote.AnalyzeRemote: model replied", "bytes", len(body))
	return decodeAnalysis([]byte(body))
}

// stripCodeFence removes a surrounding ``` block that chat models like to add.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
