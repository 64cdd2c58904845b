package coach

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/MetaCoach/internal/models"
)

// Audience identifies who a coach message is for. An empty UserID keeps the
// builder on its local templates.
type Audience struct {
	UserID   string
	ModuleID string
	Context  *models.UserContext
}

// ResponseBuilder turns analysis outcomes into coach messages. With a
// SessionManager it asks the conversational service for the wording and
// falls back to local templates on any failure.
type ResponseBuilder struct {
	sessions *SessionManager
}

// NewResponseBuilder creates a ResponseBuilder. sessions may be nil.
func NewResponseBuilder(sessions *SessionManager) *ResponseBuilder {
	return &ResponseBuilder{sessions: sessions}
}

func (b *ResponseBuilder) remote(aud Audience) bool {
	return b.sessions != nil && aud.UserID != ""
}

// BuildFeedback composes the feedback for one analysed statement.
func (b *ResponseBuilder) BuildFeedback(ctx context.Context, aud Audience, result models.AnalysisResult, assessment models.LevelAssessment) models.CoachMessage {
	msg := localFeedback(result, assessment)
	if !b.remote(aud) {
		return msg
	}

	session, err := b.sessions.EnsureSession(ctx, aud.UserID, aud.ModuleID, aud.Context)
	if err != nil {
		slog.Warn("ResponseBuilder.BuildFeedback: using local template", "userID", aud.UserID, "error", err)
		return msg
	}
	reply, err := b.sessions.Send(ctx, session, feedbackPrompt(result, assessment))
	if err != nil || strings.TrimSpace(reply) == "" {
		slog.Warn("ResponseBuilder.BuildFeedback: using local template", "userID", aud.UserID, "error", err)
		return msg
	}
	msg.Body = strings.TrimSpace(reply)
	b.sessions.LogUsage(ctx, aud.UserID, "feedback_delivered", map[string]string{
		"module":        aud.ModuleID,
		"patterns":      strconv.Itoa(len(result.Patterns)),
		"used_fallback": strconv.FormatBool(result.UsedFallback),
	})
	return msg
}

// BuildWelcome produces the onboarding message for a module.
func (b *ResponseBuilder) BuildWelcome(ctx context.Context, aud Audience) models.CoachMessage {
	msg := localWelcome(aud.Context, aud.ModuleID)
	if !b.remote(aud) {
		return msg
	}

	session, err := b.sessions.EnsureSession(ctx, aud.UserID, aud.ModuleID, aud.Context)
	if err != nil || strings.TrimSpace(session.Greeting) == "" {
		slog.Warn("ResponseBuilder.BuildWelcome: using local template", "userID", aud.UserID, "moduleID", aud.ModuleID, "error", err)
		return msg
	}
	msg.Body = strings.TrimSpace(session.Greeting)
	b.sessions.LogUsage(ctx, aud.UserID, "welcome_delivered", map[string]string{"module": aud.ModuleID})
	return msg
}

func localFeedback(result models.AnalysisResult, assessment models.LevelAssessment) models.CoachMessage {
	if len(result.Patterns) == 0 {
		enc := "Sehr gut! Du formulierst bereits klar und konkret."
		return models.CoachMessage{
			Kind:               models.CoachMessageFeedback,
			Body:               "Deine Aussage ist bereits sehr präzise. Mir sind keine Verallgemeinerungen, Tilgungen oder Vorannahmen aufgefallen.",
			SuggestedNextSteps: []string{models.StepReflectDeliberately},
			Encouragement:      &enc,
		}
	}

	var b strings.Builder
	b.WriteString("Mir sind folgende Sprachmuster aufgefallen:\n")
	for _, p := range result.Patterns {
		if p.MatchedKeyword != "" {
			fmt.Fprintf(&b, "- %s („%s“)\n", p.Category.DisplayName(), p.MatchedKeyword)
		} else {
			fmt.Fprintf(&b, "- %s\n", p.Category.DisplayName())
		}
	}
	b.WriteString("\nFragen zum Weiterdenken:\n")
	for i, p := range result.Patterns {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.FollowUpQuestion)
	}

	step := models.StepDeepenCurrentLevel
	enc := "Bleib dran. Jede präzisierende Frage schärft deinen Blick für Sprache."
	if assessment.Increased() {
		step = models.StepContinueLevel
		enc = fmt.Sprintf("Stark! Du hast Level %d erreicht.", assessment.Next)
	}
	return models.CoachMessage{
		Kind:               models.CoachMessageFeedback,
		Body:               strings.TrimRight(b.String(), "\n"),
		SuggestedNextSteps: []string{step},
		Encouragement:      &enc,
	}
}

func feedbackPrompt(result models.AnalysisResult, assessment models.LevelAssessment) string {
	var b strings.Builder
	b.WriteString("Analyse meiner letzten Aussage:\n")
	if len(result.Patterns) == 0 {
		b.WriteString("- keine Sprachmuster gefunden\n")
	}
	for _, p := range result.Patterns {
		fmt.Fprintf(&b, "- %s: %q, Rückfrage: %s\n", p.Category.DisplayName(), p.MatchedKeyword, p.FollowUpQuestion)
	}
	fmt.Fprintf(&b, "Level vorher: %d, Level jetzt: %d\n", assessment.Previous, assessment.Next)
	b.WriteString("Gib mir darauf eine kurze, ermutigende Rückmeldung und stelle die wichtigste Rückfrage.")
	return b.String()
}

var welcomeTemplates = map[string]string{
	"metamodel": "Willkommen beim Meta-Modell, %s! Hier lernst du, unpräzise Sprache zu erkennen: " +
		"Verallgemeinerungen, Ursache-Wirkungs-Annahmen, Tilgungen und Vorannahmen. " +
		"Schreib einen Satz, der dich gerade beschäftigt, und wir schauen ihn gemeinsam an.",
	"genius_gate": "Willkommen am Genius Gate, %s! In diesem Modul stellst du deinem Unbewussten " +
		"präzise Fragen und achtest auf die Antworten, die auftauchen.",
	"incongruence": "Willkommen zum Modul Inkongruenz, %s! Wir schauen uns an, wo Denken, Fühlen " +
		"und Handeln bei dir auseinanderlaufen, ohne zu bewerten.",
}

const genericWelcome = "Willkommen, %s! Schön, dass du da bist. Lass uns mit der ersten Übung beginnen."

func localWelcome(userCtx *models.UserContext, moduleID string) models.CoachMessage {
	tmpl, ok := welcomeTemplates[moduleID]
	if !ok {
		tmpl = genericWelcome
	}
	var body string
	if userCtx == nil || userCtx.Name == "" {
		body = strings.Replace(tmpl, ", %s!", "!", 1)
	} else {
		body = fmt.Sprintf(tmpl, userCtx.Name)
	}
	if userCtx != nil && userCtx.MainChallenge != "" {
		body += fmt.Sprintf(" Du hast erwähnt, dass dich gerade „%s“ beschäftigt. Das ist ein guter Ausgangspunkt.", userCtx.MainChallenge)
	}
	return models.CoachMessage{
		Kind:               models.CoachMessageWelcome,
		Body:               body,
		SuggestedNextSteps: []string{models.StepStartExercise},
	}
}
