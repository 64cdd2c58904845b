// Package coach turns user statements into coaching feedback. It runs the
// analysis, assesses the proficiency level, and words the response either
// through the remote conversational service or from local templates.
package coach

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/BTreeMap/MetaCoach/internal/analysis"
	"github.com/BTreeMap/MetaCoach/internal/models"
	"github.com/BTreeMap/MetaCoach/internal/store"
)

// LevelKey is the answer key under which a user's proficiency level is stored.
const LevelKey = "proficiency_level"

// Analyzer produces an analysis result. It must never fail.
type Analyzer interface {
	Analyze(ctx context.Context, statement string, level models.ProficiencyLevel) models.AnalysisResult
}

// Feedback is the outcome of one coached statement.
type Feedback struct {
	Analysis   models.AnalysisResult  `json:"analysis"`
	Assessment models.LevelAssessment `json:"assessment"`
	Message    models.CoachMessage    `json:"message"`
}

// Coach wires the analyzer, level assessment and response builder together.
type Coach struct {
	analyzer Analyzer
	builder  *ResponseBuilder
	st       store.Store
}

// NewCoach creates a Coach. st may be nil for stateless use.
func NewCoach(analyzer Analyzer, builder *ResponseBuilder, st store.Store) *Coach {
	if builder == nil {
		builder = NewResponseBuilder(nil)
	}
	return &Coach{analyzer: analyzer, builder: builder, st: st}
}

// Evaluate analyses a statement at the given level without reading or
// writing any user state.
func (c *Coach) Evaluate(ctx context.Context, aud Audience, statement string, level models.ProficiencyLevel) (Feedback, error) {
	if err := models.ValidateStatement(statement); err != nil {
		return Feedback{}, err
	}
	level = level.Clamp()
	result := c.analyzer.Analyze(ctx, statement, level)
	assessment := analysis.AssessNextLevel(result, level)
	msg := c.builder.BuildFeedback(ctx, aud, result, assessment)
	slog.Debug("Coach.Evaluate: done", "userID", aud.UserID, "patterns", len(result.Patterns), "usedFallback", result.UsedFallback, "level", assessment.Next)
	return Feedback{Analysis: result, Assessment: assessment, Message: msg}, nil
}

// Respond coaches one statement for a user's module and records the new level.
// A level-store failure is returned wrapped in models.ErrPersistence together
// with the complete feedback.
func (c *Coach) Respond(ctx context.Context, userID, moduleID, statement string, userCtx *models.UserContext) (Feedback, error) {
	if err := models.ValidateStatement(statement); err != nil {
		return Feedback{}, err
	}

	level, stored, levelErr := c.Level(userID, moduleID)
	aud := Audience{UserID: userID, ModuleID: moduleID, Context: userCtx}
	fb, err := c.Evaluate(ctx, aud, statement, level)
	if err != nil {
		return Feedback{}, err
	}
	if levelErr != nil {
		return fb, levelErr
	}

	if stored && !fb.Assessment.Increased() {
		return fb, nil
	}
	if err := c.st.PutAnswer(userID, moduleID, LevelKey, strconv.Itoa(int(fb.Assessment.Next))); err != nil {
		slog.Error("Coach.Respond: failed to store level", "userID", userID, "moduleID", moduleID, "error", err)
		return fb, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	if fb.Assessment.Increased() {
		slog.Info("Coach.Respond: level increased", "userID", userID, "moduleID", moduleID, "from", fb.Assessment.Previous, "to", fb.Assessment.Next)
	}
	return fb, nil
}

// Level returns the stored proficiency level, defaulting to the minimum.
// stored reports whether a level was found.
func (c *Coach) Level(userID, moduleID string) (level models.ProficiencyLevel, stored bool, err error) {
	if c.st == nil {
		return models.MinLevel, false, fmt.Errorf("%w: no store configured", models.ErrPersistence)
	}
	raw, ok, err := c.st.GetAnswer(userID, moduleID, LevelKey)
	if err != nil {
		slog.Error("Coach.Level: failed to read level", "userID", userID, "moduleID", moduleID, "error", err)
		return models.MinLevel, false, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	if !ok {
		return models.MinLevel, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Coach.Level: ignoring malformed level", "userID", userID, "moduleID", moduleID, "value", raw)
		return models.MinLevel, false, nil
	}
	return models.ProficiencyLevel(n).Clamp(), true, nil
}

// Welcome returns the onboarding message for a user's module.
func (c *Coach) Welcome(ctx context.Context, userID, moduleID string, userCtx *models.UserContext) models.CoachMessage {
	return c.builder.BuildWelcome(ctx, Audience{UserID: userID, ModuleID: moduleID, Context: userCtx})
}
