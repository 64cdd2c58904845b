// Package models defines the Meta-Model analysis types shared by the analyzer, coach and workflow packages.
package models

import "fmt"

// PatternCategory identifies one of the four Meta-Model language patterns.
type PatternCategory string

// The closed set of pattern categories, in detection order.
const (
	CategoryUniversalQuantifier PatternCategory = "universal_quantifier"
	CategoryCausalLink          PatternCategory = "causal_link"
	CategoryVagueReference      PatternCategory = "deletion_vague_reference"
	CategoryPresupposition      PatternCategory = "presupposition"
)

// PatternCategories lists every category in the order the analyzers report them.
var PatternCategories = []PatternCategory{
	CategoryUniversalQuantifier,
	CategoryCausalLink,
	CategoryVagueReference,
	CategoryPresupposition,
}

// IsValid reports whether c belongs to the closed category set.
func (c PatternCategory) IsValid() bool {
	for _, known := range PatternCategories {
		if c == known {
			return true
		}
	}
	return false
}

// DisplayName returns the human readable label used in coach messages.
func (c PatternCategory) DisplayName() string {
	switch c {
	case CategoryUniversalQuantifier:
		return "Universalquantor"
	case CategoryCausalLink:
		return "Ursache-Wirkung"
	case CategoryVagueReference:
		return "Tilgung / unspezifischer Bezug"
	case CategoryPresupposition:
		return "Vorannahme"
	default:
		return string(c)
	}
}

// DetectedPattern is a single pattern found in a statement.
// Its shape is the same whether the local heuristic or the remote service produced it.
type DetectedPattern struct {
	Category         PatternCategory `json:"category"`
	MatchedKeyword   string          `json:"matched_keyword"`
	FollowUpQuestion string          `json:"follow_up_question"`
}

// AnalysisResult is the outcome of analyzing one statement.
// Patterns may be empty when the statement is already precise.
type AnalysisResult struct {
	Patterns     []DetectedPattern `json:"patterns"`
	UsedFallback bool              `json:"used_fallback"`
}

// ProficiencyLevel is the user's Meta-Model practice level.
type ProficiencyLevel int

// Level bounds.
const (
	MinLevel ProficiencyLevel = 1
	MaxLevel ProficiencyLevel = 5
)

// Clamp returns l limited to [MinLevel, MaxLevel].
func (l ProficiencyLevel) Clamp() ProficiencyLevel {
	if l < MinLevel {
		return MinLevel
	}
	if l > MaxLevel {
		return MaxLevel
	}
	return l
}

// Validate checks the level is within bounds.
func (l ProficiencyLevel) Validate() error {
	if l < MinLevel || l > MaxLevel {
		return fmt.Errorf("proficiency level %d out of range [%d,%d]", l, MinLevel, MaxLevel)
	}
	return nil
}

// LevelAssessment pairs the level a statement was analyzed at with the assessed next level.
type LevelAssessment struct {
	Previous ProficiencyLevel `json:"previous_level"`
	Next     ProficiencyLevel `json:"next_level"`
}

// Increased reports whether the assessment moved the user up a level.
func (a LevelAssessment) Increased() bool {
	return a.Next > a.Previous
}

// CoachMessageKind classifies a coach message.
type CoachMessageKind string

// Coach message kinds.
const (
	CoachMessageWelcome  CoachMessageKind = "welcome"
	CoachMessageAnalysis CoachMessageKind = "analysis"
	CoachMessageGuidance CoachMessageKind = "guidance"
	CoachMessageFeedback CoachMessageKind = "feedback"
)

// Suggested next step identifiers.
const (
	StepReflectDeliberately = "reflect_deliberately"
	StepContinueLevel       = "continue_level"
	StepDeepenCurrentLevel  = "deepen_current_level"
	StepStartExercise       = "start_exercise"
)

// CoachMessage is a structured message from the coach.
type CoachMessage struct {
	Kind               CoachMessageKind `json:"kind"`
	Body               string           `json:"body"`
	SuggestedNextSteps []string         `json:"suggested_next_steps"`
	Encouragement      *string          `json:"encouragement,omitempty"`
}
