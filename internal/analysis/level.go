package analysis

import "github.com/BTreeMap/MetaCoach/internal/models"

// Pattern counts needed to advance one level. The heuristic bar is lower so
// users are not held back while the remote analyzer is unavailable.
const (
	FallbackAdvanceThreshold = 3
	RemoteAdvanceThreshold   = 4
)

// AssessNextLevel returns the level after an analysis. The result is never
// below the (clamped) current level and never above MaxLevel.
func AssessNextLevel(result models.AnalysisResult, current models.ProficiencyLevel) models.LevelAssessment {
	current = current.Clamp()

	threshold := RemoteAdvanceThreshold
	if result.UsedFallback {
		threshold = FallbackAdvanceThreshold
	}

	next := current
	if len(result.Patterns) >= threshold && current < models.MaxLevel {
		next = current + 1
	}
	return models.LevelAssessment{Previous: current, Next: next}
}
