package analysis

import (
	"testing"

	"github.com/BTreeMap/MetaCoach/internal/lexicon"
	"github.com/BTreeMap/MetaCoach/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func categoriesOf(result models.AnalysisResult) []models.PatternCategory {
	out := make([]models.PatternCategory, 0, len(result.Patterns))
	for _, p := range result.Patterns {
		out = append(out, p.Category)
	}
	return out
}

func findPattern(result models.AnalysisResult, c models.PatternCategory) (models.DetectedPattern, bool) {
	for _, p := range result.Patterns {
		if p.Category == c {
			return p, true
		}
	}
	return models.DetectedPattern{}, false
}

func TestHeuristicAnalyze_UniversalQuantifierScenario(t *testing.T) {
	h := NewHeuristicAnalyzer(nil)
	result := h.Analyze("Ich schaffe das nie!", 2)

	require.Len(t, result.Patterns, 1)
	assert.Equal(t, models.CategoryUniversalQuantifier, result.Patterns[0].Category)
	assert.Equal(t, "nie", result.Patterns[0].MatchedKeyword)
	assert.Contains(t, result.Patterns[0].FollowUpQuestion, "nie")
	assert.False(t, result.UsedFallback, "the analyzer itself never marks fallback")
}

func TestHeuristicAnalyze_EveryQuantifierKeyword(t *testing.T) {
	h := NewHeuristicAnalyzer(nil)
	entry, ok := lexicon.Default().Entry(models.CategoryUniversalQuantifier)
	require.True(t, ok)

	for _, kw := range entry.Keywords {
		t.Run(kw, func(t *testing.T) {
			result := h.Analyze("Ehrlich gesagt: "+kw+" klappt das bei mir", 1)
			p, found := findPattern(result, models.CategoryUniversalQuantifier)
			require.True(t, found, "expected quantifier pattern for %q", kw)
			assert.Equal(t, kw, p.MatchedKeyword)
		})
	}
}

func TestHeuristicAnalyze_CaseInsensitive(t *testing.T) {
	h := NewHeuristicAnalyzer(nil)
	result := h.Analyze("IMMER passiert mir das im Büro", 1)
	p, found := findPattern(result, models.CategoryUniversalQuantifier)
	require.True(t, found)
	assert.Equal(t, "immer", p.MatchedKeyword)
}

func TestHeuristicAnalyze_ShortStatementImpliesVagueReference(t *testing.T) {
	h := NewHeuristicAnalyzer(nil)
	threshold := lexicon.Default().ShortStatementThreshold()

	for _, statement := range []string{"Geht nicht.", "Schlecht", "Nein", "Nie!"} {
		require.Less(t, len([]rune(statement)), threshold)
		result := h.Analyze(statement, 1)
		p, found := findPattern(result, models.CategoryVagueReference)
		require.True(t, found, "expected vague reference for short statement %q", statement)
		assert.Empty(t, p.MatchedKeyword)
		assert.NotEmpty(t, p.FollowUpQuestion)
	}
}

func TestHeuristicAnalyze_PreservesCategoryOrder(t *testing.T) {
	h := NewHeuristicAnalyzer(nil)
	result := h.Analyze("Weil alle immer schon etwas von mir wollen", 3)

	assert.Equal(t, []models.PatternCategory{
		models.CategoryUniversalQuantifier,
		models.CategoryCausalLink,
		models.CategoryVagueReference,
		models.CategoryPresupposition,
	}, categoriesOf(result))
	assert.Equal(t, "immer", result.Patterns[0].MatchedKeyword)
	assert.Equal(t, "weil", result.Patterns[1].MatchedKeyword)
	assert.Equal(t, "etwas", result.Patterns[2].MatchedKeyword)
	assert.Equal(t, "schon", result.Patterns[3].MatchedKeyword)
}

func TestHeuristicAnalyze_PreciseStatement(t *testing.T) {
	h := NewHeuristicAnalyzer(nil)
	result := h.Analyze("Am Dienstag habe ich drei Seiten geschrieben.", 1)
	assert.Empty(t, result.Patterns)
}

func TestHeuristicAnalyze_Deterministic(t *testing.T) {
	h := NewHeuristicAnalyzer(nil)
	statement := "Das macht mich wütend, weil mein Chef schon wieder nie zuhört"
	first := h.Analyze(statement, 1)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, h.Analyze(statement, models.ProficiencyLevel(i%5+1)))
	}
}
