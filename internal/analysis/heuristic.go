// Package analysis detects Meta-Model language patterns in user statements.
//
// A remote analyzer is tried first; the local keyword heuristic is the
// deterministic fallback. The Orchestrator is the only place where remote
// failures are contained, and AssessNextLevel turns an analysis into a
// proficiency step.
package analysis

import (
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/MetaCoach/internal/lexicon"
	"github.com/BTreeMap/MetaCoach/internal/models"
)

// HeuristicAnalyzer matches statements against a lexicon. It is pure and never fails.
type HeuristicAnalyzer struct {
	lex *lexicon.Lexicon
}

// NewHeuristicAnalyzer creates an analyzer over lex, or the embedded lexicon when lex is nil.
func NewHeuristicAnalyzer(lex *lexicon.Lexicon) *HeuristicAnalyzer {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &HeuristicAnalyzer{lex: lex}
}

// Analyze returns at most one pattern per category, in category order.
// The level does not influence detection; it is accepted so local and remote
// analysis share a call shape.
func (h *HeuristicAnalyzer) Analyze(statement string, _ models.ProficiencyLevel) models.AnalysisResult {
	patterns := make([]models.DetectedPattern, 0, len(models.PatternCategories))
	short := utf8.RuneCountInString(strings.TrimSpace(statement)) < h.lex.ShortStatementThreshold()

	for _, entry := range h.lex.Entries() {
		keyword, matched := entry.Match(statement)
		if !matched && !(short && entry.Category == models.CategoryVagueReference) {
			continue
		}
		patterns = append(patterns, models.DetectedPattern{
			Category:         entry.Category,
			MatchedKeyword:   keyword,
			FollowUpQuestion: entry.Question(keyword),
		})
	}

	return models.AnalysisResult{Patterns: patterns}
}
