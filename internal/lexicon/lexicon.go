// Package lexicon holds the Meta-Model pattern taxonomy: trigger keywords and
// follow-up question templates for each of the four pattern categories.
//
// The taxonomy is data, loaded from an embedded YAML document, but the set of
// categories is closed: documents naming unknown categories or omitting one
// are rejected.
package lexicon

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/MetaCoach/internal/models"
	"gopkg.in/yaml.v3"
)

// KeywordPlaceholder is replaced by the matched keyword when rendering a question.
const KeywordPlaceholder = "{keyword}"

//go:embed lexicon.yaml
var defaultDocument []byte

// Entry is the lexicon data for one category.
type Entry struct {
	Category models.PatternCategory
	Keywords []string
	question string
}

// Match returns the first keyword (in list order) contained in statement, ignoring case.
func (e Entry) Match(statement string) (string, bool) {
	lower := strings.ToLower(statement)
	for _, kw := range e.Keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

// Question renders the category's follow-up question for keyword.
func (e Entry) Question(keyword string) string {
	return strings.ReplaceAll(e.question, KeywordPlaceholder, keyword)
}

// Lexicon is an immutable, validated taxonomy.
type Lexicon struct {
	entries        []Entry
	shortThreshold int
}

// Entries returns the entries in canonical category order.
func (l *Lexicon) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Entry returns the entry for category c.
func (l *Lexicon) Entry(c models.PatternCategory) (Entry, bool) {
	for _, e := range l.entries {
		if e.Category == c {
			return e, true
		}
	}
	return Entry{}, false
}

// ShortStatementThreshold is the rune count below which a statement is assumed to omit information.
func (l *Lexicon) ShortStatementThreshold() int {
	return l.shortThreshold
}

type document struct {
	ShortStatementThreshold int `yaml:"short_statement_threshold"`
	Categories              []struct {
		Category string   `yaml:"category"`
		Question string   `yaml:"question"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"categories"`
}

// Parse decodes and validates a lexicon document.
func Parse(data []byte) (*Lexicon, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode lexicon: %w", err)
	}
	if doc.ShortStatementThreshold < 0 {
		return nil, fmt.Errorf("short_statement_threshold must not be negative, got %d", doc.ShortStatementThreshold)
	}

	byCategory := make(map[models.PatternCategory]Entry, len(doc.Categories))
	for _, raw := range doc.Categories {
		category := models.PatternCategory(raw.Category)
		if !category.IsValid() {
			return nil, fmt.Errorf("unknown pattern category %q", raw.Category)
		}
		if _, dup := byCategory[category]; dup {
			return nil, fmt.Errorf("duplicate pattern category %q", raw.Category)
		}
		if strings.TrimSpace(raw.Question) == "" {
			return nil, fmt.Errorf("category %q has no question template", raw.Category)
		}
		keywords := make([]string, 0, len(raw.Keywords))
		for _, kw := range raw.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				keywords = append(keywords, kw)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("category %q has no keywords", raw.Category)
		}
		byCategory[category] = Entry{Category: category, Keywords: keywords, question: raw.Question}
	}

	entries := make([]Entry, 0, len(models.PatternCategories))
	for _, c := range models.PatternCategories {
		e, ok := byCategory[c]
		if !ok {
			return nil, fmt.Errorf("lexicon is missing category %q", c)
		}
		entries = append(entries, e)
	}

	slog.Debug("Lexicon parsed", "categories", len(entries), "shortThreshold", doc.ShortStatementThreshold)
	return &Lexicon{entries: entries, shortThreshold: doc.ShortStatementThreshold}, nil
}

var (
	defaultOnce    sync.Once
	defaultLexicon *Lexicon
)

// Default returns the embedded lexicon. It panics if the embedded document is invalid.
func Default() *Lexicon {
	defaultOnce.Do(func() {
		lex, err := Parse(defaultDocument)
		if err != nil {
			panic(fmt.Sprintf("embedded lexicon is invalid: %v", err))
		}
		defaultLexicon = lex
	})
	return defaultLexicon
}
