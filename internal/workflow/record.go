package workflow

import (
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/MetaCoach/internal/models"
)

// Exchange is one answered analysis prompt within a meta-model phase.
type Exchange struct {
	Statement string                   `json:"statement"`
	Reply     string                   `json:"reply,omitempty"`
	Patterns  []models.DetectedPattern `json:"patterns,omitempty"`
}

// Incongruence captures the three levels of an incongruence mapping.
type Incongruence struct {
	Cognitive  string `json:"cognitive"`
	Emotional  string `json:"emotional"`
	Behavioral string `json:"behavioral"`
}

// Complete reports whether all three levels are filled in.
func (i Incongruence) Complete() bool {
	return notBlank(i.Cognitive) && notBlank(i.Emotional) && notBlank(i.Behavioral)
}

// Reflection holds the structured fields of the clarity reflection.
type Reflection struct {
	KeyInsights   string `json:"key_insights"`
	Commitments   string `json:"commitments,omitempty"`
	OpenQuestions string `json:"open_questions,omitempty"`
}

// PhaseRecord is the data captured in one phase. Which fields are used
// depends on the phase.
type PhaseRecord struct {
	Text         string       `json:"text,omitempty"`
	Exchanges    []Exchange   `json:"exchanges,omitempty"`
	Incongruence Incongruence `json:"incongruence"`
	Reflection   Reflection   `json:"reflection"`
}

// Validate checks field lengths.
func (r PhaseRecord) Validate() error {
	fields := []string{
		r.Text,
		r.Incongruence.Cognitive, r.Incongruence.Emotional, r.Incongruence.Behavioral,
		r.Reflection.KeyInsights, r.Reflection.Commitments, r.Reflection.OpenQuestions,
	}
	for _, f := range fields {
		if utf8.RuneCountInString(f) > models.MaxDraftFieldLength {
			return models.ErrDraftFieldTooLong
		}
	}
	return nil
}

func (r PhaseRecord) clone() PhaseRecord {
	out := r
	if r.Exchanges != nil {
		out.Exchanges = make([]Exchange, len(r.Exchanges))
		copy(out.Exchanges, r.Exchanges)
	}
	return out
}

func notBlank(s string) bool {
	return strings.TrimSpace(s) != ""
}
