package analysis

import (
	"strings"

	"github.com/BTreeMap/MetaCoach/internal/models"
)

// categoryAliases maps normalized remote pattern_type spellings onto the closed category set.
var categoryAliases = map[string]models.PatternCategory{
	"universal_quantifier":     models.CategoryUniversalQuantifier,
	"universal_quantifiers":    models.CategoryUniversalQuantifier,
	"universalquantor":         models.CategoryUniversalQuantifier,
	"universalquantoren":       models.CategoryUniversalQuantifier,
	"generalization":           models.CategoryUniversalQuantifier,
	"generalisierung":          models.CategoryUniversalQuantifier,
	"verallgemeinerung":        models.CategoryUniversalQuantifier,
	"causal_link":              models.CategoryCausalLink,
	"cause_effect":             models.CategoryCausalLink,
	"cause_and_effect":         models.CategoryCausalLink,
	"causation":                models.CategoryCausalLink,
	"ursache_wirkung":          models.CategoryCausalLink,
	"kausalität":               models.CategoryCausalLink,
	"kausale_verknüpfung":      models.CategoryCausalLink,
	"deletion_vague_reference": models.CategoryVagueReference,
	"deletion":                 models.CategoryVagueReference,
	"vague_reference":          models.CategoryVagueReference,
	"unspecified_reference":    models.CategoryVagueReference,
	"tilgung":                  models.CategoryVagueReference,
	"unspezifischer_bezug":     models.CategoryVagueReference,
	"presupposition":           models.CategoryPresupposition,
	"presuppositions":          models.CategoryPresupposition,
	"präsupposition":           models.CategoryPresupposition,
	"vorannahme":               models.CategoryPresupposition,
}

// NormalizeCategory maps a free-form remote category name into the closed set.
// Case, surrounding space, hyphens and inner spaces are ignored.
func NormalizeCategory(raw string) (models.PatternCategory, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_", "/", "_").Replace(key)
	for strings.Contains(key, "__") {
		key = strings.ReplaceAll(key, "__", "_")
	}
	c, ok := categoryAliases[key]
	return c, ok
}
