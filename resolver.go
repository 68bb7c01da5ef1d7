package paragraf

import (
	"context"
	"strings"
)

// minFuzzyLength gates trigram matching: short generic inputs like
// "loven" would otherwise match unrelated short titles.
const minFuzzyLength = 8

// fuzzyThreshold is the minimum trigram similarity for a fuzzy match.
const fuzzyThreshold = 0.4

// resolveID resolves a law name, abbreviation, or id to a Lovdata id.
//
// Four tiers: the hardcoded alias table (fast path for common
// abbreviations), backend short-title lookup (covers every cached
// document), trigram matching for misspellings (postgres only, inputs
// >= minFuzzyLength), and finally the input itself, uppercased when it
// looks like a reference id.
func (s *Service) resolveID(ctx context.Context, alias string) string {
	if strings.TrimSpace(alias) == "" {
		return ""
	}

	normalized := strings.ToLower(alias)
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if id, ok := lovAliases[normalized]; ok {
		return id
	}

	if doc, err := s.backend.FindDocument(ctx, alias); err == nil && doc.DokID != "" {
		return doc.DokID
	}

	if len([]rune(alias)) >= minFuzzyLength {
		if doc, sim, err := s.backend.FindSimilar(ctx, alias, fuzzyThreshold); err == nil {
			s.logger.Info("fuzzy match",
				"input", alias, "matched", doc.ShortTitle, "similarity", sim)
			return doc.DokID
		}
	}

	lower := strings.ToLower(alias)
	if strings.HasPrefix(lower, "lov") || strings.HasPrefix(lower, "for") {
		return strings.ToUpper(alias)
	}
	return alias
}
