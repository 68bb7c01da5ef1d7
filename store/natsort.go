package store

import (
	"sort"
	"strings"
	"unicode"
)

// sectionIDPiece is one dot/hyphen-delimited piece of a section id,
// decomposed into a numeric part and a trailing letter. Non-numeric
// pieces sort after all numeric ones, lexicographically.
type sectionIDPiece struct {
	num     int
	letter  string
	numeric bool
}

func splitSectionID(id string) []sectionIDPiece {
	raw := strings.FieldsFunc(id, func(r rune) bool {
		return r == '.' || r == '-'
	})
	pieces := make([]sectionIDPiece, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		num := 0
		i := 0
		for i < len(p) && p[i] >= '0' && p[i] <= '9' {
			num = num*10 + int(p[i]-'0')
			i++
		}
		rest := strings.ToLower(strings.TrimSpace(p[i:]))
		if i > 0 && (rest == "" || isLetters(rest)) {
			pieces = append(pieces, sectionIDPiece{num: num, letter: rest, numeric: true})
		} else {
			pieces = append(pieces, sectionIDPiece{letter: strings.ToLower(p), numeric: false})
		}
	}
	return pieces
}

func isLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// SectionIDLess is the natural ordering of section ids:
// "1" < "1a" < "2" < "3-1" < "10" < "10a". Shorter ids sort before
// their extensions.
func SectionIDLess(a, b string) bool {
	pa, pb := splitSectionID(a), splitSectionID(b)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		x, y := pa[i], pb[i]
		if x.numeric != y.numeric {
			return x.numeric // numeric pieces sort first
		}
		if x.numeric {
			if x.num != y.num {
				return x.num < y.num
			}
			if x.letter != y.letter {
				return x.letter < y.letter
			}
			continue
		}
		if x.letter != y.letter {
			return x.letter < y.letter
		}
	}
	return len(pa) < len(pb)
}

// SortSectionSummaries orders summaries by natural section-id order.
func SortSectionSummaries(sections []SectionSummary) {
	sort.SliceStable(sections, func(i, j int) bool {
		return SectionIDLess(sections[i].SectionID, sections[j].SectionID)
	})
}
