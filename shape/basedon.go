package shape

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	basedOnDelim = regexp.MustCompile(`;\s*`)
	basedOnSplit = regexp.MustCompile(`(lov|forskrift)/\d{4}`)
	basedOnRef   = regexp.MustCompile(`^((?:lov|forskrift)/\d{4}-\d{2}-\d{2}-\d+)(?:/§(.+))?$`)
)

// FormatBasedOn renders a based_on field as a readable reference list.
// It accepts both the old concatenated dump format and the "; "-delimited
// form, so it is idempotent:
//
//	in:  "lov/2005-06-17-62/§1-4lov/2005-06-17-62/§14-12forskrift/2007-05-31-590"
//	out: "lov/2005-06-17-62 §§ 1-4, 14-12; forskrift/2007-05-31-590"
func FormatBasedOn(raw string) string {
	normalized := basedOnDelim.ReplaceAllString(raw, "")
	refs := splitBeforeRefs(normalized)
	if len(refs) == 0 {
		return raw
	}

	// Group paragraph references under their document, preserving order.
	var order []string
	grouped := make(map[string][]string)
	add := func(docID, paragraph string) {
		if _, ok := grouped[docID]; !ok {
			order = append(order, docID)
			grouped[docID] = nil
		}
		if paragraph != "" {
			grouped[docID] = append(grouped[docID], paragraph)
		}
	}

	for _, ref := range refs {
		if m := basedOnRef.FindStringSubmatch(ref); m != nil {
			add(m[1], m[2])
		} else {
			add(ref, "")
		}
	}

	parts := make([]string, 0, len(order))
	for _, docID := range order {
		paragraphs := grouped[docID]
		switch len(paragraphs) {
		case 0:
			parts = append(parts, docID)
		case 1:
			parts = append(parts, fmt.Sprintf("%s § %s", docID, paragraphs[0]))
		default:
			parts = append(parts, fmt.Sprintf("%s §§ %s", docID, strings.Join(paragraphs, ", ")))
		}
	}
	return strings.Join(parts, "; ")
}

// splitBeforeRefs splits s immediately before every "lov/YYYY" or
// "forskrift/YYYY" boundary, keeping the delimiter with its segment.
func splitBeforeRefs(s string) []string {
	locs := basedOnSplit.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	var out []string
	if locs[0][0] > 0 {
		out = append(out, s[:locs[0][0]])
	}
	for i, loc := range locs {
		end := len(s)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out = append(out, s[loc[0]:end])
	}
	return out
}
