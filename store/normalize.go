package store

import "strings"

// NormalizeID converts accepted identifier variants to the canonical
// lowercase form used as primary key:
//
//	LOV-1992-07-03-93     -> lov/1992-07-03-93
//	FOR-2017-06-19-840    -> forskrift/2017-06-19-840
//	NL/lov/1992-07-03-93  -> lov/1992-07-03-93
//	anything else         -> lowercased as-is
func NormalizeID(id string) string {
	upper := strings.ToUpper(id)
	switch {
	case strings.HasPrefix(upper, "LOV-"):
		return "lov/" + strings.ToLower(id[4:])
	case strings.HasPrefix(upper, "FOR-"):
		return "forskrift/" + strings.ToLower(id[4:])
	case strings.HasPrefix(upper, "NL/"):
		return strings.ToLower(id[3:])
	}
	return strings.ToLower(id)
}

// NormalizeSectionID strips a leading section mark, a trailing period
// and collapses internal whitespace: "§ 3-9." -> "3-9", "14  a" -> "14 a".
func NormalizeSectionID(id string) string {
	cleaned := strings.TrimSpace(strings.ReplaceAll(id, "§", ""))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return strings.TrimRight(cleaned, ".")
}
