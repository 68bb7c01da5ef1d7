package shape

import "strings"

// LovdataURL builds the public lovdata.no URL for a document, optionally
// pointing at a specific paragraf. Reference-style ids (LOV-1992-07-03-93)
// are rewritten to the path form lovdata.no uses.
func LovdataURL(dokID, sectionID string) string {
	var path string
	switch {
	case strings.HasPrefix(dokID, "LOV-"):
		path = "lov/" + strings.ToLower(dokID[4:])
	case strings.HasPrefix(dokID, "FOR-"):
		path = "forskrift/" + strings.ToLower(dokID[4:])
	default:
		path = strings.ToLower(dokID)
	}

	url := "https://lovdata.no/" + path
	if sectionID != "" {
		url += "/§" + strings.TrimSpace(strings.TrimLeft(sectionID, "§"))
	}
	return url
}

// LovdataSearchURL builds the lovdata.no full-text search URL for a query.
func LovdataSearchURL(query string) string {
	return "https://lovdata.no/sok?q=" + strings.ReplaceAll(query, " ", "+")
}
