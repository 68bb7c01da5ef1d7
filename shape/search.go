package shape

import (
	"fmt"
	"strings"

	"github.com/paragraf/paragraf/store"
)

const orFallbackNote = `
> **Merk:** Søk med alle ordene ga 0 treff. Viser resultater der minst ett av ordene finnes.
> For mer presist søk, bruk ` + "`\"eksakt frase\"`" + ` eller ` + "`ord1 OR ord2`" + ` syntaks.

`

// SearchResults renders full-text (or hybrid) hits as a markdown list
// with highlighted snippets. The or_fallback note is added once when
// any hit came from the relaxed OR query.
func SearchResults(query string, results []store.SearchResult) string {
	var blocks []string
	usedOrFallback := false

	for _, r := range results {
		if r.SearchMode == "or_fallback" {
			usedOrFallback = true
		}

		docType := "Forskrift"
		if r.DocType == "lov" {
			docType = "Lov"
		}
		title := r.Title
		if title == "" {
			title = r.ShortTitle
		}
		if title == "" {
			title = r.DokID
		}

		snippet := strings.ReplaceAll(r.Snippet, "<mark>", "**")
		snippet = strings.ReplaceAll(snippet, "</mark>", "**")

		sectionInfo := ""
		sectionLine := ""
		if r.SectionID != "" {
			sectionInfo = " § " + r.SectionID
			sectionLine = fmt.Sprintf(" **Paragraf:** `%s`", r.SectionID)
		}

		opphevet := ""
		if !r.IsCurrent {
			opphevet = " (opphevet)"
		}

		basedOnLine := ""
		if docType == "Forskrift" && r.BasedOn != "" {
			basedOnLine = "\n**Hjemmelslov:** " + FormatBasedOn(r.BasedOn)
		}
		legalAreaLine := ""
		if r.LegalArea != "" {
			legalAreaLine = fmt.Sprintf(" | *%s*", r.LegalArea)
		}

		blocks = append(blocks, fmt.Sprintf("### %s: %s%s%s\n**ID:** `%s`%s%s%s\n\n%s\n",
			docType, title, opphevet, sectionInfo, r.DokID, sectionLine, legalAreaLine, basedOnLine, snippet))
	}

	fallbackNote := ""
	if usedOrFallback {
		fallbackNote = orFallbackNote
	}

	return fmt.Sprintf(`## Søkeresultater for "%s"

Fant %d treff (fulltekstsøk):
%s
%s

---

**Søk på Lovdata:** %s
`, query, len(results), fallbackNote, strings.Join(blocks, "\n"), LovdataSearchURL(query))
}

// AliasHit is one match from the unsynced alias fallback search.
type AliasHit struct {
	ID   string
	Name string
	URL  string
}

// AliasResults renders alias-search hits, used before any data has
// been synced.
func AliasResults(query string, hits []AliasHit) string {
	if len(hits) == 0 {
		return fmt.Sprintf(`## Søkeresultater for "%s"

Ingen treff i indekserte lover.

**Tips:** Kjør `+"`paragraf sync`"+` for å laste ned lovdata, eller søk direkte på Lovdata:
%s
`, query, LovdataSearchURL(query))
	}

	lines := make([]string, 0, len(hits))
	for _, h := range hits {
		lines = append(lines, fmt.Sprintf("- **%s**\n  ID: `%s`\n  [%s](%s)", h.Name, h.ID, h.URL, h.URL))
	}

	return fmt.Sprintf(`## Søkeresultater for "%s"

Fant %d treff (alias-søk):

%s

---

*For fulltekstsøk, kjør `+"`paragraf sync`"+` først.*
**Søk på Lovdata:** %s
`, query, len(hits), strings.Join(lines, "\n"), LovdataSearchURL(query))
}
