package shape

import (
	"fmt"
	"sort"
	"strings"

	"github.com/paragraf/paragraf/store"
)

// Truncate cuts content to roughly maxTokens worth of characters and
// marks the cut. maxTokens <= 0 means no limit.
func Truncate(content string, maxTokens int) string {
	if maxTokens <= 0 {
		return content
	}
	maxChars := int(float64(maxTokens) * store.CharsPerToken)
	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}
	return string(runes[:maxChars]) + "\n\n... [avkortet]"
}

// Response renders a successful lookup: metadata header, the law text,
// and the source/license footer. current=false adds the superseded
// banner to the title and a warning block.
func Response(lawName, lawID, sectionID, content, url string, current bool) string {
	sectionHeader := "(hele loven)"
	if sectionID != "" {
		sectionHeader = "§ " + sectionID
	}

	header := lawName
	warning := ""
	if !current {
		header += " (opphevet)"
		warning = "\n" + supersededWarning + "\n"
	}

	return fmt.Sprintf(`## %s

**Paragraf:** %s
**Lovdata ID:** %s
%s
---

%s

---

**Kilde:** [%s](%s)
%s
`, header, sectionHeader, lawID, warning, content, url, url, licenseLine)
}

// FallbackResponse renders the "not in cache" view, pointing the caller
// at lovdata.no. synced controls the tip line: a synced cache that still
// misses the document is worth saying out loud.
func FallbackResponse(lawName, lawID, sectionID, url string, synced bool) string {
	sectionHeader := "(hele loven)"
	if sectionID != "" {
		sectionHeader = "§ " + sectionID
	}

	tip := "*Tips: Kjør `paragraf sync` for å laste ned lovdata.*"
	if synced {
		tip = "*Lovdata er synkronisert, men denne loven ble ikke funnet i cache.*"
	}

	return fmt.Sprintf(`## %s

**Paragraf:** %s
**Lovdata ID:** %s

---

Lovteksten er ikke tilgjengelig i lokal cache.

**Se fullstendig tekst på Lovdata:**
[%s](%s)

---

%s
%s
`, lawName, sectionHeader, lawID, url, url, tip, licenseLine)
}

// BatchResponse renders several sections of one document in a single
// view, separated by rules, with missing ids called out.
func BatchResponse(lawName, lawID, url string, sections []store.Section, requested []string, maxTokens int) string {
	found := make(map[string]bool, len(sections))
	for _, s := range sections {
		found[s.SectionID] = true
	}
	var notFound []string
	for _, id := range requested {
		if !found[store.NormalizeSectionID(id)] && !found[id] {
			notFound = append(notFound, id)
		}
	}
	sort.Strings(notFound)

	var parts []string
	var refs []string
	totalTokens := 0
	for _, sec := range sections {
		heading := "### § " + sec.SectionID
		if sec.Title != "" {
			heading += ": " + sec.Title
		}
		text := Truncate(sec.Content, maxTokens)
		part := heading + "\n\n" + text
		parts = append(parts, part)
		refs = append(refs, "§ "+sec.SectionID)
		totalTokens += store.EstimateTokens(len([]rune(part)))
	}

	notFoundWarning := ""
	if len(notFound) > 0 {
		notFoundWarning = "\n\n> **Ikke funnet:** " + strings.Join(notFound, ", ")
	}

	return fmt.Sprintf(`## %s

**Paragrafer:** %s
**Lovdata ID:** %s
**Totalt:** ~%s tokens%s

---

%s

---

**Kilde:** [%s](%s)
%s
`, lawName, strings.Join(refs, ", "), lawID, comma(totalTokens), notFoundWarning,
		strings.Join(parts, "\n\n---\n\n"), url, url, licenseLine)
}
