package shape

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paragraf/paragraf/store"
)

const (
	// tocMaxRows caps the flat table so overviews of very large laws
	// stay readable (and cheap in tokens).
	tocMaxRows = 100
	// tocMaxPerStructure caps sections listed under each del/kapittel.
	tocMaxPerStructure = 8
	// tocMaxOrphans caps sections listed without a matching structure.
	tocMaxOrphans = 20
)

// TableOfContents renders a document overview. When structures are
// available the del/kapittel hierarchy is shown; otherwise a flat
// table of paragraphs.
func TableOfContents(doc *store.Document, sections []store.SectionSummary, structures []store.StructureNode) string {
	title := doc.Title
	if title == "" {
		title = doc.ShortTitle
	}
	if title == "" {
		title = doc.DokID
	}
	if !doc.IsCurrent {
		title += " (opphevet)"
	}

	totalTokens := 0
	for _, s := range sections {
		totalTokens += s.EstimatedTokens
	}

	lines := []string{
		"### Innholdsfortegnelse: " + title,
		"",
	}
	if !doc.IsCurrent {
		lines = append(lines, supersededWarning, "")
	}
	lines = append(lines, fmt.Sprintf("**Totalt:** %d paragrafer (~%s tokens)", len(sections), comma(totalTokens)))

	var meta []string
	if doc.Ministry != "" {
		meta = append(meta, "**Departement:** "+doc.Ministry)
	}
	if doc.LegalArea != "" {
		meta = append(meta, "**Rettsomrade:** "+doc.LegalArea)
	}
	if doc.BasedOn != "" {
		meta = append(meta, "**Hjemmelslov:** "+FormatBasedOn(doc.BasedOn))
	}
	if doc.IsAmendment {
		meta = append(meta, "*Dette er en endringslov/-forskrift.*")
	}
	if len(meta) > 0 {
		lines = append(lines, "")
		lines = append(lines, meta...)
	}
	lines = append(lines, "")

	if len(structures) > 0 {
		lines = append(lines, hierarchicalTOC(sections, structures)...)
	} else {
		lines = append(lines, flatTOC(sections)...)
	}

	lines = append(lines,
		"",
		"---",
		"",
		"**Bruk:**",
		fmt.Sprintf("- Hent én paragraf: `lov('%s', '1')` eller `forskrift(...)`", doc.DokID),
		"- Begrens respons: `lov(..., max_tokens=2000)`",
		"",
		"*Tips: Hent spesifikke paragrafer for å spare tokens.*",
	)
	return strings.Join(lines, "\n")
}

func flatTOC(sections []store.SectionSummary) []string {
	lines := []string{
		"| Paragraf | Tittel | Tokens |",
		"|----------|--------|-------:|",
	}

	shown := sections
	if len(shown) > tocMaxRows {
		shown = shown[:tocMaxRows]
	}
	for _, sec := range shown {
		title := sec.Title
		if len([]rune(title)) > 50 {
			title = string([]rune(title)[:47]) + "..."
		}
		title = strings.ReplaceAll(title, "|", "\\|")
		lines = append(lines, fmt.Sprintf("| § %s | %s | %s |", sec.SectionID, title, comma(sec.EstimatedTokens)))
	}

	if len(sections) > tocMaxRows {
		rest := sections[tocMaxRows:]
		restTokens := 0
		for _, s := range rest {
			restTokens += s.EstimatedTokens
		}
		lines = append(lines, fmt.Sprintf("| ... | *%d flere paragrafer* | %s |", len(rest), comma(restTokens)))
	}
	return lines
}

func hierarchicalTOC(sections []store.SectionSummary, structures []store.StructureNode) []string {
	// Assign each section to the most specific structure whose address
	// prefixes the section's address. Structures arrive in document
	// order, so walking them in reverse checks deepest first.
	type key struct{ structureType, structureID string }
	grouped := make(map[key][]store.SectionSummary)
	var orphans []store.SectionSummary

	for _, sec := range sections {
		matched := false
		for i := len(structures) - 1; i >= 0; i-- {
			st := structures[i]
			if st.Address != "" && strings.HasPrefix(sec.Address, st.Address) {
				k := key{st.StructureType, st.StructureID}
				grouped[k] = append(grouped[k], sec)
				matched = true
				break
			}
		}
		if !matched {
			orphans = append(orphans, sec)
		}
	}

	var lines []string
	for _, st := range structures {
		var indent string
		switch st.StructureType {
		case "del":
			indent = ""
			lines = append(lines, "")
		case "kapittel":
			indent = "  "
		default:
			indent = "    "
		}
		lines = append(lines, fmt.Sprintf("%s**%s**", indent, st.Title))

		secs := grouped[key{st.StructureType, st.StructureID}]
		shown := secs
		if len(shown) > tocMaxPerStructure {
			shown = shown[:tocMaxPerStructure]
		}
		for _, sec := range shown {
			title := sec.Title
			if len([]rune(title)) > 35 {
				title = string([]rune(title)[:32]) + "..."
			}
			lines = append(lines, fmt.Sprintf("%s  - § %s: %s (%d tok)", indent, sec.SectionID, title, sec.EstimatedTokens))
		}
		if len(secs) > tocMaxPerStructure {
			rest := secs[tocMaxPerStructure:]
			restTokens := 0
			for _, s := range rest {
				restTokens += s.EstimatedTokens
			}
			lines = append(lines, fmt.Sprintf("%s  - *... og %d flere (%d tok)*", indent, len(rest), restTokens))
		}
	}

	if len(orphans) > 0 {
		lines = append(lines, "", "**Andre paragrafer:**")
		shown := orphans
		if len(shown) > tocMaxOrphans {
			shown = shown[:tocMaxOrphans]
		}
		for _, sec := range shown {
			lines = append(lines, fmt.Sprintf("  - § %s (%d tok)", sec.SectionID, sec.EstimatedTokens))
		}
		if len(orphans) > tocMaxOrphans {
			lines = append(lines, fmt.Sprintf("  - *... og %d flere*", len(orphans)-tocMaxOrphans))
		}
	}
	return lines
}

// comma formats n with thousands separators ("12345" becomes "12,345").
func comma(n int) string {
	s := strconv.Itoa(n)
	if n < 0 {
		return "-" + comma(-n)
	}
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(s[:lead])
	for i := lead; i < len(s); i += 3 {
		b.WriteByte(',')
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
