package shape

import (
	"fmt"
	"strings"

	"github.com/paragraf/paragraf/store"
)

// RelatedRegulations renders forskrifter whose hjemmel is the given law.
// input is the caller's original spelling, resolvedID the canonical id.
func RelatedRegulations(input, resolvedID string, regulations []store.Document) string {
	if len(regulations) == 0 {
		return fmt.Sprintf("Ingen forskrifter funnet med hjemmel i **%s** (`%s`).", input, resolvedID)
	}

	lines := []string{
		fmt.Sprintf("## Forskrifter med hjemmel i %s\n", input),
		fmt.Sprintf("Fant %d forskrifter:\n", len(regulations)),
	}
	for _, reg := range regulations {
		title := reg.ShortTitle
		if title == "" {
			title = reg.Title
		}
		if title == "" {
			title = reg.DokID
		}
		line := fmt.Sprintf("- **%s**\n  ID: `%s`", title, reg.DokID)
		if reg.Ministry != "" {
			line += "\n  Departement: " + reg.Ministry
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "---", "*Bruk `forskrift('ID', 'paragraf')` for a sla opp en forskrift.*")
	return strings.Join(lines, "\n")
}

// Ministries renders the distinct ministry list.
func Ministries(ministries []string) string {
	if len(ministries) == 0 {
		return "Ingen departementer funnet. Data er kanskje ikke synkronisert."
	}

	lines := []string{fmt.Sprintf("## Departementer (%d stk)\n", len(ministries))}
	for _, m := range ministries {
		lines = append(lines, "- "+m)
	}
	lines = append(lines, "", "---",
		"**Bruk med filter:** `sok('emne', departement='Klima')` "+
			"eller `semantisk_sok('emne', ministry='Justis')`")
	return strings.Join(lines, "\n")
}

// LegalAreas renders the distinct rettsområde list.
func LegalAreas(areas []string) string {
	if len(areas) == 0 {
		return "Ingen rettsområder funnet. Data er kanskje ikke synkronisert."
	}

	lines := []string{fmt.Sprintf("## Rettsområder (%d stk)\n", len(areas))}
	for _, a := range areas {
		lines = append(lines, "- "+a)
	}
	lines = append(lines, "", "---",
		"**Bruk med filter:** `sok('emne', rettsomrade='Erstatningsrett')` "+
			"eller `semantisk_sok('emne', rettsomrade='Arbeidsliv')`")
	return strings.Join(lines, "\n")
}
