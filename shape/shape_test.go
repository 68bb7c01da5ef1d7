package shape

import (
	"fmt"
	"strings"
	"testing"

	"github.com/paragraf/paragraf/store"
)

func TestLovdataURL(t *testing.T) {
	tests := []struct {
		dokID, sectionID, want string
	}{
		{"LOV-1992-07-03-93", "", "https://lovdata.no/lov/1992-07-03-93"},
		{"LOV-1992-07-03-93", "3-9", "https://lovdata.no/lov/1992-07-03-93/§3-9"},
		{"LOV-1992-07-03-93", "§ 3-9", "https://lovdata.no/lov/1992-07-03-93/§3-9"},
		{"FOR-2017-06-19-840", "", "https://lovdata.no/forskrift/2017-06-19-840"},
		{"lov/1999-03-26-17", "9-2", "https://lovdata.no/lov/1999-03-26-17/§9-2"},
	}
	for _, tt := range tests {
		if got := LovdataURL(tt.dokID, tt.sectionID); got != tt.want {
			t.Errorf("LovdataURL(%q, %q) = %q, want %q", tt.dokID, tt.sectionID, got, tt.want)
		}
	}
}

func TestLovdataSearchURL(t *testing.T) {
	got := LovdataSearchURL("mangel fast eigedom")
	want := "https://lovdata.no/sok?q=mangel+fast+eigedom"
	if got != want {
		t.Errorf("LovdataSearchURL = %q, want %q", got, want)
	}
}

func TestFormatBasedOn(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{
			name: "concatenated dump format",
			in:   "lov/2005-06-17-62/§1-4lov/2005-06-17-62/§14-12forskrift/2007-05-31-590",
			want: "lov/2005-06-17-62 §§ 1-4, 14-12; forskrift/2007-05-31-590",
		},
		{
			name: "delimited format",
			in:   "lov/2005-06-17-62/§1-4; lov/2005-06-17-62/§14-12; forskrift/2007-05-31-590",
			want: "lov/2005-06-17-62 §§ 1-4, 14-12; forskrift/2007-05-31-590",
		},
		{
			name: "single paragraph",
			in:   "lov/1992-07-03-93/§1-1",
			want: "lov/1992-07-03-93 § 1-1",
		},
		{
			name: "document only",
			in:   "forskrift/2007-05-31-590",
			want: "forskrift/2007-05-31-590",
		},
		{
			name: "unparseable passes through",
			in:   "Kgl.res.",
			want: "Kgl.res.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatBasedOn(tt.in); got != tt.want {
				t.Errorf("FormatBasedOn(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatBasedOnIdempotent(t *testing.T) {
	in := "lov/2005-06-17-62/§1-4lov/2005-06-17-62/§14-12forskrift/2007-05-31-590"
	once := FormatBasedOn(in)
	twice := FormatBasedOn(once)
	if once != twice {
		t.Errorf("not idempotent: %q -> %q", once, twice)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 1000)
	got := Truncate(long, 100) // 350 chars
	if !strings.HasSuffix(got, "\n\n... [avkortet]") {
		t.Errorf("missing truncation marker: %q", got[len(got)-30:])
	}
	if len(got) != 350+len("\n\n... [avkortet]") {
		t.Errorf("truncated length = %d", len(got))
	}
	if Truncate("kort", 100) != "kort" {
		t.Error("short content should pass through")
	}
	if Truncate(long, 0) != long {
		t.Error("maxTokens=0 should not truncate")
	}
}

func TestResponse(t *testing.T) {
	got := Response("Avhendingslova", "LOV-1992-07-03-93", "3-9", "Eigedomen har mangel.",
		"https://lovdata.no/lov/1992-07-03-93/§3-9", true)

	for _, want := range []string{
		"## Avhendingslova\n",
		"**Paragraf:** § 3-9",
		"**Lovdata ID:** LOV-1992-07-03-93",
		"Eigedomen har mangel.",
		"**Kilde:** [https://lovdata.no/lov/1992-07-03-93/§3-9](https://lovdata.no/lov/1992-07-03-93/§3-9)",
		"**Lisens:** NLOD 2.0 - Norsk lisens for offentlige data",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("response missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "opphevet") {
		t.Error("current document should not carry opphevet banner")
	}
}

func TestResponseSuperseded(t *testing.T) {
	got := Response("Gammel lov", "lov/1900-01-01-1", "", "tekst", "https://lovdata.no/lov/1900-01-01-1", false)
	if !strings.Contains(got, "## Gammel lov (opphevet)") {
		t.Error("missing opphevet in header")
	}
	if !strings.Contains(got, "> **Denne loven/forskriften er opphevet.**") {
		t.Error("missing superseded warning block")
	}
	if !strings.Contains(got, "**Paragraf:** (hele loven)") {
		t.Error("missing whole-law section header")
	}
}

func TestFallbackResponse(t *testing.T) {
	unsynced := FallbackResponse("Husleieloven", "LOV-1999-03-26-17", "9-2", "https://lovdata.no/lov/1999-03-26-17/§9-2", false)
	if !strings.Contains(unsynced, "Kjør `paragraf sync`") {
		t.Error("unsynced fallback should suggest syncing")
	}
	synced := FallbackResponse("Husleieloven", "LOV-1999-03-26-17", "9-2", "https://lovdata.no/lov/1999-03-26-17/§9-2", true)
	if !strings.Contains(synced, "synkronisert, men denne loven ble ikke funnet") {
		t.Error("synced fallback should say cache miss")
	}
	for _, got := range []string{unsynced, synced} {
		if !strings.Contains(got, "Lovteksten er ikke tilgjengelig i lokal cache.") {
			t.Error("missing cache-miss body")
		}
		if !strings.Contains(got, "**Lisens:** NLOD 2.0") {
			t.Error("missing license footer")
		}
	}
}

func TestBatchResponse(t *testing.T) {
	sections := []store.Section{
		{DokID: "lov/1992-07-03-93", SectionID: "1-1", Title: "Verkeområde", Content: "Lova gjeld avhending."},
		{DokID: "lov/1992-07-03-93", SectionID: "3-9", Content: "Eigedomen har mangel."},
	}
	got := BatchResponse("Avhendingslova", "lov/1992-07-03-93", "https://lovdata.no/lov/1992-07-03-93",
		sections, []string{"1-1", "3-9", "99"}, 0)

	for _, want := range []string{
		"**Paragrafer:** § 1-1, § 3-9",
		"### § 1-1: Verkeområde",
		"### § 3-9\n",
		"> **Ikke funnet:** 99",
		"**Totalt:** ~",
		"\n\n---\n\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("batch response missing %q:\n%s", want, got)
		}
	}
}

func TestBatchResponseAllFound(t *testing.T) {
	sections := []store.Section{{SectionID: "1-1", Content: "tekst"}}
	got := BatchResponse("Lov", "lov/1992-07-03-93", "u", sections, []string{"§ 1-1"}, 0)
	if strings.Contains(got, "Ikke funnet") {
		t.Error("normalized request ids should count as found")
	}
}

func makeSummaries(n int) []store.SectionSummary {
	out := make([]store.SectionSummary, n)
	for i := range out {
		out[i] = store.SectionSummary{
			SectionID:       fmt.Sprintf("%d", i+1),
			Title:           fmt.Sprintf("Paragraf %d", i+1),
			CharCount:       350,
			EstimatedTokens: 100,
		}
	}
	return out
}

func TestTableOfContentsFlat(t *testing.T) {
	doc := &store.Document{
		DokID:      "lov/1992-07-03-93",
		Title:      "Lov om avhending av fast eigedom (avhendingslova)",
		Ministry:   "Justis- og beredskapsdepartementet",
		DocType:    "lov",
		IsCurrent:  true,
	}
	sections := []store.SectionSummary{
		{SectionID: "1-1", Title: "Verkeområde", EstimatedTokens: 120},
		{SectionID: "3-9", Title: "Eigedom selt «som han er» | e.l.", EstimatedTokens: 80},
	}
	got := TableOfContents(doc, sections, nil)

	for _, want := range []string{
		"### Innholdsfortegnelse: Lov om avhending av fast eigedom (avhendingslova)",
		"**Totalt:** 2 paragrafer (~200 tokens)",
		"**Departement:** Justis- og beredskapsdepartementet",
		"| Paragraf | Tittel | Tokens |",
		"| § 1-1 | Verkeområde | 120 |",
		"\\|", // pipe in the title must be escaped
		"**Bruk:**",
		"- Hent én paragraf: `lov('lov/1992-07-03-93', '1')` eller `forskrift(...)`",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("toc missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "opphevet") {
		t.Error("current document should not carry opphevet banner")
	}
}

func TestTableOfContentsFlatCap(t *testing.T) {
	doc := &store.Document{DokID: "lov/2005-06-17-62", Title: "Stor lov", IsCurrent: true}
	got := TableOfContents(doc, makeSummaries(130), nil)

	if !strings.Contains(got, "| ... | *30 flere paragrafer* | 3,000 |") {
		t.Errorf("missing ellipsis row:\n%s", got)
	}
	if strings.Count(got, "| § ") != 100 {
		t.Errorf("expected 100 displayed rows, got %d", strings.Count(got, "| § "))
	}
}

func TestTableOfContentsSuperseded(t *testing.T) {
	doc := &store.Document{DokID: "lov/1900-01-01-1", Title: "Gammel lov", IsCurrent: false, IsAmendment: true}
	got := TableOfContents(doc, makeSummaries(1), nil)
	if !strings.Contains(got, "Innholdsfortegnelse: Gammel lov (opphevet)") {
		t.Error("missing opphevet in title")
	}
	if !strings.Contains(got, "> **Denne loven/forskriften er opphevet.**") {
		t.Error("missing warning block")
	}
	if !strings.Contains(got, "*Dette er en endringslov/-forskrift.*") {
		t.Error("missing amendment note")
	}
}

func TestTableOfContentsHierarchical(t *testing.T) {
	doc := &store.Document{DokID: "lov/1992-07-03-93", Title: "Avhendingslova", IsCurrent: true}
	structures := []store.StructureNode{
		{StructureType: "del", StructureID: "i", Title: "Del I", Address: "/del/i/", Position: 0},
		{StructureType: "kapittel", StructureID: "1", Title: "Kapittel 1. Allmenne føresegner", Address: "/del/i/kapittel/1/", Position: 1},
	}
	sections := []store.SectionSummary{
		{SectionID: "1-1", Title: "Verkeområde", EstimatedTokens: 120, Address: "/del/i/kapittel/1/paragraf/1-1/"},
		{SectionID: "9-9", Title: "Utanfor struktur", EstimatedTokens: 50, Address: "/annet/"},
	}
	got := TableOfContents(doc, sections, structures)

	for _, want := range []string{
		"**Del I**",
		"  **Kapittel 1. Allmenne føresegner**",
		"    - § 1-1: Verkeområde (120 tok)", // kapittel indent + 2
		"**Andre paragrafer:**",
		"  - § 9-9 (50 tok)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("hierarchical toc missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "| Paragraf |") {
		t.Error("hierarchical view should not include the flat table")
	}
}

func TestTableOfContentsStructureOverflow(t *testing.T) {
	doc := &store.Document{DokID: "lov/2005-06-17-62", Title: "Stor lov", IsCurrent: true}
	structures := []store.StructureNode{
		{StructureType: "kapittel", StructureID: "1", Title: "Kapittel 1", Address: "/kapittel/1/"},
	}
	var sections []store.SectionSummary
	for i := 0; i < 10; i++ {
		sections = append(sections, store.SectionSummary{
			SectionID:       fmt.Sprintf("1-%d", i+1),
			EstimatedTokens: 10,
			Address:         fmt.Sprintf("/kapittel/1/paragraf/1-%d/", i+1),
		})
	}
	got := TableOfContents(doc, sections, structures)
	if !strings.Contains(got, "- *... og 2 flere (20 tok)*") {
		t.Errorf("missing per-structure overflow line:\n%s", got)
	}
}

func TestSearchResults(t *testing.T) {
	results := []store.SearchResult{
		{
			DokID: "lov/1992-07-03-93", SectionID: "3-9",
			Title: "Lov om avhending av fast eigedom", ShortTitle: "avhendingslova",
			DocType: "lov", IsCurrent: true, LegalArea: "Kontraktsrett",
			Snippet: "Eigedomen har <mark>mangel</mark> dersom...",
			SearchMode: "fts",
		},
		{
			DokID: "forskrift/2017-06-19-840", SectionID: "11-4",
			ShortTitle: "Byggteknisk forskrift (TEK17)", DocType: "forskrift",
			IsCurrent: true, BasedOn: "lov/2008-06-27-71/§29-5",
			Snippet: "Krav til <mark>brannsikkerhet</mark>",
			SearchMode: "fts",
		},
	}
	got := SearchResults("mangel", results)

	for _, want := range []string{
		`## Søkeresultater for "mangel"`,
		"Fant 2 treff (fulltekstsøk):",
		"### Lov: Lov om avhending av fast eigedom § 3-9",
		"**ID:** `lov/1992-07-03-93` **Paragraf:** `3-9` | *Kontraktsrett*",
		"Eigedomen har **mangel** dersom...",
		"### Forskrift: Byggteknisk forskrift (TEK17) § 11-4",
		"**Hjemmelslov:** lov/2008-06-27-71 § 29-5",
		"**Søk på Lovdata:** https://lovdata.no/sok?q=mangel",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("search results missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Merk:") {
		t.Error("unexpected or_fallback note")
	}
}

func TestSearchResultsOrFallback(t *testing.T) {
	results := []store.SearchResult{
		{DokID: "lov/1992-07-03-93", DocType: "lov", ShortTitle: "avhendingslova",
			IsCurrent: true, SearchMode: "or_fallback"},
	}
	got := SearchResults("eigedom verdensrommet", results)
	if !strings.Contains(got, "> **Merk:** Søk med alle ordene ga 0 treff.") {
		t.Errorf("missing or_fallback note:\n%s", got)
	}
}

func TestSearchResultsSuperseded(t *testing.T) {
	results := []store.SearchResult{
		{DokID: "lov/1900-01-01-1", DocType: "lov", ShortTitle: "Gammel lov", IsCurrent: false},
	}
	got := SearchResults("gammel", results)
	if !strings.Contains(got, "### Lov: Gammel lov (opphevet)") {
		t.Errorf("missing opphevet marker:\n%s", got)
	}
}

func TestAliasResults(t *testing.T) {
	hits := []AliasHit{
		{ID: "LOV-1992-07-03-93", Name: "Lov om avhending av fast eigedom (avhendingslova)",
			URL: "https://lovdata.no/lov/1992-07-03-93"},
	}
	got := AliasResults("avhending", hits)
	for _, want := range []string{
		`## Søkeresultater for "avhending"`,
		"Fant 1 treff (alias-søk):",
		"- **Lov om avhending av fast eigedom (avhendingslova)**",
		"ID: `LOV-1992-07-03-93`",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("alias results missing %q:\n%s", want, got)
		}
	}

	empty := AliasResults("finnesikke", nil)
	if !strings.Contains(empty, "Ingen treff i indekserte lover.") {
		t.Errorf("missing no-hit message:\n%s", empty)
	}
}

func TestRelatedRegulations(t *testing.T) {
	regs := []store.Document{
		{DokID: "forskrift/2017-06-19-840", ShortTitle: "Byggteknisk forskrift (TEK17)",
			Ministry: "Kommunal- og distriktsdepartementet"},
	}
	got := RelatedRegulations("pbl", "lov/2008-06-27-71", regs)
	for _, want := range []string{
		"## Forskrifter med hjemmel i pbl",
		"Fant 1 forskrifter:",
		"- **Byggteknisk forskrift (TEK17)**",
		"Departement: Kommunal- og distriktsdepartementet",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("related missing %q:\n%s", want, got)
		}
	}

	empty := RelatedRegulations("pbl", "lov/2008-06-27-71", nil)
	if !strings.Contains(empty, "Ingen forskrifter funnet med hjemmel i **pbl** (`lov/2008-06-27-71`).") {
		t.Errorf("missing empty message:\n%s", empty)
	}
}

func TestMinistriesAndLegalAreas(t *testing.T) {
	m := Ministries([]string{"Justis- og beredskapsdepartementet"})
	if !strings.Contains(m, "## Departementer (1 stk)") {
		t.Errorf("ministries header wrong:\n%s", m)
	}
	if !strings.Contains(Ministries(nil), "Ingen departementer funnet.") {
		t.Error("missing empty ministries message")
	}

	a := LegalAreas([]string{"Kontraktsrett", "Arbeidsliv"})
	if !strings.Contains(a, "## Rettsområder (2 stk)") {
		t.Errorf("legal areas header wrong:\n%s", a)
	}
	if !strings.Contains(LegalAreas(nil), "Ingen rettsområder funnet.") {
		t.Error("missing empty legal areas message")
	}
}

func TestComma(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"}, {999, "999"}, {1000, "1,000"}, {12345, "12,345"}, {1234567, "1,234,567"},
	}
	for _, tt := range tests {
		if got := comma(tt.in); got != tt.want {
			t.Errorf("comma(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
