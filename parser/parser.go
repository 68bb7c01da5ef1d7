// Package parser extracts documents, structure nodes and sections from
// Lovdata XML/HTML files.
package parser

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/paragraf/paragraf/store"
)

// ErrMalformed is returned for files that lack the expected markup.
// The ingestor logs and skips these rather than aborting a sync.
var ErrMalformed = errors.New("parser: malformed document")

// Result is everything extracted from one source file.
type Result struct {
	Document   store.Document
	Structures []store.StructureNode
	Sections   []store.Section
}

// Title substrings that mark amendment documents ("endringslover"),
// matched case-insensitively.
var amendmentMarkers = []string{
	"endring i ",
	"endringer i ",
	"endringslov",
	"endr. i ",
}

// IsAmendmentTitle reports whether a document title names an amendment.
func IsAmendmentTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, m := range amendmentMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// structure element class -> structure type
var structureTypes = []struct {
	class string
	typ   string
}{
	{"legalPart", "del"},
	{"legalChapter", "kapittel"},
	{"legalGroup", "avsnitt"},
	{"legalAnnex", "vedlegg"},
}

// Parse reads one Lovdata document file. stem is the source filename
// without extension, used as the identifier of last resort.
func Parse(r io.Reader, stem string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: reading markup: %w", stem, err)
	}

	header := doc.Find("header.documentHeader").First()
	if header.Length() == 0 {
		return nil, fmt.Errorf("%s: no document header: %w", stem, ErrMalformed)
	}

	rawID := ddValue(header, "dokid")
	if rawID == "" {
		rawID = stem
	}
	title := ddValue(header, "title")

	res := &Result{
		Document: store.Document{
			DokID:       store.NormalizeID(rawID),
			RefID:       ddValue(header, "refid"),
			Title:       title,
			ShortTitle:  ddValue(header, "titleShort"),
			DateInForce: ddValue(header, "dateInForce"),
			Ministry:    SplitMinistries(ddValue(header, "ministry")),
			LegalArea:   ddValue(header, "legalArea"),
			BasedOn:     ddValue(header, "basedOn"),
			IsAmendment: IsAmendmentTitle(title),
		},
	}
	if strings.HasPrefix(res.Document.DokID, "forskrift/") {
		res.Document.DocType = "forskrift"
	} else {
		res.Document.DocType = "lov"
	}

	var parseErr error
	position := 0
	doc.Find("section.legalPart, section.legalChapter, section.legalGroup, section.legalAnnex").
		Each(func(_ int, sel *goquery.Selection) {
			node := parseStructure(sel, res.Document.DokID, position)
			if node != nil {
				res.Structures = append(res.Structures, *node)
				position++
			}
		})

	doc.Find("article.legalArticle").Each(func(i int, art *goquery.Selection) {
		if parseErr != nil {
			return
		}
		sec, err := parseArticle(art, res.Document.DokID)
		if err != nil {
			parseErr = fmt.Errorf("%s: article %d: %w", stem, i, err)
			return
		}
		res.Sections = append(res.Sections, *sec)
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return res, nil
}

// ddValue extracts one metadata value from the header definition list.
// Values carried as links are joined with "; ".
func ddValue(header *goquery.Selection, class string) string {
	dd := header.Find("dd." + class).First()
	if dd.Length() == 0 {
		return ""
	}
	links := dd.Find("a")
	if links.Length() > 0 {
		parts := make([]string, 0, links.Length())
		links.Each(func(_ int, a *goquery.Selection) {
			if t := strings.TrimSpace(a.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		return strings.Join(parts, "; ")
	}
	return strings.TrimSpace(dd.Text())
}

// SplitMinistries fixes ministry values that arrive as one concatenated
// blob, e.g. "JustisdepartementetFinansdepartementet". A new name
// starts wherever "departementet" is immediately followed by an
// uppercase letter. Already-delimited values pass through.
func SplitMinistries(value string) string {
	if value == "" {
		return ""
	}
	var out []string
	for _, part := range strings.Split(value, "; ") {
		out = append(out, splitMinistryBlob(part)...)
	}
	return strings.Join(out, "; ")
}

func splitMinistryBlob(s string) []string {
	const marker = "departementet"
	var parts []string
	start := 0
	for i := 0; i+len(marker) <= len(s); {
		j := strings.Index(s[i:], marker)
		if j < 0 {
			break
		}
		end := i + j + len(marker)
		r, _ := utf8.DecodeRuneInString(s[end:])
		if r != utf8.RuneError && unicode.IsUpper(r) {
			parts = append(parts, strings.TrimSpace(s[start:end]))
			start = end
		}
		i = end
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

func parseArticle(art *goquery.Selection, dokID string) (*store.Section, error) {
	value := store.NormalizeSectionID(art.Find("span.legalArticleValue").First().Text())
	if value == "" {
		return nil, fmt.Errorf("missing article value: %w", ErrMalformed)
	}

	var paras []string
	art.Find("article.legalP").Each(func(_ int, p *goquery.Selection) {
		if t := strings.TrimSpace(p.Text()); t != "" {
			paras = append(paras, t)
		}
	})
	content := strings.Join(paras, "\n\n")
	if content == "" {
		content = strings.TrimSpace(art.Text())
	}

	return &store.Section{
		DokID:     dokID,
		SectionID: value,
		Title:     strings.TrimSpace(art.Find("span.legalArticleTitle").First().Text()),
		Content:   content,
		Address:   art.AttrOr("data-absoluteaddress", ""),
		CharCount: utf8.RuneCountInString(content),
	}, nil
}

func parseStructure(sel *goquery.Selection, dokID string, position int) *store.StructureNode {
	var typ string
	for _, st := range structureTypes {
		if sel.HasClass(st.class) {
			typ = st.typ
			break
		}
	}
	if typ == "" {
		return nil
	}

	title := strings.TrimSpace(sel.Find("h1, h2, h3, h4").First().Text())
	return &store.StructureNode{
		DokID:         dokID,
		StructureType: typ,
		StructureID:   structureID(title, position),
		Title:         title,
		Address:       sel.AttrOr("data-absoluteaddress", ""),
		Position:      position,
	}
}

// structureID pulls the ordinal out of a heading like
// "Kapittel 1. Alminnelige bestemmelser" or "Del II. Særlige regler".
// Headings without one fall back to the document-order position.
func structureID(title string, position int) string {
	fields := strings.Fields(title)
	if len(fields) >= 2 {
		id := strings.TrimRight(fields[1], ".:,")
		if id != "" {
			return strings.ToLower(id)
		}
	}
	return fmt.Sprintf("%d", position+1)
}
