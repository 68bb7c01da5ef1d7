package paragraf

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/paragraf/paragraf/store"
)

// stubBackend is an in-memory store.Backend for query-engine tests.
type stubBackend struct {
	docs       map[string]*store.Document
	sections   map[string]map[string]*store.Section
	summaries  map[string][]store.SectionSummary
	structures map[string][]store.StructureNode
	fuzzyDoc   *store.Document
	searchHits []store.SearchResult
	searchErr  error
	related    []store.Document
	ministries []string
	areas      []string
	synced     bool
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		docs:       make(map[string]*store.Document),
		sections:   make(map[string]map[string]*store.Section),
		summaries:  make(map[string][]store.SectionSummary),
		structures: make(map[string][]store.StructureNode),
	}
}

func (b *stubBackend) addDoc(doc store.Document, sections ...store.Section) {
	b.docs[doc.DokID] = &doc
	if doc.RefID != "" {
		b.docs[doc.RefID] = &doc
	}
	m := make(map[string]*store.Section)
	for i := range sections {
		sec := sections[i]
		sec.DokID = doc.DokID
		sec.CharCount = len([]rune(sec.Content))
		m[sec.SectionID] = &sec
		b.summaries[doc.DokID] = append(b.summaries[doc.DokID], store.SectionSummary{
			SectionID:       sec.SectionID,
			Title:           sec.Title,
			CharCount:       sec.CharCount,
			EstimatedTokens: store.EstimateTokens(sec.CharCount),
		})
	}
	b.sections[doc.DokID] = m
}

func (b *stubBackend) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	if doc, ok := b.docs[id]; ok {
		return doc, nil
	}
	return nil, store.ErrDocumentNotFound
}

func (b *stubBackend) FindDocument(ctx context.Context, freeText string) (*store.Document, error) {
	if doc, ok := b.docs[freeText]; ok {
		return doc, nil
	}
	for _, doc := range b.docs {
		if strings.EqualFold(doc.ShortTitle, freeText) {
			return doc, nil
		}
	}
	return nil, store.ErrDocumentNotFound
}

func (b *stubBackend) FindSimilar(ctx context.Context, freeText string, threshold float64) (*store.Document, float64, error) {
	if b.fuzzyDoc != nil {
		return b.fuzzyDoc, 0.61, nil
	}
	return nil, 0, store.ErrBackendUnavailable
}

func (b *stubBackend) GetSection(ctx context.Context, dokID, sectionID string) (*store.Section, error) {
	m, ok := b.sections[b.canonical(dokID)]
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	if sec, ok := m[store.NormalizeSectionID(sectionID)]; ok {
		return sec, nil
	}
	return nil, store.ErrSectionNotFound
}

func (b *stubBackend) canonical(id string) string {
	if doc, ok := b.docs[id]; ok {
		return doc.DokID
	}
	return id
}

func (b *stubBackend) GetSectionsBatch(ctx context.Context, dokID string, sectionIDs []string) ([]store.Section, error) {
	var out []store.Section
	for _, id := range sectionIDs {
		if sec, err := b.GetSection(ctx, dokID, id); err == nil {
			out = append(out, *sec)
		}
	}
	return out, nil
}

func (b *stubBackend) GetSectionSize(ctx context.Context, dokID, sectionID string) (*store.SectionSize, error) {
	sec, err := b.GetSection(ctx, dokID, sectionID)
	if err != nil {
		return nil, err
	}
	return &store.SectionSize{CharCount: sec.CharCount, EstimatedTokens: store.EstimateTokens(sec.CharCount)}, nil
}

func (b *stubBackend) ListSections(ctx context.Context, dokID string) ([]store.SectionSummary, error) {
	return b.summaries[b.canonical(dokID)], nil
}

func (b *stubBackend) ListStructures(ctx context.Context, dokID string) ([]store.StructureNode, error) {
	return b.structures[b.canonical(dokID)], nil
}

func (b *stubBackend) SearchFTS(ctx context.Context, query string, limit int, filters store.SearchFilters) ([]store.SearchResult, error) {
	return b.searchHits, b.searchErr
}

func (b *stubBackend) SearchVector(ctx context.Context, embedding []float32, limit, probes int) ([]store.SearchResult, error) {
	return nil, nil
}

func (b *stubBackend) SearchHybrid(ctx context.Context, query string, embedding []float32, limit int, filters store.SearchFilters, opts store.HybridOptions) ([]store.SearchResult, error) {
	return b.searchHits, b.searchErr
}

func (b *stubBackend) FindRelated(ctx context.Context, lovID string) ([]store.Document, error) {
	return b.related, nil
}

func (b *stubBackend) ListMinistries(ctx context.Context) ([]string, error) {
	return b.ministries, nil
}

func (b *stubBackend) ListLegalAreas(ctx context.Context) ([]string, error) {
	return b.areas, nil
}

func (b *stubBackend) UpsertDocument(ctx context.Context, doc store.Document, structures []store.StructureNode, sections []store.Section) error {
	return nil
}

func (b *stubBackend) ReconcileCurrent(ctx context.Context, docType string, presentIDs []string) (int, error) {
	return 0, nil
}

func (b *stubBackend) RebuildFTS(ctx context.Context) error { return nil }

func (b *stubBackend) CountDocuments(ctx context.Context, docType string) (int, error) {
	return len(b.docs), nil
}

func (b *stubBackend) SectionsMissingEmbeddings(ctx context.Context, limit int) ([]store.Section, error) {
	return nil, nil
}

func (b *stubBackend) UpdateEmbedding(ctx context.Context, dokID, sectionID string, embedding []float32) error {
	return nil
}

func (b *stubBackend) GetSyncStatus(ctx context.Context) (map[string]store.SyncMeta, error) {
	if !b.synced {
		return map[string]store.SyncMeta{}, nil
	}
	return map[string]store.SyncMeta{
		"lover": {Dataset: "lover", LastModified: time.Now(), SyncedAt: time.Now(), FileCount: 1},
	}, nil
}

func (b *stubBackend) SetSyncStatus(ctx context.Context, dataset string, remoteModified time.Time, fileCount int) error {
	b.synced = true
	return nil
}

func (b *stubBackend) IsSynced(ctx context.Context) (bool, error) { return b.synced, nil }

func (b *stubBackend) Close() error { return nil }

func newTestService(t *testing.T, backend store.Backend) *Service {
	t.Helper()
	svc, err := New(context.Background(), DefaultConfig(),
		WithBackend(backend),
		WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func seededBackend() *stubBackend {
	b := newStubBackend()
	b.addDoc(store.Document{
		DokID:      "lov/1992-07-03-93",
		RefID:      "LOV-1992-07-03-93",
		Title:      "Lov om avhending av fast eigedom (avhendingslova)",
		ShortTitle: "avhendingslova",
		DocType:    "lov",
		IsCurrent:  true,
	},
		store.Section{SectionID: "1-1", Title: "Verkeområde", Content: "Lova gjeld avhending av fast eigedom."},
		store.Section{SectionID: "3-9", Title: "Eigedom selt «som han er» e.l.", Content: "Eigedomen har mangel dersom."},
		store.Section{SectionID: "4-2", Content: "Krav om retting."},
	)
	b.synced = true
	return b
}

func TestLookupSection(t *testing.T) {
	svc := newTestService(t, seededBackend())
	got := svc.Lookup(context.Background(), "avhendingslova", "3-9", 0)

	for _, want := range []string{
		"## Lov om avhending av fast eigedom (avhendingslova)",
		"**Paragraf:** § 3-9",
		"**Lovdata ID:** LOV-1992-07-03-93",
		"**Eigedom selt «som han er» e.l.**",
		"Eigedomen har mangel dersom.",
		"**Kilde:** [https://lovdata.no/lov/1992-07-03-93/§3-9](https://lovdata.no/lov/1992-07-03-93/§3-9)",
		"**Lisens:** NLOD 2.0",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("lookup missing %q:\n%s", want, got)
		}
	}
}

func TestLookupEmptyID(t *testing.T) {
	svc := newTestService(t, seededBackend())
	got := svc.Lookup(context.Background(), "  ", "", 0)
	if got != "**Feil:** Lov-ID kan ikke være tom. Oppgi lovnavn eller ID." {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestLookupSectionMissing(t *testing.T) {
	svc := newTestService(t, seededBackend())
	got := svc.Lookup(context.Background(), "avhendingslova", "99-99", 0)
	if !strings.Contains(got, "**Feil:** § 99-99 finnes ikke i Lov om avhending av fast eigedom (avhendingslova).") {
		t.Errorf("unexpected message:\n%s", got)
	}
	if !strings.Contains(got, `lov("avhendingslova")`) {
		t.Errorf("missing toc hint:\n%s", got)
	}
}

func TestLookupDocumentMissing(t *testing.T) {
	svc := newTestService(t, newStubBackend())
	got := svc.Lookup(context.Background(), "finnesikkeloven", "", 0)
	if !strings.Contains(got, "**Feil:** Fant ikke loven «finnesikkeloven».") {
		t.Errorf("unexpected message:\n%s", got)
	}
	if !strings.Contains(got, "`liste()`") {
		t.Errorf("missing alias hint:\n%s", got)
	}
}

func TestLookupNrSuffixRetry(t *testing.T) {
	svc := newTestService(t, seededBackend())
	got := svc.Lookup(context.Background(), "avhendingslova", "4-2 nr 1", 0)

	if !strings.Contains(got, "Krav om retting.") {
		t.Errorf("expected parent section content:\n%s", got)
	}
	if !strings.Contains(got, "> *Merk: § 4-2 nr 1 ble ikke funnet som egen seksjon. Viser hele § 4-2 som inneholder denne bestemmelsen.*") {
		t.Errorf("missing annotation:\n%s", got)
	}
}

func TestLookupOverviewRendersToC(t *testing.T) {
	svc := newTestService(t, seededBackend())
	got := svc.Overview(context.Background(), "avhendingslova")

	if !strings.Contains(got, "### Innholdsfortegnelse: Lov om avhending av fast eigedom (avhendingslova)") {
		t.Errorf("missing toc header:\n%s", got)
	}
	if !strings.Contains(got, "**Totalt:** 3 paragrafer") {
		t.Errorf("missing totals:\n%s", got)
	}
}

func TestLookupSuperseded(t *testing.T) {
	b := seededBackend()
	b.addDoc(store.Document{
		DokID: "lov/1900-01-01-1", Title: "Gammel lov", ShortTitle: "gammelloven",
		DocType: "lov", IsCurrent: false,
	}, store.Section{SectionID: "1", Content: "tekst"})

	svc := newTestService(t, b)
	got := svc.Lookup(context.Background(), "lov/1900-01-01-1", "1", 0)
	if !strings.Contains(got, "(opphevet)") {
		t.Errorf("missing opphevet banner:\n%s", got)
	}
}

func TestLookupRegulationMissing(t *testing.T) {
	svc := newTestService(t, newStubBackend())
	got := svc.LookupRegulation(context.Background(), "ukjentforskriften", "", 0)
	if !strings.Contains(got, "**Feil:** Fant ikke forskriften «ukjentforskriften».") {
		t.Errorf("unexpected message:\n%s", got)
	}
}

func TestLookupBatchBoundaries(t *testing.T) {
	svc := newTestService(t, seededBackend())
	ctx := context.Background()

	if got := svc.LookupBatch(ctx, "", []string{"1-1"}, 0); got != "**Feil:** Lov-ID kan ikke være tom." {
		t.Errorf("empty id: %q", got)
	}
	if got := svc.LookupBatch(ctx, "avhendingslova", nil, 0); !strings.Contains(got, "Paragraf-listen kan ikke være tom") {
		t.Errorf("empty list: %q", got)
	}

	tooMany := make([]string, 51)
	for i := range tooMany {
		tooMany[i] = "1-1"
	}
	got := svc.LookupBatch(ctx, "avhendingslova", tooMany, 0)
	if !strings.Contains(got, "For mange paragrafer (51). Maks 50 per batch") {
		t.Errorf("over limit: %q", got)
	}
}

func TestLookupBatch(t *testing.T) {
	svc := newTestService(t, seededBackend())
	got := svc.LookupBatch(context.Background(), "avhendingslova", []string{"1-1", "3-9", "99"}, 0)

	for _, want := range []string{
		"**Paragrafer:** § 1-1, § 3-9",
		"### § 1-1: Verkeområde",
		"> **Ikke funnet:** 99",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("batch missing %q:\n%s", want, got)
		}
	}
}

func TestResolveIDTiers(t *testing.T) {
	b := seededBackend()
	b.addDoc(store.Document{
		DokID: "lov/1996-06-07-32", ShortTitle: "gravferdsloven", DocType: "lov", IsCurrent: true,
	})
	svc := newTestService(t, b)
	ctx := context.Background()

	// Tier 1: alias table, with space and case normalization.
	if got := svc.resolveID(ctx, "AVHL"); got != "LOV-1992-07-03-93" {
		t.Errorf("alias tier: %q", got)
	}
	if got := svc.resolveID(ctx, "plan og bygningsloven"); got != "LOV-2008-06-27-71" {
		t.Errorf("space normalization: %q", got)
	}
	// Tier 2: backend short-title lookup for laws outside the alias table.
	if got := svc.resolveID(ctx, "Gravferdsloven"); got != "lov/1996-06-07-32" {
		t.Errorf("backend tier: %q", got)
	}
	// Tier 4: reference ids pass through uppercased.
	if got := svc.resolveID(ctx, "lov-1999-03-26-17"); got != "LOV-1999-03-26-17" {
		t.Errorf("uppercase tier: %q", got)
	}
	if got := svc.resolveID(ctx, "noe helt annet"); got != "noe helt annet" {
		t.Errorf("passthrough: %q", got)
	}
}

func TestResolveIDFuzzy(t *testing.T) {
	b := seededBackend()
	b.fuzzyDoc = b.docs["lov/1992-07-03-93"]
	svc := newTestService(t, b)
	ctx := context.Background()

	// Long misspellings reach the trigram tier.
	if got := svc.resolveID(ctx, "avhendingslove"); got != "lov/1992-07-03-93" {
		t.Errorf("fuzzy tier: %q", got)
	}
	// Short inputs never do.
	if got := svc.resolveID(ctx, "husly"); got != "husly" {
		t.Errorf("short input should skip fuzzy: %q", got)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	svc := newTestService(t, seededBackend())
	got := svc.Search(context.Background(), "", SearchOptions{})
	if !strings.Contains(got, "Søkestreng kan ikke være tom") {
		t.Errorf("unexpected: %q", got)
	}
}

func TestSearchFormatsHits(t *testing.T) {
	b := seededBackend()
	b.searchHits = []store.SearchResult{
		{
			DokID: "lov/1992-07-03-93", SectionID: "3-9", ShortTitle: "avhendingslova",
			DocType: "lov", IsCurrent: true,
			Snippet: "har <mark>mangel</mark> dersom", SearchMode: "fts",
		},
	}
	svc := newTestService(t, b)
	got := svc.Search(context.Background(), "mangel", SearchOptions{})

	if !strings.Contains(got, `## Søkeresultater for "mangel"`) {
		t.Errorf("missing header:\n%s", got)
	}
	if !strings.Contains(got, "har **mangel** dersom") {
		t.Errorf("snippet not highlighted:\n%s", got)
	}
}

func TestSearchUnsyncedFallsBackToAliases(t *testing.T) {
	b := newStubBackend() // not synced
	svc := newTestService(t, b)
	got := svc.Search(context.Background(), "avhending", SearchOptions{})

	if !strings.Contains(got, "Fant 1 treff (alias-søk):") {
		t.Errorf("expected alias fallback:\n%s", got)
	}
	if !strings.Contains(got, "LOV-1992-07-03-93") {
		t.Errorf("missing alias hit:\n%s", got)
	}
}

func TestSearchNormalizesTypography(t *testing.T) {
	b := newStubBackend()
	svc := newTestService(t, b)
	got := svc.Search(context.Background(), "plan–og", SearchOptions{})
	// En-dash folded to hyphen before matching and display.
	if !strings.Contains(got, `## Søkeresultater for "plan-og"`) {
		t.Errorf("typography not normalized:\n%s", got)
	}
}

func TestRelated(t *testing.T) {
	b := seededBackend()
	b.related = []store.Document{
		{DokID: "forskrift/2017-06-19-840", ShortTitle: "Byggteknisk forskrift (TEK17)", DocType: "forskrift"},
	}
	svc := newTestService(t, b)
	got := svc.Related(context.Background(), "pbl")

	if !strings.Contains(got, "## Forskrifter med hjemmel i pbl") {
		t.Errorf("missing header:\n%s", got)
	}
	if got := svc.Related(context.Background(), " "); got != "**Feil:** Lov-ID kan ikke vaere tom." {
		t.Errorf("empty id: %q", got)
	}
}

func TestListAliases(t *testing.T) {
	svc := newTestService(t, seededBackend())
	got := svc.ListAliases()

	for _, want := range []string{
		"## Aliaser (snarveier)",
		"### Entreprise og bygg",
		"- `avhendingslova` → Lov om avhending av fast eigedom (avhendingslova)",
		"### Anskaffelser",
		"*Eksempel: `lov('husleieloven', '9-2')` fungerer selv om husleieloven ikke er i listen.*",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("aliases missing %q:\n%s", want, got)
		}
	}
}

func TestSectionSize(t *testing.T) {
	svc := newTestService(t, seededBackend())
	size, err := svc.SectionSize(context.Background(), "avhendingslova", "1-1")
	if err != nil {
		t.Fatalf("SectionSize: %v", err)
	}
	if size.CharCount == 0 || size.EstimatedTokens == 0 {
		t.Errorf("empty size report: %+v", size)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FTSWeight = 1.5
	if _, err := New(context.Background(), cfg, WithBackend(newStubBackend())); err == nil {
		t.Fatal("expected error for fts_weight > 1")
	}

	cfg = DefaultConfig()
	cfg.Backend = "oracle"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
