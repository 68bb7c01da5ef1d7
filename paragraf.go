// Package paragraf provides lookup and search over Norwegian laws and
// regulations cached from the Lovdata public-data hub. The Service
// answers with ready-to-display Norwegian markdown; lookups that fail
// return explanatory text rather than errors.
package paragraf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/paragraf/paragraf/embed"
	"github.com/paragraf/paragraf/ingest"
	"github.com/paragraf/paragraf/shape"
	"github.com/paragraf/paragraf/store"
)

// Service is the query engine. Construct with New; safe for concurrent
// use.
type Service struct {
	cfg      Config
	backend  store.Backend
	embedder *embed.Client
	logger   *slog.Logger
}

// Option configures a Service beyond its Config.
type Option func(*Service)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithBackend injects a pre-built backend, overriding Config.Backend.
func WithBackend(b store.Backend) Option {
	return func(s *Service) { s.backend = b }
}

// New creates a Service from configuration: opens the configured
// backend and, when an API key is present, the embedding client.
func New(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	if cfg.FTSWeight < 0 || cfg.FTSWeight > 1 {
		return nil, fmt.Errorf("%w: fts_weight %v outside [0,1]", ErrInvalidConfig, cfg.FTSWeight)
	}

	s := &Service{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if s.backend == nil {
		switch cfg.Backend {
		case "sqlite", "":
			b, err := store.NewSQLite(cfg.resolveDBPath())
			if err != nil {
				return nil, fmt.Errorf("opening sqlite backend: %w", err)
			}
			s.backend = b
		case "postgres":
			if cfg.PostgresDSN == "" {
				return nil, fmt.Errorf("%w: postgres backend needs a DSN", ErrInvalidConfig)
			}
			b, err := store.NewPostgres(ctx, cfg.PostgresDSN)
			if err != nil {
				return nil, fmt.Errorf("opening postgres backend: %w", err)
			}
			s.backend = b
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
		}
	}

	if cfg.GeminiAPIKey != "" {
		var embedOpts []embed.Option
		if cfg.EmbedModel != "" {
			embedOpts = append(embedOpts, embed.WithModel(cfg.EmbedModel))
		}
		c, err := embed.NewClient(cfg.GeminiAPIKey, embedOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating embedding client: %w", err)
		}
		s.embedder = c
	}

	return s, nil
}

// Close releases the backend.
func (s *Service) Close() error {
	return s.backend.Close()
}

// nrSuffix matches trailing "nr N" qualifiers on section ids; callers
// sometimes ask for "4-2 nr 1" when the cache stores the whole § 4-2.
var nrSuffix = regexp.MustCompile(`(?i)\s+nr\s+\d+.*$`)

// fetchState distinguishes the three outcomes of a content fetch.
type fetchState int

const (
	fetchOK fetchState = iota
	fetchSectionMissing
	fetchDocumentMissing
)

// Lookup looks up a law or one of its sections and returns formatted
// markdown. maxTokens > 0 truncates long content.
func (s *Service) Lookup(ctx context.Context, lovID, sectionID string, maxTokens int) string {
	if strings.TrimSpace(lovID) == "" {
		return "**Feil:** Lov-ID kan ikke være tom. Oppgi lovnavn eller ID."
	}

	resolved := s.resolveID(ctx, lovID)
	name := lawName(resolved)
	url := shape.LovdataURL(resolved, sectionID)

	s.logger.Info("lookup", "id", resolved, "section", sectionID, "max_tokens", maxTokens)

	current := true
	if doc, err := s.backend.GetDocument(ctx, resolved); err == nil {
		current = doc.IsCurrent
	}

	content, state := s.fetchContent(ctx, resolved, sectionID, maxTokens)
	switch state {
	case fetchOK:
		return shape.Response(name, resolved, sectionID, content, url, current)
	case fetchSectionMissing:
		return fmt.Sprintf("**Feil:** § %s finnes ikke i %s.\n\n"+
			"Bruk `lov(%q)` for å se innholdsfortegnelsen, "+
			"eller `sok(%q)` for å søke.", sectionID, name, lovID, sectionID)
	default:
		return fmt.Sprintf("**Feil:** Fant ikke loven «%s».\n\n"+
			"**Tips:** Bruk `sok(%q)` for å søke, "+
			"eller `liste()` for å se kjente aliaser.\n\n"+
			"Du kan også bruke full Lovdata-ID fra søkeresultater, "+
			"f.eks. `lov(\"lov/1999-03-26-17\", \"9-2\")`.", lovID, lovID)
	}
}

// LookupRegulation looks up a regulation or one of its sections. Same
// flow as Lookup with regulation-flavored error texts.
func (s *Service) LookupRegulation(ctx context.Context, forskriftID, sectionID string, maxTokens int) string {
	if strings.TrimSpace(forskriftID) == "" {
		return "**Feil:** Forskrifts-ID kan ikke være tom. Oppgi navn eller ID."
	}

	resolved := s.resolveID(ctx, forskriftID)
	name := lawName(resolved)
	url := shape.LovdataURL(resolved, sectionID)

	s.logger.Info("lookup regulation", "id", resolved, "section", sectionID, "max_tokens", maxTokens)

	current := true
	if doc, err := s.backend.GetDocument(ctx, resolved); err == nil {
		current = doc.IsCurrent
	}

	content, state := s.fetchContent(ctx, resolved, sectionID, maxTokens)
	switch state {
	case fetchOK:
		return shape.Response(name, resolved, sectionID, content, url, current)
	case fetchSectionMissing:
		return fmt.Sprintf("**Feil:** § %s finnes ikke i %s.\n\n"+
			"Bruk `forskrift(%q)` for å se innholdsfortegnelsen, "+
			"eller `sok(%q)` for å søke.", sectionID, name, forskriftID, sectionID)
	default:
		return fmt.Sprintf("**Feil:** Fant ikke forskriften «%s».\n\n"+
			"**Tips:** Bruk `sok(%q)` for å søke, "+
			"eller prøv fullt navn/ID.", forskriftID, forskriftID)
	}
}

// Overview returns the table of contents for a document.
func (s *Service) Overview(ctx context.Context, lovID string) string {
	return s.Lookup(ctx, lovID, "", 0)
}

// fetchContent fetches section content or a table of contents from the
// backend. With a section id it tries the id as given, then with any
// trailing "nr N" qualifier stripped, annotating the response when the
// broader section is shown instead.
func (s *Service) fetchContent(ctx context.Context, resolved, sectionID string, maxTokens int) (string, fetchState) {
	if sectionID != "" {
		section, err := s.backend.GetSection(ctx, resolved, sectionID)
		if err == nil {
			return shape.Truncate(sectionText(section, ""), maxTokens), fetchOK
		}
		if errors.Is(err, store.ErrDocumentNotFound) {
			return "", fetchDocumentMissing
		}
		if !errors.Is(err, store.ErrSectionNotFound) {
			s.logger.Warn("section fetch failed", "id", resolved, "section", sectionID, "error", err)
			return "", fetchDocumentMissing
		}

		if stripped := nrSuffix.ReplaceAllString(sectionID, ""); stripped != sectionID {
			section, err = s.backend.GetSection(ctx, resolved, stripped)
			if err == nil {
				note := fmt.Sprintf("\n\n> *Merk: § %s ble ikke funnet som egen seksjon. "+
					"Viser hele § %s som inneholder denne bestemmelsen.*", sectionID, stripped)
				return shape.Truncate(sectionText(section, note), maxTokens), fetchOK
			}
		}
		return "", fetchSectionMissing
	}

	doc, err := s.backend.GetDocument(ctx, resolved)
	if err != nil {
		if !errors.Is(err, store.ErrDocumentNotFound) {
			s.logger.Warn("document fetch failed", "id", resolved, "error", err)
		}
		return "", fetchDocumentMissing
	}

	sections, err := s.backend.ListSections(ctx, doc.DokID)
	if err != nil {
		s.logger.Warn("listing sections failed", "id", doc.DokID, "error", err)
		return "", fetchDocumentMissing
	}
	if len(sections) == 0 {
		return "*Dokument funnet, men ingen paragrafer i cache.*", fetchOK
	}

	structures, err := s.backend.ListStructures(ctx, doc.DokID)
	if err != nil && !errors.Is(err, store.ErrBackendUnavailable) {
		s.logger.Warn("listing structures failed", "id", doc.DokID, "error", err)
	}
	return shape.TableOfContents(doc, sections, structures), fetchOK
}

func sectionText(section *store.Section, note string) string {
	var b strings.Builder
	if section.Title != "" {
		b.WriteString("**" + section.Title + "**\n\n")
	}
	b.WriteString(section.Content)
	b.WriteString(note)
	return b.String()
}

// maxBatchSize caps LookupBatch so one call cannot blow up a response.
const maxBatchSize = 50

// LookupBatch looks up several sections of one document in a single
// call, reporting any requested ids that were not found.
func (s *Service) LookupBatch(ctx context.Context, lovID string, sectionIDs []string, maxTokens int) string {
	if strings.TrimSpace(lovID) == "" {
		return "**Feil:** Lov-ID kan ikke være tom."
	}
	if len(sectionIDs) == 0 {
		return "**Feil:** Paragraf-listen kan ikke være tom. Oppgi minst én paragraf."
	}
	if len(sectionIDs) > maxBatchSize {
		return fmt.Sprintf("**Feil:** For mange paragrafer (%d). Maks %d per batch "+
			"for å unngå for store responser. Del opp i flere kall.", len(sectionIDs), maxBatchSize)
	}

	resolved := s.resolveID(ctx, lovID)
	name := lawName(resolved)
	url := shape.LovdataURL(resolved, "")

	s.logger.Info("batch lookup", "id", resolved, "sections", len(sectionIDs))

	sections, err := s.backend.GetSectionsBatch(ctx, resolved, sectionIDs)
	if err != nil || len(sections) == 0 {
		if err != nil {
			s.logger.Warn("batch lookup failed", "id", resolved, "error", err)
		}
		synced, _ := s.backend.IsSynced(ctx)
		return shape.FallbackResponse(name, resolved, strings.Join(sectionIDs, ", "), url, synced)
	}

	return shape.BatchResponse(name, resolved, url, sections, sectionIDs, maxTokens)
}

// SectionSize reports a section's size without fetching its content,
// so callers can decide whether to pull the full text.
func (s *Service) SectionSize(ctx context.Context, lovID, sectionID string) (*store.SectionSize, error) {
	resolved := s.resolveID(ctx, lovID)
	return s.backend.GetSectionSize(ctx, resolved, sectionID)
}

// Related lists regulations whose legal basis is the given law.
func (s *Service) Related(ctx context.Context, lovID string) string {
	if strings.TrimSpace(lovID) == "" {
		return "**Feil:** Lov-ID kan ikke vaere tom."
	}

	resolved := s.resolveID(ctx, lovID)
	regulations, err := s.backend.FindRelated(ctx, resolved)
	if err != nil {
		s.logger.Warn("related lookup failed", "id", resolved, "error", err)
		return fmt.Sprintf("**Feil:** Kunne ikke hente relaterte forskrifter for %s.", lovID)
	}
	return shape.RelatedRegulations(lovID, resolved, regulations)
}

// ListMinistries lists every ministry with cached documents.
func (s *Service) ListMinistries(ctx context.Context) string {
	ministries, err := s.backend.ListMinistries(ctx)
	if err != nil {
		s.logger.Warn("listing ministries failed", "error", err)
		return "**Feil:** Kunne ikke hente departementsliste."
	}
	return shape.Ministries(ministries)
}

// ListLegalAreas lists every rettsområde with cached documents.
func (s *Service) ListLegalAreas(ctx context.Context) string {
	areas, err := s.backend.ListLegalAreas(ctx)
	if err != nil {
		s.logger.Warn("listing legal areas failed", "error", err)
		return "**Feil:** Kunne ikke hente rettsområdeliste."
	}
	return shape.LegalAreas(areas)
}

// ListAliases renders the alias shortcut table grouped by category.
func (s *Service) ListAliases() string {
	lines := []string{
		"## Aliaser (snarveier)\n",
		"**NB:** Dette er bare snarveier for vanlige lover. ",
		"Alle 770+ lover i Lovdata kan slås opp med `lov('lovnavn')`.\n",
		"**Tips:** Bruk `sok('emne')` for å finne lover du ikke kjenner navnet på.\n",
	}
	for _, cat := range aliasCategories {
		lines = append(lines, fmt.Sprintf("### %s\n", cat.name))
		for _, alias := range cat.aliases {
			if id, ok := lovAliases[alias]; ok {
				lines = append(lines, fmt.Sprintf("- `%s` → %s", alias, lawName(id)))
			}
		}
		lines = append(lines, "")
	}
	lines = append(lines, "---",
		"*Eksempel: `lov('husleieloven', '9-2')` fungerer selv om husleieloven ikke er i listen.*")
	return strings.Join(lines, "\n")
}

func (s *Service) newSyncer() *ingest.Syncer {
	opts := []ingest.SyncOption{
		ingest.WithLogger(s.logger),
		ingest.WithRetryPolicy(s.cfg.Retry),
	}
	if s.cfg.HubBaseURL != "" {
		opts = append(opts, ingest.WithBaseURL(s.cfg.HubBaseURL))
	}
	if s.embedder != nil {
		opts = append(opts, ingest.WithEmbedder(s.embedder))
	}
	return ingest.NewSyncer(s.backend, s.cfg.resolveCacheDir(), opts...)
}

// Sync downloads and indexes both Lovdata datasets. force re-ingests
// even when the remote archives are unchanged.
func (s *Service) Sync(ctx context.Context, force bool) []ingest.Report {
	return s.newSyncer().SyncAll(ctx, force)
}

// SyncDataset syncs one dataset only.
func (s *Service) SyncDataset(ctx context.Context, ds ingest.Dataset, force bool) []ingest.Report {
	return []ingest.Report{s.newSyncer().SyncDataset(ctx, ds, force)}
}

// BackfillEmbeddings embeds sections that are missing vectors. Requires
// a configured API key.
func (s *Service) BackfillEmbeddings(ctx context.Context, batchSize int) (int, error) {
	if s.embedder == nil {
		return 0, ErrNoEmbedder
	}
	return s.newSyncer().BackfillEmbeddings(ctx, batchSize)
}

// GetSyncStatus returns sync metadata per dataset.
func (s *Service) GetSyncStatus(ctx context.Context) (map[string]store.SyncMeta, error) {
	return s.backend.GetSyncStatus(ctx)
}

// IsSynced reports whether any dataset has been synced.
func (s *Service) IsSynced(ctx context.Context) bool {
	synced, err := s.backend.IsSynced(ctx)
	if err != nil {
		return false
	}
	return synced
}
