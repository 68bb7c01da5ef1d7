package paragraf

import (
	"context"
	"sort"
	"strings"

	"github.com/paragraf/paragraf/shape"
	"github.com/paragraf/paragraf/store"
)

// SearchOptions narrows a search. The zero value means: default limit,
// amendments excluded, no filters.
type SearchOptions struct {
	Limit             int
	IncludeAmendments bool
	Ministry          string
	DocType           string
	LegalArea         string
}

// typographicReplacer folds dash and quote variants that word
// processors produce into their plain ASCII forms before matching.
var typographicReplacer = strings.NewReplacer(
	"–", "-", "—", "-",
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
)

// Search runs full-text search over the cached corpus, upgraded to
// hybrid lexical+semantic search when an embedding client is
// configured. Before any data is synced it falls back to matching the
// alias table.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) string {
	if strings.TrimSpace(query) == "" {
		return "**Feil:** Søkestreng kan ikke være tom. Oppgi ett eller flere søkeord."
	}

	query = typographicReplacer.Replace(strings.TrimSpace(query))
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}

	s.logger.Info("search", "query", query, "limit", limit)

	if s.IsSynced(ctx) {
		filters := store.SearchFilters{
			ExcludeAmendments: !opts.IncludeAmendments,
			Ministry:          opts.Ministry,
			DocType:           opts.DocType,
			LegalArea:         opts.LegalArea,
		}
		results, err := s.searchBackend(ctx, query, limit, filters)
		if err != nil {
			s.logger.Warn("search failed, falling back to alias matching", "error", err)
		} else if len(results) > 0 {
			return shape.SearchResults(query, results)
		}
	}

	return shape.AliasResults(query, s.aliasSearch(query, limit))
}

// searchBackend prefers hybrid search; an embedding failure silently
// degrades to lexical-only so search keeps working without the API.
func (s *Service) searchBackend(ctx context.Context, query string, limit int, filters store.SearchFilters) ([]store.SearchResult, error) {
	if s.embedder != nil {
		embedding, err := s.embedder.EmbedQuery(ctx, query)
		if err == nil {
			return s.backend.SearchHybrid(ctx, query, embedding, limit, filters,
				store.HybridOptions{FTSWeight: s.cfg.FTSWeight, Probes: s.cfg.Probes})
		}
		s.logger.Warn("query embedding failed, using lexical search", "error", err)
	}
	return s.backend.SearchFTS(ctx, query, limit, filters)
}

// aliasSearch matches the query against the alias table and the known
// law names, deduplicated by id.
func (s *Service) aliasSearch(query string, limit int) []shape.AliasHit {
	queryLower := strings.ToLower(query)

	aliases := make([]string, 0, len(lovAliases))
	for alias := range lovAliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	var hits []shape.AliasHit
	seen := make(map[string]bool)
	for _, alias := range aliases {
		if len(hits) >= limit {
			break
		}
		id := lovAliases[alias]
		name := lawName(id)
		if !strings.Contains(alias, queryLower) && !strings.Contains(strings.ToLower(name), queryLower) {
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		hits = append(hits, shape.AliasHit{ID: id, Name: name, URL: shape.LovdataURL(id, "")})
	}
	return hits
}
