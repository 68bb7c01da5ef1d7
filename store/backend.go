package store

import (
	"context"
	"time"
)

// Backend is the persistence contract shared by the embedded SQLite
// store and the networked Postgres store. Both return identical shapes;
// they differ only in which extended capabilities are populated
// (structures and trigram matching on Postgres, nothing else).
//
// Read methods are safe for concurrent use. Write methods are driven by
// the single-instance sync job only.
type Backend interface {
	// GetDocument returns the document matching a canonical dok_id,
	// ref_id, or exact short title (case-insensitive), preferring
	// is_current rows. Returns ErrDocumentNotFound when absent.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// FindDocument resolves free text to a document: exact id, exact
	// short title, short-title prefix, short-title substring, then
	// dok_id substring. Candidates order by is_current DESC, dok_id.
	FindDocument(ctx context.Context, freeText string) (*Document, error)

	// FindSimilar returns the best trigram match on short_title with
	// similarity >= threshold. Backends without trigram support return
	// ErrBackendUnavailable.
	FindSimilar(ctx context.Context, freeText string, threshold float64) (*Document, float64, error)

	// GetSection returns one section; sectionID is normalized by
	// stripping a leading section mark and collapsing whitespace.
	// Returns ErrSectionNotFound when the document exists but the
	// section does not, ErrDocumentNotFound when neither does.
	GetSection(ctx context.Context, dokID, sectionID string) (*Section, error)

	// GetSectionsBatch returns the found sections in requested order;
	// missing ids are silently dropped for the caller to reconcile.
	GetSectionsBatch(ctx context.Context, dokID string, sectionIDs []string) ([]Section, error)

	// GetSectionSize reports a section's size without loading content.
	GetSectionSize(ctx context.Context, dokID, sectionID string) (*SectionSize, error)

	// ListSections returns section summaries in natural section-id order.
	ListSections(ctx context.Context, dokID string) ([]SectionSummary, error)

	// ListStructures returns structure nodes in document order, or nil
	// on backends that do not persist structures.
	ListStructures(ctx context.Context, dokID string) ([]StructureNode, error)

	// SearchFTS runs lexical full-text search. When an AND query over
	// all tokens yields zero rows it retries as OR and marks results
	// with SearchMode "or_fallback".
	SearchFTS(ctx context.Context, query string, limit int, filters SearchFilters) ([]SearchResult, error)

	// SearchVector runs pure ANN search over section embeddings.
	SearchVector(ctx context.Context, embedding []float32, limit int, probes int) ([]SearchResult, error)

	// SearchHybrid combines lexical rank and cosine similarity:
	// combined = w*rank + (1-w)*(1+cos)/2. Sections without embeddings
	// participate with similarity 0 so hybrid degrades to lexical.
	SearchHybrid(ctx context.Context, query string, embedding []float32, limit int, filters SearchFilters, opts HybridOptions) ([]SearchResult, error)

	// FindRelated returns regulations whose based_on references lovID.
	FindRelated(ctx context.Context, lovID string) ([]Document, error)

	// ListMinistries returns distinct non-empty ministries, sorted.
	ListMinistries(ctx context.Context) ([]string, error)

	// ListLegalAreas returns distinct non-empty legal areas, sorted.
	ListLegalAreas(ctx context.Context) ([]string, error)

	// UpsertDocument atomically replaces a document together with its
	// structures and sections. Readers never observe a half-written mix.
	UpsertDocument(ctx context.Context, doc Document, structures []StructureNode, sections []Section) error

	// ReconcileCurrent sets is_current = (dok_id in presentIDs) for all
	// documents of docType, in one transaction. Returns the number of
	// documents flipped to non-current.
	ReconcileCurrent(ctx context.Context, docType string, presentIDs []string) (int, error)

	// RebuildFTS rebuilds the lexical index from the sections table.
	// Called once per dataset after reconciliation.
	RebuildFTS(ctx context.Context) error

	// CountDocuments returns the number of documents of docType.
	CountDocuments(ctx context.Context, docType string) (int, error)

	// SectionsMissingEmbeddings returns up to limit (dok_id, section_id,
	// content) triples whose embedding column is unset.
	SectionsMissingEmbeddings(ctx context.Context, limit int) ([]Section, error)

	// UpdateEmbedding writes an embedding for one section.
	UpdateEmbedding(ctx context.Context, dokID, sectionID string, embedding []float32) error

	// GetSyncStatus returns the sync metadata for every dataset.
	GetSyncStatus(ctx context.Context) (map[string]SyncMeta, error)

	// SetSyncStatus records a successful dataset sync.
	SetSyncStatus(ctx context.Context, dataset string, remoteModified time.Time, fileCount int) error

	// IsSynced reports whether any dataset has completed a sync.
	IsSynced(ctx context.Context) (bool, error)

	Close() error
}
