package store

import "time"

// EmbeddingDim is the dimension of section embeddings. Must match the
// embedding model's outputDimensionality.
const EmbeddingDim = 1536

// CharsPerToken is the estimated character/token ratio for Norwegian
// legal text, used everywhere token counts are derived from lengths.
const CharsPerToken = 3.5

// EstimateTokens returns the estimated token count for a character count.
func EstimateTokens(charCount int) int {
	return int(float64(charCount) / CharsPerToken)
}

// Document is one law or regulation from a Lovdata dump.
type Document struct {
	DokID       string `json:"dok_id"`      // canonical lowercase id, e.g. "lov/1992-07-03-93"
	RefID       string `json:"ref_id"`
	Title       string `json:"title"`
	ShortTitle  string `json:"short_title"`
	DateInForce string `json:"date_in_force,omitempty"`
	Ministry    string `json:"ministry,omitempty"` // "; "-delimited when several
	DocType     string `json:"doc_type"`           // "lov" or "forskrift"
	IsAmendment bool   `json:"is_amendment"`
	LegalArea   string `json:"legal_area,omitempty"`
	BasedOn     string `json:"based_on,omitempty"` // "; "-delimited references
	IsCurrent   bool   `json:"is_current"`
	IndexedAt   string `json:"indexed_at,omitempty"`
}

// StructureNode is a non-leaf grouping inside a document (del, kapittel,
// avsnitt, vedlegg). Persisted by the Postgres backend only.
type StructureNode struct {
	DokID         string `json:"dok_id"`
	StructureType string `json:"structure_type"`
	StructureID   string `json:"structure_id"`
	Title         string `json:"title"`
	Address       string `json:"address"` // path string, e.g. "/kapittel/1/"
	Position      int    `json:"position"`
}

// Section is a leaf regulatory unit (a paragraf).
type Section struct {
	DokID     string    `json:"dok_id"`
	SectionID string    `json:"section_id"` // e.g. "3-9", "14a"
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	Address   string    `json:"address,omitempty"`
	CharCount int       `json:"char_count"`
	Embedding []float32 `json:"-"`
}

// EstimatedTokens returns the token estimate for this section's content.
func (s Section) EstimatedTokens() int {
	return EstimateTokens(s.CharCount)
}

// SectionSummary is the metadata row returned by ListSections; content
// is deliberately omitted to keep overviews cheap.
type SectionSummary struct {
	SectionID       string `json:"section_id"`
	Title           string `json:"title,omitempty"`
	CharCount       int    `json:"char_count"`
	EstimatedTokens int    `json:"estimated_tokens"`
	Address         string `json:"address,omitempty"`
}

// SectionSize reports the size of a section without its content.
type SectionSize struct {
	CharCount       int `json:"char_count"`
	EstimatedTokens int `json:"estimated_tokens"`
}

// SearchResult is one ranked hit from SearchFTS or SearchHybrid.
type SearchResult struct {
	DokID      string  `json:"dok_id"`
	SectionID  string  `json:"section_id,omitempty"`
	Title      string  `json:"title,omitempty"`
	ShortTitle string  `json:"short_title,omitempty"`
	DocType    string  `json:"doc_type"`
	BasedOn    string  `json:"based_on,omitempty"`
	LegalArea  string  `json:"legal_area,omitempty"`
	IsCurrent  bool    `json:"is_current"`
	Snippet    string  `json:"snippet,omitempty"`
	Rank       float64 `json:"rank"`       // lexical rank, normalized to [0,1]
	Similarity float64 `json:"similarity"` // cosine similarity, 0 when lexical-only
	Combined   float64 `json:"combined_score"`
	SearchMode string  `json:"search_mode,omitempty"` // "fts", "hybrid", "or_fallback"
}

// SearchFilters narrows SearchFTS / SearchHybrid results.
type SearchFilters struct {
	ExcludeAmendments bool   // default true at the query-engine level
	Ministry          string // substring match
	DocType           string // exact "lov" or "forskrift"
	LegalArea         string // substring match
}

// HybridOptions tunes hybrid search.
type HybridOptions struct {
	FTSWeight float64 // weight of lexical rank in [0,1]; default 0.5
	Probes    int     // ANN probe count; default 10, ignored by SQLite
}

// SyncMeta records the outcome of the last successful sync per dataset.
type SyncMeta struct {
	Dataset      string    `json:"dataset"`
	LastModified time.Time `json:"last_modified"`
	SyncedAt     time.Time `json:"synced_at"`
	FileCount    int       `json:"file_count"`
}

// CombineScores computes the hybrid score from a normalized lexical rank
// and a raw cosine similarity. Cosine is mapped from [-1,1] to [0,1] so
// the combination stays in [0,1] and is monotonic in both inputs.
func CombineScores(ftsRank, cosine, ftsWeight float64) float64 {
	return ftsWeight*ftsRank + (1-ftsWeight)*(1+cosine)/2
}
