package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteStore is the embedded Backend. It keeps documents and sections
// in plain tables, the lexical index in an FTS5 virtual table and
// section embeddings in a sqlite-vec vec0 table. Trigram matching and
// persisted structures are not available here.
type SQLiteStore struct {
	db           *sql.DB
	embeddingDim int
}

var _ Backend = (*SQLiteStore)(nil)

// NewSQLite opens (or creates) the database at dbPath and initialises
// the schema including the FTS5 and vec0 virtual tables.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	var existing int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'documents'`,
	).Scan(&existing); err != nil {
		db.Close()
		return nil, fmt.Errorf("inspecting schema: %w", err)
	}

	if _, err := db.Exec(sqliteSchema(EmbeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db, embeddingDim: EmbeddingDim}

	if err := runSQLiteMigrations(context.Background(), db, existing == 0); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const docColumns = `dok_id, ref_id, title, short_title, date_in_force, ministry,
	doc_type, is_amendment, legal_area, based_on, is_current, indexed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	var refID, title, shortTitle, dateInForce, ministry, legalArea, basedOn, indexedAt sql.NullString
	err := row.Scan(&d.DokID, &refID, &title, &shortTitle, &dateInForce, &ministry,
		&d.DocType, &d.IsAmendment, &legalArea, &basedOn, &d.IsCurrent, &indexedAt)
	if err != nil {
		return nil, err
	}
	d.RefID = refID.String
	d.Title = title.String
	d.ShortTitle = shortTitle.String
	d.DateInForce = dateInForce.String
	d.Ministry = ministry.String
	d.LegalArea = legalArea.String
	d.BasedOn = basedOn.String
	d.IndexedAt = indexedAt.String
	return &d, nil
}

// --- Document lookup ---

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("empty document id: %w", ErrInvalidInput)
	}
	norm := NormalizeID(id)
	doc, err := scanDocument(s.db.QueryRowContext(ctx, `
		SELECT `+docColumns+`
		FROM documents
		WHERE dok_id = ? OR ref_id = ? OR short_title = ? COLLATE NOCASE
		ORDER BY is_current DESC, dok_id
		LIMIT 1
	`, norm, id, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%q: %w", id, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// FindDocument resolves free text against increasingly loose matches.
// Each tier prefers current documents and breaks ties on dok_id so
// repeated calls return the same row.
func (s *SQLiteStore) FindDocument(ctx context.Context, freeText string) (*Document, error) {
	name := strings.TrimSpace(freeText)
	if name == "" {
		return nil, fmt.Errorf("empty document name: %w", ErrInvalidInput)
	}

	const tail = ` ORDER BY is_current DESC, dok_id LIMIT 1`
	tiers := []struct {
		where string
		args  []interface{}
	}{
		{`dok_id = ? OR ref_id = ?`, []interface{}{NormalizeID(name), name}},
		{`short_title = ? COLLATE NOCASE`, []interface{}{name}},
		{`short_title LIKE ? COLLATE NOCASE`, []interface{}{name + "%"}},
		{`short_title LIKE ? COLLATE NOCASE`, []interface{}{"%" + name + "%"}},
		{`dok_id LIKE ?`, []interface{}{"%" + strings.ToLower(name) + "%"}},
	}
	for _, tier := range tiers {
		doc, err := scanDocument(s.db.QueryRowContext(ctx,
			`SELECT `+docColumns+` FROM documents WHERE `+tier.where+tail, tier.args...))
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
	return nil, fmt.Errorf("%q: %w", freeText, ErrDocumentNotFound)
}

// FindSimilar needs trigram support, which SQLite does not ship.
func (s *SQLiteStore) FindSimilar(ctx context.Context, freeText string, threshold float64) (*Document, float64, error) {
	return nil, 0, fmt.Errorf("trigram matching: %w", ErrBackendUnavailable)
}

// --- Section lookup ---

func (s *SQLiteStore) GetSection(ctx context.Context, dokID, sectionID string) (*Section, error) {
	doc, err := s.GetDocument(ctx, dokID)
	if err != nil {
		return nil, err
	}
	secID := NormalizeSectionID(sectionID)
	if secID == "" {
		return nil, fmt.Errorf("empty section id: %w", ErrInvalidInput)
	}

	var sec Section
	var title, address sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT dok_id, section_id, title, content, address, char_count
		FROM sections WHERE dok_id = ? AND section_id = ?
	`, doc.DokID, secID).Scan(&sec.DokID, &sec.SectionID, &title, &sec.Content, &address, &sec.CharCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s § %s: %w", doc.DokID, secID, ErrSectionNotFound)
	}
	if err != nil {
		return nil, err
	}
	sec.Title = title.String
	sec.Address = address.String
	return &sec, nil
}

func (s *SQLiteStore) GetSectionsBatch(ctx context.Context, dokID string, sectionIDs []string) ([]Section, error) {
	doc, err := s.GetDocument(ctx, dokID)
	if err != nil {
		return nil, err
	}
	if len(sectionIDs) == 0 {
		return nil, nil
	}

	normalized := make([]string, 0, len(sectionIDs))
	args := []interface{}{doc.DokID}
	for _, id := range sectionIDs {
		n := NormalizeSectionID(id)
		normalized = append(normalized, n)
		args = append(args, n)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT dok_id, section_id, title, content, address, char_count
		FROM sections
		WHERE dok_id = ? AND section_id IN (?`+repeatPlaceholders(len(normalized)-1)+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]Section, len(normalized))
	for rows.Next() {
		var sec Section
		var title, address sql.NullString
		if err := rows.Scan(&sec.DokID, &sec.SectionID, &title, &sec.Content, &address, &sec.CharCount); err != nil {
			return nil, err
		}
		sec.Title = title.String
		sec.Address = address.String
		found[sec.SectionID] = sec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Requested order, duplicates and misses dropped.
	out := make([]Section, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, id := range normalized {
		if sec, ok := found[id]; ok && !seen[id] {
			out = append(out, sec)
			seen[id] = true
		}
	}
	return out, nil
}

func (s *SQLiteStore) GetSectionSize(ctx context.Context, dokID, sectionID string) (*SectionSize, error) {
	doc, err := s.GetDocument(ctx, dokID)
	if err != nil {
		return nil, err
	}
	secID := NormalizeSectionID(sectionID)

	var chars int
	err = s.db.QueryRowContext(ctx,
		`SELECT char_count FROM sections WHERE dok_id = ? AND section_id = ?`,
		doc.DokID, secID).Scan(&chars)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s § %s: %w", doc.DokID, secID, ErrSectionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &SectionSize{CharCount: chars, EstimatedTokens: EstimateTokens(chars)}, nil
}

func (s *SQLiteStore) ListSections(ctx context.Context, dokID string) ([]SectionSummary, error) {
	doc, err := s.GetDocument(ctx, dokID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT section_id, title, char_count, address FROM sections WHERE dok_id = ?`, doc.DokID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SectionSummary
	for rows.Next() {
		var sum SectionSummary
		var title, address sql.NullString
		if err := rows.Scan(&sum.SectionID, &title, &sum.CharCount, &address); err != nil {
			return nil, err
		}
		sum.Title = title.String
		sum.Address = address.String
		sum.EstimatedTokens = EstimateTokens(sum.CharCount)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	SortSectionSummaries(out)
	return out, nil
}

// ListStructures returns nil: the embedded backend keeps sections only,
// so overviews fall back to the flat listing.
func (s *SQLiteStore) ListStructures(ctx context.Context, dokID string) ([]StructureNode, error) {
	return nil, nil
}

// --- Search ---

// ftsMatchExpr converts free text to an FTS5 MATCH expression. Tokens
// are quoted so operators and punctuation in user input stay inert.
func ftsMatchExpr(query string, orMode bool) string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		quoted = append(quoted, `"`+t+`"`)
	}
	sep := " AND "
	if orMode {
		sep = " OR "
	}
	return strings.Join(quoted, sep)
}

// normalizeRank maps an FTS5 bm25 rank (negative, lower = better) into
// [0,1) so it can be combined with cosine similarity.
func normalizeRank(rank float64) float64 {
	score := -rank
	if score < 0 {
		score = 0
	}
	return score / (1 + score)
}

func filterClauses(filters SearchFilters) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}
	if filters.ExcludeAmendments {
		sb.WriteString(" AND d.is_amendment = 0")
	}
	if filters.Ministry != "" {
		sb.WriteString(" AND d.ministry LIKE ?")
		args = append(args, "%"+filters.Ministry+"%")
	}
	if filters.DocType != "" {
		sb.WriteString(" AND d.doc_type = ?")
		args = append(args, filters.DocType)
	}
	if filters.LegalArea != "" {
		sb.WriteString(" AND d.legal_area LIKE ?")
		args = append(args, "%"+filters.LegalArea+"%")
	}
	return sb.String(), args
}

func (s *SQLiteStore) searchFTSOnce(ctx context.Context, match string, limit int, filters SearchFilters, mode string) ([]SearchResult, error) {
	where, filterArgs := filterClauses(filters)
	args := append([]interface{}{match}, filterArgs...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.dok_id, f.section_id, f.title,
			snippet(sections_fts, 3, '<mark>', '</mark>', '...', 32),
			f.rank,
			d.short_title, d.doc_type, d.based_on, d.legal_area, d.is_current
		FROM sections_fts f
		JOIN documents d ON d.dok_id = f.dok_id
		WHERE sections_fts MATCH ?`+where+`
		ORDER BY f.rank
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var rank float64
		var shortTitle, basedOn, legalArea sql.NullString
		if err := rows.Scan(&r.DokID, &r.SectionID, &r.Title, &r.Snippet, &rank,
			&shortTitle, &r.DocType, &basedOn, &legalArea, &r.IsCurrent); err != nil {
			return nil, err
		}
		r.ShortTitle = shortTitle.String
		r.BasedOn = basedOn.String
		r.LegalArea = legalArea.String
		r.Rank = normalizeRank(rank)
		r.Combined = r.Rank
		r.SearchMode = mode
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) SearchFTS(ctx context.Context, query string, limit int, filters SearchFilters) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query: %w", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	match := ftsMatchExpr(query, false)
	if match == "" {
		return nil, fmt.Errorf("query has no searchable terms: %w", ErrInvalidInput)
	}
	results, err := s.searchFTSOnce(ctx, match, limit, filters, "fts")
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	// All-terms matching found nothing: retry with any-term semantics
	// and tell the caller the results are looser.
	orMatch := ftsMatchExpr(query, true)
	if orMatch == match {
		return nil, nil
	}
	return s.searchFTSOnce(ctx, orMatch, limit, filters, "or_fallback")
}

func (s *SQLiteStore) SearchVector(ctx context.Context, embedding []float32, limit int, probes int) ([]SearchResult, error) {
	if len(embedding) != s.embeddingDim {
		return nil, fmt.Errorf("embedding has %d dims, want %d: %w", len(embedding), s.embeddingDim, ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}
	// probes is a Postgres ivfflat knob; vec0 scans exactly.

	rows, err := s.db.QueryContext(ctx, `
		SELECT sec.dok_id, sec.section_id, COALESCE(sec.title, ''), v.distance,
			d.short_title, d.doc_type, d.based_on, d.legal_area, d.is_current
		FROM vec_sections v
		JOIN sections sec ON sec.id = v.section_id
		JOIN documents d ON d.dok_id = sec.dok_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(embedding), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var distance float64
		var shortTitle, basedOn, legalArea sql.NullString
		if err := rows.Scan(&r.DokID, &r.SectionID, &r.Title, &distance,
			&shortTitle, &r.DocType, &basedOn, &legalArea, &r.IsCurrent); err != nil {
			return nil, err
		}
		r.ShortTitle = shortTitle.String
		r.BasedOn = basedOn.String
		r.LegalArea = legalArea.String
		// vec0 cosine distance is 1 - cos.
		r.Similarity = 1 - distance
		r.Combined = r.Similarity
		r.SearchMode = "vector"
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) SearchHybrid(ctx context.Context, query string, embedding []float32, limit int, filters SearchFilters, opts HybridOptions) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query: %w", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}
	weight := opts.FTSWeight
	if weight <= 0 || weight > 1 {
		weight = 0.5
	}

	candidates := limit * 4
	lexical, err := s.SearchFTS(ctx, query, candidates, filters)
	if err != nil {
		return nil, err
	}

	// embedded tracks vector-hit membership separately from the score:
	// a cosine of exactly 0 is a real similarity, not a missing vector.
	type key struct{ dokID, sectionID string }
	type hit struct {
		r        SearchResult
		embedded bool
	}
	merged := make(map[key]hit, len(lexical))
	for _, r := range lexical {
		merged[key{r.DokID, r.SectionID}] = hit{r: r}
	}

	if len(embedding) == s.embeddingDim {
		vector, err := s.SearchVector(ctx, embedding, candidates, opts.Probes)
		if err != nil {
			return nil, err
		}
		for _, v := range vector {
			k := key{v.DokID, v.SectionID}
			if h, ok := merged[k]; ok {
				h.r.Similarity = v.Similarity
				h.embedded = true
				merged[k] = h
			} else if !filtersExclude(filters, v) {
				v.Rank = 0
				merged[k] = hit{r: v, embedded: true}
			}
		}
	}

	results := make([]SearchResult, 0, len(merged))
	for _, h := range merged {
		r := h.r
		// SearchVector reports raw cosine; missing vectors enter as -1
		// so the vector term is zero, same as the COALESCE on postgres.
		cos := r.Similarity
		if !h.embedded {
			cos = -1
		}
		r.Combined = CombineScores(r.Rank, cos, weight)
		if r.SearchMode != "or_fallback" {
			r.SearchMode = "hybrid"
		}
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Combined != results[j].Combined {
			return results[i].Combined > results[j].Combined
		}
		if results[i].DokID != results[j].DokID {
			return results[i].DokID < results[j].DokID
		}
		return results[i].SectionID < results[j].SectionID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// filtersExclude re-applies document filters to vector hits, which the
// ANN query cannot pre-filter.
func filtersExclude(filters SearchFilters, r SearchResult) bool {
	if filters.DocType != "" && r.DocType != filters.DocType {
		return true
	}
	if filters.LegalArea != "" && !strings.Contains(strings.ToLower(r.LegalArea), strings.ToLower(filters.LegalArea)) {
		return true
	}
	return false
}

func (s *SQLiteStore) FindRelated(ctx context.Context, lovID string) ([]Document, error) {
	if strings.TrimSpace(lovID) == "" {
		return nil, fmt.Errorf("empty law id: %w", ErrInvalidInput)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+docColumns+`
		FROM documents
		WHERE doc_type = 'forskrift' AND based_on LIKE ?
		ORDER BY is_current DESC, dok_id
	`, "%"+NormalizeID(lovID)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) ListMinistries(ctx context.Context) ([]string, error) {
	return s.listDistinct(ctx, "ministry")
}

func (s *SQLiteStore) ListLegalAreas(ctx context.Context) ([]string, error) {
	return s.listDistinct(ctx, "legal_area")
}

func (s *SQLiteStore) listDistinct(ctx context.Context, column string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT `+column+` FROM documents
		WHERE `+column+` IS NOT NULL AND `+column+` != ''
		ORDER BY `+column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- Ingestion ---

func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc Document, structures []StructureNode, sections []Section) error {
	if doc.DokID == "" || doc.DocType == "" {
		return fmt.Errorf("document missing dok_id or doc_type: %w", ErrInvalidInput)
	}
	// structures are accepted for interface parity but not persisted.
	_ = structures

	now := time.Now().UTC().Format(time.RFC3339)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (dok_id, ref_id, title, short_title, date_in_force,
				ministry, doc_type, is_amendment, legal_area, based_on, is_current, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT(dok_id) DO UPDATE SET
				ref_id = excluded.ref_id,
				title = excluded.title,
				short_title = excluded.short_title,
				date_in_force = excluded.date_in_force,
				ministry = excluded.ministry,
				doc_type = excluded.doc_type,
				is_amendment = excluded.is_amendment,
				legal_area = excluded.legal_area,
				based_on = excluded.based_on,
				is_current = 1,
				indexed_at = excluded.indexed_at
		`, doc.DokID, doc.RefID, doc.Title, doc.ShortTitle, doc.DateInForce,
			doc.Ministry, doc.DocType, doc.IsAmendment, doc.LegalArea, doc.BasedOn, now)
		if err != nil {
			return fmt.Errorf("upserting document %s: %w", doc.DokID, err)
		}

		// Replace sections wholesale. Embeddings keyed by section rowid
		// go first so no orphaned vectors survive the delete.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_sections
			WHERE section_id IN (SELECT id FROM sections WHERE dok_id = ?)
		`, doc.DokID); err != nil {
			return fmt.Errorf("clearing embeddings for %s: %w", doc.DokID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE dok_id = ?`, doc.DokID); err != nil {
			return fmt.Errorf("clearing sections for %s: %w", doc.DokID, err)
		}

		for _, sec := range sections {
			chars := sec.CharCount
			if chars == 0 {
				chars = utf8.RuneCountInString(sec.Content)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO sections (dok_id, section_id, title, content, address, char_count)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(dok_id, section_id) DO UPDATE SET
					title = excluded.title,
					content = excluded.content,
					address = excluded.address,
					char_count = excluded.char_count
			`, doc.DokID, NormalizeSectionID(sec.SectionID), sec.Title, sec.Content, sec.Address, chars)
			if err != nil {
				return fmt.Errorf("inserting section %s § %s: %w", doc.DokID, sec.SectionID, err)
			}
			if len(sec.Embedding) == s.embeddingDim {
				rowID, err := res.LastInsertId()
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT OR REPLACE INTO vec_sections (section_id, embedding) VALUES (?, ?)`,
					rowID, serializeFloat32(sec.Embedding)); err != nil {
					return fmt.Errorf("inserting embedding %s § %s: %w", doc.DokID, sec.SectionID, err)
				}
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ReconcileCurrent(ctx context.Context, docType string, presentIDs []string) (int, error) {
	if docType == "" {
		return 0, fmt.Errorf("empty doc type: %w", ErrInvalidInput)
	}

	var flipped int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Temp table keeps us clear of the bound-parameter limit on
		// large datasets; it is connection-local and the tx pins one.
		if _, err := tx.ExecContext(ctx,
			`CREATE TEMP TABLE IF NOT EXISTS present_ids (dok_id TEXT PRIMARY KEY)`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM present_ids`); err != nil {
			return err
		}
		const batch = 500
		for i := 0; i < len(presentIDs); i += batch {
			end := i + batch
			if end > len(presentIDs) {
				end = len(presentIDs)
			}
			chunk := presentIDs[i:end]
			args := make([]interface{}, len(chunk))
			for j, id := range chunk {
				args[j] = NormalizeID(id)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO present_ids (dok_id) VALUES (?)`+
					strings.Repeat(", (?)", len(chunk)-1), args...); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE documents SET is_current = 0
			WHERE doc_type = ? AND is_current = 1
			  AND dok_id NOT IN (SELECT dok_id FROM present_ids)
		`, docType)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		flipped = int(n)

		// Resurrect documents that reappeared in the dump.
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents SET is_current = 1
			WHERE doc_type = ? AND is_current = 0
			  AND dok_id IN (SELECT dok_id FROM present_ids)
		`, docType); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DROP TABLE present_ids`)
		return err
	})
	if err != nil {
		return 0, err
	}
	return flipped, nil
}

// RebuildFTS repopulates the lexical index from the sections table in
// one transaction, so concurrent readers see either index generation.
func (s *SQLiteStore) RebuildFTS(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sections_fts`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sections_fts (dok_id, section_id, title, content)
			SELECT dok_id, section_id, COALESCE(title, ''), content
			FROM sections WHERE content != ''
		`)
		return err
	})
}

func (s *SQLiteStore) CountDocuments(ctx context.Context, docType string) (int, error) {
	var n int
	var err error
	if docType == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM documents WHERE doc_type = ?`, docType).Scan(&n)
	}
	return n, err
}

// --- Embeddings ---

func (s *SQLiteStore) SectionsMissingEmbeddings(ctx context.Context, limit int) ([]Section, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sec.dok_id, sec.section_id, COALESCE(sec.title, ''), sec.content, sec.char_count
		FROM sections sec
		LEFT JOIN vec_sections v ON v.section_id = sec.id
		WHERE v.section_id IS NULL AND sec.content != ''
		ORDER BY sec.dok_id, sec.section_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Section
	for rows.Next() {
		var sec Section
		if err := rows.Scan(&sec.DokID, &sec.SectionID, &sec.Title, &sec.Content, &sec.CharCount); err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateEmbedding(ctx context.Context, dokID, sectionID string, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding has %d dims, want %d: %w", len(embedding), s.embeddingDim, ErrInvalidInput)
	}
	var rowID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sections WHERE dok_id = ? AND section_id = ?`,
		NormalizeID(dokID), NormalizeSectionID(sectionID)).Scan(&rowID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s § %s: %w", dokID, sectionID, ErrSectionNotFound)
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vec_sections (section_id, embedding) VALUES (?, ?)`,
		rowID, serializeFloat32(embedding))
	return err
}

// --- Sync bookkeeping ---

func (s *SQLiteStore) GetSyncStatus(ctx context.Context) (map[string]SyncMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dataset, last_modified, synced_at, file_count FROM sync_meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]SyncMeta)
	for rows.Next() {
		var m SyncMeta
		var lastModified, syncedAt sql.NullString
		if err := rows.Scan(&m.Dataset, &lastModified, &syncedAt, &m.FileCount); err != nil {
			return nil, err
		}
		if lastModified.Valid {
			m.LastModified, _ = time.Parse(time.RFC3339, lastModified.String)
		}
		if syncedAt.Valid {
			m.SyncedAt, _ = time.Parse(time.RFC3339, syncedAt.String)
		}
		out[m.Dataset] = m
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetSyncStatus(ctx context.Context, dataset string, remoteModified time.Time, fileCount int) error {
	if dataset == "" {
		return fmt.Errorf("empty dataset: %w", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_meta (dataset, last_modified, synced_at, file_count)
		VALUES (?, ?, ?, ?)
	`, dataset, remoteModified.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339), fileCount)
	return err
}

func (s *SQLiteStore) IsSynced(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_meta`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Internals ---

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	return strings.Repeat(", ?", n)
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
