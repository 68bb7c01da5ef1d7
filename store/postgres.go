package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore is the networked Backend. It adds what the embedded
// store cannot do: trigram matching on short titles, persisted
// structure nodes and SQL-side hybrid scoring with ivfflat probes.
type PostgresStore struct {
	pool         *pgxpool.Pool
	embeddingDim int
}

var _ Backend = (*PostgresStore)(nil)

// NewPostgres connects to Postgres, ensures extensions and schema, and
// returns the store. The DSN is a pgx connection string or URL.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &PostgresStore{pool: pool, embeddingDim: EmbeddingDim}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema(s.embeddingDim))
	if err != nil && strings.Contains(err.Error(), "ivfflat") {
		// The approximate index can fail on a near-empty table; exact
		// scans still work, so carry on without it.
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Pool returns the underlying pool for advanced queries.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func scanPGDocument(row rowScanner) (*Document, error) {
	var d Document
	var refID, title, shortTitle, dateInForce, ministry, legalArea, basedOn sql.NullString
	var indexedAt sql.NullTime
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
	if indexedAt.Valid {
		d.IndexedAt = indexedAt.Time.UTC().Format(time.RFC3339)
	}
	return &d, nil
}

// --- Document lookup ---

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("empty document id: %w", ErrInvalidInput)
	}
	norm := NormalizeID(id)
	doc, err := scanPGDocument(s.pool.QueryRow(ctx, `
		SELECT `+docColumns+`
		FROM documents
		WHERE dok_id = $1 OR ref_id = $2 OR LOWER(short_title) = LOWER($2)
		ORDER BY is_current DESC, dok_id
		LIMIT 1
	`, norm, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", id, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *PostgresStore) FindDocument(ctx context.Context, freeText string) (*Document, error) {
	name := strings.TrimSpace(freeText)
	if name == "" {
		return nil, fmt.Errorf("empty document name: %w", ErrInvalidInput)
	}

	const tail = ` ORDER BY is_current DESC, dok_id LIMIT 1`
	tiers := []struct {
		where string
		arg   interface{}
		extra interface{}
	}{
		{`dok_id = $1 OR ref_id = $2`, NormalizeID(name), name},
		{`LOWER(short_title) = LOWER($1)`, name, nil},
		{`short_title ILIKE $1`, name + "%", nil},
		{`short_title ILIKE $1`, "%" + name + "%", nil},
		{`dok_id LIKE $1`, "%" + strings.ToLower(name) + "%", nil},
	}
	for _, tier := range tiers {
		args := []interface{}{tier.arg}
		if tier.extra != nil {
			args = append(args, tier.extra)
		}
		doc, err := scanPGDocument(s.pool.QueryRow(ctx,
			`SELECT `+docColumns+` FROM documents WHERE `+tier.where+tail, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
	return nil, fmt.Errorf("%q: %w", freeText, ErrDocumentNotFound)
}

// FindSimilar uses pg_trgm similarity on short titles.
func (s *PostgresStore) FindSimilar(ctx context.Context, freeText string, threshold float64) (*Document, float64, error) {
	name := strings.TrimSpace(freeText)
	if name == "" {
		return nil, 0, fmt.Errorf("empty document name: %w", ErrInvalidInput)
	}
	if threshold <= 0 {
		threshold = 0.4
	}

	var sim float64
	var d Document
	var refID, title, shortTitle, dateInForce, ministry, legalArea, basedOn sql.NullString
	var indexedAt sql.NullTime
	err := s.pool.QueryRow(ctx, `
		SELECT `+docColumns+`, similarity(short_title, $1) AS sim
		FROM documents
		WHERE short_title IS NOT NULL AND similarity(short_title, $1) >= $2
		ORDER BY sim DESC, is_current DESC, dok_id
		LIMIT 1
	`, name, threshold).Scan(&d.DokID, &refID, &title, &shortTitle, &dateInForce, &ministry,
		&d.DocType, &d.IsAmendment, &legalArea, &basedOn, &d.IsCurrent, &indexedAt, &sim)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, fmt.Errorf("%q: %w", freeText, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, 0, err
	}
	d.RefID = refID.String
	d.Title = title.String
	d.ShortTitle = shortTitle.String
	d.DateInForce = dateInForce.String
	d.Ministry = ministry.String
	d.LegalArea = legalArea.String
	d.BasedOn = basedOn.String
	if indexedAt.Valid {
		d.IndexedAt = indexedAt.Time.UTC().Format(time.RFC3339)
	}
	return &d, sim, nil
}

// --- Section lookup ---

func (s *PostgresStore) GetSection(ctx context.Context, dokID, sectionID string) (*Section, error) {
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
	err = s.pool.QueryRow(ctx, `
		SELECT dok_id, section_id, title, content, address, char_count
		FROM sections WHERE dok_id = $1 AND section_id = $2
	`, doc.DokID, secID).Scan(&sec.DokID, &sec.SectionID, &title, &sec.Content, &address, &sec.CharCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s § %s: %w", doc.DokID, secID, ErrSectionNotFound)
	}
	if err != nil {
		return nil, err
	}
	sec.Title = title.String
	sec.Address = address.String
	return &sec, nil
}

func (s *PostgresStore) GetSectionsBatch(ctx context.Context, dokID string, sectionIDs []string) ([]Section, error) {
	doc, err := s.GetDocument(ctx, dokID)
	if err != nil {
		return nil, err
	}
	if len(sectionIDs) == 0 {
		return nil, nil
	}

	normalized := make([]string, 0, len(sectionIDs))
	for _, id := range sectionIDs {
		normalized = append(normalized, NormalizeSectionID(id))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT dok_id, section_id, title, content, address, char_count
		FROM sections
		WHERE dok_id = $1 AND section_id = ANY($2)
	`, doc.DokID, normalized)
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

func (s *PostgresStore) GetSectionSize(ctx context.Context, dokID, sectionID string) (*SectionSize, error) {
	doc, err := s.GetDocument(ctx, dokID)
	if err != nil {
		return nil, err
	}
	secID := NormalizeSectionID(sectionID)

	var chars int
	err = s.pool.QueryRow(ctx,
		`SELECT char_count FROM sections WHERE dok_id = $1 AND section_id = $2`,
		doc.DokID, secID).Scan(&chars)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s § %s: %w", doc.DokID, secID, ErrSectionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &SectionSize{CharCount: chars, EstimatedTokens: EstimateTokens(chars)}, nil
}

func (s *PostgresStore) ListSections(ctx context.Context, dokID string) ([]SectionSummary, error) {
	doc, err := s.GetDocument(ctx, dokID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT section_id, title, char_count, address FROM sections WHERE dok_id = $1`, doc.DokID)
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

func (s *PostgresStore) ListStructures(ctx context.Context, dokID string) ([]StructureNode, error) {
	doc, err := s.GetDocument(ctx, dokID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT dok_id, structure_type, structure_id, title, address, position
		FROM structures WHERE dok_id = $1
		ORDER BY position
	`, doc.DokID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StructureNode
	for rows.Next() {
		var n StructureNode
		var title, address sql.NullString
		if err := rows.Scan(&n.DokID, &n.StructureType, &n.StructureID, &title, &address, &n.Position); err != nil {
			return nil, err
		}
		n.Title = title.String
		n.Address = address.String
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- Search ---

// tsQueryExpr builds a to_tsquery expression from free text. Same
// tokenizer as the embedded backend so both fall back identically;
// splitting on non-letters keeps tsquery operators inert and admits
// accented letters ("à jour", proper names).
func tsQueryExpr(query string, orMode bool) string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	sep := " & "
	if orMode {
		sep = " | "
	}
	return strings.Join(tokens, sep)
}

func pgFilterClauses(filters SearchFilters, args []interface{}) (string, []interface{}) {
	var sb strings.Builder
	if filters.ExcludeAmendments {
		sb.WriteString(" AND NOT d.is_amendment")
	}
	if filters.Ministry != "" {
		args = append(args, "%"+filters.Ministry+"%")
		fmt.Fprintf(&sb, " AND d.ministry ILIKE $%d", len(args))
	}
	if filters.DocType != "" {
		args = append(args, filters.DocType)
		fmt.Fprintf(&sb, " AND d.doc_type = $%d", len(args))
	}
	if filters.LegalArea != "" {
		args = append(args, "%"+filters.LegalArea+"%")
		fmt.Fprintf(&sb, " AND d.legal_area ILIKE $%d", len(args))
	}
	return sb.String(), args
}

const headlineOpts = `StartSel=<mark>, StopSel=</mark>, MaxWords=32, MinWords=8`

func (s *PostgresStore) searchFTSOnce(ctx context.Context, tsq string, limit int, filters SearchFilters, mode string) ([]SearchResult, error) {
	args := []interface{}{tsq}
	where, args := pgFilterClauses(filters, args)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT sec.dok_id, sec.section_id, COALESCE(sec.title, ''),
			ts_headline('norwegian', sec.content, to_tsquery('norwegian', $1), '%s'),
			ts_rank(sec.ts, to_tsquery('norwegian', $1), 32),
			d.short_title, d.doc_type, d.based_on, d.legal_area, d.is_current
		FROM sections sec
		JOIN documents d ON d.dok_id = sec.dok_id
		WHERE sec.ts @@ to_tsquery('norwegian', $1)%s
		ORDER BY ts_rank(sec.ts, to_tsquery('norwegian', $1), 32) DESC, sec.dok_id, sec.section_id
		LIMIT $%d
	`, headlineOpts, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var shortTitle, basedOn, legalArea sql.NullString
		if err := rows.Scan(&r.DokID, &r.SectionID, &r.Title, &r.Snippet, &r.Rank,
			&shortTitle, &r.DocType, &basedOn, &legalArea, &r.IsCurrent); err != nil {
			return nil, err
		}
		r.ShortTitle = shortTitle.String
		r.BasedOn = basedOn.String
		r.LegalArea = legalArea.String
		r.Combined = r.Rank
		r.SearchMode = mode
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PostgresStore) SearchFTS(ctx context.Context, query string, limit int, filters SearchFilters) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query: %w", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	tsq := tsQueryExpr(query, false)
	if tsq == "" {
		return nil, fmt.Errorf("query has no searchable terms: %w", ErrInvalidInput)
	}
	results, err := s.searchFTSOnce(ctx, tsq, limit, filters, "fts")
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	orTsq := tsQueryExpr(query, true)
	if orTsq == tsq {
		return nil, nil
	}
	return s.searchFTSOnce(ctx, orTsq, limit, filters, "or_fallback")
}

func (s *PostgresStore) SearchVector(ctx context.Context, embedding []float32, limit int, probes int) ([]SearchResult, error) {
	if len(embedding) != s.embeddingDim {
		return nil, fmt.Errorf("embedding has %d dims, want %d: %w", len(embedding), s.embeddingDim, ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}
	if probes <= 0 {
		probes = 10
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// SET LOCAL scopes the probe count to this transaction.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", probes)); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT sec.dok_id, sec.section_id, COALESCE(sec.title, ''),
			1 - (sec.embedding <=> $1) AS cos,
			d.short_title, d.doc_type, d.based_on, d.legal_area, d.is_current
		FROM sections sec
		JOIN documents d ON d.dok_id = sec.dok_id
		WHERE sec.embedding IS NOT NULL
		ORDER BY sec.embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var shortTitle, basedOn, legalArea sql.NullString
		if err := rows.Scan(&r.DokID, &r.SectionID, &r.Title, &r.Similarity,
			&shortTitle, &r.DocType, &basedOn, &legalArea, &r.IsCurrent); err != nil {
			return nil, err
		}
		r.ShortTitle = shortTitle.String
		r.BasedOn = basedOn.String
		r.LegalArea = legalArea.String
		r.Combined = r.Similarity
		r.SearchMode = "vector"
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, tx.Commit(ctx)
}

func (s *PostgresStore) SearchHybrid(ctx context.Context, query string, embedding []float32, limit int, filters SearchFilters, opts HybridOptions) ([]SearchResult, error) {
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
	probes := opts.Probes
	if probes <= 0 {
		probes = 10
	}

	// Without a query embedding hybrid degrades to lexical scoring.
	if len(embedding) != s.embeddingDim {
		results, err := s.SearchFTS(ctx, query, limit, filters)
		if err != nil {
			return nil, err
		}
		for i := range results {
			results[i].Similarity = 0
			results[i].Combined = CombineScores(results[i].Rank, -1, weight)
			if results[i].SearchMode != "or_fallback" {
				results[i].SearchMode = "hybrid"
			}
		}
		return results, nil
	}

	tsq := tsQueryExpr(query, false)
	if tsq == "" {
		return nil, fmt.Errorf("query has no searchable terms: %w", ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", probes)); err != nil {
		return nil, err
	}

	candidates := limit * 4
	args := []interface{}{tsq, pgvector.NewVector(embedding), candidates, weight}
	where, args := pgFilterClauses(filters, args)
	args = append(args, limit)

	rows, err := tx.Query(ctx, fmt.Sprintf(`
		WITH lexical AS (
			SELECT sec.id, ts_rank(sec.ts, to_tsquery('norwegian', $1), 32) AS rank
			FROM sections sec
			WHERE sec.ts @@ to_tsquery('norwegian', $1)
			ORDER BY rank DESC
			LIMIT $3
		),
		nearest AS (
			SELECT sec.id, 1 - (sec.embedding <=> $2) AS cos
			FROM sections sec
			WHERE sec.embedding IS NOT NULL
			ORDER BY sec.embedding <=> $2
			LIMIT $3
		)
		SELECT sec.dok_id, sec.section_id, COALESCE(sec.title, ''),
			ts_headline('norwegian', sec.content, to_tsquery('norwegian', $1), '%s'),
			COALESCE(l.rank, 0),
			COALESCE(n.cos, 0),
			$4 * COALESCE(l.rank, 0) + (1 - $4) * (1 + COALESCE(n.cos, -1)) / 2 AS combined,
			d.short_title, d.doc_type, d.based_on, d.legal_area, d.is_current
		FROM lexical l
		FULL OUTER JOIN nearest n ON n.id = l.id
		JOIN sections sec ON sec.id = COALESCE(l.id, n.id)
		JOIN documents d ON d.dok_id = sec.dok_id
		WHERE TRUE%s
		ORDER BY combined DESC, sec.dok_id, sec.section_id
		LIMIT $%d
	`, headlineOpts, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var shortTitle, basedOn, legalArea sql.NullString
		if err := rows.Scan(&r.DokID, &r.SectionID, &r.Title, &r.Snippet,
			&r.Rank, &r.Similarity, &r.Combined,
			&shortTitle, &r.DocType, &basedOn, &legalArea, &r.IsCurrent); err != nil {
			return nil, err
		}
		r.ShortTitle = shortTitle.String
		r.BasedOn = basedOn.String
		r.LegalArea = legalArea.String
		r.SearchMode = "hybrid"
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, tx.Commit(ctx)
}

func (s *PostgresStore) FindRelated(ctx context.Context, lovID string) ([]Document, error) {
	if strings.TrimSpace(lovID) == "" {
		return nil, fmt.Errorf("empty law id: %w", ErrInvalidInput)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+docColumns+`
		FROM documents
		WHERE doc_type = 'forskrift' AND based_on LIKE $1
		ORDER BY is_current DESC, dok_id
	`, "%"+NormalizeID(lovID)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanPGDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) ListMinistries(ctx context.Context) ([]string, error) {
	return s.listDistinct(ctx, "ministry")
}

func (s *PostgresStore) ListLegalAreas(ctx context.Context) ([]string, error) {
	return s.listDistinct(ctx, "legal_area")
}

func (s *PostgresStore) listDistinct(ctx context.Context, column string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
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

func (s *PostgresStore) UpsertDocument(ctx context.Context, doc Document, structures []StructureNode, sections []Section) error {
	if doc.DokID == "" || doc.DocType == "" {
		return fmt.Errorf("document missing dok_id or doc_type: %w", ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO documents (dok_id, ref_id, title, short_title, date_in_force,
			ministry, doc_type, is_amendment, legal_area, based_on, is_current, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, NOW())
		ON CONFLICT (dok_id) DO UPDATE SET
			ref_id = EXCLUDED.ref_id,
			title = EXCLUDED.title,
			short_title = EXCLUDED.short_title,
			date_in_force = EXCLUDED.date_in_force,
			ministry = EXCLUDED.ministry,
			doc_type = EXCLUDED.doc_type,
			is_amendment = EXCLUDED.is_amendment,
			legal_area = EXCLUDED.legal_area,
			based_on = EXCLUDED.based_on,
			is_current = TRUE,
			indexed_at = NOW()
	`, doc.DokID, doc.RefID, doc.Title, doc.ShortTitle, doc.DateInForce,
		doc.Ministry, doc.DocType, doc.IsAmendment, doc.LegalArea, doc.BasedOn); err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.DokID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM structures WHERE dok_id = $1`, doc.DokID); err != nil {
		return fmt.Errorf("clearing structures for %s: %w", doc.DokID, err)
	}
	for i, n := range structures {
		if _, err := tx.Exec(ctx, `
			INSERT INTO structures (dok_id, structure_type, structure_id, title, address, position)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (dok_id, structure_type, structure_id) DO NOTHING
		`, doc.DokID, n.StructureType, n.StructureID, n.Title, n.Address, i); err != nil {
			return fmt.Errorf("inserting structure %s %s %s: %w", doc.DokID, n.StructureType, n.StructureID, err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM sections WHERE dok_id = $1`, doc.DokID); err != nil {
		return fmt.Errorf("clearing sections for %s: %w", doc.DokID, err)
	}
	for _, sec := range sections {
		chars := sec.CharCount
		if chars == 0 {
			chars = len([]rune(sec.Content))
		}
		var emb interface{}
		if len(sec.Embedding) == s.embeddingDim {
			emb = pgvector.NewVector(sec.Embedding)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO sections (dok_id, section_id, title, content, address, char_count, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (dok_id, section_id) DO UPDATE SET
				title = EXCLUDED.title,
				content = EXCLUDED.content,
				address = EXCLUDED.address,
				char_count = EXCLUDED.char_count,
				embedding = EXCLUDED.embedding
		`, doc.DokID, NormalizeSectionID(sec.SectionID), sec.Title, sec.Content,
			sec.Address, chars, emb); err != nil {
			return fmt.Errorf("inserting section %s § %s: %w", doc.DokID, sec.SectionID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ReconcileCurrent(ctx context.Context, docType string, presentIDs []string) (int, error) {
	if docType == "" {
		return 0, fmt.Errorf("empty doc type: %w", ErrInvalidInput)
	}
	present := make([]string, 0, len(presentIDs))
	for _, id := range presentIDs {
		present = append(present, NormalizeID(id))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE documents SET is_current = FALSE
		WHERE doc_type = $1 AND is_current AND NOT (dok_id = ANY($2))
	`, docType, present)
	if err != nil {
		return 0, err
	}
	flipped := int(tag.RowsAffected())

	if _, err := tx.Exec(ctx, `
		UPDATE documents SET is_current = TRUE
		WHERE doc_type = $1 AND NOT is_current AND dok_id = ANY($2)
	`, docType, present); err != nil {
		return 0, err
	}
	return flipped, tx.Commit(ctx)
}

// RebuildFTS is a no-op here: the tsvector column is generated, so the
// lexical index tracks the sections table automatically.
func (s *PostgresStore) RebuildFTS(ctx context.Context) error {
	return nil
}

func (s *PostgresStore) CountDocuments(ctx context.Context, docType string) (int, error) {
	var n int
	var err error
	if docType == "" {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM documents WHERE doc_type = $1`, docType).Scan(&n)
	}
	return n, err
}

// --- Embeddings ---

func (s *PostgresStore) SectionsMissingEmbeddings(ctx context.Context, limit int) ([]Section, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT dok_id, section_id, COALESCE(title, ''), content, char_count
		FROM sections
		WHERE embedding IS NULL AND content != ''
		ORDER BY dok_id, section_id
		LIMIT $1
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

func (s *PostgresStore) UpdateEmbedding(ctx context.Context, dokID, sectionID string, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding has %d dims, want %d: %w", len(embedding), s.embeddingDim, ErrInvalidInput)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sections SET embedding = $3 WHERE dok_id = $1 AND section_id = $2
	`, NormalizeID(dokID), NormalizeSectionID(sectionID), pgvector.NewVector(embedding))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s § %s: %w", dokID, sectionID, ErrSectionNotFound)
	}
	return nil
}

// --- Sync bookkeeping ---

func (s *PostgresStore) GetSyncStatus(ctx context.Context) (map[string]SyncMeta, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT dataset, last_modified, synced_at, file_count FROM sync_meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]SyncMeta)
	for rows.Next() {
		var m SyncMeta
		var lastModified, syncedAt sql.NullTime
		if err := rows.Scan(&m.Dataset, &lastModified, &syncedAt, &m.FileCount); err != nil {
			return nil, err
		}
		if lastModified.Valid {
			m.LastModified = lastModified.Time.UTC()
		}
		if syncedAt.Valid {
			m.SyncedAt = syncedAt.Time.UTC()
		}
		out[m.Dataset] = m
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetSyncStatus(ctx context.Context, dataset string, remoteModified time.Time, fileCount int) error {
	if dataset == "" {
		return fmt.Errorf("empty dataset: %w", ErrInvalidInput)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_meta (dataset, last_modified, synced_at, file_count)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT (dataset) DO UPDATE SET
			last_modified = EXCLUDED.last_modified,
			synced_at = NOW(),
			file_count = EXCLUDED.file_count
	`, dataset, remoteModified.UTC(), fileCount)
	return err
}

func (s *PostgresStore) IsSynced(ctx context.Context) (bool, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sync_meta`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
