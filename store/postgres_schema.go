package store

import "fmt"

// postgresSchema returns idempotent DDL for the networked backend.
// The tsvector column is generated, so the lexical index never needs
// an explicit rebuild. The ivfflat index is guarded because creating
// it on an empty table fails on older pgvector releases.
func postgresSchema(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS documents (
    dok_id TEXT PRIMARY KEY,
    ref_id TEXT,
    title TEXT,
    short_title TEXT,
    date_in_force TEXT,
    ministry TEXT,
    doc_type TEXT NOT NULL,
    is_amendment BOOLEAN DEFAULT FALSE,
    legal_area TEXT,
    based_on TEXT,
    is_current BOOLEAN DEFAULT TRUE,
    indexed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS structures (
    id BIGSERIAL PRIMARY KEY,
    dok_id TEXT NOT NULL REFERENCES documents(dok_id) ON DELETE CASCADE,
    structure_type TEXT NOT NULL,
    structure_id TEXT NOT NULL,
    title TEXT,
    address TEXT,
    position INT NOT NULL DEFAULT 0,
    UNIQUE (dok_id, structure_type, structure_id)
);

CREATE TABLE IF NOT EXISTS sections (
    id BIGSERIAL PRIMARY KEY,
    dok_id TEXT NOT NULL REFERENCES documents(dok_id) ON DELETE CASCADE,
    section_id TEXT NOT NULL,
    title TEXT,
    content TEXT NOT NULL,
    address TEXT,
    char_count INT NOT NULL DEFAULT 0,
    embedding vector(%[1]d),
    ts tsvector GENERATED ALWAYS AS (
        to_tsvector('norwegian', coalesce(title, '') || ' ' || content)
    ) STORED,
    UNIQUE (dok_id, section_id)
);

CREATE TABLE IF NOT EXISTS sync_meta (
    dataset TEXT PRIMARY KEY,
    last_modified TIMESTAMPTZ,
    synced_at TIMESTAMPTZ,
    file_count INT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_documents_short_title_trgm
    ON documents USING gin (short_title gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_documents_type_current
    ON documents (doc_type, is_current);
CREATE INDEX IF NOT EXISTS idx_sections_dok ON sections (dok_id);
CREATE INDEX IF NOT EXISTS idx_sections_ts ON sections USING gin (ts);
CREATE INDEX IF NOT EXISTS idx_structures_dok ON structures (dok_id, position);

DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM pg_indexes
        WHERE schemaname = current_schema()
          AND indexname = 'idx_sections_embedding'
    ) THEN
        EXECUTE 'CREATE INDEX idx_sections_embedding ON sections USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);';
    END IF;
END
$$;
`, embeddingDim)
}
