package store

import "fmt"

// sqliteSchema returns the DDL for the embedded backend. embeddingDim
// controls the vec0 virtual table dimension.
func sqliteSchema(embeddingDim int) string {
	return fmt.Sprintf(`
-- Laws and regulations, one row per dok_id
CREATE TABLE IF NOT EXISTS documents (
    dok_id TEXT PRIMARY KEY,
    ref_id TEXT,
    title TEXT,
    short_title TEXT,
    date_in_force TEXT,
    ministry TEXT,
    doc_type TEXT NOT NULL,
    is_amendment INTEGER DEFAULT 0,
    legal_area TEXT,
    based_on TEXT,
    is_current INTEGER DEFAULT 1,
    indexed_at TEXT
);

-- Leaf sections (paragrafer)
CREATE TABLE IF NOT EXISTS sections (
    id INTEGER PRIMARY KEY,
    dok_id TEXT NOT NULL REFERENCES documents(dok_id) ON DELETE CASCADE,
    section_id TEXT NOT NULL,
    title TEXT,
    content TEXT NOT NULL,
    address TEXT,
    char_count INTEGER DEFAULT 0,
    UNIQUE(dok_id, section_id)
);

-- Section-level lexical index, rebuilt wholesale once per dataset sync
CREATE VIRTUAL TABLE IF NOT EXISTS sections_fts USING fts5(
    dok_id,
    section_id,
    title,
    content,
    tokenize='unicode61'
);

-- Section embeddings via sqlite-vec, keyed by sections.id
CREATE VIRTUAL TABLE IF NOT EXISTS vec_sections USING vec0(
    section_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

-- One row per dataset sync
CREATE TABLE IF NOT EXISTS sync_meta (
    dataset TEXT PRIMARY KEY,
    last_modified TEXT,
    synced_at TEXT,
    file_count INTEGER DEFAULT 0
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_documents_short_title ON documents(short_title COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_documents_type_current ON documents(doc_type, is_current);
CREATE INDEX IF NOT EXISTS idx_sections_dok_section ON sections(dok_id, section_id);
`, embeddingDim)
}
