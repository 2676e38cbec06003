package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Uploaded documents with hash-based duplicate detection. Only the scrubbed
-- content is persisted; original text never touches disk.
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    filename TEXT NOT NULL,
    format TEXT NOT NULL,
    data_type TEXT NOT NULL,
    content_hash TEXT NOT NULL UNIQUE,
    status TEXT DEFAULT 'pending',
    scrubbed_content TEXT,
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One audit row per scrub run over a document.
CREATE TABLE IF NOT EXISTS scrub_audits (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    method TEXT NOT NULL,
    data_type TEXT NOT NULL,
    scrubbed INTEGER NOT NULL DEFAULT 0,
    entity_count INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    audit JSON NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Vector embeddings of scrubbed content via sqlite-vec.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_documents USING vec0(
    document_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_audits_document ON scrub_audits(document_id);
CREATE INDEX IF NOT EXISTS idx_audits_method ON scrub_audits(method);
`, embeddingDim)
}
