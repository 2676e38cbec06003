// Package store persists scrubbed documents and their audit trail in SQLite.
// Only redacted content ever reaches the database; embeddings are computed
// over redacted text and stored in a sqlite-vec virtual table so the
// scrubbed corpus stays searchable.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Document statuses.
const (
	StatusPending  = "pending"
	StatusScrubbed = "scrubbed"
	StatusFailed   = "failed"
)

// Document represents a row in the documents table.
type Document struct {
	ID              int64  `json:"id"`
	Filename        string `json:"filename"`
	Format          string `json:"format"`
	DataType        string `json:"data_type"`
	ContentHash     string `json:"content_hash"`
	Status          string `json:"status"`
	ScrubbedContent string `json:"scrubbed_content,omitempty"`
	Metadata        string `json:"metadata,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// ScrubAudit represents a row in the scrub_audits table. Audit is the full
// audit record as JSON; the scalar columns exist for querying.
type ScrubAudit struct {
	ID               int64  `json:"id"`
	DocumentID       int64  `json:"document_id"`
	Method           string `json:"method"`
	DataType         string `json:"data_type"`
	Scrubbed         bool   `json:"scrubbed"`
	EntityCount      int    `json:"entity_count"`
	DurationMs       int64  `json:"duration_ms"`
	Audit            string `json:"audit"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	CreatedAt        string `json:"created_at"`
}

// SimilarDocument is one vector search hit over scrubbed content.
type SimilarDocument struct {
	DocumentID int64   `json:"document_id"`
	Filename   string  `json:"filename"`
	DataType   string  `json:"data_type"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Store wraps the SQLite database for all persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and initialises
// the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
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

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// HashContent returns the hex SHA-256 of raw content, used as the duplicate
// detection key. The hash is of the ORIGINAL content, computed before the
// original is discarded.
func HashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// --- Document operations ---

// UpsertDocument inserts or updates a document keyed on its content hash.
// Returns the document ID.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (filename, format, data_type, content_hash, status, scrubbed_content, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			filename = excluded.filename,
			format = excluded.format,
			data_type = excluded.data_type,
			status = excluded.status,
			scrubbed_content = excluded.scrubbed_content,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`, doc.Filename, doc.Format, doc.DataType, doc.ContentHash, doc.Status, doc.ScrubbedContent, doc.Metadata)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	// If UPSERT did an UPDATE, LastInsertId may not reflect the existing row.
	if id == 0 {
		row := s.db.QueryRowContext(ctx, "SELECT id FROM documents WHERE content_hash = ?", doc.ContentHash)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	doc := &Document{}
	var content, metadata sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, format, data_type, content_hash, status, scrubbed_content, metadata, created_at, updated_at
		FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.Filename, &doc.Format, &doc.DataType,
		&doc.ContentHash, &doc.Status, &content, &metadata,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.ScrubbedContent = content.String
	doc.Metadata = metadata.String
	return doc, nil
}

// GetDocumentByHash retrieves a document by its content hash, or nil when no
// such document exists.
func (s *Store) GetDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE content_hash = ?", hash).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetDocument(ctx, id)
}

// ListDocuments returns all documents ordered by creation time, newest
// first. Scrubbed content is omitted from listings.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, format, data_type, content_hash, status, metadata, created_at, updated_at
		FROM documents ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var metadata sql.NullString
		if err := rows.Scan(&d.ID, &d.Filename, &d.Format, &d.DataType,
			&d.ContentHash, &d.Status, &metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Metadata = metadata.String
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets the status of a document.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	return err
}

// DeleteDocument removes a document, its audits, and its embedding. The
// vec0 table has no foreign keys, so the embedding is removed explicitly.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_documents WHERE document_id = ?", id); err != nil {
			return fmt.Errorf("deleting embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM documents WHERE id = ?", id); err != nil {
			return fmt.Errorf("deleting document: %w", err)
		}
		return nil
	})
}

// --- Audit operations ---

// InsertAudit records one scrub run for a document.
func (s *Store) InsertAudit(ctx context.Context, a ScrubAudit) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scrub_audits (document_id, method, data_type, scrubbed, entity_count, duration_ms, audit, prompt_tokens, completion_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.DocumentID, a.Method, a.DataType, a.Scrubbed, a.EntityCount,
		a.DurationMs, a.Audit, a.PromptTokens, a.CompletionTokens)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAuditsByDocument returns all audits for a document, newest first.
func (s *Store) GetAuditsByDocument(ctx context.Context, docID int64) ([]ScrubAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, method, data_type, scrubbed, entity_count, duration_ms, audit, prompt_tokens, completion_tokens, created_at
		FROM scrub_audits WHERE document_id = ? ORDER BY created_at DESC, id DESC
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []ScrubAudit
	for rows.Next() {
		var a ScrubAudit
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.Method, &a.DataType,
			&a.Scrubbed, &a.EntityCount, &a.DurationMs, &a.Audit,
			&a.PromptTokens, &a.CompletionTokens, &a.CreatedAt); err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// --- Embedding operations ---

// InsertEmbedding stores the embedding of a document's scrubbed content.
func (s *Store) InsertEmbedding(ctx context.Context, docID int64, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension %d does not match store dimension %d",
			len(embedding), s.embeddingDim)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_documents (document_id, embedding) VALUES (?, ?)",
		docID, serializeFloat32(embedding))
	return err
}

// HasEmbedding reports whether a document has a stored embedding.
func (s *Store) HasEmbedding(ctx context.Context, docID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vec_documents WHERE document_id = ?", docID).Scan(&n)
	return n > 0, err
}

// VectorSearch performs a KNN search over scrubbed content, returning the
// top-k nearest documents.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]SimilarDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.document_id, v.distance, d.filename, d.data_type, d.scrubbed_content
		FROM vec_documents v
		JOIN documents d ON d.id = v.document_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SimilarDocument
	for rows.Next() {
		var r SimilarDocument
		var distance float64
		var content sql.NullString
		if err := rows.Scan(&r.DocumentID, &distance, &r.Filename, &r.DataType, &content); err != nil {
			return nil, err
		}
		r.Content = content.String
		// Convert distance to similarity score (1 - distance for cosine)
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Stats ---

// DBStats summarises table sizes.
type DBStats struct {
	Documents  int `json:"documents"`
	Audits     int `json:"audits"`
	Embeddings int `json:"embeddings"`
}

// Stats returns row counts for the main tables.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	for _, q := range []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM scrub_audits", &stats.Audits},
		{"SELECT COUNT(*) FROM vec_documents", &stats.Embeddings},
	} {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// --- Helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
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

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
