// Package metadata provides the durable relational store for documents,
// chunks, chunk metadata, and query logs.
//
// The store is backed by SQLite (pure-Go driver, WAL mode). Documents move
// through a staged lifecycle: rows are inserted with status "pending" and
// become visible to retrieval only after an explicit commit flip. This is
// one half of the dual-store protocol; the vector store holds the other
// half, and the alignment auditor reconciles the two after failures.
package metadata

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/corpusd/internal/metadata/migrations"
	"go.uber.org/zap"
)

// Document status values. Only committed documents are eligible for
// retrieval; pending rows exist solely inside the ingestion window.
const (
	StatusPending   = "pending"
	StatusCommitted = "committed"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates the underlying database failed.
	ErrUnavailable = errors.New("metadata store unavailable")
)

// Document is a document row.
type Document struct {
	ID          string
	Filename    string
	ContentType string
	CreatedAt   time.Time
	Status      string
}

// Chunk is a chunk row.
type Chunk struct {
	ID         string
	DocumentID string
	Content    string
	Position   int
}

// Entry is a single (chunk_id, key, value) metadata triple. Keys are not
// unique per chunk; the model is append-only annotation.
type Entry struct {
	ChunkID string
	Key     string
	Value   string
}

// QueryLog is a query log row.
type QueryLog struct {
	ID            int64
	QueryText     string
	Timestamp     time.Time
	ExecutionTime float64
}

// Store is the SQLite-backed metadata store.
//
// Store is safe for concurrent use; SQLite's WAL mode provides the row-level
// isolation the engine relies on.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewStore opens (or creates) the metadata database at the given path and
// runs pending migrations. An empty path defaults to
// ~/.config/corpusd/metadata.db.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "corpusd", "metadata.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them;
	// foreign_keys in particular is connection-local and the delete
	// paths depend on cascades.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("metadata store opened", zap.String("path", path))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations from the embedded filesystem.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}

		s.logger.Debug("applied migration", zap.String("file", name))
	}

	return nil
}

// InsertPending writes a document row plus all of its chunk rows and
// metadata triples in one transaction, tagged pending. The document is not
// visible to retrieval until CommitDocument flips its status.
func (s *Store) InsertPending(ctx context.Context, doc Document, chunks []Chunk, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (document_id, filename, content_type, created_at, status) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.ContentType, doc.CreatedAt.UTC(), StatusPending)
	if err != nil {
		return fmt.Errorf("inserting document %q: %w", doc.ID, err)
	}

	for _, c := range chunks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (chunk_id, document_id, content, position) VALUES (?, ?, ?, ?)`,
			c.ID, doc.ID, c.Content, c.Position)
		if err != nil {
			return fmt.Errorf("inserting chunk %q: %w", c.ID, err)
		}
	}

	for _, e := range entries {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunk_metadata (chunk_id, metadata_key, metadata_value) VALUES (?, ?, ?)`,
			e.ChunkID, e.Key, e.Value)
		if err != nil {
			return fmt.Errorf("inserting metadata for chunk %q: %w", e.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// CommitDocument flips a pending document to committed. This is the single
// externally visible transition point of ingestion.
func (s *Store) CommitDocument(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE document_id = ? AND status = ?`,
		StatusCommitted, documentID, StatusPending)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("committing document %q: %w", documentID, ErrNotFound)
	}
	return nil
}

// GetDocument returns a document row by id.
func (s *Store) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx,
		`SELECT document_id, filename, content_type, created_at, status FROM documents WHERE document_id = ?`,
		documentID).Scan(&doc.ID, &doc.Filename, &doc.ContentType, &doc.CreatedAt, &doc.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %q: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return doc, nil
}

// DocumentStatus returns the status of a document, or ErrNotFound.
func (s *Store) DocumentStatus(ctx context.Context, documentID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM documents WHERE document_id = ?`, documentID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("document %q: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return status, nil
}

// ListDocuments returns all documents ordered by creation time, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, filename, content_type, created_at, status FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.ContentType, &doc.CreatedAt, &doc.Status); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and, via cascading foreign keys, all of
// its chunks and chunk metadata in one transaction.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("document %q: %w", documentID, ErrNotFound)
	}
	return nil
}

// CommittedChunkIDs returns the ids of every chunk belonging to a committed
// document. This is the indexed listing the alignment auditor compares
// against the vector store.
func (s *Store) CommittedChunkIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id FROM chunks c
		JOIN documents d ON d.document_id = c.document_id
		WHERE d.status = ?
		ORDER BY c.chunk_id`, StatusCommitted)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChunksByIDs returns the committed chunks with the given ids, keyed by
// chunk id. Ids with no committed row are simply absent from the result;
// the caller decides how to treat the gap.
func (s *Store) ChunksByIDs(ctx context.Context, ids []string) (map[string]Chunk, error) {
	if len(ids) == 0 {
		return map[string]Chunk{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, StatusCommitted)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.chunk_id, c.document_id, c.content, c.position
		FROM chunks c
		JOIN documents d ON d.document_id = c.document_id
		WHERE c.chunk_id IN (%s) AND d.status = ?`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	chunks := make(map[string]Chunk, len(ids))
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Position); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks[c.ID] = c
	}
	return chunks, rows.Err()
}

// ChunksByDocument returns all chunks of a document ordered by position.
func (s *Store) ChunksByDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, document_id, content, position FROM chunks WHERE document_id = ? ORDER BY position`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Position); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// MetadataForChunk returns all metadata triples recorded for a chunk.
func (s *Store) MetadataForChunk(ctx context.Context, chunkID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, metadata_key, metadata_value FROM chunk_metadata WHERE chunk_id = ?`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ChunkID, &e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scanning metadata entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountChunks returns the number of chunk rows for a document.
func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = ?`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}
