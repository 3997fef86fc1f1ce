// Package vectorstore defines the interface for vector storage operations.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrConnectionFailed indicates the backing store could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrUnavailable indicates a store operation failed after retries.
	ErrUnavailable = errors.New("vector store unavailable")
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against naming rules.
// Rejects uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Point is a chunk embedding to be written to the vector store. The chunk id
// doubles as the point id so that upserts are idempotent and deletions can
// target exact chunks.
type Point struct {
	ChunkID    string
	DocumentID string
	Vector     []float32
}

// Hit is a single similarity search result. Score semantics depend on the
// backend's distance metric; higher is always more similar.
type Hit struct {
	ChunkID    string
	DocumentID string
	Score      float32
}

// Store is the interface for vector storage operations.
//
// Implementations hold one half of the dual-store state: embeddings keyed by
// chunk id. Callers embed text before writing; the store never talks to an
// embedding service itself. ListChunkIDs exists specifically so the alignment
// auditor can diff the store's id set against the metadata store's.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default, zero external services)
//   - QdrantStore: external Qdrant over gRPC
type Store interface {
	// EnsureCollection creates the configured collection if it does not
	// already exist. Safe to call repeatedly.
	EnsureCollection(ctx context.Context) error

	// Upsert writes the given points, overwriting any existing points with
	// the same chunk ids.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to k hits ordered by similarity, highest first.
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)

	// SearchByDocument is Search restricted to the points of one document.
	SearchByDocument(ctx context.Context, vector []float32, k int, documentID string) ([]Hit, error)

	// Delete removes points by chunk id. Missing ids are not an error.
	Delete(ctx context.Context, chunkIDs []string) error

	// DeleteByDocument removes every point belonging to a document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// ListChunkIDs returns the chunk ids of all stored points, sorted
	// ascending. This is the vector-side listing the alignment auditor
	// compares against committed metadata rows.
	ListChunkIDs(ctx context.Context) ([]string, error)

	// Count returns the number of stored points.
	Count(ctx context.Context) (int, error)

	// Close closes the vector store connection and releases resources.
	Close() error
}
