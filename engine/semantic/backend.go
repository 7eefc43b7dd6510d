// Package semantic owns vector storage. A Backend stores embeddings in named
// collections; a Collection wraps one of them with the embedder so callers
// deal in section ids, text and metadata.
package semantic

import "context"

// Backend is a vector store holding many named collections.
type Backend interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, name string, dims int) error
	Upsert(ctx context.Context, name string, records []VectorRecord) error
	// Search returns up to topK hits ordered by descending score. A missing
	// collection is reported with domain.ErrCollectionNotFound.
	Search(ctx context.Context, name string, embedding []float32, topK int) ([]SearchResult, error)
	Count(ctx context.Context, name string) (int, error)
	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error
	Close() error
}

// Embedder maps text to a fixed-size vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
