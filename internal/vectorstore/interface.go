// Package vectorstore provides vector collection management over pluggable
// storage engines.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrStoreUnavailable indicates the engine could not be reached.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrStoreRejected indicates the engine refused the operation.
	ErrStoreRejected = errors.New("vector store rejected operation")

	// ErrDimensionMismatch indicates a vector whose length does not match
	// the algorithm's declared dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the engine connection could not be established.
	ErrConnectionFailed = errors.New("failed to connect to vector engine")
)

// Engine is the capability interface over the underlying vector database.
//
// Implementations are transport-specific (Qdrant gRPC, embedded chromem) and
// must be safe for concurrent use. Collection creation must treat a
// concurrent "already exists" as success so idempotent ensure calls racing
// from multiple requests never fail.
type Engine interface {
	// ListCollections returns the names of all existing collections.
	ListCollections(ctx context.Context) ([]string, error)

	// CreateCollection creates a collection for vectors of the given
	// dimension using cosine similarity.
	CreateCollection(ctx context.Context, name string, dimension int) error

	// Upsert writes a record, replacing any prior record with the same ID.
	Upsert(ctx context.Context, collection string, rec Record) error

	// Retrieve returns the subset of ids that exist in the collection,
	// in the order given.
	Retrieve(ctx context.Context, collection string, ids []string) ([]string, error)

	// Scroll returns one page of record ids starting at cursor. An empty
	// cursor starts from the beginning; an empty next cursor means the
	// enumeration is exhausted.
	Scroll(ctx context.Context, collection, cursor string, limit int) (Page, error)

	// Search returns up to k records nearest to the query vector, ordered by
	// descending similarity. An absent or empty collection yields an empty
	// result, not an error.
	Search(ctx context.Context, collection string, vector []float32, k int) ([]ScoredRecord, error)

	// Close releases the engine connection.
	Close() error
}
