// Package indexstore provides vector search index provisioning clients:
// a remote OpenSearch implementation and an embedded local one.
package indexstore

import (
	"context"
	"errors"
)

// ErrIndexNotFound indicates the named index does not exist. Delete-style
// operations treat absence as success and never return it.
var ErrIndexNotFound = errors.New("index not found")

// Stats holds per-index statistics.
type Stats struct {
	DocumentCount int64 `json:"document_count"`
	SizeBytes     int64 `json:"size_bytes"`
	DeletedCount  int64 `json:"deleted_count"`
}

// Client manages vector-capable search indices.
type Client interface {
	// CreateIndex creates an index sized for embeddings of the given
	// dimensionality. Creating an index that already exists is not an error.
	CreateIndex(ctx context.Context, name string, dim int) error
	// DeleteIndex removes an index. Deleting an absent index succeeds.
	DeleteIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	// Stats returns index statistics, or ErrIndexNotFound.
	Stats(ctx context.Context, name string) (*Stats, error)
	// DeleteByField removes all entries whose field matches value,
	// e.g. every chunk of one source document. Absence is not an error.
	DeleteByField(ctx context.Context, name, field, value string) error
	// Healthy reports whether the backend is reachable and serving.
	Healthy(ctx context.Context) bool
	Close() error
}
