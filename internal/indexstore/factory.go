package indexstore

import (
	"fmt"
	"time"

	"github.com/Cyb3rDudu/docstack/internal/config"
	"go.uber.org/zap"
)

// BackendType selects the index store implementation.
type BackendType string

const (
	// BackendLocal uses embedded Bleve indices on disk. Good for
	// single-node deployments and development.
	BackendLocal BackendType = "local"
	// BackendOpenSearch uses a remote OpenSearch cluster with knn_vector
	// mappings.
	BackendOpenSearch BackendType = "opensearch"
)

// NewClient creates an index store client for the configured backend.
// Supported types: "local" (default), "opensearch".
func NewClient(cfg config.IndexStoreConfig, logger *zap.Logger) (Client, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch BackendType(cfg.Type) {
	case BackendLocal, "":
		return NewLocalClient(cfg.LocalPath, logger)
	case BackendOpenSearch:
		return NewOpenSearchClient(cfg.URL, timeout, logger)
	default:
		return nil, fmt.Errorf("unknown index store type: %s (supported: local, opensearch)", cfg.Type)
	}
}
