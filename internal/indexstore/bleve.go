package indexstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"
)

const dimMetaKey = "embedding_dim"

// LocalClient implements Client with embedded Bleve indices on disk, one
// directory per index under basePath. Bleve stores chunk text and the
// source_id reference; it carries the index lifecycle for single-node
// deployments where no OpenSearch cluster is available.
type LocalClient struct {
	basePath string
	logger   *zap.Logger

	mu      sync.Mutex
	handles map[string]bleve.Index
}

// NewLocalClient creates a local index store rooted at basePath.
func NewLocalClient(basePath string, logger *zap.Logger) (*LocalClient, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalClient{
		basePath: basePath,
		logger:   logger,
		handles:  make(map[string]bleve.Index),
	}, nil
}

func (c *LocalClient) indexPath(name string) string {
	return filepath.Join(c.basePath, name)
}

func indexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize, no stemming.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("source_id", keywordFieldMapping)
	im.DefaultMapping = docMapping
	return im
}

// open returns an open handle for name, opening or reusing as needed.
func (c *LocalClient) open(name string) (bleve.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.handles[name]; ok {
		return idx, nil
	}
	path := c.indexPath(name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIndexNotFound
		}
		return nil, err
	}
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", name, err)
	}
	c.handles[name] = idx
	return idx, nil
}

// CreateIndex creates an index directory; an existing index is success.
// The embedding dimension is recorded in the index's internal metadata.
func (c *LocalClient) CreateIndex(ctx context.Context, name string, dim int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	path := c.indexPath(name)
	if _, err := os.Stat(path); err == nil {
		c.logger.Warn("index already exists", zap.String("index", name))
		return nil
	}
	idx, err := bleve.New(path, indexMapping())
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	if err := idx.SetInternal([]byte(dimMetaKey), []byte(strconv.Itoa(dim))); err != nil {
		_ = idx.Close()
		_ = os.RemoveAll(path)
		return fmt.Errorf("failed to record index dimension: %w", err)
	}
	c.handles[name] = idx
	c.logger.Info("created index", zap.String("index", name), zap.Int("dim", dim))
	return nil
}

// DeleteIndex removes the index directory; a missing index is success.
func (c *LocalClient) DeleteIndex(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.handles[name]; ok {
		_ = idx.Close()
		delete(c.handles, name)
	}
	path := c.indexPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete index %s: %w", name, err)
	}
	c.logger.Info("deleted index", zap.String("index", name))
	return nil
}

// IndexExists checks whether the index directory is present.
func (c *LocalClient) IndexExists(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(c.indexPath(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stats returns document count and on-disk size for an index.
func (c *LocalClient) Stats(ctx context.Context, name string) (*Stats, error) {
	idx, err := c.open(name)
	if err != nil {
		return nil, err
	}
	count, err := idx.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count docs in %s: %w", name, err)
	}
	size, err := dirSizeBytes(c.indexPath(name))
	if err != nil {
		return nil, err
	}
	return &Stats{DocumentCount: int64(count), SizeBytes: size}, nil
}

// DeleteByField removes every entry whose field matches value. A missing
// index is treated as having nothing to delete.
func (c *LocalClient) DeleteByField(ctx context.Context, name, field, value string) error {
	idx, err := c.open(name)
	if err == ErrIndexNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	query := bleve.NewTermQuery(value)
	query.SetField(field)
	batch := idx.NewBatch()
	for {
		req := bleve.NewSearchRequestOptions(query, 500, 0, false)
		res, err := idx.Search(req)
		if err != nil {
			return fmt.Errorf("failed to search %s=%s in %s: %w", field, value, name, err)
		}
		if len(res.Hits) == 0 {
			break
		}
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete by %s=%s in %s: %w", field, value, name, err)
		}
		batch.Reset()
	}
	return nil
}

// Healthy reports whether the base path is accessible.
func (c *LocalClient) Healthy(ctx context.Context) bool {
	_, err := os.Stat(c.basePath)
	return err == nil
}

// Close closes all open index handles.
func (c *LocalClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for name, idx := range c.handles {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.handles, name)
	}
	return firstErr
}

func dirSizeBytes(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info != nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
