package indexstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"go.uber.org/zap"
)

// OpenSearchClient implements Client against a remote OpenSearch cluster.
type OpenSearchClient struct {
	client  *opensearch.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenSearchClient connects to the cluster at url. timeout bounds each
// index operation; these are interactive calls, keep it short.
func NewOpenSearchClient(url string, timeout time.Duration, logger *zap.Logger) (*OpenSearchClient, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{url},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenSearch client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenSearchClient{client: client, timeout: timeout, logger: logger}, nil
}

// indexBody builds the knn_vector index definition for the given embedding dimension.
func indexBody(dim int) string {
	body := map[string]interface{}{
		"settings": map[string]interface{}{
			"index": map[string]interface{}{
				"knn":                      true,
				"knn.algo_param.ef_search": 512,
			},
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"content": map[string]interface{}{"type": "text"},
				"embedding": map[string]interface{}{
					"type":      "knn_vector",
					"dimension": dim,
					"method": map[string]interface{}{
						"name":       "hnsw",
						"space_type": "cosinesimil",
						"engine":     "nmslib",
						"parameters": map[string]interface{}{
							"ef_construction": 512,
							"m":               16,
						},
					},
				},
				"meta":      map[string]interface{}{"type": "object", "enabled": true},
				"source_id": map[string]interface{}{"type": "keyword"},
			},
		},
	}
	data, _ := json.Marshal(body)
	return string(data)
}

// CreateIndex creates a knn-enabled index. An already-existing index is treated as success.
func (c *OpenSearchClient) CreateIndex(ctx context.Context, name string, dim int) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := opensearchapi.IndicesCreateRequest{
		Index: name,
		Body:  strings.NewReader(indexBody(dim)),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			c.logger.Warn("index already exists", zap.String("index", name))
			return nil
		}
		return fmt.Errorf("failed to create index %s: %s", name, res.Status())
	}
	c.logger.Info("created index", zap.String("index", name), zap.Int("dim", dim))
	return nil
}

// DeleteIndex removes an index; a missing index is success.
func (c *OpenSearchClient) DeleteIndex(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := opensearchapi.IndicesDeleteRequest{Index: []string{name}}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to delete index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		c.logger.Warn("index already absent", zap.String("index", name))
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("failed to delete index %s: %s", name, res.Status())
	}
	c.logger.Info("deleted index", zap.String("index", name))
	return nil
}

// IndexExists checks whether the index exists.
func (c *OpenSearchClient) IndexExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := opensearchapi.IndicesExistsRequest{Index: []string{name}}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", name, err)
	}
	defer res.Body.Close()
	return res.StatusCode == 200, nil
}

// Stats returns document and size statistics for an index.
func (c *OpenSearchClient) Stats(ctx context.Context, name string) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := opensearchapi.IndicesStatsRequest{Index: []string{name}}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats for %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, ErrIndexNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("failed to get stats for %s: %s", name, res.Status())
	}

	var parsed struct {
		Indices map[string]struct {
			Total struct {
				Docs struct {
					Count   int64 `json:"count"`
					Deleted int64 `json:"deleted"`
				} `json:"docs"`
				Store struct {
					SizeInBytes int64 `json:"size_in_bytes"`
				} `json:"store"`
			} `json:"total"`
		} `json:"indices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse stats for %s: %w", name, err)
	}
	idx, ok := parsed.Indices[name]
	if !ok {
		return nil, ErrIndexNotFound
	}
	return &Stats{
		DocumentCount: idx.Total.Docs.Count,
		SizeBytes:     idx.Total.Store.SizeInBytes,
		DeletedCount:  idx.Total.Docs.Deleted,
	}, nil
}

// DeleteByField removes every entry whose field matches value.
func (c *OpenSearchClient) DeleteByField(ctx context.Context, name, field, value string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{field: value},
		},
	}
	data, _ := json.Marshal(query)
	req := opensearchapi.DeleteByQueryRequest{
		Index: []string{name},
		Body:  strings.NewReader(string(data)),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to delete by %s=%s in %s: %w", field, value, name, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("failed to delete by %s=%s in %s: %s", field, value, name, res.Status())
	}
	return nil
}

// Healthy reports whether the cluster status is green or yellow.
func (c *OpenSearchClient) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := opensearchapi.ClusterHealthRequest{}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	if res.IsError() {
		return false
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return false
	}
	return health.Status == "green" || health.Status == "yellow"
}

// Close is a no-op; the underlying transport needs no teardown.
func (c *OpenSearchClient) Close() error { return nil }
