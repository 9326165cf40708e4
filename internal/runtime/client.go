// Package runtime provides the client for the remote pipeline execution
// runtime that hosts deployed indexing and query pipelines.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/Cyb3rDudu/docstack/internal/config"
	"github.com/Cyb3rDudu/docstack/internal/models"
	"go.uber.org/zap"
)

// DeployedPipeline is one pipeline currently served by the runtime.
type DeployedPipeline struct {
	Name string `json:"name"`
}

// IndexResult is the runtime's response to an indexing run.
type IndexResult struct {
	DocumentsWritten int64 `json:"documents_written"`
}

// QueryDocument is one retrieved chunk.
type QueryDocument struct {
	Content string                 `json:"content"`
	Score   float64                `json:"score"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// QueryResult is the runtime's response to a query run.
type QueryResult struct {
	Documents []QueryDocument `json:"documents"`
}

// Client defines operations against the pipeline runtime.
type Client interface {
	// Deploy registers a pipeline configuration under name.
	Deploy(ctx context.Context, name, configText string) error
	// Undeploy removes a deployed pipeline; an unknown name is success.
	Undeploy(ctx context.Context, name string) error
	ListDeployed(ctx context.Context) ([]DeployedPipeline, error)
	// RunIndexing submits a file batch to the store's indexing pipeline.
	// This is a long-running call, bounded by the index timeout.
	RunIndexing(ctx context.Context, storeSlug string, files []models.FileUpload) (*IndexResult, error)
	// RunQuery runs the store's query pipeline.
	RunQuery(ctx context.Context, storeSlug, queryText string, topK int) (*QueryResult, error)
	Healthy(ctx context.Context) bool
}

// HTTPClient implements Client over the runtime's HTTP API.
type HTTPClient struct {
	baseURL       string
	http          *http.Client
	deployTimeout time.Duration
	indexTimeout  time.Duration
	queryTimeout  time.Duration
	logger        *zap.Logger
}

// NewHTTPClient creates a runtime client for the given configuration.
func NewHTTPClient(cfg config.RuntimeConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:       strings.TrimSuffix(cfg.URL, "/"),
		http:          &http.Client{},
		deployTimeout: time.Duration(cfg.DeployTimeoutSeconds) * time.Second,
		indexTimeout:  time.Duration(cfg.IndexTimeoutSeconds) * time.Second,
		queryTimeout:  time.Duration(cfg.QueryTimeoutSeconds) * time.Second,
		logger:        logger,
	}
}

func (c *HTTPClient) postJSON(ctx context.Context, url string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// Deploy registers a pipeline configuration under name.
func (c *HTTPClient) Deploy(ctx context.Context, name, configText string) error {
	ctx, cancel := context.WithTimeout(ctx, c.deployTimeout)
	defer cancel()

	res, err := c.postJSON(ctx, c.baseURL+"/deploy", map[string]string{
		"name":   name,
		"config": configText,
	})
	if err != nil {
		return fmt.Errorf("failed to deploy pipeline %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to deploy pipeline %s: %s: %s", name, res.Status, strings.TrimSpace(string(body)))
	}
	c.logger.Info("deployed pipeline", zap.String("pipeline", name))
	return nil
}

// Undeploy removes a deployed pipeline; an unknown name is success.
func (c *HTTPClient) Undeploy(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, c.deployTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/undeploy/"+name, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to undeploy pipeline %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		c.logger.Warn("pipeline already absent", zap.String("pipeline", name))
		return nil
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("failed to undeploy pipeline %s: %s", name, res.Status)
	}
	c.logger.Info("undeployed pipeline", zap.String("pipeline", name))
	return nil
}

// ListDeployed returns the pipelines currently served by the runtime.
func (c *HTTPClient) ListDeployed(ctx context.Context) ([]DeployedPipeline, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployed pipelines: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to list deployed pipelines: %s", res.Status)
	}
	var parsed struct {
		Pipelines []DeployedPipeline `json:"pipelines"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline list: %w", err)
	}
	return parsed.Pipelines, nil
}

// RunIndexing submits a file batch to the store's indexing pipeline as
// multipart form data.
func (c *HTTPClient) RunIndexing(ctx context.Context, storeSlug string, files []models.FileUpload) (*IndexResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.indexTimeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed to build upload: %w", err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, fmt.Errorf("failed to build upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/run", c.baseURL, models.RuntimeName(storeSlug, models.PipelineIndexing))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexing call for %s failed: %w", storeSlug, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("indexing call for %s failed: %s: %s", storeSlug, res.Status, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Result struct {
			Writer IndexResult `json:"writer"`
		} `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse indexing response: %w", err)
	}
	return &parsed.Result.Writer, nil
}

// RunQuery runs the store's query pipeline.
func (c *HTTPClient) RunQuery(ctx context.Context, storeSlug, queryText string, topK int) (*QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s/run", c.baseURL, models.RuntimeName(storeSlug, models.PipelineQuery))
	res, err := c.postJSON(ctx, url, map[string]interface{}{
		"query": queryText,
		"top_k": topK,
	})
	if err != nil {
		return nil, fmt.Errorf("query call for %s failed: %w", storeSlug, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("query call for %s failed: %s", storeSlug, res.Status)
	}

	var parsed struct {
		Result struct {
			Retriever QueryResult `json:"retriever"`
		} `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse query response: %w", err)
	}
	return &parsed.Result.Retriever, nil
}

// Healthy reports whether the runtime's status endpoint answers.
func (c *HTTPClient) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	res, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK
}
