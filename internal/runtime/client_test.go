package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Cyb3rDudu/docstack/internal/config"
	"github.com/Cyb3rDudu/docstack/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *HTTPClient {
	return NewHTTPClient(config.RuntimeConfig{
		URL:                  url,
		DeployTimeoutSeconds: 5,
		IndexTimeoutSeconds:  5,
		QueryTimeoutSeconds:  5,
	}, nil)
}

func TestDeploy(t *testing.T) {
	var gotName, gotConfig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/deploy", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotName = body["name"]
		gotConfig = body["config"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Deploy(context.Background(), "my-notes_indexing", "components: {}")
	require.NoError(t, err)
	assert.Equal(t, "my-notes_indexing", gotName)
	assert.Equal(t, "components: {}", gotConfig)
}

func TestDeploy_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad pipeline", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Deploy(context.Background(), "p", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad pipeline")
}

func TestUndeploy_AbsentIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, newTestClient(srv.URL).Undeploy(context.Background(), "gone"))
}

func TestListDeployed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"pipelines": []map[string]string{{"name": "a_indexing"}, {"name": "a_query"}},
		})
	}))
	defer srv.Close()

	list, err := newTestClient(srv.URL).ListDeployed(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a_indexing", list[0].Name)
}

func TestRunIndexing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/my-notes_indexing/run", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Len(t, r.MultipartForm.File["files"], 2)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"writer": map[string]interface{}{"documents_written": 7},
			},
		})
	}))
	defer srv.Close()

	files := []models.FileUpload{
		{Filename: "a.txt", MimeType: "text/plain", Content: []byte("alpha")},
		{Filename: "b.txt", MimeType: "text/plain", Content: []byte("beta")},
	}
	res, err := newTestClient(srv.URL).RunIndexing(context.Background(), "my-notes", files)
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.DocumentsWritten)
}

func TestRunIndexing_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := newTestClient(srv.URL).RunIndexing(context.Background(), "s", []models.FileUpload{
		{Filename: "a.txt", Content: []byte("x")},
	})
	assert.Error(t, err)
}

func TestRunQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/my-notes_query/run", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "what is a saga", body["query"])
		assert.Equal(t, float64(5), body["top_k"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"retriever": map[string]interface{}{
					"documents": []map[string]interface{}{
						{"content": "a saga is...", "score": 0.91},
					},
				},
			},
		})
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).RunQuery(context.Background(), "my-notes", "what is a saga", 5)
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.InDelta(t, 0.91, res.Documents[0].Score, 1e-9)
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.True(t, newTestClient(srv.URL).Healthy(context.Background()))
	srv.Close()
	assert.False(t, newTestClient(srv.URL).Healthy(context.Background()))
}
