package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyb3rDudu/docstack/internal/config"
	"github.com/Cyb3rDudu/docstack/internal/indexstore"
	"github.com/Cyb3rDudu/docstack/internal/ingest"
	"github.com/Cyb3rDudu/docstack/internal/models"
	"github.com/Cyb3rDudu/docstack/internal/runtime"
	"github.com/Cyb3rDudu/docstack/internal/storage"
)

type inboxIndex struct{}

func (inboxIndex) CreateIndex(context.Context, string, int) error { return nil }
func (inboxIndex) DeleteIndex(context.Context, string) error      { return nil }
func (inboxIndex) IndexExists(context.Context, string) (bool, error) {
	return true, nil
}
func (inboxIndex) Stats(context.Context, string) (*indexstore.Stats, error) {
	return &indexstore.Stats{}, nil
}
func (inboxIndex) DeleteByField(context.Context, string, string, string) error { return nil }
func (inboxIndex) Healthy(context.Context) bool                                { return true }
func (inboxIndex) Close() error                                                { return nil }

type inboxRuntime struct{}

func (inboxRuntime) Deploy(context.Context, string, string) error { return nil }
func (inboxRuntime) Undeploy(context.Context, string) error       { return nil }
func (inboxRuntime) ListDeployed(context.Context) ([]runtime.DeployedPipeline, error) {
	return nil, nil
}
func (inboxRuntime) RunIndexing(_ context.Context, _ string, files []models.FileUpload) (*runtime.IndexResult, error) {
	return &runtime.IndexResult{DocumentsWritten: int64(len(files))}, nil
}
func (inboxRuntime) RunQuery(context.Context, string, string, int) (*runtime.QueryResult, error) {
	return &runtime.QueryResult{}, nil
}
func (inboxRuntime) Healthy(context.Context) bool { return true }

func TestInboxIngestsDroppedFiles(t *testing.T) {
	db, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	store := &models.Store{
		ID:        uuid.NewString(),
		Name:      "Inbox Store",
		Slug:      "inbox-store",
		IndexName: "docstack-inbox-store-1700000000",
	}
	cfg := &models.ModelConfig{
		ID:            uuid.NewString(),
		EmbedderModel: "BAAI/bge-base-en-v1.5",
		EmbeddingDim:  768,
		SplitBy:       models.ChunkBySentence,
		SplitLength:   40,
		SplitOverlap:  4,
	}
	require.NoError(t, db.CreateStoreBundle(ctx, store, cfg, nil))

	tracker := ingest.NewTracker(db, inboxIndex{}, inboxRuntime{}, nil)

	dir := t.TempDir()
	inbox := NewInbox(config.WatchConfig{
		Directories: []string{dir},
		StoreSlug:   "inbox-store",
	}, tracker, db, nil, WithDebounce(50*time.Millisecond))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, inbox.Start(runCtx))
	defer inbox.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dropped.txt"), []byte("inbox content"), 0644))

	ok := waitFor(t, 3*time.Second, func() bool {
		docs, err := db.ListDocuments(ctx, store.ID, 0, 10)
		return err == nil && len(docs) == 1
	})
	require.True(t, ok, "dropped file was never ingested")

	docs, err := db.ListDocuments(ctx, store.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "dropped.txt", docs[0].Filename)
	assert.Equal(t, "text/plain", docs[0].MimeType)
	assert.Equal(t, models.StatusCompleted, docs[0].Status)

	// Dropping the same content again is skipped, not failed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "copy.txt"), []byte("inbox content"), 0644))
	time.Sleep(300 * time.Millisecond)
	docs, err = db.ListDocuments(ctx, store.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestInboxMimeTypes(t *testing.T) {
	assert.Equal(t, "application/pdf", inboxMimeType("report.pdf"))
	assert.Equal(t,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		inboxMimeType("brief.docx"))
	assert.Equal(t, "text/plain", inboxMimeType("notes.md"))
	assert.Equal(t, "text/plain", inboxMimeType("notes.txt"))
}
