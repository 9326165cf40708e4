package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyb3rDudu/docstack/internal/errs"
	"github.com/Cyb3rDudu/docstack/internal/indexstore"
	"github.com/Cyb3rDudu/docstack/internal/models"
	"github.com/Cyb3rDudu/docstack/internal/runtime"
	"github.com/Cyb3rDudu/docstack/internal/storage"
)

type fakeIndex struct {
	purged [][3]string // index, field, value
	err    error
}

func (f *fakeIndex) CreateIndex(context.Context, string, int) error { return nil }
func (f *fakeIndex) DeleteIndex(context.Context, string) error      { return nil }
func (f *fakeIndex) IndexExists(context.Context, string) (bool, error) {
	return true, nil
}
func (f *fakeIndex) Stats(context.Context, string) (*indexstore.Stats, error) {
	return &indexstore.Stats{}, nil
}
func (f *fakeIndex) DeleteByField(_ context.Context, index, field, value string) error {
	if f.err != nil {
		return f.err
	}
	f.purged = append(f.purged, [3]string{index, field, value})
	return nil
}
func (f *fakeIndex) Healthy(context.Context) bool { return true }
func (f *fakeIndex) Close() error                 { return nil }

type fakeRuntime struct {
	indexed int
	written int64
	err     error
}

func (f *fakeRuntime) Deploy(context.Context, string, string) error { return nil }
func (f *fakeRuntime) Undeploy(context.Context, string) error       { return nil }
func (f *fakeRuntime) ListDeployed(context.Context) ([]runtime.DeployedPipeline, error) {
	return nil, nil
}
func (f *fakeRuntime) RunIndexing(_ context.Context, _ string, files []models.FileUpload) (*runtime.IndexResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.indexed += len(files)
	return &runtime.IndexResult{DocumentsWritten: f.written}, nil
}
func (f *fakeRuntime) RunQuery(context.Context, string, string, int) (*runtime.QueryResult, error) {
	return &runtime.QueryResult{}, nil
}
func (f *fakeRuntime) Healthy(context.Context) bool { return true }

type testEnv struct {
	tracker *Tracker
	db      storage.Storage
	index   *fakeIndex
	rt      *fakeRuntime
	store   *models.Store
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := &models.Store{
		ID:        uuid.NewString(),
		Name:      "Test Store",
		Slug:      "test-store",
		IndexName: "docstack-test-store-1700000000",
	}
	cfg := &models.ModelConfig{
		ID:            uuid.NewString(),
		EmbedderModel: "BAAI/bge-base-en-v1.5",
		EmbeddingDim:  768,
		SplitBy:       models.ChunkBySentence,
		SplitLength:   40,
		SplitOverlap:  4,
	}
	require.NoError(t, db.CreateStoreBundle(context.Background(), store, cfg, nil))

	idx := &fakeIndex{}
	rt := &fakeRuntime{written: 10}
	return &testEnv{
		tracker: NewTracker(db, idx, rt, nil),
		db:      db,
		index:   idx,
		rt:      rt,
		store:   store,
	}
}

func txtFile(name, content string) models.FileUpload {
	return models.FileUpload{Filename: name, MimeType: "text/plain", Content: []byte(content)}
}

func TestAllowedMimeType(t *testing.T) {
	assert.True(t, AllowedMimeType("application/pdf"))
	assert.True(t, AllowedMimeType("text/plain"))
	assert.True(t, AllowedMimeType("application/vnd.openxmlformats-officedocument.wordprocessingml.document"))
	assert.False(t, AllowedMimeType("image/png"))
	assert.False(t, AllowedMimeType("application/msword"))
	assert.False(t, AllowedMimeType(""))
}

func TestChecksum(t *testing.T) {
	// sha256 of the empty string
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Checksum(nil))
	assert.Equal(t, Checksum([]byte("hello")), Checksum([]byte("hello")))
	assert.NotEqual(t, Checksum([]byte("hello")), Checksum([]byte("world")))
}

func TestUpload(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	docs, err := env.tracker.Upload(ctx, env.store,
		[]models.FileUpload{txtFile("a.txt", "alpha"), txtFile("b.txt", "beta")}, "user-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, models.StatusCompleted, d.Status)
		require.NotNil(t, d.ProcessedAt)
		assert.NotEmpty(t, d.SourceID)
		assert.Len(t, d.Checksum, 64)
	}
	assert.Equal(t, 2, env.rt.indexed)

	got, err := env.db.GetStore(ctx, env.store.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.DocumentCount)
	assert.Equal(t, int64(10), got.ChunkCount)
	assert.Equal(t, int64(len("alpha")+len("beta")), got.TotalSizeBytes)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.tracker.Upload(ctx, env.store, []models.FileUpload{
		txtFile("a.txt", "alpha"),
		{Filename: "pic.png", MimeType: "image/png", Content: []byte{1, 2, 3}},
	}, "")
	assert.True(t, errs.IsKind(err, errs.KindUnsupportedType))

	// The allowed file in the same batch was not persisted either.
	docs, err := env.db.ListDocuments(ctx, env.store.ID, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, 0, env.rt.indexed)
}

func TestUploadRejectsDuplicateWithinBatch(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.tracker.Upload(ctx, env.store, []models.FileUpload{
		txtFile("a.txt", "same content"),
		txtFile("b.txt", "same content"),
	}, "")
	assert.True(t, errs.IsKind(err, errs.KindConflict))

	docs, err := env.db.ListDocuments(ctx, env.store.ID, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestUploadRejectsDuplicateOfExisting(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.tracker.Upload(ctx, env.store, []models.FileUpload{txtFile("a.txt", "alpha")}, "")
	require.NoError(t, err)

	// Same content under a different name is still a duplicate.
	_, err = env.tracker.Upload(ctx, env.store, []models.FileUpload{txtFile("renamed.txt", "alpha")}, "")
	assert.True(t, errs.IsKind(err, errs.KindConflict))

	docs, err := env.db.ListDocuments(ctx, env.store.ID, 0, 100)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestUploadRuntimeFailure(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	env.rt.err = fmt.Errorf("embedding model crashed")
	docs, err := env.tracker.Upload(ctx, env.store, []models.FileUpload{txtFile("a.txt", "alpha")}, "")
	assert.True(t, errs.IsKind(err, errs.KindRuntimeCall))
	require.Len(t, docs, 1)
	assert.Equal(t, models.StatusFailed, docs[0].Status)
	assert.Contains(t, docs[0].ProcessingError, "embedding model crashed")

	// The failure is recorded on the row.
	got, err := env.db.GetDocument(ctx, env.store.ID, docs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ProcessingError, "embedding model crashed")
	assert.Nil(t, got.ProcessedAt)

	// Counters only move on success.
	store, err := env.db.GetStore(ctx, env.store.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), store.DocumentCount)
	assert.Equal(t, int64(0), store.TotalSizeBytes)
}

func TestUploadEmptyBatch(t *testing.T) {
	env := setup(t)
	_, err := env.tracker.Upload(context.Background(), env.store, nil, "")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	docs, err := env.tracker.Upload(ctx, env.store, []models.FileUpload{txtFile("a.txt", "alpha")}, "")
	require.NoError(t, err)
	doc := docs[0]

	require.NoError(t, env.tracker.Delete(ctx, env.store.ID, doc.ID))

	// Chunks purged by source reference before the row went away.
	require.Len(t, env.index.purged, 1)
	assert.Equal(t, [3]string{env.store.IndexName, "source_id", doc.SourceID}, env.index.purged[0])

	_, err = env.tracker.Get(ctx, env.store.ID, doc.ID)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))

	// Counters shrink, floored at zero.
	store, err := env.db.GetStore(ctx, env.store.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), store.DocumentCount)
	assert.Equal(t, int64(0), store.TotalSizeBytes)

	// The checksum is free again.
	_, err = env.tracker.Upload(ctx, env.store, []models.FileUpload{txtFile("a.txt", "alpha")}, "")
	assert.NoError(t, err)
}

func TestDeletePurgeFailureKeepsRow(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	docs, err := env.tracker.Upload(ctx, env.store, []models.FileUpload{txtFile("a.txt", "alpha")}, "")
	require.NoError(t, err)

	env.index.err = fmt.Errorf("index unavailable")
	err = env.tracker.Delete(ctx, env.store.ID, docs[0].ID)
	assert.True(t, errs.IsKind(err, errs.KindIndexStore))

	// The row survives for a retry.
	_, err = env.tracker.Get(ctx, env.store.ID, docs[0].ID)
	assert.NoError(t, err)

	env.index.err = nil
	assert.NoError(t, env.tracker.Delete(ctx, env.store.ID, docs[0].ID))
}

func TestDeleteNotFound(t *testing.T) {
	env := setup(t)
	err := env.tracker.Delete(context.Background(), env.store.ID, uuid.NewString())
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestListPagination(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	var batch []models.FileUpload
	for i := 0; i < 5; i++ {
		batch = append(batch, txtFile(fmt.Sprintf("f%d.txt", i), fmt.Sprintf("content %d", i)))
	}
	_, err := env.tracker.Upload(ctx, env.store, batch, "")
	require.NoError(t, err)

	page, err := env.tracker.List(ctx, env.store.ID, 0, 3)
	require.NoError(t, err)
	assert.Len(t, page, 3)

	rest, err := env.tracker.List(ctx, env.store.ID, 3, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}
