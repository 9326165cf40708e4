package provision

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyb3rDudu/docstack/internal/errs"
	"github.com/Cyb3rDudu/docstack/internal/indexstore"
	"github.com/Cyb3rDudu/docstack/internal/models"
	"github.com/Cyb3rDudu/docstack/internal/pipeline"
	"github.com/Cyb3rDudu/docstack/internal/runtime"
	"github.com/Cyb3rDudu/docstack/internal/storage"
)

type fakeIndex struct {
	indices   map[string]int
	createErr error
	deleteErr error
	stats     indexstore.Stats
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{indices: map[string]int{}}
}

func (f *fakeIndex) CreateIndex(_ context.Context, name string, dim int) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.indices[name] = dim
	return nil
}

func (f *fakeIndex) DeleteIndex(_ context.Context, name string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.indices, name)
	return nil
}

func (f *fakeIndex) IndexExists(_ context.Context, name string) (bool, error) {
	_, ok := f.indices[name]
	return ok, nil
}

func (f *fakeIndex) Stats(_ context.Context, name string) (*indexstore.Stats, error) {
	if _, ok := f.indices[name]; !ok {
		return nil, indexstore.ErrIndexNotFound
	}
	s := f.stats
	return &s, nil
}

func (f *fakeIndex) DeleteByField(context.Context, string, string, string) error { return nil }
func (f *fakeIndex) Healthy(context.Context) bool                               { return true }
func (f *fakeIndex) Close() error                                               { return nil }

type fakeRuntime struct {
	deployed  map[string]string
	deployErr map[string]error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{deployed: map[string]string{}, deployErr: map[string]error{}}
}

func (f *fakeRuntime) Deploy(_ context.Context, name, configText string) error {
	if err := f.deployErr[name]; err != nil {
		return err
	}
	f.deployed[name] = configText
	return nil
}

func (f *fakeRuntime) Undeploy(_ context.Context, name string) error {
	delete(f.deployed, name)
	return nil
}

func (f *fakeRuntime) ListDeployed(context.Context) ([]runtime.DeployedPipeline, error) {
	return nil, nil
}

func (f *fakeRuntime) RunIndexing(context.Context, string, []models.FileUpload) (*runtime.IndexResult, error) {
	return &runtime.IndexResult{}, nil
}

func (f *fakeRuntime) RunQuery(context.Context, string, string, int) (*runtime.QueryResult, error) {
	return &runtime.QueryResult{}, nil
}

func (f *fakeRuntime) Healthy(context.Context) bool { return true }

type testEnv struct {
	prov  *Provisioner
	db    storage.Storage
	index *fakeIndex
	rt    *fakeRuntime
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx := newFakeIndex()
	rt := newFakeRuntime()
	prov := NewProvisioner(db, idx, rt, pipeline.NewRenderer("http://localhost:9200"), "http://localhost:9200", nil)
	return &testEnv{prov: prov, db: db, index: idx, rt: rt}
}

func TestCreateStore(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	store, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "My Notes", Description: "personal"})
	require.NoError(t, err)
	assert.Equal(t, "my-notes", store.Slug)
	assert.Contains(t, store.IndexName, "docstack-my-notes-")

	// Index created with the model's dimension (bge-large default).
	dim, ok := env.index.indices[store.IndexName]
	require.True(t, ok)
	assert.Equal(t, 1024, dim)

	// Both pipelines deployed under the slug-derived names.
	assert.Contains(t, env.rt.deployed, "my-notes_indexing")
	assert.Contains(t, env.rt.deployed, "my-notes_query")

	// Metadata bundle persisted: store, active config, two active pipelines.
	got, err := env.db.GetActiveStoreBySlug(ctx, "my-notes")
	require.NoError(t, err)
	assert.Equal(t, store.ID, got.ID)

	cfg, err := env.db.GetActiveModelConfig(ctx, store.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.DefaultEmbedderModel, cfg.EmbedderModel)
	assert.Equal(t, 1024, cfg.EmbeddingDim)

	pipes, err := env.db.ListPipelines(ctx, store.ID)
	require.NoError(t, err)
	require.Len(t, pipes, 2)
	for _, p := range pipes {
		assert.True(t, p.IsActive)
		assert.True(t, p.Deployed)
		require.NotNil(t, p.DeployedAt)
	}
}

func TestCreateStoreSlugConflict(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "My Notes"})
	require.NoError(t, err)

	created := len(env.index.indices)
	_, err = env.prov.CreateStore(ctx, CreateStoreParams{Name: "My Notes"})
	assert.True(t, errs.IsKind(err, errs.KindConflict))

	// The conflict is detected before any side effect.
	assert.Len(t, env.index.indices, created)
	assert.Len(t, env.rt.deployed, 2)
}

func TestCreateStoreInvalidName(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: ""})
	assert.Error(t, err)
	_, err = env.prov.CreateStore(ctx, CreateStoreParams{Name: "!!!"})
	assert.Error(t, err)
	assert.Empty(t, env.index.indices)
}

func TestCreateStoreDeployFailureUnwinds(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	env.rt.deployErr["my-notes_query"] = fmt.Errorf("runtime rejected config")
	_, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "My Notes"})
	assert.True(t, errs.IsKind(err, errs.KindDeployment))

	// The index and the indexing pipeline were both rolled back.
	assert.Empty(t, env.index.indices)
	assert.Empty(t, env.rt.deployed)

	// Nothing was persisted.
	_, err = env.db.GetActiveStoreBySlug(ctx, "my-notes")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateStoreIndexFailure(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	env.index.createErr = fmt.Errorf("cluster unavailable")
	_, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "My Notes"})
	assert.True(t, errs.IsKind(err, errs.KindIndexStore))
	assert.Empty(t, env.rt.deployed)
}

// raceStorage hides the existing slug from the pre-check so the conflict
// surfaces from the transactional insert, as a concurrent create would.
type raceStorage struct {
	storage.Storage
}

func (r *raceStorage) GetActiveStoreBySlug(context.Context, string) (*models.Store, error) {
	return nil, storage.ErrNotFound
}

func TestCreateStoreConcurrentSlugRace(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "My Notes"})
	require.NoError(t, err)

	racy := NewProvisioner(&raceStorage{Storage: env.db}, env.index, env.rt,
		pipeline.NewRenderer("http://localhost:9200"), "http://localhost:9200", nil)
	// A later timestamp keeps the loser's index name distinct.
	racy.now = func() time.Time { return time.Now().Add(time.Hour) }

	_, err = racy.CreateStore(ctx, CreateStoreParams{Name: "My Notes"})
	assert.True(t, errs.IsKind(err, errs.KindConflict))

	// The loser's own index was compensated; the winner's index survives.
	assert.Len(t, env.index.indices, 1)

	// The winner's metadata is intact.
	got, err := env.db.GetActiveStoreBySlug(ctx, "my-notes")
	require.NoError(t, err)
	assert.Contains(t, env.index.indices, got.IndexName)
}

func TestCreateStoreCompensationFailureAttached(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	env.rt.deployErr["my-notes_indexing"] = fmt.Errorf("runtime rejected config")
	env.index.deleteErr = fmt.Errorf("delete timed out")

	_, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "My Notes"})
	require.Error(t, err)

	// The original deployment failure stays the cause; the compensation
	// failure travels with it.
	assert.True(t, errs.IsKind(err, errs.KindDeployment))
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	require.Len(t, typed.Compensation, 1)
	assert.Contains(t, err.Error(), "delete timed out")
}

func TestDeleteStore(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	store, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "My Notes"})
	require.NoError(t, err)

	require.NoError(t, env.prov.DeleteStore(ctx, store.ID))

	assert.Empty(t, env.index.indices)
	assert.Empty(t, env.rt.deployed)

	_, err = env.db.GetActiveStoreBySlug(ctx, "my-notes")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The row itself survives as inactive.
	got, err := env.db.GetStore(ctx, store.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// The slug is free again.
	again, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "My Notes"})
	require.NoError(t, err)
	assert.Equal(t, "my-notes", again.Slug)
}

func TestDeleteStoreIndexFailureAborts(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	store, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "My Notes"})
	require.NoError(t, err)

	env.index.deleteErr = fmt.Errorf("delete timed out")
	err = env.prov.DeleteStore(ctx, store.ID)
	assert.True(t, errs.IsKind(err, errs.KindIndexStore))

	// Metadata untouched, so a retry still finds the store.
	got, err := env.db.GetStore(ctx, store.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	env.index.deleteErr = nil
	require.NoError(t, env.prov.DeleteStore(ctx, store.ID))
}

func TestDeleteStoreNotFound(t *testing.T) {
	env := setup(t)
	err := env.prov.DeleteStore(context.Background(), "no-such-id")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestReindex(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	store, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "My Notes"})
	require.NoError(t, err)
	assert.NoError(t, env.prov.Reindex(ctx, store.ID))
	assert.True(t, errs.IsKind(env.prov.Reindex(ctx, "missing"), errs.KindNotFound))
}

func TestStatsRefreshesChunkCount(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	store, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "My Notes"})
	require.NoError(t, err)

	env.index.stats = indexstore.Stats{DocumentCount: 42, SizeBytes: 4096}
	stats, err := env.prov.Stats(ctx, store.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), stats.IndexedChunks)
	assert.Equal(t, int64(4096), stats.Index.SizeBytes)

	got, err := env.db.GetStore(ctx, store.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ChunkCount)
}

func TestProvisionerIndexNameUnique(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	calls := 0
	env.prov.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	a, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "Store A"})
	require.NoError(t, err)
	b, err := env.prov.CreateStore(ctx, CreateStoreParams{Name: "Store B"})
	require.NoError(t, err)
	assert.NotEqual(t, a.IndexName, b.IndexName)
}
