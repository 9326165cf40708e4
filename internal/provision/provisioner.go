package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cyb3rDudu/docstack/internal/errs"
	"github.com/Cyb3rDudu/docstack/internal/indexstore"
	"github.com/Cyb3rDudu/docstack/internal/models"
	"github.com/Cyb3rDudu/docstack/internal/pipeline"
	"github.com/Cyb3rDudu/docstack/internal/runtime"
	"github.com/Cyb3rDudu/docstack/internal/storage"
)

// CreateStoreParams carries the user-supplied part of a new store. Model
// configuration fields fall back to the defaults when left zero.
type CreateStoreParams struct {
	Name        string
	Description string
	CreatedBy   string

	EmbedderModel string
	SplitBy       models.ChunkStrategy
	SplitLength   int
	SplitOverlap  int
}

func (p *CreateStoreParams) applyDefaults() {
	if p.EmbedderModel == "" {
		p.EmbedderModel = pipeline.DefaultEmbedderModel
	}
	if p.SplitBy == "" {
		p.SplitBy = models.ChunkBySentence
	}
	if p.SplitLength == 0 {
		p.SplitLength = pipeline.DefaultSplitLength
		if p.SplitOverlap == 0 {
			p.SplitOverlap = pipeline.DefaultSplitOverlap
		}
	}
}

// StoreStats combines the metadata counters with live index statistics.
type StoreStats struct {
	Store         *models.Store    `json:"store"`
	Index         indexstore.Stats `json:"index"`
	IndexedChunks int64            `json:"indexed_chunks"`
}

// Provisioner creates and deletes stores. Creation touches three systems
// (index store, runtime, metadata database); a failure at any point unwinds
// the earlier side effects so no half-provisioned store survives.
type Provisioner struct {
	store         storage.Storage
	index         indexstore.Client
	runtime       runtime.Client
	renderer      *pipeline.Renderer
	indexStoreURL string
	logger        *zap.Logger

	// now is swappable for deterministic index names in tests.
	now func() time.Time
}

// NewProvisioner wires a provisioner.
func NewProvisioner(store storage.Storage, index indexstore.Client, rt runtime.Client, renderer *pipeline.Renderer, indexStoreURL string, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		store:         store,
		index:         index,
		runtime:       rt,
		renderer:      renderer,
		indexStoreURL: indexStoreURL,
		logger:        logger,
		now:           time.Now,
	}
}

// CreateStore provisions a store end to end: search index, deployed
// indexing and query pipelines, and the metadata bundle. On failure every
// completed step is compensated in reverse and the original cause is
// returned, with any compensation failures attached.
func (p *Provisioner) CreateStore(ctx context.Context, params CreateStoreParams) (*models.Store, error) {
	if params.Name == "" {
		return nil, errs.New(errs.KindRender, "store name is required")
	}
	params.applyDefaults()

	slug := Slugify(params.Name)
	if slug == "" {
		return nil, errs.New(errs.KindRender, "store name %q yields an empty slug", params.Name)
	}
	if _, err := p.store.GetActiveStoreBySlug(ctx, slug); err == nil {
		return nil, errs.New(errs.KindConflict, "store slug %q already in use", slug)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to check slug %q", slug)
	}

	dim := pipeline.DimensionOf(params.EmbedderModel)
	indexName := fmt.Sprintf("docstack-%s-%d", slug, p.now().Unix())

	renderParams := &pipeline.RenderParams{
		Slug:          slug,
		IndexName:     indexName,
		IndexStoreURL: p.indexStoreURL,
		EmbedderModel: params.EmbedderModel,
		SplitBy:       params.SplitBy,
		SplitLength:   params.SplitLength,
		SplitOverlap:  params.SplitOverlap,
	}
	indexingYAML, err := p.renderer.RenderIndexing(renderParams)
	if err != nil {
		return nil, errs.Wrap(errs.KindRender, err, "failed to render indexing pipeline")
	}
	queryYAML, err := p.renderer.RenderQuery(renderParams)
	if err != nil {
		return nil, errs.Wrap(errs.KindRender, err, "failed to render query pipeline")
	}

	now := p.now().UTC()
	store := &models.Store{
		ID:          uuid.NewString(),
		Name:        params.Name,
		Slug:        slug,
		Description: params.Description,
		IndexName:   indexName,
		IsActive:    true,
		CreatedBy:   params.CreatedBy,
	}
	cfg := &models.ModelConfig{
		ID:            uuid.NewString(),
		StoreID:       store.ID,
		EmbedderModel: params.EmbedderModel,
		EmbeddingDim:  dim,
		SplitBy:       params.SplitBy,
		SplitLength:   params.SplitLength,
		SplitOverlap:  params.SplitOverlap,
		IsActive:      true,
	}
	pipelines := []*models.PipelineRecord{
		{
			ID: uuid.NewString(), StoreID: store.ID,
			Name: models.RuntimeName(slug, models.PipelineIndexing), Type: models.PipelineIndexing,
			Content: indexingYAML, Version: 1, IsActive: true,
			Deployed: true, DeployedAt: &now, CreatedBy: params.CreatedBy,
		},
		{
			ID: uuid.NewString(), StoreID: store.ID,
			Name: models.RuntimeName(slug, models.PipelineQuery), Type: models.PipelineQuery,
			Content: queryYAML, Version: 1, IsActive: true,
			Deployed: true, DeployedAt: &now, CreatedBy: params.CreatedBy,
		},
	}

	sg := newSaga(p.logger.With(zap.String("store_slug", slug)))
	sg.add("create search index",
		func(ctx context.Context) error {
			if err := p.index.CreateIndex(ctx, indexName, dim); err != nil {
				return errs.Wrap(errs.KindIndexStore, err, "failed to create index %s", indexName)
			}
			return nil
		},
		func(ctx context.Context) error { return p.index.DeleteIndex(ctx, indexName) },
	)
	for _, rec := range pipelines {
		rec := rec
		sg.add("deploy "+rec.Name,
			func(ctx context.Context) error {
				if err := p.runtime.Deploy(ctx, rec.Name, rec.Content); err != nil {
					return errs.Wrap(errs.KindDeployment, err, "failed to deploy %s", rec.Name)
				}
				return nil
			},
			func(ctx context.Context) error { return p.runtime.Undeploy(ctx, rec.Name) },
		)
	}
	sg.add("persist metadata",
		func(ctx context.Context) error {
			if err := p.store.CreateStoreBundle(ctx, store, cfg, pipelines); err != nil {
				if errors.Is(err, storage.ErrDuplicate) {
					return errs.Wrap(errs.KindConflict, err, "store slug %q already in use", slug)
				}
				return errs.Wrap(errs.KindPersistence, err, "failed to persist store")
			}
			return nil
		},
		nil,
	)

	if err := sg.execute(ctx); err != nil {
		return nil, err
	}
	p.logger.Info("store provisioned",
		zap.String("store_id", store.ID),
		zap.String("slug", slug),
		zap.String("index", indexName))
	return store, nil
}

// DeleteStore tears a store down: pipelines are undeployed best-effort, the
// search index must delete cleanly, and only then is the metadata row
// soft-deleted. The slug becomes reusable afterwards.
func (p *Provisioner) DeleteStore(ctx context.Context, id string) error {
	store, err := p.getStore(ctx, id)
	if err != nil {
		return err
	}

	for _, typ := range []models.PipelineType{models.PipelineIndexing, models.PipelineQuery} {
		name := models.RuntimeName(store.Slug, typ)
		if err := p.runtime.Undeploy(ctx, name); err != nil {
			p.logger.Warn("undeploy failed, continuing teardown",
				zap.String("pipeline", name),
				zap.Error(err))
		}
	}

	// DeleteIndex is idempotent; a missing index is a success. Any other
	// failure aborts before the metadata row is touched, so a retry still
	// sees the store.
	if err := p.index.DeleteIndex(ctx, store.IndexName); err != nil {
		return errs.Wrap(errs.KindIndexStore, err, "failed to delete index %s", store.IndexName)
	}

	if err := p.store.DeactivateStore(ctx, id); err != nil {
		return errs.Wrap(errs.KindPersistence, err, "failed to deactivate store")
	}
	p.logger.Info("store deleted",
		zap.String("store_id", id),
		zap.String("slug", store.Slug))
	return nil
}

// Reindex acknowledges a reindex request. Rebuilding happens by re-running
// the indexing pipeline over the stored documents, which the runtime owns;
// the request is accepted and currently a no-op here.
func (p *Provisioner) Reindex(ctx context.Context, id string) error {
	if _, err := p.getStore(ctx, id); err != nil {
		return err
	}
	p.logger.Info("reindex requested", zap.String("store_id", id))
	return nil
}

// Stats returns the store's metadata counters alongside live index
// statistics, refreshing the persisted chunk count from the index.
func (p *Provisioner) Stats(ctx context.Context, id string) (*StoreStats, error) {
	store, err := p.getStore(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := p.index.Stats(ctx, store.IndexName)
	if err != nil {
		return nil, errs.Wrap(errs.KindIndexStore, err, "failed to read index stats")
	}
	if stats.DocumentCount != store.ChunkCount {
		if err := p.store.SetStoreChunkCount(ctx, id, stats.DocumentCount); err != nil {
			return nil, errs.Wrap(errs.KindPersistence, err, "failed to refresh chunk count")
		}
		store.ChunkCount = stats.DocumentCount
	}
	return &StoreStats{Store: store, Index: *stats, IndexedChunks: stats.DocumentCount}, nil
}

func (p *Provisioner) getStore(ctx context.Context, id string) (*models.Store, error) {
	store, err := p.store.GetStore(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.New(errs.KindNotFound, "store %s not found", id)
		}
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to load store")
	}
	if !store.IsActive {
		return nil, errs.New(errs.KindNotFound, "store %s not found", id)
	}
	return store, nil
}
