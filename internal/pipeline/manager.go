package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Cyb3rDudu/docstack/internal/errs"
	"github.com/Cyb3rDudu/docstack/internal/models"
	"github.com/Cyb3rDudu/docstack/internal/runtime"
	"github.com/Cyb3rDudu/docstack/internal/storage"
)

// Default splitting configuration applied when a store has no model config.
const (
	DefaultEmbedderModel = "BAAI/bge-large-en-v1.5"
	DefaultSplitLength   = 55
	DefaultSplitOverlap  = 5
)

// Manager owns pipeline records for stores. It keeps exactly one active
// pipeline per (store, type) and pushes configurations to the runtime on
// deploy.
type Manager struct {
	store    storage.Storage
	runtime  runtime.Client
	renderer *Renderer
	logger   *zap.Logger
}

// NewManager creates a pipeline manager.
func NewManager(store storage.Storage, rt runtime.Client, renderer *Renderer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, runtime: rt, renderer: renderer, logger: logger}
}

// List returns all pipeline records of a store, active and inactive.
func (m *Manager) List(ctx context.Context, storeID string) ([]*models.PipelineRecord, error) {
	recs, err := m.store.ListPipelines(ctx, storeID)
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to list pipelines")
	}
	return recs, nil
}

// Get returns a single pipeline record scoped to a store.
func (m *Manager) Get(ctx context.Context, storeID, id string) (*models.PipelineRecord, error) {
	rec, err := m.store.GetPipeline(ctx, storeID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.New(errs.KindNotFound, "pipeline %s not found", id)
		}
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to load pipeline")
	}
	return rec, nil
}

// Create inserts a new pipeline record and makes it the sole active one of
// its (store, type). The content must be parseable YAML.
func (m *Manager) Create(ctx context.Context, storeID, name string, typ models.PipelineType, content, createdBy string) (*models.PipelineRecord, error) {
	if !typ.Valid() {
		return nil, errs.New(errs.KindRender, "invalid pipeline type: %q", typ)
	}
	if err := checkYAML(content); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec := &models.PipelineRecord{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		Name:      name,
		Type:      typ,
		Content:   content,
		Version:   1,
		IsActive:  true,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreatePipeline(ctx, rec); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to create pipeline")
	}
	m.logger.Info("pipeline created",
		zap.String("store_id", storeID),
		zap.String("pipeline_id", rec.ID),
		zap.String("type", string(typ)))
	return rec, nil
}

// UpdateContent replaces a pipeline's configuration. The version is bumped
// and the deployed flag cleared, so the runtime only reflects the change
// after a new Deploy.
func (m *Manager) UpdateContent(ctx context.Context, storeID, id, content string) (*models.PipelineRecord, error) {
	if _, err := m.Get(ctx, storeID, id); err != nil {
		return nil, err
	}
	if err := checkYAML(content); err != nil {
		return nil, err
	}
	if err := m.store.UpdatePipelineContent(ctx, id, content); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.New(errs.KindNotFound, "pipeline %s not found", id)
		}
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to update pipeline")
	}
	return m.Get(ctx, storeID, id)
}

// Activate makes the target pipeline the sole active one of its
// (store, type). Every sibling of the same type is deactivated in the same
// transaction, so the invariant holds even if earlier writes left more than
// one active row.
func (m *Manager) Activate(ctx context.Context, storeID, id string) error {
	if err := m.store.ActivatePipeline(ctx, storeID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errs.New(errs.KindNotFound, "pipeline %s not found", id)
		}
		return errs.Wrap(errs.KindPersistence, err, "failed to activate pipeline")
	}
	return nil
}

// Delete removes a pipeline record. Deleting the active record leaves the
// (store, type) without an active pipeline until another is activated.
func (m *Manager) Delete(ctx context.Context, storeID, id string) error {
	if _, err := m.Get(ctx, storeID, id); err != nil {
		return err
	}
	if err := m.store.DeletePipeline(ctx, id); err != nil {
		return errs.Wrap(errs.KindPersistence, err, "failed to delete pipeline")
	}
	return nil
}

// Deploy pushes a pipeline's configuration to the runtime under the store's
// slug-derived name and marks the record deployed.
func (m *Manager) Deploy(ctx context.Context, store *models.Store, id string) (*models.PipelineRecord, error) {
	rec, err := m.Get(ctx, store.ID, id)
	if err != nil {
		return nil, err
	}
	name := models.RuntimeName(store.Slug, rec.Type)
	if err := m.runtime.Deploy(ctx, name, rec.Content); err != nil {
		return nil, errs.Wrap(errs.KindDeployment, err, "failed to deploy pipeline %s", name)
	}
	now := time.Now().UTC()
	if err := m.store.MarkPipelineDeployed(ctx, rec.ID, now); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to record deployment")
	}
	m.logger.Info("pipeline deployed",
		zap.String("store_id", store.ID),
		zap.String("runtime_name", name),
		zap.Int("version", rec.Version))
	return m.Get(ctx, store.ID, id)
}

// Generate renders fresh indexing and query pipelines for a store from its
// active model config and inserts them as the active records. A store
// without a model config gets the default configuration first.
func (m *Manager) Generate(ctx context.Context, store *models.Store, indexStoreURL, createdBy string) ([]*models.PipelineRecord, error) {
	cfg, err := m.ensureModelConfig(ctx, store.ID)
	if err != nil {
		return nil, err
	}
	params := &RenderParams{
		Slug:          store.Slug,
		IndexName:     store.IndexName,
		IndexStoreURL: indexStoreURL,
		EmbedderModel: cfg.EmbedderModel,
		SplitBy:       cfg.SplitBy,
		SplitLength:   cfg.SplitLength,
		SplitOverlap:  cfg.SplitOverlap,
	}
	indexing, err := m.renderer.RenderIndexing(params)
	if err != nil {
		return nil, errs.Wrap(errs.KindRender, err, "failed to generate indexing pipeline")
	}
	query, err := m.renderer.RenderQuery(params)
	if err != nil {
		return nil, errs.Wrap(errs.KindRender, err, "failed to generate query pipeline")
	}

	var out []*models.PipelineRecord
	for _, spec := range []struct {
		typ     models.PipelineType
		content string
	}{
		{models.PipelineIndexing, indexing},
		{models.PipelineQuery, query},
	} {
		rec, err := m.Create(ctx, store.ID, models.RuntimeName(store.Slug, spec.typ), spec.typ, spec.content, createdBy)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *Manager) ensureModelConfig(ctx context.Context, storeID string) (*models.ModelConfig, error) {
	cfg, err := m.store.GetActiveModelConfig(ctx, storeID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to load model config")
	}
	now := time.Now().UTC()
	cfg = &models.ModelConfig{
		ID:            uuid.NewString(),
		StoreID:       storeID,
		EmbedderModel: DefaultEmbedderModel,
		EmbeddingDim:  DimensionOf(DefaultEmbedderModel),
		SplitBy:       models.ChunkBySentence,
		SplitLength:   DefaultSplitLength,
		SplitOverlap:  DefaultSplitOverlap,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.CreateModelConfig(ctx, cfg); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to create default model config")
	}
	m.logger.Info("default model config created", zap.String("store_id", storeID))
	return cfg, nil
}

func checkYAML(content string) error {
	var probe interface{}
	if err := yaml.Unmarshal([]byte(content), &probe); err != nil {
		return errs.Wrap(errs.KindRender, err, "pipeline configuration is not valid YAML")
	}
	if probe == nil {
		return errs.New(errs.KindRender, "pipeline configuration is empty")
	}
	return nil
}
