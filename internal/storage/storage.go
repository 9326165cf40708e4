// Package storage defines the metadata persistence interface for stores,
// documents, pipelines, model configs, users, and sessions.
package storage

import (
	"context"
	"time"

	"github.com/Cyb3rDudu/docstack/internal/models"
)

// Storage defines metadata persistence operations. Multi-row mutations
// documented as transactional are atomic: they either fully apply or leave
// the database unchanged.
type Storage interface {
	// Store operations
	//
	// CreateStoreBundle persists a store together with its model config and
	// initial pipeline records in one transaction. A concurrent insert with
	// the same active slug loses with ErrDuplicate.
	CreateStoreBundle(ctx context.Context, store *models.Store, cfg *models.ModelConfig, pipelines []*models.PipelineRecord) error
	GetStore(ctx context.Context, id string) (*models.Store, error)
	// GetActiveStoreBySlug returns the active store with the given slug.
	// Soft-deleted stores are invisible here, so their slugs are reusable.
	GetActiveStoreBySlug(ctx context.Context, slug string) (*models.Store, error)
	ListStores(ctx context.Context, offset, limit int) ([]*models.Store, error)
	UpdateStoreMeta(ctx context.Context, id, name, description string) error
	// DeactivateStore soft-deletes: clears is_active and stamps updated_at.
	// Rows are kept for auditability.
	DeactivateStore(ctx context.Context, id string) error
	// AddStoreCounters atomically adjusts the denormalized counters by the
	// given deltas, flooring each at zero.
	AddStoreCounters(ctx context.Context, id string, docDelta, chunkDelta, sizeDelta int64) error
	SetStoreChunkCount(ctx context.Context, id string, chunkCount int64) error

	// Document operations
	//
	// CreateDocuments inserts a batch in one transaction; a (store, checksum)
	// collision fails the whole batch with ErrDuplicate.
	CreateDocuments(ctx context.Context, docs []*models.Document) error
	GetDocument(ctx context.Context, storeID, id string) (*models.Document, error)
	GetDocumentByChecksum(ctx context.Context, storeID, checksum string) (*models.Document, error)
	ListDocuments(ctx context.Context, storeID string, offset, limit int) ([]*models.Document, error)
	// SetDocumentsStatus transitions a batch in one transaction. processedAt,
	// when non-nil, is stamped on each row; procErr is recorded verbatim.
	SetDocumentsStatus(ctx context.Context, ids []string, status models.ProcessingStatus, procErr string, processedAt *time.Time) error
	DeleteDocument(ctx context.Context, id string) error

	// Model config operations
	GetActiveModelConfig(ctx context.Context, storeID string) (*models.ModelConfig, error)
	// CreateModelConfig deactivates the store's other configs and inserts cfg
	// as the sole active one, in one transaction.
	CreateModelConfig(ctx context.Context, cfg *models.ModelConfig) error

	// Pipeline operations
	GetPipeline(ctx context.Context, storeID, id string) (*models.PipelineRecord, error)
	ListPipelines(ctx context.Context, storeID string) ([]*models.PipelineRecord, error)
	// CreatePipeline deactivates other records of the same (store, type) and
	// inserts p as the sole active one, in one transaction.
	CreatePipeline(ctx context.Context, p *models.PipelineRecord) error
	// ActivatePipeline clears is_active on every other record of the target's
	// (store, type) and sets it on the target, in one transaction.
	ActivatePipeline(ctx context.Context, storeID, id string) error
	// UpdatePipelineContent replaces content, increments version, and clears
	// the deployed flag in one statement.
	UpdatePipelineContent(ctx context.Context, id, content string) error
	SetPipelineActive(ctx context.Context, id string, active bool) error
	MarkPipelineDeployed(ctx context.Context, id string, at time.Time) error
	DeletePipeline(ctx context.Context, id string) error

	// User and session operations
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateSession(ctx context.Context, s *models.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	// TouchSession advances the sliding last-activity timestamp.
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	Close() error
}
