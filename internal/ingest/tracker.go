// Package ingest tracks uploaded documents through the
// pending -> processing -> completed | failed lifecycle and keeps the
// store's denormalized counters in step.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cyb3rDudu/docstack/internal/errs"
	"github.com/Cyb3rDudu/docstack/internal/indexstore"
	"github.com/Cyb3rDudu/docstack/internal/models"
	"github.com/Cyb3rDudu/docstack/internal/runtime"
	"github.com/Cyb3rDudu/docstack/internal/storage"
)

// allowedMimeTypes is the ingestion allow-list. Anything else is rejected
// before a row is written.
var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
}

// AllowedMimeType reports whether mime is accepted for upload.
func AllowedMimeType(mime string) bool {
	return allowedMimeTypes[mime]
}

// Checksum returns the hex SHA-256 digest of content.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Tracker ingests upload batches for a store and tracks their processing
// state. A batch is all-or-nothing up to the point the runtime takes over.
type Tracker struct {
	store   storage.Storage
	index   indexstore.Client
	runtime runtime.Client
	logger  *zap.Logger

	now func() time.Time
}

// NewTracker wires an ingestion tracker.
func NewTracker(store storage.Storage, index indexstore.Client, rt runtime.Client, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, index: index, runtime: rt, logger: logger, now: time.Now}
}

// Upload ingests a batch of files into a store. Every file is validated
// and checksummed before anything is persisted; a disallowed type or a
// duplicate (in the store or within the batch) rejects the whole batch.
// Accepted rows are written as pending in one transaction, moved to
// processing, and handed to the runtime's indexing pipeline. On success
// the rows complete and the store counters grow; on failure the rows fail
// with the runtime's error and the counters stay untouched.
func (t *Tracker) Upload(ctx context.Context, store *models.Store, files []models.FileUpload, uploadedBy string) ([]*models.Document, error) {
	if len(files) == 0 {
		return nil, errs.New(errs.KindUnsupportedType, "no files in upload")
	}

	seen := map[string]string{}
	docs := make([]*models.Document, 0, len(files))
	now := t.now().UTC()
	for _, f := range files {
		if !AllowedMimeType(f.MimeType) {
			return nil, errs.New(errs.KindUnsupportedType,
				"unsupported file type %q for %s", f.MimeType, f.Filename)
		}
		sum := Checksum(f.Content)
		if prev, dup := seen[sum]; dup {
			return nil, errs.New(errs.KindConflict,
				"duplicate content: %s matches %s", f.Filename, prev)
		}
		seen[sum] = f.Filename
		if _, err := t.store.GetDocumentByChecksum(ctx, store.ID, sum); err == nil {
			return nil, errs.New(errs.KindConflict,
				"duplicate content: %s already uploaded", f.Filename)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, errs.Wrap(errs.KindPersistence, err, "failed to check checksum")
		}
		docs = append(docs, &models.Document{
			ID:         uuid.NewString(),
			StoreID:    store.ID,
			Filename:   f.Filename,
			MimeType:   f.MimeType,
			SizeBytes:  int64(len(f.Content)),
			Checksum:   sum,
			Status:     models.StatusPending,
			SourceID:   uuid.NewString(),
			UploadedBy: uploadedBy,
			UploadedAt: now,
		})
	}

	if err := t.store.CreateDocuments(ctx, docs); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, errs.Wrap(errs.KindConflict, err, "duplicate content in batch")
		}
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to persist upload batch")
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	if err := t.store.SetDocumentsStatus(ctx, ids, models.StatusProcessing, "", nil); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to mark batch processing")
	}
	for _, d := range docs {
		d.Status = models.StatusProcessing
	}

	result, runErr := t.runtime.RunIndexing(ctx, store.Slug, files)
	if runErr != nil {
		t.logger.Warn("indexing failed",
			zap.String("store_id", store.ID),
			zap.Int("files", len(files)),
			zap.Error(runErr))
		if err := t.store.SetDocumentsStatus(ctx, ids, models.StatusFailed, runErr.Error(), nil); err != nil {
			return nil, errs.Wrap(errs.KindPersistence, err, "failed to mark batch failed").
				WithCompensation(runErr)
		}
		for _, d := range docs {
			d.Status = models.StatusFailed
			d.ProcessingError = runErr.Error()
		}
		return docs, errs.Wrap(errs.KindRuntimeCall, runErr, "indexing pipeline failed")
	}

	processedAt := t.now().UTC()
	if err := t.store.SetDocumentsStatus(ctx, ids, models.StatusCompleted, "", &processedAt); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to mark batch completed")
	}
	var sizeTotal int64
	for _, d := range docs {
		d.Status = models.StatusCompleted
		d.ProcessedAt = &processedAt
		sizeTotal += d.SizeBytes
	}
	// Counters move only after the whole batch completed.
	if err := t.store.AddStoreCounters(ctx, store.ID, int64(len(docs)), result.DocumentsWritten, sizeTotal); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to update store counters")
	}
	t.logger.Info("batch ingested",
		zap.String("store_id", store.ID),
		zap.Int("documents", len(docs)),
		zap.Int64("chunks_written", result.DocumentsWritten))
	return docs, nil
}

// Get returns a document scoped to a store.
func (t *Tracker) Get(ctx context.Context, storeID, id string) (*models.Document, error) {
	doc, err := t.store.GetDocument(ctx, storeID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.New(errs.KindNotFound, "document %s not found", id)
		}
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to load document")
	}
	return doc, nil
}

// List returns a page of a store's documents.
func (t *Tracker) List(ctx context.Context, storeID string, offset, limit int) ([]*models.Document, error) {
	docs, err := t.store.ListDocuments(ctx, storeID, offset, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to list documents")
	}
	return docs, nil
}

// Delete removes a document: its chunks are purged from the index first,
// then the store counters shrink by the document's contribution, and the
// metadata row goes last so a failed purge leaves the row for retry.
func (t *Tracker) Delete(ctx context.Context, storeID, id string) error {
	doc, err := t.Get(ctx, storeID, id)
	if err != nil {
		return err
	}
	store, err := t.store.GetStore(ctx, storeID)
	if err != nil {
		return errs.Wrap(errs.KindPersistence, err, "failed to load store")
	}

	if doc.SourceID != "" {
		if err := t.index.DeleteByField(ctx, store.IndexName, "source_id", doc.SourceID); err != nil {
			return errs.Wrap(errs.KindIndexStore, err, "failed to purge chunks for %s", doc.Filename)
		}
	}

	// Only completed documents contributed to the counters.
	if doc.Status == models.StatusCompleted {
		if err := t.store.AddStoreCounters(ctx, storeID, -1, -doc.ChunkCount, -doc.SizeBytes); err != nil {
			return errs.Wrap(errs.KindPersistence, err, "failed to update store counters")
		}
	}

	if err := t.store.DeleteDocument(ctx, id); err != nil {
		return errs.Wrap(errs.KindPersistence, err, "failed to delete document")
	}
	t.logger.Info("document deleted",
		zap.String("store_id", storeID),
		zap.String("document_id", id),
		zap.String("filename", doc.Filename))
	return nil
}
