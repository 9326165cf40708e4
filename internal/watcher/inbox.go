package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Cyb3rDudu/docstack/internal/config"
	"github.com/Cyb3rDudu/docstack/internal/errs"
	"github.com/Cyb3rDudu/docstack/internal/ingest"
	"github.com/Cyb3rDudu/docstack/internal/models"
	"github.com/Cyb3rDudu/docstack/internal/storage"
)

// inboxExtensions mirrors the upload allow-list.
var inboxExtensions = []string{"pdf", "docx", "txt", "md"}

// Inbox uploads files dropped into watched directories to a configured
// store. Duplicates are skipped silently so re-dropping a file is safe.
type Inbox struct {
	watcher *Watcher
	tracker *ingest.Tracker
	store   storage.Storage
	slug    string
	logger  *zap.Logger
}

// NewInbox builds an inbox over the watch configuration. The target store
// is resolved by slug on every upload, so the inbox survives the store
// being deleted and recreated.
func NewInbox(cfg config.WatchConfig, tracker *ingest.Tracker, store storage.Storage, logger *zap.Logger, opts ...Option) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	in := &Inbox{
		tracker: tracker,
		store:   store,
		slug:    cfg.StoreSlug,
		logger:  logger,
	}
	opts = append(opts, WithLogger(logger))
	in.watcher = NewWatcher(cfg.Directories, inboxExtensions, cfg.RecursiveOrDefault(), in.handleFile, opts...)
	return in
}

// Start begins watching and picks up files already present.
func (in *Inbox) Start(ctx context.Context) error {
	if err := in.watcher.Start(ctx); err != nil {
		return err
	}
	go in.watcher.SyncExistingFiles()
	return nil
}

// Stop stops the underlying watcher.
func (in *Inbox) Stop() {
	in.watcher.Stop()
}

// Directories returns the watched inbox directories.
func (in *Inbox) Directories() []string {
	return in.watcher.Directories()
}

func (in *Inbox) handleFile(path string) {
	ctx := context.Background()
	store, err := in.store.GetActiveStoreBySlug(ctx, in.slug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			in.logger.Warn("inbox target store missing, skipping file",
				zap.String("slug", in.slug),
				zap.String("path", path))
			return
		}
		in.logger.Error("inbox failed to resolve store", zap.Error(err))
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		in.logger.Warn("inbox failed to read file",
			zap.String("path", path), zap.Error(err))
		return
	}
	upload := models.FileUpload{
		Filename: filepath.Base(path),
		MimeType: inboxMimeType(path),
		Content:  content,
	}
	if _, err := in.tracker.Upload(ctx, store, []models.FileUpload{upload}, ""); err != nil {
		if errs.IsKind(err, errs.KindConflict) {
			in.logger.Debug("inbox skipping duplicate",
				zap.String("path", path))
			return
		}
		in.logger.Error("inbox upload failed",
			zap.String("path", path), zap.Error(err))
		return
	}
	in.logger.Info("inbox file ingested",
		zap.String("store_id", store.ID),
		zap.String("path", path))
}

func inboxMimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/plain"
	}
}
