package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Cyb3rDudu/docstack/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	// Cascade deletes from stores to their children rely on this.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		index_name TEXT NOT NULL,
		document_count INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		total_size_bytes INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Slug uniqueness is scoped to active stores so a soft-deleted store's
	-- slug can be reused.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_stores_active_slug ON stores(slug) WHERE is_active = 1;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_stores_index_name ON stores(index_name);

	CREATE TABLE IF NOT EXISTS model_configs (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		embedder_model TEXT NOT NULL,
		embedding_dim INTEGER NOT NULL,
		split_by TEXT NOT NULL,
		split_length INTEGER NOT NULL,
		split_overlap INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (store_id) REFERENCES stores(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_model_configs_store ON model_configs(store_id);

	CREATE TABLE IF NOT EXISTS pipelines (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		name TEXT NOT NULL,
		pipeline_type TEXT NOT NULL,
		yaml_content TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		is_active INTEGER NOT NULL DEFAULT 0,
		deployed INTEGER NOT NULL DEFAULT 0,
		deployed_at TIMESTAMP,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (store_id) REFERENCES stores(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_pipelines_store_type ON pipelines(store_id, pipeline_type);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		checksum TEXT NOT NULL,
		processing_status TEXT NOT NULL,
		processing_error TEXT NOT NULL DEFAULT '',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		page_count INTEGER NOT NULL DEFAULT 0,
		source_id TEXT NOT NULL DEFAULT '',
		uploaded_by TEXT NOT NULL DEFAULT '',
		uploaded_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP,
		FOREIGN KEY (store_id) REFERENCES stores(id) ON DELETE CASCADE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_store_checksum ON documents(store_id, checksum);
	CREATE INDEX IF NOT EXISTS idx_documents_store ON documents(store_id);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		token_hash TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		last_activity TIMESTAMP NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// CreateStoreBundle persists a store with its model config and pipelines in one transaction.
func (s *SQLiteStorage) CreateStoreBundle(ctx context.Context, store *models.Store, cfg *models.ModelConfig, pipelines []*models.PipelineRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	store.CreatedAt = now
	store.UpdatedAt = now
	_, err = tx.ExecContext(ctx,
		`INSERT INTO stores (id, name, slug, description, index_name, document_count, chunk_count,
		 total_size_bytes, is_active, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, 0, 1, ?, ?, ?)`,
		store.ID, store.Name, store.Slug, store.Description, store.IndexName,
		store.CreatedBy, store.CreatedAt, store.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store slug %q: %w", store.Slug, ErrDuplicate)
		}
		return err
	}

	cfg.StoreID = store.ID
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	cfg.IsActive = true
	_, err = tx.ExecContext(ctx,
		`INSERT INTO model_configs (id, store_id, embedder_model, embedding_dim, split_by,
		 split_length, split_overlap, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		cfg.ID, cfg.StoreID, cfg.EmbedderModel, cfg.EmbeddingDim, cfg.SplitBy,
		cfg.SplitLength, cfg.SplitOverlap, cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for _, p := range pipelines {
		p.StoreID = store.ID
		p.CreatedAt = now
		p.UpdatedAt = now
		if p.Version == 0 {
			p.Version = 1
		}
		var deployedAt interface{}
		if p.DeployedAt != nil {
			deployedAt = *p.DeployedAt
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pipelines (id, store_id, name, pipeline_type, yaml_content, version,
			 is_active, deployed, deployed_at, created_by, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.StoreID, p.Name, p.Type, p.Content, p.Version,
			p.IsActive, p.Deployed, deployedAt, p.CreatedBy, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const storeColumns = `id, name, slug, description, index_name, document_count, chunk_count,
	total_size_bytes, is_active, created_by, created_at, updated_at`

func scanStore(row interface{ Scan(...interface{}) error }) (*models.Store, error) {
	var st models.Store
	err := row.Scan(&st.ID, &st.Name, &st.Slug, &st.Description, &st.IndexName,
		&st.DocumentCount, &st.ChunkCount, &st.TotalSizeBytes, &st.IsActive,
		&st.CreatedBy, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStore returns a store by ID, active or not.
func (s *SQLiteStorage) GetStore(ctx context.Context, id string) (*models.Store, error) {
	return scanStore(s.db.QueryRowContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE id = ?`, id))
}

// GetActiveStoreBySlug returns the active store with the given slug.
func (s *SQLiteStorage) GetActiveStoreBySlug(ctx context.Context, slug string) (*models.Store, error) {
	return scanStore(s.db.QueryRowContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE slug = ? AND is_active = 1`, slug))
}

// ListStores returns active stores ordered by creation time.
func (s *SQLiteStorage) ListStores(ctx context.Context, offset, limit int) ([]*models.Store, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE is_active = 1
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stores []*models.Store
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	return stores, rows.Err()
}

// UpdateStoreMeta updates name and description; empty values keep the current ones.
func (s *SQLiteStorage) UpdateStoreMeta(ctx context.Context, id, name, description string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE stores SET
		 name = CASE WHEN ? != '' THEN ? ELSE name END,
		 description = CASE WHEN ? != '' THEN ? ELSE description END,
		 updated_at = ?
		 WHERE id = ?`,
		name, name, description, description, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateStore soft-deletes a store.
func (s *SQLiteStorage) DeactivateStore(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE stores SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`,
		time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddStoreCounters atomically adjusts counters by deltas, flooring each at zero.
func (s *SQLiteStorage) AddStoreCounters(ctx context.Context, id string, docDelta, chunkDelta, sizeDelta int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE stores SET
		 document_count = MAX(0, document_count + ?),
		 chunk_count = MAX(0, chunk_count + ?),
		 total_size_bytes = MAX(0, total_size_bytes + ?),
		 updated_at = ?
		 WHERE id = ?`,
		docDelta, chunkDelta, sizeDelta, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStoreChunkCount overwrites the denormalized chunk count (stats refresh).
func (s *SQLiteStorage) SetStoreChunkCount(ctx context.Context, id string, chunkCount int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE stores SET chunk_count = ?, updated_at = ? WHERE id = ?`,
		chunkCount, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateDocuments inserts a batch of documents in one transaction.
func (s *SQLiteStorage) CreateDocuments(ctx context.Context, docs []*models.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (id, store_id, filename, mime_type, size_bytes, checksum,
		 processing_status, processing_error, chunk_count, page_count, source_id,
		 uploaded_by, uploaded_at, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, doc := range docs {
		doc.UploadedAt = now
		if _, err := stmt.ExecContext(ctx, doc.ID, doc.StoreID, doc.Filename, doc.MimeType,
			doc.SizeBytes, doc.Checksum, doc.Status, doc.ProcessingError, doc.ChunkCount,
			doc.PageCount, doc.SourceID, doc.UploadedBy, doc.UploadedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("document %q: %w", doc.Filename, ErrDuplicate)
			}
			return err
		}
	}
	return tx.Commit()
}

const documentColumns = `id, store_id, filename, mime_type, size_bytes, checksum,
	processing_status, processing_error, chunk_count, page_count, source_id,
	uploaded_by, uploaded_at, processed_at`

func scanDocument(row interface{ Scan(...interface{}) error }) (*models.Document, error) {
	var doc models.Document
	var processedAt sql.NullTime
	err := row.Scan(&doc.ID, &doc.StoreID, &doc.Filename, &doc.MimeType, &doc.SizeBytes,
		&doc.Checksum, &doc.Status, &doc.ProcessingError, &doc.ChunkCount, &doc.PageCount,
		&doc.SourceID, &doc.UploadedBy, &doc.UploadedAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		doc.ProcessedAt = &processedAt.Time
	}
	return &doc, nil
}

// GetDocument returns a document scoped to a store.
func (s *SQLiteStorage) GetDocument(ctx context.Context, storeID, id string) (*models.Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND store_id = ?`, id, storeID))
}

// GetDocumentByChecksum returns the document with the given content checksum in a store.
func (s *SQLiteStorage) GetDocumentByChecksum(ctx context.Context, storeID, checksum string) (*models.Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE store_id = ? AND checksum = ?`, storeID, checksum))
}

// ListDocuments returns a store's documents with offset and limit.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, storeID string, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE store_id = ?
		 ORDER BY uploaded_at DESC LIMIT ? OFFSET ?`, storeID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SetDocumentsStatus transitions a batch of documents in one transaction.
func (s *SQLiteStorage) SetDocumentsStatus(ctx context.Context, ids []string, status models.ProcessingStatus, procErr string, processedAt *time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+3)
	var at interface{}
	if processedAt != nil {
		at = *processedAt
	}
	args = append(args, status, procErr, at)
	for _, id := range ids {
		args = append(args, id)
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE documents SET processing_status = ?, processing_error = ?, processed_at = ?
		 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n != int64(len(ids)) {
		return fmt.Errorf("status update touched %d of %d documents: %w", n, len(ids), ErrNotFound)
	}
	return tx.Commit()
}

// DeleteDocument removes a document row.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetActiveModelConfig returns the store's active model config.
func (s *SQLiteStorage) GetActiveModelConfig(ctx context.Context, storeID string) (*models.ModelConfig, error) {
	var cfg models.ModelConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT id, store_id, embedder_model, embedding_dim, split_by, split_length,
		 split_overlap, is_active, created_at, updated_at
		 FROM model_configs WHERE store_id = ? AND is_active = 1`, storeID,
	).Scan(&cfg.ID, &cfg.StoreID, &cfg.EmbedderModel, &cfg.EmbeddingDim, &cfg.SplitBy,
		&cfg.SplitLength, &cfg.SplitOverlap, &cfg.IsActive, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CreateModelConfig inserts cfg as the store's sole active config.
func (s *SQLiteStorage) CreateModelConfig(ctx context.Context, cfg *models.ModelConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE model_configs SET is_active = 0, updated_at = ? WHERE store_id = ?`,
		time.Now(), cfg.StoreID); err != nil {
		return err
	}

	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	cfg.IsActive = true
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO model_configs (id, store_id, embedder_model, embedding_dim, split_by,
		 split_length, split_overlap, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		cfg.ID, cfg.StoreID, cfg.EmbedderModel, cfg.EmbeddingDim, cfg.SplitBy,
		cfg.SplitLength, cfg.SplitOverlap, cfg.CreatedAt, cfg.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

const pipelineColumns = `id, store_id, name, pipeline_type, yaml_content, version,
	is_active, deployed, deployed_at, created_by, created_at, updated_at`

func scanPipeline(row interface{ Scan(...interface{}) error }) (*models.PipelineRecord, error) {
	var p models.PipelineRecord
	var deployedAt sql.NullTime
	err := row.Scan(&p.ID, &p.StoreID, &p.Name, &p.Type, &p.Content, &p.Version,
		&p.IsActive, &p.Deployed, &deployedAt, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if deployedAt.Valid {
		p.DeployedAt = &deployedAt.Time
	}
	return &p, nil
}

// GetPipeline returns a pipeline record scoped to a store.
func (s *SQLiteStorage) GetPipeline(ctx context.Context, storeID, id string) (*models.PipelineRecord, error) {
	return scanPipeline(s.db.QueryRowContext(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE id = ? AND store_id = ?`, id, storeID))
}

// ListPipelines returns all pipeline records for a store.
func (s *SQLiteStorage) ListPipelines(ctx context.Context, storeID string) ([]*models.PipelineRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE store_id = ?
		 ORDER BY pipeline_type, created_at`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []*models.PipelineRecord
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// CreatePipeline inserts p as the sole active record of its (store, type).
func (s *SQLiteStorage) CreatePipeline(ctx context.Context, p *models.PipelineRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE pipelines SET is_active = 0, updated_at = ?
		 WHERE store_id = ? AND pipeline_type = ?`,
		now, p.StoreID, p.Type); err != nil {
		return err
	}

	p.CreatedAt = now
	p.UpdatedAt = now
	p.IsActive = true
	if p.Version == 0 {
		p.Version = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pipelines (id, store_id, name, pipeline_type, yaml_content, version,
		 is_active, deployed, deployed_at, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, NULL, ?, ?, ?)`,
		p.ID, p.StoreID, p.Name, p.Type, p.Content, p.Version,
		p.Deployed, p.CreatedBy, p.CreatedAt, p.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// ActivatePipeline makes the target the sole active record of its (store, type).
// Repairs inconsistent data: any prior active count (0, 1, or more) ends at one.
func (s *SQLiteStorage) ActivatePipeline(ctx context.Context, storeID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	target, err := scanPipeline(tx.QueryRowContext(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE id = ? AND store_id = ?`, id, storeID))
	if err != nil {
		return err
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE pipelines SET is_active = 0, updated_at = ?
		 WHERE store_id = ? AND pipeline_type = ? AND id != ?`,
		now, storeID, target.Type, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE pipelines SET is_active = 1, updated_at = ? WHERE id = ?`,
		now, id); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdatePipelineContent replaces content, bumps version, and clears the deployed flag.
func (s *SQLiteStorage) UpdatePipelineContent(ctx context.Context, id, content string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pipelines SET yaml_content = ?, version = version + 1, deployed = 0,
		 deployed_at = NULL, updated_at = ? WHERE id = ?`,
		content, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPipelineActive sets only the active flag; callers wanting the exclusivity
// invariant should use ActivatePipeline.
func (s *SQLiteStorage) SetPipelineActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pipelines SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPipelineDeployed stamps a successful deployment.
func (s *SQLiteStorage) MarkPipelineDeployed(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pipelines SET deployed = 1, deployed_at = ?, updated_at = ? WHERE id = ?`,
		at, at, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePipeline removes a pipeline record.
func (s *SQLiteStorage) DeletePipeline(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUser inserts a user.
func (s *SQLiteStorage) CreateUser(ctx context.Context, u *models.User) error {
	u.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, full_name, password_hash, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.FullName, u.PasswordHash, u.IsActive, u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user email %q: %w", u.Email, ErrDuplicate)
	}
	return err
}

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail returns the user with the given email.
func (s *SQLiteStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, password_hash, is_active, created_at
		 FROM users WHERE email = ?`, email))
}

// GetUser returns a user by ID.
func (s *SQLiteStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, password_hash, is_active, created_at
		 FROM users WHERE id = ?`, id))
}

// CreateSession inserts a session.
func (s *SQLiteStorage) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, created_at, expires_at, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.CreatedAt, sess.ExpiresAt, sess.LastActivity)
	if isUniqueViolation(err) {
		return fmt.Errorf("session token hash: %w", ErrDuplicate)
	}
	return err
}

// GetSessionByTokenHash returns the session with the given token hash.
func (s *SQLiteStorage) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, created_at, expires_at, last_activity
		 FROM sessions WHERE token_hash = ?`, tokenHash,
	).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastActivity)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// TouchSession advances the sliding last-activity timestamp.
func (s *SQLiteStorage) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE id = ?`, at, id)
	return err
}

// DeleteSessionByTokenHash removes a session (logout).
func (s *SQLiteStorage) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry and returns the count.
func (s *SQLiteStorage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
