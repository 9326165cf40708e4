package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Cyb3rDudu/docstack/internal/auth"
	"github.com/Cyb3rDudu/docstack/internal/errs"
	"github.com/Cyb3rDudu/docstack/internal/models"
	"github.com/Cyb3rDudu/docstack/internal/provision"
	"github.com/Cyb3rDudu/docstack/internal/runtime"
	"github.com/Cyb3rDudu/docstack/internal/storage"
)

// 64 MiB in-memory cap before multipart parts spill to disk
const maxUploadMemory = 64 << 20

// Auth

type registerRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.auth.Register(r.Context(), req.Email, req.FullName, req.Password)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, session, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"token_type":   "bearer",
		"expires_at":   session.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), auth.BearerToken(r)); err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.respondJSON(w, http.StatusOK, user)
}

// Stores

type createStoreRequest struct {
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	EmbedderModel string               `json:"embedder_model,omitempty"`
	SplitBy       models.ChunkStrategy `json:"split_by,omitempty"`
	SplitLength   int                  `json:"split_length,omitempty"`
	SplitOverlap  int                  `json:"split_overlap,omitempty"`
}

func (s *Server) handleCreateStore(w http.ResponseWriter, r *http.Request) {
	var req createStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var createdBy string
	if user, ok := auth.UserFromContext(r.Context()); ok {
		createdBy = user.ID
	}
	store, err := s.provisioner.CreateStore(r.Context(), provision.CreateStoreParams{
		Name:          req.Name,
		Description:   req.Description,
		CreatedBy:     createdBy,
		EmbedderModel: req.EmbedderModel,
		SplitBy:       req.SplitBy,
		SplitLength:   req.SplitLength,
		SplitOverlap:  req.SplitOverlap,
	})
	if err != nil {
		s.logger.Error("store creation failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, store)
}

func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	stores, err := s.storage.ListStores(r.Context(), offset, limit)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"docstores": stores})
}

func (s *Server) handleGetStore(w http.ResponseWriter, r *http.Request) {
	store, err := s.loadStore(r)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, store)
}

type updateStoreRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleUpdateStore(w http.ResponseWriter, r *http.Request) {
	store, err := s.loadStore(r)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	var req updateStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		req.Name = store.Name
	}
	if err := s.storage.UpdateStoreMeta(r.Context(), store.ID, req.Name, req.Description); err != nil {
		s.respondFailure(w, err)
		return
	}
	updated, err := s.storage.GetStore(r.Context(), store.ID)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteStore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "storeID")
	s.logger.Debug("delete store request", zap.String("store_id", id))
	if err := s.provisioner.DeleteStore(r.Context(), id); err != nil {
		s.logger.Error("store deletion failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.provisioner.Stats(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if err := s.provisioner.Reindex(r.Context(), chi.URLParam(r, "storeID")); err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Documents

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	store, err := s.loadStore(r)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	offset, limit := pagination(r)
	docs, err := s.tracker.List(r.Context(), store.ID, offset, limit)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	store, err := s.loadStore(r)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	var files []models.FileUpload
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "failed to read "+fh.Filename)
				return
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "failed to read "+fh.Filename)
				return
			}
			files = append(files, models.FileUpload{
				Filename: fh.Filename,
				MimeType: uploadMimeType(fh.Filename, fh.Header.Get("Content-Type")),
				Content:  content,
			})
		}
	}
	var uploadedBy string
	if user, ok := auth.UserFromContext(r.Context()); ok {
		uploadedBy = user.ID
	}
	docs, err := s.tracker.Upload(r.Context(), store, files, uploadedBy)
	if err != nil {
		s.logger.Error("upload failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.tracker.Get(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "docID"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	err := s.tracker.Delete(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "docID"))
	if err != nil {
		s.logger.Error("document deletion failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Pipelines

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	store, err := s.loadStore(r)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	recs, err := s.pipelines.List(r.Context(), store.ID)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"pipelines": recs})
}

type createPipelineRequest struct {
	Name    string              `json:"name"`
	Type    models.PipelineType `json:"pipeline_type"`
	Content string              `json:"yaml_content"`
}

func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	store, err := s.loadStore(r)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	var req createPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var createdBy string
	if user, ok := auth.UserFromContext(r.Context()); ok {
		createdBy = user.ID
	}
	rec, err := s.pipelines.Create(r.Context(), store.ID, req.Name, req.Type, req.Content, createdBy)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGeneratePipelines(w http.ResponseWriter, r *http.Request) {
	store, err := s.loadStore(r)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	var createdBy string
	if user, ok := auth.UserFromContext(r.Context()); ok {
		createdBy = user.ID
	}
	recs, err := s.pipelines.Generate(r.Context(), store, s.cfg.IndexStore.URL, createdBy)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"pipelines": recs})
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	rec, err := s.pipelines.Get(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "pipelineID"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

type updatePipelineRequest struct {
	Content string `json:"yaml_content"`
}

func (s *Server) handleUpdatePipeline(w http.ResponseWriter, r *http.Request) {
	var req updatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.pipelines.UpdateContent(r.Context(),
		chi.URLParam(r, "storeID"), chi.URLParam(r, "pipelineID"), req.Content)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	err := s.pipelines.Delete(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "pipelineID"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleActivatePipeline(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	id := chi.URLParam(r, "pipelineID")
	if err := s.pipelines.Activate(r.Context(), storeID, id); err != nil {
		s.respondFailure(w, err)
		return
	}
	rec, err := s.pipelines.Get(r.Context(), storeID, id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeployPipeline(w http.ResponseWriter, r *http.Request) {
	store, err := s.loadStore(r)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	rec, err := s.pipelines.Deploy(r.Context(), store, chi.URLParam(r, "pipelineID"))
	if err != nil {
		s.logger.Error("deploy failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

// Query

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type globalQueryRequest struct {
	Query       string   `json:"query"`
	TopK        int      `json:"top_k"`
	DocstoreIDs []string `json:"docstore_ids"`
}

type storeQueryResult struct {
	StoreID   string                  `json:"store_id"`
	StoreSlug string                  `json:"store_slug"`
	Documents []runtime.QueryDocument `json:"documents"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	store, err := s.loadStore(r)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	s.logger.Debug("query request",
		zap.String("store_id", store.ID),
		zap.Int("top_k", req.TopK))
	result, err := s.runtime.RunQuery(r.Context(), store.Slug, req.Query, req.TopK)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		s.respondFailure(w, errs.Wrap(errs.KindRuntimeCall, err, "query pipeline failed"))
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleGlobalQuery fans the query out over several stores. With no
// docstore_ids it targets every active store. A store whose query pipeline
// fails contributes no results rather than failing the whole request.
func (s *Server) handleGlobalQuery(w http.ResponseWriter, r *http.Request) {
	var req globalQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	var targets []*models.Store
	if len(req.DocstoreIDs) > 0 {
		for _, id := range req.DocstoreIDs {
			st, err := s.storage.GetStore(r.Context(), id)
			if err != nil || !st.IsActive {
				s.respondFailure(w, errs.New(errs.KindNotFound, "docstore not found: "+id))
				return
			}
			targets = append(targets, st)
		}
	} else {
		all, err := s.storage.ListStores(r.Context(), 0, 1000)
		if err != nil {
			s.respondFailure(w, err)
			return
		}
		targets = all
	}

	results := make([]storeQueryResult, 0, len(targets))
	for _, st := range targets {
		result, err := s.runtime.RunQuery(r.Context(), st.Slug, req.Query, req.TopK)
		if err != nil {
			s.logger.Warn("query failed for store",
				zap.String("store_slug", st.Slug), zap.Error(err))
			continue
		}
		results = append(results, storeQueryResult{
			StoreID:   st.ID,
			StoreSlug: st.Slug,
			Documents: result.Documents,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// Health and status

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"index_store": s.index.Healthy(r.Context()),
		"runtime":     s.runtime.Healthy(r.Context()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stores, err := s.storage.ListStores(r.Context(), 0, 1000)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	var docCount, chunkCount, sizeBytes int64
	for _, st := range stores {
		docCount += st.DocumentCount
		chunkCount += st.ChunkCount
		sizeBytes += st.TotalSizeBytes
	}
	resp := map[string]interface{}{
		"docstores":        len(stores),
		"documents":        docCount,
		"chunks":           chunkCount,
		"total_size_bytes": sizeBytes,
		"config": map[string]interface{}{
			"index_store_type": s.cfg.IndexStore.Type,
			"database_path":    s.cfg.Database.Path,
		},
	}
	diskBytes, err := storage.DiskUsageBytes(s.cfg.Database.Path, s.cfg.IndexStore.LocalPath)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// Helpers

func (s *Server) loadStore(r *http.Request) (*models.Store, error) {
	id := chi.URLParam(r, "storeID")
	store, err := s.storage.GetStore(r.Context(), id)
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

func pagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return offset, limit
}

// uploadMimeType trusts the client's Content-Type when present and falls
// back to the filename extension.
func uploadMimeType(filename, contentType string) string {
	if contentType != "" && contentType != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			return mt
		}
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt", ".md":
		return "text/plain"
	}
	return contentType
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondFailure maps classified errors to HTTP status codes.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindConflict:
		status = http.StatusConflict
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindUnsupportedType:
		status = http.StatusUnsupportedMediaType
	case errs.KindUnauthorized:
		status = http.StatusUnauthorized
	case errs.KindRender:
		status = http.StatusBadRequest
	case errs.KindIndexStore, errs.KindDeployment, errs.KindRuntimeCall:
		status = http.StatusBadGateway
	}
	s.respondError(w, status, err.Error())
}
