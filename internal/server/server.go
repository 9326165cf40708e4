// Package server provides the HTTP API for docstack.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Cyb3rDudu/docstack/internal/auth"
	"github.com/Cyb3rDudu/docstack/internal/config"
	"github.com/Cyb3rDudu/docstack/internal/indexstore"
	"github.com/Cyb3rDudu/docstack/internal/ingest"
	"github.com/Cyb3rDudu/docstack/internal/pipeline"
	"github.com/Cyb3rDudu/docstack/internal/provision"
	"github.com/Cyb3rDudu/docstack/internal/runtime"
	"github.com/Cyb3rDudu/docstack/internal/storage"
)

// Server is the HTTP server for the docstack API.
type Server struct {
	cfg         *config.Config
	storage     storage.Storage
	index       indexstore.Client
	runtime     runtime.Client
	auth        *auth.Service
	provisioner *provision.Provisioner
	tracker     *ingest.Tracker
	pipelines   *pipeline.Manager
	logger      *zap.Logger
	server      *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	cfg *config.Config,
	store storage.Storage,
	index indexstore.Client,
	rt runtime.Client,
	authSvc *auth.Service,
	provisioner *provision.Provisioner,
	tracker *ingest.Tracker,
	pipelines *pipeline.Manager,
	logger *zap.Logger,
) *Server {
	return &Server{
		cfg:         cfg,
		storage:     store,
		index:       index,
		runtime:     rt,
		auth:        authSvc,
		provisioner: provisioner,
		tracker:     tracker,
		pipelines:   pipelines,
		logger:      logger,
	}
}

// Router assembles the chi router with all API routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)
			r.Get("/status", s.handleStatus)
			r.Post("/query", s.handleGlobalQuery)

			r.Route("/docstores", func(r chi.Router) {
				r.Get("/", s.handleListStores)
				r.Post("/", s.handleCreateStore)

				r.Route("/{storeID}", func(r chi.Router) {
					r.Get("/", s.handleGetStore)
					r.Patch("/", s.handleUpdateStore)
					r.Delete("/", s.handleDeleteStore)
					r.Get("/stats", s.handleStoreStats)
					r.Post("/reindex", s.handleReindex)
					r.Post("/query", s.handleQuery)

					r.Route("/documents", func(r chi.Router) {
						r.Get("/", s.handleListDocuments)
						r.Post("/", s.handleUploadDocuments)
						r.Get("/{docID}", s.handleGetDocument)
						r.Delete("/{docID}", s.handleDeleteDocument)
					})

					r.Route("/pipelines", func(r chi.Router) {
						r.Get("/", s.handleListPipelines)
						r.Post("/", s.handleCreatePipeline)
						r.Post("/generate", s.handleGeneratePipelines)
						r.Get("/{pipelineID}", s.handleGetPipeline)
						r.Patch("/{pipelineID}", s.handleUpdatePipeline)
						r.Delete("/{pipelineID}", s.handleDeletePipeline)
						r.Post("/{pipelineID}/activate", s.handleActivatePipeline)
						r.Post("/{pipelineID}/deploy", s.handleDeployPipeline)
					})
				})
			})
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
