// Package server provides the HTTP API for carelens.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/carelens/internal/assistant"
	"github.com/hyperjump/carelens/internal/config"
	"go.uber.org/zap"
)

// WatchService manages the inbox directories watched for new exports and attachments.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the carelens API.
type Server struct {
	svc    *assistant.Service
	config *config.Config
	logger *zap.Logger
	server *http.Server

	watch      WatchService
	configPath string
	configMu   sync.Mutex
}

// NewServer creates a server. watch may be nil when the inbox watcher is disabled; with a
// configPath, watch directory changes are written back to the config file.
func NewServer(
	svc *assistant.Service,
	cfg *config.Config,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
) *Server {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:        svc,
		config:     cfg,
		logger:     logger,
		watch:      watch,
		configPath: configPath,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	timeout := s.config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/patients/{patientID}", func(r chi.Router) {
			r.Post("/answer", s.handleAnswer)
			r.Get("/trend/{instrument}", s.handleTrend)
			r.Get("/summary", s.handleSummary)
			r.Post("/documents", s.handleUploadDocument)
		})
		r.Post("/ingest/{recordType}", s.handleIngest)
		r.Post("/search", s.handleSearch)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Get("/analytics", s.handleAnalytics)
		r.Get("/status", s.handleStatus)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
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
