// Package httpapi exposes the service over HTTP. Handlers are a thin layer:
// they decode requests, call the store, scheduler, Q&A engine, or exporter,
// and map domain errors onto status codes. All state lives behind those
// collaborators.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"finanalyst/blobstore"
	"finanalyst/core"
	"finanalyst/db"
	"finanalyst/export"
	"finanalyst/gateway"
	"finanalyst/pipeline"
	"finanalyst/qa"
	"finanalyst/shutdown"
	"finanalyst/vecindex"
)

// Server holds the handler collaborators.
type Server struct {
	store     *db.Store
	blobs     blobstore.Store
	scheduler *pipeline.Scheduler
	engine    *qa.Engine
	exporter  *export.Exporter
	modes     *gateway.ModeManager
	gw        *gateway.Gateway
	indexes   *vecindex.Manager
	logger    *zap.Logger
	config    *core.Config

	// ownerID is the account documents are attributed to. The demo runs
	// single-user; ownership is a schema-level concern, not an auth one.
	ownerID string

	// fetchClient downloads documents for URL ingestion.
	fetchClient *http.Client
}

// ServerConfig wires a Server.
type ServerConfig struct {
	Store     *db.Store
	Blobs     blobstore.Store
	Scheduler *pipeline.Scheduler
	Engine    *qa.Engine
	Exporter  *export.Exporter
	Modes     *gateway.ModeManager
	Gateway   *gateway.Gateway
	Indexes   *vecindex.Manager
	Logger    *zap.Logger
	Config    *core.Config
	OwnerID   string
}

// NewServer creates a Server.
func NewServer(config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:       config.Store,
		blobs:       config.Blobs,
		scheduler:   config.Scheduler,
		engine:      config.Engine,
		exporter:    config.Exporter,
		modes:       config.Modes,
		gw:          config.Gateway,
		indexes:     config.Indexes,
		logger:      logger,
		config:      config.Config,
		ownerID:     config.OwnerID,
		fetchClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/documents", s.handleUpload)
	mux.HandleFunc("POST /api/documents/url", s.handleIngestURL)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /api/documents/{id}/process", s.handleProcess)
	mux.HandleFunc("POST /api/documents/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/documents/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /api/documents/{id}/analysis", s.handleAnalysis)
	mux.HandleFunc("POST /api/documents/{id}/ask", s.handleAsk)
	mux.HandleFunc("GET /api/documents/{id}/questions", s.handleQuestions)
	mux.HandleFunc("GET /api/documents/{id}/export", s.handleExport)
	mux.HandleFunc("GET /api/documents/{id}/usage", s.handleUsage)

	mux.HandleFunc("GET /api/llm/status", s.handleLLMStatus)
	mux.HandleFunc("POST /api/llm/mode", s.handleLLMMode)

	return s.withMiddleware(mux)
}

// withMiddleware applies request logging and, when configured, bearer-token
// auth for /api routes. /health stays open for load balancers.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if s.config != nil && s.config.APIToken != "" && strings.HasPrefix(r.URL.Path, "/api/") {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token != s.config.APIToken {
				s.writeError(w, http.StatusUnauthorized, errors.New("invalid or missing token"))
				return
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError maps domain sentinels onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrDocumentNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, core.ErrJobAlreadyRunning):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, core.ErrNotReady):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, export.ErrUnsupportedFormat):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, shutdown.ErrTrackerClosed):
		s.writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

// decodeJSON reads a JSON request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// ListenAndServe runs the server until the context is cancelled, then shuts
// it down gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
