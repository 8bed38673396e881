// Package server exposes health checks, Prometheus metrics and a read-only
// view of the results ledger over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/contraverify/internal/middleware/logging"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/storage"
)

// Ledger is the part of the results store the server reads
type Ledger interface {
	GetRun(ctx context.Context, id string) (*storage.Run, error)
	LatestRun(ctx context.Context) (*storage.Run, error)
	ListResults(ctx context.Context, filter storage.ResultFilter) ([]storage.Result, error)
}

// Server is the HTTP server
type Server struct {
	ledger Ledger
	logger *slog.Logger
	router *chi.Mux
}

// New creates a new server
func New(ledger Ledger, logger *slog.Logger) *Server {
	s := &Server{
		ledger: ledger,
		logger: logger,
		router: chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/runs/latest", s.handleLatestRun)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/results", s.handleRunResults)
		r.Get("/contracts/{id}/results", s.handleContractResults)
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once the ledger answers
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ledger.LatestRun(r.Context()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("ledger not ready", "error", err)
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "results ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.ledger.LatestRun(r.Context())
	if err != nil {
		s.handleStoreError(w, err, "no runs recorded")
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.ledger.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleStoreError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (s *Server) handleRunResults(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseResultFilter(w, r)
	if !ok {
		return
	}
	filter.RunID = chi.URLParam(r, "id")
	s.listResults(w, r, filter)
}

func (s *Server) handleContractResults(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseResultFilter(w, r)
	if !ok {
		return
	}
	filter.ContractID = chi.URLParam(r, "id")
	s.listResults(w, r, filter)
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request, filter storage.ResultFilter) {
	results, err := s.ledger.ListResults(r.Context(), filter)
	if err != nil {
		s.handleStoreError(w, err, "")
		return
	}

	data := make([]resultResponse, len(results))
	for i := range results {
		data[i] = toResultResponse(&results[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) handleStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", notFound)
		return
	}
	s.logger.Error("ledger query failed", "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "ledger query failed")
}

// parseResultFilter reads ?failed=true&limit=N
func parseResultFilter(w http.ResponseWriter, r *http.Request) (storage.ResultFilter, bool) {
	var filter storage.ResultFilter
	q := r.URL.Query()

	if v := q.Get("failed"); v != "" {
		failed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", "failed must be a boolean")
			return filter, false
		}
		filter.FailedOnly = failed
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", "limit must be a positive integer")
			return filter, false
		}
		filter.Limit = limit
	}
	return filter, true
}

// Start serves on addr until ctx is canceled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
