// Package server exposes the sync engine over HTTP: run triggers, run
// history, live progress streams, the stuck-run sweep and dedup.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/amishk599/jobsync/internal/dedup"
	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/orchestrator"
	"github.com/amishk599/jobsync/internal/progress"
)

// Store is the read side of run persistence the API serves from.
type Store interface {
	GetRun(ctx context.Context, runID string) (*model.SyncRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]model.SyncRun, error)
	Ping(ctx context.Context) error
}

// Deduper prunes duplicate listings.
type Deduper interface {
	Run(ctx context.Context, opts dedup.Options) (*dedup.Report, error)
}

// Config holds listener settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration // bounds both HTTP drain and in-flight runs
	PollInterval    time.Duration // store polling when the broker has no stream
}

// Deps are the collaborators of a Server. Broker may be nil, in which case
// streams are served by polling the store.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Store        Store
	Broker       progress.Broker
	Deduper      Deduper
	Logger       *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg      Config
	orch     *orchestrator.Orchestrator
	store    Store
	broker   progress.Broker
	deduper  Deduper
	logger   *slog.Logger
	validate *validator.Validate
	handler  http.Handler
}

// New wires the routes.
func New(cfg Config, deps Deps) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		cfg:      cfg,
		orch:     deps.Orchestrator,
		store:    deps.Store,
		broker:   deps.Broker,
		deduper:  deps.Deduper,
		logger:   logger.With("component", "server"),
		validate: validator.New(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync", s.handleSync)
	mux.HandleFunc("POST /sync/stream", s.handleSyncStream)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /runs/{id}/stream", s.handleRunStream)
	mux.HandleFunc("POST /runs/sweep", s.handleSweep)
	mux.HandleFunc("POST /dedup", s.handleDedup)
	mux.HandleFunc("GET /health", s.handleHealth)
	s.handler = s.withLogging(mux)
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx is cancelled, then stops accepting
// requests and waits for in-flight runs to reach a terminal state.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("server shutdown: %w", err)
	}

	drained := make(chan struct{})
	go func() {
		s.orch.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.logger.Info("server stopped")
	case <-shutdownCtx.Done():
		s.logger.Warn("shutdown timed out with runs in flight; the sweep will fail them")
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the Flusher underneath.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encoding response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
