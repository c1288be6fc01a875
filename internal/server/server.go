// Package server exposes the job runner over HTTP with lifecycle management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/renderfleet/comfyrelay/internal/comfy"
	"github.com/renderfleet/comfyrelay/internal/config"
	"github.com/renderfleet/comfyrelay/internal/metrics"
	"github.com/renderfleet/comfyrelay/internal/runner"
)

// healthProbeTimeout bounds the backend liveness check on /health.
const healthProbeTimeout = 5 * time.Second

// shutdownTimeout is how long in-flight requests get to finish on shutdown.
const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server with its dependencies.
type Server struct {
	runner  *runner.Runner
	client  *comfy.Client
	metrics *metrics.Collector
	logger  *slog.Logger
	http    *http.Server
}

// New creates the HTTP server. Jobs run on the request goroutine; the server
// does not queue.
func New(r *runner.Runner, client *comfy.Client, collector *metrics.Collector, cfg config.Config, logger *slog.Logger) *Server {
	s := &Server{
		runner:  r,
		client:  client,
		metrics: collector,
		logger:  logger,
	}

	s.http = &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     LoggingMiddleware(logger)(s.Handler()),
		ReadTimeout: 30 * time.Second,
		// Write timeout must outlast the longest render job.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the route mux without the outer middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", s.handleRun)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// jobEnvelope is the request body for /run. The job payload travels under
// "input", matching the serverless worker contract.
type jobEnvelope struct {
	Input *runner.Request `json:"input"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var envelope jobEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		s.writeJSON(w, http.StatusBadRequest, runner.Response{
			Status: runner.StatusError,
			Error:  "invalid request body: " + err.Error(),
		})
		return
	}
	if envelope.Input == nil {
		s.writeJSON(w, http.StatusBadRequest, runner.Response{
			Status: runner.StatusError,
			Error:  "missing required field: input",
		})
		return
	}

	// Terminal job failures are part of the response body, not transport
	// errors; the HTTP layer answers 200 for any completed run.
	resp := s.runner.Run(r.Context(), *envelope.Input)
	s.writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status           string `json:"status"`
	ComfyUIReachable bool   `json:"comfyui_reachable"`
	ComfyAPIURL      string `json:"comfy_api_url"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	reachable := s.client.SystemStats(ctx) == nil
	status := "healthy"
	code := http.StatusOK
	if !reachable {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, healthResponse{
		Status:           status,
		ComfyUIReachable: reachable,
		ComfyAPIURL:      s.client.BaseURL(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
