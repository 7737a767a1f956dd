// SPDX-License-Identifier: MIT

// Package ops serves the operational HTTP surface: liveness, readiness and
// Prometheus metrics. It carries no business endpoints; the agent's only
// data output is the broker queue.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caelyn-nl/pagerstream/internal/log"
	"github.com/caelyn-nl/pagerstream/internal/pipeline"
	"github.com/caelyn-nl/pagerstream/internal/version"
)

// StateFunc reports the coordinator's current state for the readiness probe.
type StateFunc func() pipeline.State

// Server is the ops HTTP listener.
type Server struct {
	addr  string
	state StateFunc
	http  *http.Server
}

// New builds the ops server. state must be non-nil.
func New(addr string, state StateFunc) *Server {
	s := &Server{addr: addr, state: state}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	logger := log.WithComponent("ops")

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str(log.FieldEvent, "ops.listening").
			Str("addr", s.addr).
			Msg("ops server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type readyResponse struct {
	Ready     bool      `json:"ready"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealthz reports liveness: the process is up and serving.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Version:   version.Version,
		Timestamp: time.Now().UTC(),
	})
}

// handleReadyz reports readiness: the pipeline is in its steady state and
// records are flowing (or could flow) end to end.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	state := s.state()
	ready := state == pipeline.StateRunning

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, readyResponse{
		Ready:     ready,
		State:     string(state),
		Timestamp: time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
