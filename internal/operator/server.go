// Package operator exposes the engine's control surface over HTTP:
// health and readiness probes, a status snapshot, Prometheus metrics and
// a graceful stop.
package operator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pattern-trader/internal/engine"
)

// Options configures the operator server.
type Options struct {
	Addr   string
	Engine *engine.Engine
	// Stop requests a graceful engine shutdown. Called at most once per
	// accepted stop request.
	Stop   func()
	Logger zerolog.Logger
}

// Server is the operator HTTP listener.
type Server struct {
	engine *engine.Engine
	stop   func()
	log    zerolog.Logger
	srv    *http.Server
}

// NewServer builds the server and its routes.
func NewServer(opts Options) *Server {
	s := &Server{
		engine: opts.Engine,
		stop:   opts.Stop,
		log:    opts.Logger.With().Str("component", "operator").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route table, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until Shutdown. It returns only on listener failure.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("operator server listening")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady re-evaluates the readiness gate on every probe rather than
// serving the cached startup verdict.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.engine.Gate().Evaluate(time.Now())
	code := http.StatusOK
	if !report.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.log.Info().Str("remote", r.RemoteAddr).Msg("stop requested by operator")
	if s.stop != nil {
		s.stop()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
