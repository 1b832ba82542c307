// Package server exposes the memory engine over an HTTP JSON API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quillmem/synapse/internal/engine"
	"github.com/quillmem/synapse/internal/graph"
)

// Server is the synapse HTTP API server.
type Server struct {
	engine  *engine.Engine
	router  chi.Router
	logger  *zap.Logger
	version string
	started time.Time
}

// New creates a Server around an engine.
func New(eng *engine.Engine, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  eng,
		logger:  logger,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/ingest", s.handleIngest)
		r.Post("/retrieve", s.handleRetrieve)
		r.Post("/observe", s.handleObserve)
		r.Post("/guardrail", s.handleGuardrail)
		r.Post("/pin", s.handlePin)
		r.Post("/retract", s.handleRetract)
		r.Post("/snapshot", s.handleSnapshot)
		r.Post("/restore", s.handleRestore)
	})

	r.Method("GET", "/metrics", promhttp.HandlerFor(
		s.engine.Metrics().Registry(),
		promhttp.HandlerOpts{},
	))

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":            "ok",
		"version":           s.version,
		"uptime":            time.Since(s.started).Seconds(),
		"nodes":             stats.Graph.Nodes,
		"edges":             stats.Graph.Edges,
		"active":            stats.Graph.ByStatus[graph.StatusActive.String()],
		"read_only":         stats.Graph.ReadOnly,
		"correlator_drops":  stats.CorrelatorDrops,
		"conversation_size": stats.ConversationSize,
	})
}
