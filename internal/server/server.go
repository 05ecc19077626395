// Package server exposes the ingestion pipeline, the query executor and the
// document store over HTTP/JSON. Routes live in one dispatch table keyed by
// "METHOD /path".
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/middleware"
)

// Ingester is implemented by *pipeline.Pipeline.
type Ingester interface {
	Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Searcher is implemented by *executor.Executor.
type Searcher interface {
	Search(ctx context.Context, query string, limit, offset int) (*executor.SearchResult, error)
}

// Documents is implemented by *store.Store.
type Documents interface {
	Get(id string, version int64) (store.Document, error)
	History(id string) ([]store.Document, error)
}

// Deps are the collaborators the handlers call. Metrics and Health may be
// nil.
type Deps struct {
	Ingester  Ingester
	Searcher  Searcher
	Documents Documents
	Metrics   *metrics.Metrics
	Health    *health.Checker
}

type Server struct {
	deps   Deps
	cfg    *config.Config
	logger *slog.Logger
}

func New(cfg *config.Config, deps Deps) *Server {
	if deps.Health == nil {
		deps.Health = health.NewChecker(0)
	}
	return &Server{
		deps:   deps,
		cfg:    cfg,
		logger: slog.Default().With("component", "http-server"),
	}
}

// routes is the dispatch table.
func (s *Server) routes() map[string]http.HandlerFunc {
	table := map[string]http.HandlerFunc{
		"POST /ingest":                 s.handleIngest,
		"GET /search":                  s.handleSearch,
		"GET /documents/{id}":          s.handleGetDocument,
		"GET /documents/{id}/versions": s.handleVersions,
		"DELETE /documents/{id}":       s.handleDelete,
		"GET /health":                  s.handleHealth,
		"GET /health/ready":            s.deps.Health.ReadyHandler(),
	}
	if s.deps.Metrics != nil && s.cfg.Metrics.Enabled {
		table["GET /metrics"] = s.deps.Metrics.Handler().ServeHTTP
	}
	return table
}

// Handler builds the mux and the middleware chain:
// RequestID → CORS → Timeout → Metrics → mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for pattern, h := range s.routes() {
		mux.HandleFunc(pattern, h)
	}

	var chain http.Handler = mux
	if s.deps.Metrics != nil {
		chain = middleware.Metrics(s.deps.Metrics)(chain)
	}
	chain = middleware.Timeout(s.cfg.Server.WriteTimeout)(chain)
	chain = middleware.CORS(s.cfg.CORS.AllowedOrigins)(chain)
	chain = middleware.RequestID(chain)
	return chain
}

// HTTPServer returns a configured *http.Server for Handler.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout + time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
