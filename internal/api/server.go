package api

import (
	"log/slog"
	"net/http"

	"github.com/dgallion1/docreduce/internal/config"
	"github.com/dgallion1/docreduce/internal/llm"
	"github.com/dgallion1/docreduce/internal/metrics"
	"github.com/dgallion1/docreduce/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for docreduce.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	llm          *llm.Client
	metrics      *metrics.Metrics
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. client and m may be nil.
func NewServer(orch *pipeline.Orchestrator, client *llm.Client, m *metrics.Metrics, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		llm:          client,
		metrics:      m,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	if s.metrics != nil {
		r.Use(CountRequests(s.metrics))
	}

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/ingest", s.handleIngest)
		r.Get("/api/ingest/{jobID}/status", s.handleIngestStatus)
		r.Post("/api/ingest/batch", s.handleBatchIngest)

		r.Post("/api/query", s.handleQuery)
		r.Post("/api/process", s.handleProcess)

		r.Get("/api/stats/llm", s.handleLLMStats)
		r.Get("/api/performance", s.handlePerformance)

		r.Get("/api/documents", s.handleListDocuments)
		r.Get("/api/documents/{stem}/chunks", s.handleDocumentChunks)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"index_exists": s.orchestrator.IndexExists(),
		"queue_depth":  s.orchestrator.QueueDepth(),
	})
}
