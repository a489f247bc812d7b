// Package server implements the HTTP API for corpuscore.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lexcite/corpuscore/internal/auth"
	"github.com/lexcite/corpuscore/internal/model"
	"github.com/lexcite/corpuscore/internal/ratelimit"
	"github.com/lexcite/corpuscore/internal/retrieval"
	"github.com/lexcite/corpuscore/internal/storage"
)

// QueryService answers a grounded citation question, producing a final
// answer plus the sources it cites. Implemented by internal/pipeline.
type QueryService interface {
	Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error)
	Stream(ctx context.Context, req model.QueryRequest, emit func(model.StreamEvent) error) error
}

// SearchService answers GET /search and GET /advanced-search. Implemented
// by internal/retrieval.
type SearchService interface {
	Search(ctx context.Context, query string, mode model.SearchMode, limit int) (model.SearchResponse, error)
	AdvancedSearch(ctx context.Context, p retrieval.AdvancedSearchParams) (model.AdvancedSearchResponse, error)
}

// ReplayService serves GET /replay-packet/{run_id}. Implemented by internal/audit.
type ReplayService interface {
	ReplayPacket(ctx context.Context, runID string) (model.ReplayPacket, error)
}

// Server is the corpuscore HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// ServerConfig holds all dependencies needed to construct a Server.
type ServerConfig struct {
	DB      *storage.DB
	Query   QueryService
	Search  SearchService
	Replay  ReplayService
	Logger  *slog.Logger

	APIKey              string
	ServiceTokens       *auth.Manager // optional; validates Bearer tokens on service-to-service routes
	RateLimiter         ratelimit.Limiter
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string
	Version             string
}

// New builds a Server with every route from the routing table wired through
// the standard middleware chain.
func New(cfg ServerConfig) *Server {
	h := &Handlers{
		db:                  cfg.DB,
		query:               cfg.Query,
		search:              cfg.Search,
		replay:              cfg.Replay,
		logger:              cfg.Logger,
		maxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		version:             cfg.Version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", h.HandleQuery)
	mux.HandleFunc("POST /chat", h.HandleChat)
	mux.HandleFunc("POST /chat/stream", h.HandleChatStream)
	mux.HandleFunc("GET /search", h.HandleSearch)
	mux.HandleFunc("GET /advanced-search", h.HandleAdvancedSearch)
	mux.HandleFunc("GET /pdf/{opinion_id}", h.HandlePDF)
	mux.HandleFunc("GET /replay-packet/{run_id}", h.HandleReplayPacket)
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /metrics", h.HandleMetrics)

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → baggage → auth → rate limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger)(handler)
	if cfg.RateLimiter != nil {
		handler = ratelimit.Middleware(cfg.RateLimiter, ratelimit.IPKeyFunc)(handler)
	}
	handler = requireAPIKey(cfg.APIKey, cfg.ServiceTokens)(handler)
	handler = baggageMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger)(handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins)(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
