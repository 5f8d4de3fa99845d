// Package server exposes the orchestrator over HTTP: a generation endpoint
// plus the health, metrics, cache and attempt-ledger views operators need.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/HerbHall/personagen/internal/health"
	"github.com/HerbHall/personagen/internal/ledger"
	"github.com/HerbHall/personagen/internal/orchestrator"
	"github.com/HerbHall/personagen/pkg/llm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Generator is the orchestrator surface the server depends on.
type Generator interface {
	GenerateResponse(ctx context.Context, req *llm.GenerationRequest) (*llm.GenerationResponse, error)
	Metrics() orchestrator.OrchestratorMetrics
	ProviderHealthReports() []health.ProviderHealthReport
	HealthSummary() health.Summary
	CheckHealth(ctx context.Context) []health.ProviderHealthReport
	InvalidateProvider(name string) int
	ClearCache()
	ResetCircuit(name string) error
}

// AttemptSource serves the attempt ledger. Optional.
type AttemptSource interface {
	Recent(ctx context.Context, limit int) ([]ledger.Attempt, error)
	ForRequest(ctx context.Context, requestID string) ([]ledger.Attempt, error)
	ProviderSummary(ctx context.Context) ([]ledger.ProviderStats, error)
}

// RouteRegistrar mounts additional routes on the server mux.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// ReadinessChecker returns nil when the server can serve traffic.
type ReadinessChecker func(ctx context.Context) error

// Options configures a Server. Zero values select defaults.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    float64
	RateBurst    int
	Ready        ReadinessChecker
	Attempts     AttemptSource
	Gatherer     prometheus.Gatherer   // served on /metrics; default registry when nil
	Registerer   prometheus.Registerer // receives HTTP metrics; none recorded when nil
	Routes       []RouteRegistrar
}

// Server is the personagen HTTP server.
type Server struct {
	httpServer *http.Server
	gen        Generator
	attempts   AttemptSource
	ready      ReadinessChecker
	logger     *zap.Logger
	mux        *http.ServeMux
}

var unlimitedPaths = []string{"/healthz", "/readyz", "/metrics"}

// New creates a server with routes and the middleware chain installed.
func New(gen Generator, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 60 * time.Second
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	var httpMetrics *HTTPMetrics
	if opts.Registerer != nil {
		httpMetrics = NewHTTPMetrics(opts.Registerer)
	}

	s := &Server{
		gen:      gen,
		attempts: opts.Attempts,
		ready:    opts.Ready,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes(gatherer)
	for _, r := range opts.Routes {
		r.RegisterRoutes(s.mux)
	}

	handler := Chain(s.mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, httpMetrics, unlimitedPaths),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		RateLimitMiddleware(opts.RateLimit, opts.RateBurst, unlimitedPaths),
	)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /api/v1/providers/health", s.handleProviderHealth)
	s.mux.HandleFunc("POST /api/v1/providers/{name}/reset", s.handleResetCircuit)
	s.mux.HandleFunc("GET /api/v1/metrics", s.handleMetrics)
	s.mux.HandleFunc("DELETE /api/v1/cache", s.handleClearCache)
	s.mux.HandleFunc("DELETE /api/v1/cache/providers/{name}", s.handleInvalidateProvider)
	s.mux.HandleFunc("GET /api/v1/attempts", s.handleAttempts)
	s.mux.HandleFunc("GET /api/v1/attempts/summary", s.handleAttemptSummary)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
