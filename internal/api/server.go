package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(MetricsMiddleware)      // Prometheus request metrics
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Get("/recommendations", handler.Recommend)

	router.Route("/rules", func(r chi.Router) {
		r.Get("/", handler.ListRules)
		r.Post("/", handler.CreateRule)
		r.Get("/active", handler.ListActiveRules)
		r.Get("/{id}", handler.GetRule)
		r.Put("/{id}", handler.UpdateRule)
		r.Patch("/{id}/status", handler.SetRuleStatus)
		r.Delete("/{id}", handler.DeleteRule)
		r.Get("/{id}/executions", handler.ListRuleExecutions)
		r.Get("/{id}/executions/summary", handler.RuleExecutionSummary)
	})

	router.Route("/executions", func(r chi.Router) {
		r.Get("/summary", handler.ExecutionSummary)
		r.Get("/{id}", handler.GetExecution)
		r.Delete("/{id}", handler.DeleteExecution)
	})

	router.Route("/customers/{id}", func(r chi.Router) {
		r.Get("/executions", handler.ListCustomerExecutions)
		r.Get("/transactions/stats", handler.TransactionStats)
	})

	router.Route("/statistics", func(r chi.Router) {
		r.Get("/", handler.OverallStatistics)
		r.Get("/rules/{id}", handler.RuleStatistics)
		r.Get("/customers/{id}", handler.CustomerStatistics)
		r.Post("/events", handler.RecordStatisticsEvent)
		r.Post("/clear", handler.ClearStatistics)
	})

	router.Route("/management", func(r chi.Router) {
		r.Get("/cache-stats", handler.CacheStats)
		r.Post("/clear-caches", handler.ClearCaches)
		r.Get("/info", handler.Info)
	})

	router.Get("/catalog", handler.Catalog)
	router.Post("/products", handler.CreateProduct)
	router.Post("/transactions", handler.CreateTransaction)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
