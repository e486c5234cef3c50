package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evyataryagoni/membermap/internal/handler"
	"github.com/evyataryagoni/membermap/internal/limiter"
	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/metrics"
	custommiddleware "github.com/evyataryagoni/membermap/internal/middleware"
	v1 "github.com/evyataryagoni/membermap/internal/router/v1"
)

// Options holds everything the router needs
type Options struct {
	Members *handler.MemberHandler
	Events  *handler.EventsHandler
	Geocode *handler.GeocodeHandler

	RateLimiter    limiter.Limiter
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer // served on /metrics; defaults to the global registry
	Logger         *logger.Logger
	AllowedOrigins []string
}

// SetupRouter creates and configures the Chi router with all middleware and routes
// This separates routing logic from the main application setup
func SetupRouter(opts Options) chi.Router {
	r := chi.NewRouter()

	// Order matters! RequestID should be first, then logging, then rate limiting
	r.Use(middleware.RequestID)                                   // Add unique request ID to each request
	r.Use(middleware.RealIP)                                      // Get real client IP (handles proxies/load balancers)
	r.Use(custommiddleware.LoggingMiddleware(opts.Logger))        // Structured logging
	r.Use(middleware.Recoverer)                                   // Recover from panics and return 500
	r.Use(corsHandler(opts.AllowedOrigins))                       // Browser clients on other origins
	r.Use(custommiddleware.RateLimitMiddleware(opts.RateLimiter)) // Rate limiting per IP
	r.Use(custommiddleware.MetricsMiddleware(opts.Metrics))       // Collect Prometheus metrics

	// Mount v1 API routes under /v1 prefix
	r.Mount("/v1", v1.SetupRoutes(opts.Members, opts.Events, opts.Geocode))

	// Root-level routes (not versioned)
	r.Get("/health", handler.Health)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	})
}
