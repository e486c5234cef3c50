package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/evyataryagoni/membermap/internal/metrics"
)

// unmatchedRoute labels requests that no route matched, keeping label cardinality bounded
const unmatchedRoute = "unmatched"

// MetricsMiddleware records HTTP metrics for each request
// Endpoints are labelled by route pattern, not raw path
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi's wrapper keeps http.Flusher, which the event stream needs
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start).Seconds()
			endpoint := routePattern(r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			statusLabel := strconv.Itoa(status)

			if r.ContentLength > 0 {
				m.HTTPRequestSize.WithLabelValues(r.Method, endpoint).Observe(float64(r.ContentLength))
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, statusLabel).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, endpoint, statusLabel).Observe(duration)
			m.HTTPResponseSize.WithLabelValues(r.Method, endpoint, statusLabel).Observe(float64(ww.BytesWritten()))
		})
	}
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}
