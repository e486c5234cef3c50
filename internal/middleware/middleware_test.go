package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/metrics"
)

func newMetricsRouter(t *testing.T) (chi.Router, *metrics.Metrics) {
	t.Helper()

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(MetricsMiddleware(m))

	r.Get("/members/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("member"))
	})
	r.Post("/members", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	r.Get("/stream", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("data: {}\n\n"))
	})
	return r, m
}

// TestMetricsMiddleware_RoutePatternLabel tests that path parameters do not leak into labels
func TestMetricsMiddleware_RoutePatternLabel(t *testing.T) {
	r, m := newMetricsRouter(t)

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/members/"+id, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/members/{id}", "200"))
	if got != 3 {
		t.Errorf("expected 3 requests for /members/{id}, got %v", got)
	}
}

// TestMetricsMiddleware_StatusAndSize tests status and request size labels
func TestMetricsMiddleware_StatusAndSize(t *testing.T) {
	r, m := newMetricsRouter(t)

	body := []byte(`{"name":"Jean"}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/members", bytes.NewReader(body)))

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/members", "201")); got != 1 {
		t.Errorf("expected 1 request with status 201, got %v", got)
	}
	if count := testutil.CollectAndCount(m.HTTPRequestSize); count != 1 {
		t.Errorf("expected one request size series, got %d", count)
	}
}

// TestMetricsMiddleware_Unmatched tests the label for unknown routes
func TestMetricsMiddleware_Unmatched(t *testing.T) {
	r, m := newMetricsRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope/1", nil))

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", unmatchedRoute, "404")); got != 1 {
		t.Errorf("expected 1 unmatched request, got %v", got)
	}
}

// TestMetricsMiddleware_KeepsFlusher tests that streaming handlers can still flush
func TestMetricsMiddleware_KeepsFlusher(t *testing.T) {
	r, _ := newMetricsRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected wrapped writer to implement http.Flusher, got status %d", rec.Code)
	}
}

// TestLoggingMiddleware tests the completion log line
func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"success logs info", http.StatusOK, "info"},
		{"client error logs warn", http.StatusNotFound, "warn"},
		{"server error logs error", http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.New(logger.Config{Level: "info", Output: &buf})

			handler := chimiddleware.RequestID(LoggingMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/members?x=1", nil))

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if len(lines) != 1 {
				t.Fatalf("expected 1 log line at info level, got %d: %q", len(lines), buf.String())
			}

			var entry map[string]interface{}
			if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
				t.Fatalf("log line is not JSON: %v", err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("expected level %s, got %v", tt.wantLevel, entry["level"])
			}
			if entry["status"] != float64(tt.status) {
				t.Errorf("expected status %d, got %v", tt.status, entry["status"])
			}
			if entry["path"] != "/v1/members" || entry["query"] != "x=1" {
				t.Errorf("unexpected path/query: %v %v", entry["path"], entry["query"])
			}
			if id, _ := entry["request_id"].(string); id == "" {
				t.Error("expected request_id field")
			}
			if entry["component"] != "http" {
				t.Errorf("expected component http, got %v", entry["component"])
			}
		})
	}
}
