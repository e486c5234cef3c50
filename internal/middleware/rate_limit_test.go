package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evyataryagoni/membermap/internal/limiter"
	"github.com/evyataryagoni/membermap/internal/models"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusCreated)
	})
}

// TestRateLimitMiddleware_ClientKey tests which address the limiter is keyed by
func TestRateLimitMiddleware_ClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote host without port", "192.0.2.10:51234", nil, "192.0.2.10"},
		{"ipv6 remote host", "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"remote addr rewritten without port", "192.0.2.10", nil, "192.0.2.10"},
		{"x-real-ip wins", "10.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.2", "X-Forwarded-For": "203.0.113.9"}, "198.51.100.2"},
		{"first forwarded entry", "10.0.0.1:80", map[string]string{"X-Forwarded-For": " 203.0.113.9 , 10.0.0.2, 10.0.0.3"}, "203.0.113.9"},
		{"empty forwarded entry falls back", "10.0.0.1:80", map[string]string{"X-Forwarded-For": " , 10.0.0.2"}, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lim := limiter.NewMockLimiter(true)
			var called bool

			req := httptest.NewRequest(http.MethodPost, "/v1/members", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			RateLimitMiddleware(lim)(okHandler(&called)).ServeHTTP(httptest.NewRecorder(), req)

			if !called {
				t.Error("expected request to reach the handler")
			}
			if len(lim.AllowCalls) != 1 || lim.AllowCalls[0] != tt.want {
				t.Errorf("expected key %q, got %v", tt.want, lim.AllowCalls)
			}
		})
	}
}

// TestRateLimitMiddleware_Rejected tests the 429 envelope
func TestRateLimitMiddleware_Rejected(t *testing.T) {
	var called bool
	req := httptest.NewRequest(http.MethodPost, "/v1/members", nil)
	rec := httptest.NewRecorder()

	RateLimitMiddleware(limiter.NewMockLimiter(false))(okHandler(&called)).ServeHTTP(rec, req)

	if called {
		t.Error("rejected request must not reach the handler")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var body models.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error != RateLimitMessage {
		t.Errorf("expected %q, got %q", RateLimitMessage, body.Error)
	}
}

// TestRateLimitMiddleware_PerClientBudget tests that clients spend separate budgets
func TestRateLimitMiddleware_PerClientBudget(t *testing.T) {
	lim := limiter.NewMemoryLimiter(2, time.Minute)
	defer lim.Close()

	var called bool
	h := RateLimitMiddleware(lim)(okHandler(&called))

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/members", nil)
		req.RemoteAddr = ip + ":40000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	want := []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}
	for i, code := range want {
		if got := send("198.51.100.1"); got != code {
			t.Errorf("request %d: expected %d, got %d", i+1, code, got)
		}
	}
	if got := send("198.51.100.2"); got != http.StatusCreated {
		t.Errorf("other client: expected 201, got %d", got)
	}
}

type ctxKey struct{}

type ctxLimiter struct {
	seen interface{}
}

func (l *ctxLimiter) Allow(ctx context.Context, _ string) bool {
	l.seen = ctx.Value(ctxKey{})
	return true
}

func (l *ctxLimiter) Close() error { return nil }

// TestRateLimitMiddleware_RequestContext tests that the limiter sees the request context
func TestRateLimitMiddleware_RequestContext(t *testing.T) {
	lim := &ctxLimiter{}
	var called bool

	req := httptest.NewRequest(http.MethodGet, "/v1/members", nil)
	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, "req-1"))
	RateLimitMiddleware(lim)(okHandler(&called)).ServeHTTP(httptest.NewRecorder(), req)

	if lim.seen != "req-1" {
		t.Errorf("expected request context, got value %v", lim.seen)
	}
}
