package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/evyataryagoni/membermap/internal/limiter"
	"github.com/evyataryagoni/membermap/internal/models"
)

// RateLimitMessage is the error returned with 429 responses
const RateLimitMessage = "Rate limit exceeded. Please try again later."

// RateLimitMiddleware enforces rate limiting per client IP (returns 429 when exceeded)
func RateLimitMiddleware(lim limiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow(r.Context(), clientIP(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(models.ErrorResponse{Error: RateLimitMessage})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP picks the rate limit key
// Priority: X-Real-IP > first X-Forwarded-For entry > RemoteAddr host
func clientIP(r *http.Request) string {
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		// format: "client, proxy1, proxy2"
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RealIP rewrites RemoteAddr without a port
		return r.RemoteAddr
	}
	return host
}
