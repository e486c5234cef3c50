package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var ctx = context.Background()

// TestMemoryLimiter_BasicRateLimit tests basic rate limiting functionality
func TestMemoryLimiter_BasicRateLimit(t *testing.T) {
	limiter := NewMemoryLimiter(5, time.Second)
	defer limiter.Close()

	ip := "192.168.1.1"

	for i := 0; i < 5; i++ {
		if !limiter.Allow(ctx, ip) {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	if limiter.Allow(ctx, ip) {
		t.Error("Request 6 should be rate limited")
	}

	// one token refills every 200ms
	time.Sleep(300 * time.Millisecond)

	if !limiter.Allow(ctx, ip) {
		t.Error("Request should be allowed after refill")
	}
}

// TestMemoryLimiter_PerKeyIsolation tests that different keys have separate limits
func TestMemoryLimiter_PerKeyIsolation(t *testing.T) {
	limiter := NewMemoryLimiter(3, time.Second)
	defer limiter.Close()

	ip1 := "192.168.1.1"
	ip2 := "192.168.1.2"

	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, ip1) {
			t.Errorf("Request %d for IP1 should be allowed", i+1)
		}
	}

	if limiter.Allow(ctx, ip1) {
		t.Error("IP1 should be rate limited")
	}

	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, ip2) {
			t.Errorf("Request %d for IP2 should be allowed", i+1)
		}
	}
}

// TestMemoryLimiter_Window tests that the window spreads the refill
func TestMemoryLimiter_Window(t *testing.T) {
	// 2 requests per 10 seconds: burst of 2, then one token every 5s
	limiter := NewMemoryLimiter(2, 10*time.Second)
	defer limiter.Close()

	if !limiter.Allow(ctx, "k") || !limiter.Allow(ctx, "k") {
		t.Fatal("burst of 2 should be allowed")
	}

	time.Sleep(200 * time.Millisecond)
	if limiter.Allow(ctx, "k") {
		t.Error("no token should have refilled after 200ms")
	}
}

// TestMemoryLimiter_FractionalRate tests per-second rates below one
func TestMemoryLimiter_FractionalRate(t *testing.T) {
	limiter := NewMemoryLimiterPerSecond(0.2)
	defer limiter.Close()

	if !limiter.Allow(ctx, "k") {
		t.Error("first request should be allowed")
	}
	if limiter.Allow(ctx, "k") {
		t.Error("second request within 5s should be limited")
	}
}

// TestMemoryLimiter_Concurrency tests thread safety
func TestMemoryLimiter_Concurrency(t *testing.T) {
	limiter := NewMemoryLimiter(100, time.Second)
	defer limiter.Close()

	ip := "192.168.1.1"
	allowedCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup

	// 200 goroutines, double the burst
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow(ctx, ip) {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	// tolerance for tokens refilled while the goroutines ran
	if allowedCount < 100 || allowedCount > 105 {
		t.Errorf("Expected ~100 allowed requests, got %d", allowedCount)
	}
}

// TestMemoryLimiter_Close tests that Close doesn't error
func TestMemoryLimiter_Close(t *testing.T) {
	limiter := NewMemoryLimiter(10, time.Second)

	if err := limiter.Close(); err != nil {
		t.Errorf("Close should not return error, got: %v", err)
	}
}

func setupRedisLimiter(t *testing.T, limit int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl := NewRedisLimiter(client, limit, window, nil)
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }
	return rl, mr
}

// TestRedisLimiter_FixedWindow tests counting within one window
func TestRedisLimiter_FixedWindow(t *testing.T) {
	rl, mr := setupRedisLimiter(t, 3, 10*time.Second)

	for i := 0; i < 3; i++ {
		if !rl.Allow(ctx, "10.0.0.1") {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}
	if rl.Allow(ctx, "10.0.0.1") {
		t.Error("Request 4 should be rate limited")
	}
	if !rl.Allow(ctx, "10.0.0.2") {
		t.Error("other keys should have their own counter")
	}

	key := "ratelimit:10.0.0.1:170411040"
	if !mr.Exists(key) {
		t.Fatalf("expected counter key %s, have %v", key, mr.Keys())
	}
	if ttl := mr.TTL(key); ttl != 20*time.Second {
		t.Errorf("expected TTL of two windows, got %v", ttl)
	}
}

// TestRedisLimiter_NextWindow tests that a new window resets the count
func TestRedisLimiter_NextWindow(t *testing.T) {
	rl, _ := setupRedisLimiter(t, 1, time.Second)

	if !rl.Allow(ctx, "k") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow(ctx, "k") {
		t.Fatal("second request should be limited")
	}

	next := rl.now().Add(time.Second)
	rl.now = func() time.Time { return next }
	if !rl.Allow(ctx, "k") {
		t.Error("request in the next window should be allowed")
	}
}

// TestRedisLimiter_FailOpen tests that Redis errors allow traffic
func TestRedisLimiter_FailOpen(t *testing.T) {
	rl, mr := setupRedisLimiter(t, 1, time.Second)
	mr.Close()

	for i := 0; i < 3; i++ {
		if !rl.Allow(ctx, "k") {
			t.Error("requests should be allowed when Redis is down")
		}
	}
}

// TestLimiterInterface tests that both limiters implement Limiter
func TestLimiterInterface(t *testing.T) {
	var _ Limiter = (*MemoryLimiter)(nil)
	var _ Limiter = (*RedisLimiter)(nil)
	var _ Limiter = (*MockLimiter)(nil)
}

// TestNewLimiter tests the factory
func TestNewLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	tests := []struct {
		name    string
		cfg     LimiterConfig
		wantErr bool
	}{
		{"explicit memory type", LimiterConfig{Type: "memory", Limit: 10, Window: time.Second}, false},
		{"uppercase memory type", LimiterConfig{Type: "MEMORY", Limit: 10, Window: time.Second}, false},
		{"empty type defaults to memory", LimiterConfig{Limit: 10}, false},
		{"redis", LimiterConfig{Type: "redis", Limit: 10, Window: time.Second, RedisClient: client}, false},
		{"redis without client", LimiterConfig{Type: "redis", Limit: 10}, true},
		{"invalid", LimiterConfig{Type: "invalid", Limit: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, err := NewLimiter(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLimiter() error = %v", err)
			}
			defer limiter.Close()

			if !limiter.Allow(ctx, "192.168.1.1") {
				t.Error("First request should be allowed")
			}
		})
	}
}

// BenchmarkMemoryLimiter_Allow benchmarks the Allow method
func BenchmarkMemoryLimiter_Allow(b *testing.B) {
	limiter := NewMemoryLimiter(1000000, time.Second)
	defer limiter.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow(ctx, "192.168.1.1")
	}
}

// BenchmarkMemoryLimiter_AllowParallel benchmarks parallel access
func BenchmarkMemoryLimiter_AllowParallel(b *testing.B) {
	limiter := NewMemoryLimiter(1000000, time.Second)
	defer limiter.Close()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			limiter.Allow(ctx, "192.168.1.1")
		}
	})
}
