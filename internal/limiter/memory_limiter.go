package limiter

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the interface that all rate limiters must implement
// This allows us to easily swap between in-memory and Redis implementations
type Limiter interface {
	// Allow reports whether one more request for key fits in the budget
	Allow(ctx context.Context, key string) bool

	// Close cleans up any resources
	Close() error
}

// idleAfter is how long a key's bucket is kept without traffic
const idleAfter = 5 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// MemoryLimiter keeps one token bucket per key (usually the client IP)
// Suitable for single-server deployments
type MemoryLimiter struct {
	buckets sync.Map // map[string]*bucket
	limit   rate.Limit
	burst   int

	cleanupMu   sync.Mutex
	lastCleanup time.Time
}

// NewMemoryLimiter allows limit requests per window per key, with bursts
// of up to limit requests
//
// Example: NewMemoryLimiter(10, 5*time.Second) refills 2 tokens per second
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}

	return &MemoryLimiter{
		limit:       rate.Limit(float64(limit) / window.Seconds()),
		burst:       limit,
		lastCleanup: time.Now(),
	}
}

// NewMemoryLimiterPerSecond is a shorthand for fractional per-second rates
// Example: 0.2 allows one request every 5 seconds
func NewMemoryLimiterPerSecond(requestsPerSecond float64) *MemoryLimiter {
	return &MemoryLimiter{
		limit:       rate.Limit(requestsPerSecond),
		burst:       int(math.Max(1, math.Ceil(requestsPerSecond))),
		lastCleanup: time.Now(),
	}
}

// Allow takes a token from the key's bucket
func (rl *MemoryLimiter) Allow(_ context.Context, key string) bool {
	b := rl.getBucket(key)
	b.lastSeen.Store(time.Now().UnixNano())

	allowed := b.limiter.Allow()
	rl.maybeCleanup()
	return allowed
}

// getBucket gets or creates the bucket for key
func (rl *MemoryLimiter) getBucket(key string) *bucket {
	if value, ok := rl.buckets.Load(key); ok {
		return value.(*bucket)
	}

	b := &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	actual, _ := rl.buckets.LoadOrStore(key, b)
	return actual.(*bucket)
}

// maybeCleanup drops buckets idle for longer than idleAfter, at most once per idleAfter
func (rl *MemoryLimiter) maybeCleanup() {
	rl.cleanupMu.Lock()
	defer rl.cleanupMu.Unlock()

	if time.Since(rl.lastCleanup) < idleAfter {
		return
	}

	threshold := time.Now().Add(-idleAfter).UnixNano()
	rl.buckets.Range(func(key, value interface{}) bool {
		if value.(*bucket).lastSeen.Load() < threshold {
			rl.buckets.Delete(key)
		}
		return true
	})

	rl.lastCleanup = time.Now()
}

// Close is a no-op for the in-memory limiter
func (rl *MemoryLimiter) Close() error {
	return nil
}
