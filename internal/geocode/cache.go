package geocode

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/metrics"
)

const (
	// InteractiveDelay spaces provider calls made on behalf of a user.
	InteractiveDelay = 100 * time.Millisecond

	// BatchDelay spaces provider calls made by bulk tooling.
	BatchDelay = time.Second
)

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithDelay sets the minimum spacing between two provider calls.
// Zero disables spacing.
func WithDelay(d time.Duration) CacheOption {
	return func(c *Cache) {
		c.delay = d
	}
}

// WithBackend persists the cache through b. Entries are loaded eagerly
// when the cache is built.
func WithBackend(b Backend) CacheOption {
	return func(c *Cache) {
		c.backend = b
	}
}

// WithMetrics records hit/miss counters.
func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithCacheLogger sets the cache logger.
func WithCacheLogger(l *logger.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = l
	}
}

// Cache memoizes a Provider by normalized address. Both resolved and
// unresolvable outcomes are cached for the lifetime of the Cache. Hits
// never wait; misses are spaced by the configured delay.
type Cache struct {
	provider Provider
	backend  Backend
	delay    time.Duration
	limiter  *rate.Limiter
	group    singleflight.Group
	metrics  *metrics.Metrics
	logger   *logger.Logger

	mu      sync.RWMutex
	entries map[string]Entry

	// dirty holds entries not yet accepted by the backend; persistMu
	// serializes Save calls so the backend sees merges in order.
	persistMu sync.Mutex
	dirty     map[string]Entry
}

// NewCache builds a cache in front of provider. When a backend is set its
// entries are loaded before NewCache returns; a load failure is logged and
// the cache starts with whatever could be read.
func NewCache(ctx context.Context, provider Provider, opts ...CacheOption) *Cache {
	c := &Cache{
		provider: provider,
		delay:    InteractiveDelay,
		entries:  make(map[string]Entry),
		dirty:    make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Nop()
	}
	c.logger = c.logger.WithComponent("GeocodeCache")

	if c.delay > 0 {
		c.limiter = rate.NewLimiter(rate.Every(c.delay), 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	if c.backend != nil {
		c.load(ctx)
	}
	return c
}

func (c *Cache) load(ctx context.Context) {
	loaded, err := c.backend.Load(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Int("recovered", len(loaded)).Msg("Failed to load persisted geocode cache")
	}

	// keys are normalized the way Resolve looks them up
	normalized := make(map[string]Entry, len(loaded))
	for addr, e := range loaded {
		key := NormalizeAddress(addr)
		if key == "" {
			continue
		}
		if prev, ok := normalized[key]; ok && prev.Resolved {
			continue
		}
		normalized[key] = e
	}

	c.mu.Lock()
	for key, e := range normalized {
		if _, exists := c.entries[key]; !exists {
			c.entries[key] = e
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	c.setSizeGauge(n)
	c.logger.Info().Int("entries", n).Msg("Geocode cache loaded")
}

// Resolve returns the cached outcome for address, asking the provider on
// a miss. The returned error is non-nil only when ctx ends before the
// lookup completes; nothing is cached in that case.
func (c *Cache) Resolve(ctx context.Context, address string) (Entry, error) {
	key := NormalizeAddress(address)
	if key == "" {
		return Entry{}, nil
	}

	if e, ok := c.lookup(key); ok {
		c.count("hit")
		return e, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// a concurrent flight may have filled the entry
		if e, ok := c.lookup(key); ok {
			return e, nil
		}
		return c.fetch(ctx, key)
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Peek returns the cached outcome without contacting the provider.
func (c *Cache) Peek(address string) (Entry, bool) {
	return c.lookup(NormalizeAddress(address))
}

// Len returns the number of cached addresses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Flush retries persisting entries a previous Save failed to write.
func (c *Cache) Flush(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	return c.persist(ctx)
}

func (c *Cache) lookup(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) fetch(ctx context.Context, key string) (Entry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Entry{}, err
	}

	start := time.Now()
	coords := c.provider.Geocode(ctx, key)
	if c.metrics != nil {
		c.metrics.GeocodeProviderDuration.Observe(time.Since(start).Seconds())
	}

	// a cancelled request looks like a no-match; do not remember it
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	var e Entry
	if coords != nil {
		e = ResolvedEntry(coords.Latitude, coords.Longitude)
		c.count("miss")
	} else {
		c.count("unresolvable")
	}

	c.mu.Lock()
	c.entries[key] = e
	n := len(c.entries)
	c.mu.Unlock()
	c.setSizeGauge(n)

	c.logger.Debug().
		Str("address", key).
		Bool("resolved", e.Resolved).
		Msg("Geocode cache miss")

	if c.backend != nil {
		c.persistMu.Lock()
		c.dirty[key] = e
		c.persistMu.Unlock()

		if err := c.persist(ctx); err != nil {
			c.logger.Error().Err(err).Str("address", key).Msg("Failed to persist geocode cache")
		}
	}

	return e, nil
}

func (c *Cache) persist(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	if len(c.dirty) == 0 {
		return nil
	}

	batch := make(map[string]Entry, len(c.dirty))
	for k, v := range c.dirty {
		batch[k] = v
	}

	// a cancelled caller must not abort the durable write
	if err := c.backend.Save(context.WithoutCancel(ctx), batch); err != nil {
		return err
	}

	for k := range batch {
		delete(c.dirty, k)
	}
	return nil
}

func (c *Cache) count(result string) {
	if c.metrics != nil {
		c.metrics.GeocodeLookupsTotal.WithLabelValues(result).Inc()
	}
}

func (c *Cache) setSizeGauge(n int) {
	if c.metrics != nil {
		c.metrics.GeocodeCacheEntries.Set(float64(n))
	}
}
