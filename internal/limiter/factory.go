package limiter

import (
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/logger"
)

// LimiterConfig holds configuration for creating a rate limiter
type LimiterConfig struct {
	Type   string        // "memory" or "redis"
	Limit  int           // requests allowed per window
	Window time.Duration // window length

	// Redis-specific config
	RedisClient *redis.Client
	Logger      *logger.Logger
}

// NewLimiter creates a rate limiter based on the configuration (factory pattern)
func NewLimiter(cfg LimiterConfig) (Limiter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "memory", "":
		// good for single-server deployments
		return NewMemoryLimiter(cfg.Limit, cfg.Window), nil

	case "redis":
		// required for multi-server deployments
		if cfg.RedisClient == nil {
			return nil, eris.New("limiter: redis limiter requires a client")
		}
		return NewRedisLimiter(cfg.RedisClient, cfg.Limit, cfg.Window, cfg.Logger), nil

	default:
		return nil, eris.Errorf("limiter: unknown rate limiter type: %s (supported: 'memory', 'redis')", cfg.Type)
	}
}
