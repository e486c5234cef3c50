package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evyataryagoni/membermap/internal/logger"
)

// fixedWindowScript increments the window counter and sets its expiry on
// first use, atomically on the server
var fixedWindowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter implements distributed rate limiting using Redis
// so the budget is shared by every server instance
//
// Algorithm: fixed window counter
// Key format: "ratelimit:{key}:{window number}"
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	logger *logger.Logger
	now    func() time.Time
}

// NewRedisLimiter allows limit requests per window per key
// The client is shared and is not closed by the limiter
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, log *logger.Logger) *RedisLimiter {
	if limit < 1 {
		limit = 1
	}
	if window < time.Second {
		window = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}

	return &RedisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		logger: log.WithComponent("RedisLimiter"),
		now:    time.Now,
	}
}

// Allow counts the request in the current window
// On Redis errors the request is allowed (fail open) and a warning is logged
func (rl *RedisLimiter) Allow(ctx context.Context, key string) bool {
	windowSeconds := int64(rl.window / time.Second)
	windowNumber := rl.now().Unix() / windowSeconds
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, windowNumber)

	count, err := fixedWindowScript.Run(ctx, rl.client, []string{redisKey}, windowSeconds*2).Int64()
	if err != nil {
		rl.logger.Warn().Err(err).Str("key", key).Msg("Rate limiter unavailable, allowing request")
		return true
	}

	return count <= rl.limit
}

// Close does not close the shared client
func (rl *RedisLimiter) Close() error {
	return nil
}
