package middleware

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow increments the counter for the current window and sets its
// expiry on first use. Returns {count, ttl_ms}.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// RedisLimiter shares a fixed-window limit across every server instance.
// Each one-second window admits RequestsPerSecond plus BurstSize requests.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client redis.Scripter, cfg RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "clinic:ratelimit:",
		limit:  int64(math.Ceil(cfg.RequestsPerSecond)) + int64(cfg.BurstSize),
		window: time.Second,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := fixedWindow.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	if res[0] <= l.limit {
		return true, 0, nil
	}
	wait := time.Duration(res[1]) * time.Millisecond
	if wait <= 0 {
		wait = l.window
	}
	return false, wait, nil
}
