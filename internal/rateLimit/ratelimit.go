package rateLimit

import (
	"context"
	"time"

	redisadapter "github.com/ticketline/admission/internal/adapters/redis"
)

// RateLimiter throttles per holder token and per IP with a fixed window
// in Redis. It fails open when Redis is unreachable; admission capacity
// is enforced by the queue, not here.
type RateLimiter struct {
	redis *redisadapter.Cache
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	fullKey := "rl:" + key

	pipe := rl.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, period)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return true
	}

	return incr.Val() <= int64(rate)
}
