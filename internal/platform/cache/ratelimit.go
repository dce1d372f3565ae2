package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	goRedis "github.com/redis/go-redis/v9"
)

// WindowLimiter admits at most limit calls per key in each fixed window, shared by every
// instance talking to the same Redis.
type WindowLimiter struct {
	client goRedis.Cmdable
	name   string
	limit  int64
	window time.Duration
}

// NewWindowLimiter constructs a limiter whose counters live under name.
func NewWindowLimiter(client goRedis.Cmdable, name string, limit int, window time.Duration) (*WindowLimiter, error) {
	if client == nil {
		return nil, errors.New("cache: redis client is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("cache: limiter needs a positive limit and window")
	}
	return &WindowLimiter{client: client, name: name, limit: int64(limit), window: window}, nil
}

// Allow counts one call for key and reports whether it fits the current window.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	redisKey := namespaced("ratelimit", l.name, key)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return false, err
		}
	}
	return count <= l.limit, nil
}
