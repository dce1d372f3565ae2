// Package cache wraps Redis for job locks, the delayed payment-review queue and short-lived tokens.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goRedis "github.com/redis/go-redis/v9"

	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/config"
)

const (
	keyPrefix       = "acemaven:"
	defaultPoolSize = 10
	pingTimeout     = 3 * time.Second
)

// NewClient connects to Redis and verifies the connection with PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goRedis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("cache: redis address is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	client := goRedis.NewClient(&goRedis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis %s: %w", addr, err)
	}
	return client, nil
}

func namespaced(parts ...string) string {
	return keyPrefix + strings.Join(parts, ":")
}

// TokenCache stores opaque strings with a TTL.
type TokenCache struct {
	client goRedis.Cmdable
}

// NewTokenCache constructs a TokenCache.
func NewTokenCache(client goRedis.Cmdable) *TokenCache {
	return &TokenCache{client: client}
}

// Get returns the cached value; ok is false when the key is absent.
func (c *TokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, namespaced("token", key)).Result()
	if errors.Is(err, goRedis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key for ttl.
func (c *TokenCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, namespaced("token", key), value, ttl).Err()
}
