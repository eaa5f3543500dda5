package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheKey = "aegis:authz:reference"
	defaultCacheTTL = 5 * time.Minute
)

// RedisCache fronts a Loader with a shared Redis copy of the reference data so
// a fleet of instances does not hammer the permission tables on every refresh.
// A Redis outage degrades to reading the inner loader directly.
type RedisCache struct {
	client redis.Cmdable
	inner  Loader
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// CacheOption configures a RedisCache.
type CacheOption func(*RedisCache)

// WithCacheKey overrides the Redis key.
func WithCacheKey(key string) CacheOption {
	return func(c *RedisCache) {
		if key != "" {
			c.key = key
		}
	}
}

// WithCacheTTL overrides how long the cached copy lives.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *RedisCache) {
		c.logger = logger
	}
}

// NewRedisCache wraps inner.
func NewRedisCache(client redis.Cmdable, inner Loader, opts ...CacheOption) *RedisCache {
	c := &RedisCache{
		client: client,
		inner:  inner,
		key:    defaultCacheKey,
		ttl:    defaultCacheTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load serves the cached copy when present, otherwise reads through.
func (c *RedisCache) Load(ctx context.Context) (ReferenceData, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		var data ReferenceData
		jsonErr := json.Unmarshal(raw, &data)
		if jsonErr == nil {
			return data, nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable reference cache entry", "key", c.key, "error", jsonErr)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WarnContext(ctx, "reference cache unavailable, reading through", "key", c.key, "error", err)
	}

	data, err := c.inner.Load(ctx)
	if err != nil {
		return ReferenceData{}, err
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return data, nil
	}
	if err := c.client.Set(ctx, c.key, encoded, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "failed to populate reference cache", "key", c.key, "error", err)
	}
	return data, nil
}

// Invalidate drops the cached copy so the next Load reads through.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}
