// Package cache is a small read-through cache on Redis.
//
// It only ever holds derived data (hack listings), so Redis being slow or
// down is not an error for callers: a failed read falls through to the
// loader and a failed write is logged and dropped.
//
// A nil *Cache is valid and caches nothing, so callers need no "is caching
// enabled?" branches.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/sakif/ecohacks/internal/metrics"
)

// DefaultTTL bounds how stale a cached listing can get when an
// invalidation is lost.
const DefaultTTL = 30 * time.Second

// loadTimeout bounds a shared load once it no longer follows any one
// caller's context.
const loadTimeout = 10 * time.Second

type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	sf     singleflight.Group
	logger *slog.Logger
}

// New connects to the Redis server at redisURL
// (redis://[:password@]host:port/db) and checks it answers.
func New(ctx context.Context, redisURL string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parsing redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache: pinging redis: %w", err)
	}
	return NewWithClient(rdb, ttl, logger), nil
}

// NewWithClient wraps an existing client. ttl <= 0 means DefaultTTL.
func NewWithClient(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

// GetOrLoad returns the bytes under key, calling load on a miss and storing
// its result.
//
// SINGLEFLIGHT:
// When a popular key expires, every request that misses would hit the
// database at once. singleflight.Group lets the first caller run load and
// hands its result to everyone else waiting on the same key.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if c == nil {
		return load(ctx)
	}

	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return b, nil
	case errors.Is(err, redis.Nil):
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	default:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	// Other callers may be waiting on this load, so the first caller
	// going away must not cancel it for them.
	v, err, _ := c.sf.Do(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		b, err := load(lctx)
		if err != nil {
			return nil, err
		}
		if err := c.rdb.Set(lctx, key, b, c.ttl).Err(); err != nil {
			c.logger.Warn("cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// GetOrLoadJSON is GetOrLoad for values stored as JSON.
func GetOrLoadJSON[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if c == nil {
		return load(ctx)
	}

	b, err := c.GetOrLoad(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return zero, fmt.Errorf("cache: decoding %s: %w", key, err)
	}
	return v, nil
}

// InvalidatePrefix deletes every key starting with prefix. Failures are
// logged; the TTL still bounds staleness.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	if c == nil {
		return
	}

	iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache scan failed", slog.String("prefix", prefix), slog.String("error", err.Error()))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", slog.String("prefix", prefix), slog.String("error", err.Error()))
	}
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
