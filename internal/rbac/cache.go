package rbac

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss indicates the key is absent from the cache.
var ErrCacheMiss = errors.New("rbac: cache miss")

// Cache is the distributed key-value contract the engine memoizes through.
// Implementations may fail; the engine wraps them in a best-effort adapter so
// the cache stays advisory and never load-bearing for correctness.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) error
}

// RedisCache implements Cache on a Redis client.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a RedisCache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

var _ Cache = (*RedisCache)(nil)

// Get loads a key, returning ErrCacheMiss when absent.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return payload, err
}

// Set stores a key with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes the given keys.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeletePattern removes every key matching the glob pattern. SCAN keeps the
// sweep incremental instead of blocking Redis the way KEYS would.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 200 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}

// bestEffortCache degrades every failure to a miss so evaluation proceeds
// against the stores. Failures are logged, never surfaced to callers.
type bestEffortCache struct {
	inner  Cache
	logger *slog.Logger
}

func newBestEffortCache(inner Cache, logger *slog.Logger) *bestEffortCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &bestEffortCache{inner: inner, logger: logger}
}

func (c *bestEffortCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.inner == nil {
		return nil, false
	}
	payload, err := c.inner.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("cache get failed", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}
	return payload, true
}

func (c *bestEffortCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c.inner == nil {
		return
	}
	if err := c.inner.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("cache set failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *bestEffortCache) Delete(ctx context.Context, keys ...string) {
	if c.inner == nil {
		return
	}
	if err := c.inner.Delete(ctx, keys...); err != nil {
		c.logger.Warn("cache delete failed", slog.Any("error", err))
	}
}

func (c *bestEffortCache) DeletePattern(ctx context.Context, pattern string) {
	if c.inner == nil {
		return
	}
	if err := c.inner.DeletePattern(ctx, pattern); err != nil {
		c.logger.Warn("cache delete pattern failed", slog.String("pattern", pattern), slog.Any("error", err))
	}
}
