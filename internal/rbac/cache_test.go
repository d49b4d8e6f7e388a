package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "rbac:test:key", []byte("1"), time.Minute))

	payload, err := cache.Get(ctx, "rbac:test:key")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), payload)

	require.NoError(t, cache.Delete(ctx, "rbac:test:key"))

	_, err = cache.Get(ctx, "rbac:test:key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCacheTTL(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "rbac:test:key", []byte("1"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := cache.Get(ctx, "rbac:test:key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCacheDeletePattern(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "rbac:check:user-a:x", []byte("1"), time.Minute))
	require.NoError(t, cache.Set(ctx, "rbac:check:user-a:y", []byte("0"), time.Minute))
	require.NoError(t, cache.Set(ctx, "rbac:check:user-b:x", []byte("1"), time.Minute))

	require.NoError(t, cache.DeletePattern(ctx, "rbac:check:user-a:*"))

	assert.False(t, mr.Exists("rbac:check:user-a:x"))
	assert.False(t, mr.Exists("rbac:check:user-a:y"))
	assert.True(t, mr.Exists("rbac:check:user-b:x"))
}

func TestBestEffortCacheSwallowsFailures(t *testing.T) {
	inner, mr := newTestRedisCache(t)
	cache := newBestEffortCache(inner, nil)
	ctx := context.Background()

	cache.Set(ctx, "rbac:test:key", []byte("1"), time.Minute)
	payload, ok := cache.Get(ctx, "rbac:test:key")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), payload)

	mr.Close()

	// All operations degrade to misses/no-ops once the backend is gone.
	cache.Set(ctx, "rbac:test:other", []byte("1"), time.Minute)
	_, ok = cache.Get(ctx, "rbac:test:other")
	assert.False(t, ok)
	cache.Delete(ctx, "rbac:test:key")
	cache.DeletePattern(ctx, "rbac:*")
}

func TestBestEffortCacheNilInner(t *testing.T) {
	cache := newBestEffortCache(nil, nil)
	ctx := context.Background()

	cache.Set(ctx, "k", []byte("1"), time.Minute)
	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
	cache.Delete(ctx, "k")
	cache.DeletePattern(ctx, "*")
}
