package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/authz/models"
)

type countingLoader struct {
	calls int
	data  ReferenceData
	err   error
}

func (l *countingLoader) Load(context.Context) (ReferenceData, error) {
	l.calls++
	return l.data, l.err
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisCache_ReadThroughThenHit(t *testing.T) {
	mr, client := newMiniredis(t)
	inner := &countingLoader{data: ReferenceData{
		Permissions: []models.Permission{{Code: "customers:read", Resource: "customers", Active: true}},
	}}
	cache := NewRedisCache(client, inner, WithCacheTTL(time.Minute))
	ctx := context.Background()

	first, err := cache.Load(ctx)
	require.NoError(t, err)
	second, err := cache.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists(defaultCacheKey))
	assert.Equal(t, time.Minute, mr.TTL(defaultCacheKey))
}

func TestRedisCache_ExpiryReadsThroughAgain(t *testing.T) {
	mr, client := newMiniredis(t)
	inner := &countingLoader{}
	cache := NewRedisCache(client, inner, WithCacheTTL(time.Second))
	ctx := context.Background()

	_, err := cache.Load(ctx)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	_, err = cache.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestRedisCache_Invalidate(t *testing.T) {
	mr, client := newMiniredis(t)
	cache := NewRedisCache(client, &countingLoader{}, WithCacheKey("k"))
	ctx := context.Background()

	_, err := cache.Load(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists("k"))

	require.NoError(t, cache.Invalidate(ctx))
	assert.False(t, mr.Exists("k"))
}

func TestRedisCache_CorruptEntryIsReplaced(t *testing.T) {
	mr, client := newMiniredis(t)
	require.NoError(t, mr.Set(defaultCacheKey, "{not json"))
	inner := &countingLoader{}
	cache := NewRedisCache(client, inner)

	_, err := cache.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	raw, err := mr.Get(defaultCacheKey)
	require.NoError(t, err)
	assert.NotEqual(t, "{not json", raw)
}

func TestRedisCache_OutageFallsBackToInner(t *testing.T) {
	mr, client := newMiniredis(t)
	mr.Close()
	inner := &countingLoader{}
	cache := NewRedisCache(client, inner)

	_, err := cache.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRedisCache_InnerErrorPropagates(t *testing.T) {
	_, client := newMiniredis(t)
	boom := errors.New("db down")
	cache := NewRedisCache(client, &countingLoader{err: boom})

	_, err := cache.Load(context.Background())
	assert.ErrorIs(t, err, boom)
}
