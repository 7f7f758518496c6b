package verification

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, 30*time.Second), srv
}

func TestRedisCacheMissReturnsNotFound(t *testing.T) {
	cache, _ := newTestCache(t)

	state, ok, err := cache.Get(context.Background(), "asset-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, state)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	want := DerivedState{
		AssetID:                 "asset-1",
		Status:                  StatusVerifiedActive,
		LastVerificationEventID: "evt-grant",
		AssetStateHashCurrent:   "state-a",
		EvidenceSetHashCurrent:  "evid-a",
	}
	require.NoError(t, cache.Set(ctx, want))

	got, ok, err := cache.Get(ctx, "asset-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, *got)
}

func TestRedisCacheEntriesExpire(t *testing.T) {
	cache, srv := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, DerivedState{AssetID: "asset-1", Status: StatusNone}))
	srv.FastForward(time.Minute)

	_, ok, err := cache.Get(ctx, "asset-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, DerivedState{AssetID: "asset-1", Status: StatusFrozen}))
	require.NoError(t, cache.Invalidate(ctx, "asset-1"))

	_, ok, err := cache.Get(ctx, "asset-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheCorruptEntrySurfacesError(t *testing.T) {
	cache, srv := newTestCache(t)

	require.NoError(t, srv.Set(cacheKey("asset-1"), "{not json"))
	_, _, err := cache.Get(context.Background(), "asset-1")
	assert.Error(t, err)
}
