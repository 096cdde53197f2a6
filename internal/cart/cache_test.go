package cart

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-orderflow/internal/money"
)

func setupTestRedis(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client, 15*time.Minute), mr
}

func TestCacheRoundTrip(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	_, err := cache.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	c := &Cart{UserID: "u1", Version: 3, Items: []Item{{ItemID: "i1", ProductID: "p1", Quantity: 2, Price: money.New(40)}}}
	gen, err := cache.Generation(ctx, "u1")
	require.NoError(t, err)
	stored, err := cache.Fill(ctx, c, gen)
	require.NoError(t, err)
	assert.True(t, stored)

	ttl := mr.TTL(cacheKey("u1"))
	assert.GreaterOrEqual(t, ttl, 15*time.Minute)
	assert.Less(t, ttl, 20*time.Minute)

	got, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.True(t, got.Total().Equal(money.New(80)))

	require.NoError(t, cache.Delete(ctx, "u1"))
	assert.False(t, mr.Exists(cacheKey("u1")))
}

func TestCacheInvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("u1"), "{not json"))

	_, err := cache.Get(context.Background(), "u1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestCacheFillAfterInvalidationIsDropped(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	gen, err := cache.Generation(ctx, "u1")
	require.NoError(t, err)
	stale := &Cart{UserID: "u1", Version: 1, Items: []Item{{ItemID: "i1", ProductID: "p1", Quantity: 1, Price: money.New(40)}}}

	// a write lands between loading the cart and caching it
	require.NoError(t, cache.Delete(ctx, "u1"))

	stored, err := cache.Fill(ctx, stale, gen)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists(cacheKey("u1")))

	next, err := cache.Generation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, gen+1, next)
	stored, err = cache.Fill(ctx, &Cart{UserID: "u1", Version: 2}, next)
	require.NoError(t, err)
	assert.True(t, stored)
}
