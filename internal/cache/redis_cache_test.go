package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T, ttl time.Duration) (*RedisBarcodeCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisBarcodeCache(mr.Addr(), "", 0, ttl)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisBarcodeCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRedisCache(t, time.Minute)
	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Get(ctx, "7891000100103")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "7891000100103", "prd-rice-5kg"))
	id, ok, err := c.Get(ctx, "7891000100103")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "prd-rice-5kg", id)

	require.NoError(t, c.Delete(ctx, "7891000100103"))
	_, ok, err = c.Get(ctx, "7891000100103")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisBarcodeCacheExpires(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCache(t, 30*time.Second)

	require.NoError(t, c.Set(ctx, "2000000000015", "prd-cheese-kg"))
	mr.FastForward(31 * time.Second)

	_, ok, err := c.Get(ctx, "2000000000015")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisBarcodeCacheIgnoresEmptyKeys(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCache(t, time.Minute)

	require.NoError(t, c.Set(ctx, "", "prd-x"))
	require.NoError(t, c.Delete(ctx, ""))
	require.Empty(t, mr.Keys())
}

func TestRedisBarcodeCacheSurfacesConnectionErrors(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCache(t, time.Minute)
	mr.Close()

	_, _, err := c.Get(ctx, "7891000100103")
	require.Error(t, err)
}
