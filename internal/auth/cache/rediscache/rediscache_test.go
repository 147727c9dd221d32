package rediscache_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/tabauth/internal/auth/cache/rediscache"
	"github.com/aussiebroadwan/tabauth/internal/auth/service"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var _ service.VersionCache = (*rediscache.Cache)(nil)

func newCache(t *testing.T, opts ...rediscache.Option) (*rediscache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rediscache.New(rdb, opts...), mr
}

func TestCache(t *testing.T) {
	t.Parallel()

	t.Run("miss", func(t *testing.T) {
		t.Parallel()
		c, _ := newCache(t)

		_, ok, err := c.Get(t.Context(), "u1")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("set get invalidate", func(t *testing.T) {
		t.Parallel()
		c, mr := newCache(t)
		ctx := t.Context()

		require.NoError(t, c.Set(ctx, "u1", 7))
		require.True(t, mr.Exists("tabauth:token_version:u1"))

		v, ok, err := c.Get(ctx, "u1")
		require.NoError(t, err)
		require.True(t, ok)
		require.EqualValues(t, 7, v)

		require.NoError(t, c.Invalidate(ctx, "u1"))
		_, ok, err = c.Get(ctx, "u1")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("entries expire", func(t *testing.T) {
		t.Parallel()
		c, mr := newCache(t, rediscache.WithTTL(time.Minute), rediscache.WithPrefix("test:"))
		ctx := t.Context()

		require.NoError(t, c.Set(ctx, "u1", 3))
		require.Equal(t, time.Minute, mr.TTL("test:u1"))

		mr.FastForward(2 * time.Minute)
		_, ok, err := c.Get(ctx, "u1")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("corrupt value is an error", func(t *testing.T) {
		t.Parallel()
		c, mr := newCache(t)
		require.NoError(t, mr.Set("tabauth:token_version:u1", "seven"))

		_, _, err := c.Get(t.Context(), "u1")
		require.Error(t, err)
	})

	t.Run("server down", func(t *testing.T) {
		t.Parallel()
		c, mr := newCache(t)
		mr.Close()

		_, _, err := c.Get(t.Context(), "u1")
		require.Error(t, err)
		require.Error(t, c.Ping(t.Context()))
	})
}

func TestDial(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	c, err := rediscache.Dial(t.Context(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(t.Context()))

	mr.Close()
	_, err = rediscache.Dial(t.Context(), mr.Addr(), "", 0)
	require.Error(t, err)
}
