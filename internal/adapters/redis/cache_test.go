package redisad_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisad "propenrich/internal/adapters/redis"
	"propenrich/internal/domain"
)

func newCache(t *testing.T) (*redisad.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redisad.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCache_RoundTripAndExpiry(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "geocode:abc", domain.Coords{Lat: 1.5, Lng: -2.5}, 60))
	assert.True(t, mr.Exists("propenrich:geocode:abc"))

	var got domain.Coords
	ok, err := c.Get(ctx, "geocode:abc", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Coords{Lat: 1.5, Lng: -2.5}, got)

	mr.FastForward(61 * time.Second)
	ok, err = c.Get(ctx, "geocode:abc", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Del(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	require.NoError(t, c.Del(ctx, "k"))

	var s string
	ok, err := c.Get(ctx, "k", &s)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Ping(t *testing.T) {
	c, mr := newCache(t)
	require.NoError(t, c.Ping(context.Background()))
	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}
