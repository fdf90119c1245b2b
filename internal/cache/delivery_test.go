package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*DeliveryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDeliveryCache(client, ttl), mr
}

func TestDeliveryCache_Claim(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	first, err := c.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := c.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, second)

	other, err := c.Claim(ctx, "evt_2")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestDeliveryCache_Expires(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	_, err := c.Claim(ctx, "evt_1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	again, err := c.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestDeliveryCache_Release(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	_, err := c.Claim(ctx, "evt_1")
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, "evt_1"))

	again, err := c.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestDeliveryCache_Nil(t *testing.T) {
	var c *DeliveryCache
	ok, err := c.Claim(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, c.Release(context.Background(), "evt_1"))
}

func TestDeliveryCache_ServerDown(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	mr.Close()

	_, err := c.Claim(context.Background(), "evt_1")
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	_, err = NewRedisClient(context.Background(), "")
	assert.Error(t, err)
}
