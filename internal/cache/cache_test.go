package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pysugar/area-nexus/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetDel(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "new_mail:last:date:u1", "1700000000000", 0))
	v, ok, err := c.Get(ctx, "new_mail:last:date:u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1700000000000", v)

	require.NoError(t, c.Del(ctx, "new_mail:last:date:u1"))
	require.NoError(t, c.Del(ctx, "new_mail:last:date:u1"))
	_, ok, _ = c.Get(ctx, "new_mail:last:date:u1")
	assert.False(t, ok)
}

func TestMemory_TTL(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewMemoryWithClock(clock.Now)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	clock.Advance(59 * time.Second)
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestRedis_GetSetDel(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	c := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}), "area:")
	t.Cleanup(func() { _ = c.Close() })

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "cursor", "42", time.Hour))
	v, ok, err := c.Get(ctx, "cursor")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "42", v)
	assert.True(t, srv.Exists("area:cursor"))

	srv.FastForward(2 * time.Hour)
	_, ok, err = c.Get(ctx, "cursor")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "area:1", "{}", 0))
	require.NoError(t, c.Del(ctx, "area:1"))
	assert.False(t, srv.Exists("area:area:1"))
}
