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

func newTestCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisWithClient(client, ttl)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()
	key := Key("gemini:m", "sys", "user")

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, `[{"projectName":"X"}]`))

	val, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"projectName":"X"}]`, val)
	assert.Equal(t, time.Hour, mr.TTL(key))
}

func TestRedisCacheExpiry(t *testing.T) {
	c, mr := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v"))
	assert.Equal(t, DefaultTTL, mr.TTL("k"))

	mr.FastForward(DefaultTTL + time.Second)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheUnavailable(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestNewRedisPingFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedis(ctx, Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	a := Key("gemini:m", "sys", "user")
	assert.Equal(t, a, Key("gemini:m", "sys", "user"))
	assert.NotEqual(t, a, Key("anthropic:m", "sys", "user"))
	assert.NotEqual(t, Key("g", "ab", "c"), Key("g", "a", "bc"))
	assert.Contains(t, a, "gridline:llm:")
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	require.NoError(t, c.Set(context.Background(), "k", "v"))
	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
