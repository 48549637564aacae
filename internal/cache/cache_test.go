package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseClient(t *testing.T, c Client) {
	t.Helper()
	ctx := context.Background()

	seen, err := c.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, c.Mark(ctx, "evt_1", time.Hour))
	seen, err = c.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = c.Seen(ctx, "evt_2")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, c.Ping(ctx))
}

func TestMemoryClient(t *testing.T) {
	c := NewMemory("test:")
	defer c.Close()
	exerciseClient(t, c)
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory("")
	ctx := context.Background()
	require.NoError(t, c.Mark(ctx, "short", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	seen, err := c.Seen(ctx, "short")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryPrefixesIsolate(t *testing.T) {
	a, b := NewMemory("a:"), NewMemory("b:")
	ctx := context.Background()
	require.NoError(t, a.Mark(ctx, "k", 0))
	seen, _ := b.Seen(ctx, "k")
	assert.False(t, seen)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "memcached"})
	assert.Error(t, err)
}

func TestRedisClient(t *testing.T) {
	addr := os.Getenv("TRADEPOST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRADEPOST_TEST_REDIS_ADDR not set; skipping")
	}
	c, err := New(context.Background(), Config{Driver: "redis", RedisAddr: addr, Prefix: "tradepost-test:" + time.Now().Format("150405.000") + ":"})
	require.NoError(t, err)
	defer c.Close()
	exerciseClient(t, c)
}
