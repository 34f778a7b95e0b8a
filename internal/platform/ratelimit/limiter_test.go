package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	limiter := NewMemory(2, time.Minute, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "203.0.113.10")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := limiter.Allow(ctx, "203.0.113.10")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, time.Minute, d.RetryAfter)

	d, _ = limiter.Allow(ctx, "198.51.100.7")
	require.True(t, d.Allowed, "keys are independent")

	now = now.Add(time.Minute)
	d, _ = limiter.Allow(ctx, "203.0.113.10")
	require.True(t, d.Allowed, "window resets")
	require.Equal(t, 1, d.Remaining)
}

func TestDisabledLimitersAllowEverything(t *testing.T) {
	memory := NewMemory(0, time.Minute, nil)
	d, err := memory.Allow(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	shared := NewRedis(nil, "orders", 5, time.Minute)
	d, err = shared.Allow(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestRedisLimiterSharedWindow(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	first := NewRedis(client, "orders", 2, time.Minute)
	second := NewRedis(client, "orders", 2, time.Minute)

	d, err := first.Allow(ctx, "203.0.113.10")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)

	d, err = second.Allow(ctx, "203.0.113.10")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = first.Allow(ctx, "203.0.113.10")
	require.NoError(t, err)
	require.False(t, d.Allowed, "instances share the counter")
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, time.Minute)

	server.FastForward(time.Minute + time.Second)
	d, err = first.Allow(ctx, "203.0.113.10")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestRedisLimiterSurfacesErrors(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	server.Close()

	_, err := NewRedis(client, "orders", 2, time.Minute).Allow(context.Background(), "k")
	require.Error(t, err)

	_, err = NewRedisClient(context.Background(), addr, "")
	require.Error(t, err)
}
