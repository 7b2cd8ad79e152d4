package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisLimiter(t *testing.T, limit int) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRateLimiter(client, "test:rate_limit:", limit, time.Minute), server
}

func TestRedisRateLimiter_BlocksAfterLimit(t *testing.T) {
	limiter, _ := newMiniredisLimiter(t, 2)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		decision, err := limiter.Allow(ctx, "transfers", testOwner)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, i, decision.Count)
	}

	decision, err := limiter.Allow(ctx, "transfers", testOwner)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 3, decision.Count)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, time.Minute)
}

func TestRedisRateLimiter_SubjectsAndScopesAreIndependent(t *testing.T) {
	limiter, _ := newMiniredisLimiter(t, 1)
	ctx := context.Background()

	for _, call := range [][2]string{{"transfers", testOwner}, {"transfers", otherOwner}, {"purchases", testOwner}} {
		decision, err := limiter.Allow(ctx, call[0], call[1])
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "%s/%s", call[0], call[1])
	}
}

func TestRedisRateLimiter_WindowExpires(t *testing.T) {
	limiter, server := newMiniredisLimiter(t, 1)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "transfers", testOwner)
	require.NoError(t, err)
	decision, err := limiter.Allow(ctx, "transfers", testOwner)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	server.FastForward(61 * time.Second)

	decision, err = limiter.Allow(ctx, "transfers", testOwner)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, server.Exists("test:rate_limit:transfers:"+testOwner))
}

func TestRedisRateLimiter_DisabledWithoutClient(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, "", 1, time.Minute)

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(context.Background(), "transfers", testOwner)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
}

func TestRedisRateLimiter_ReportsRedisFailure(t *testing.T) {
	limiter, server := newMiniredisLimiter(t, 1)
	server.Close()

	_, err := limiter.Allow(context.Background(), "transfers", testOwner)
	assert.Error(t, err)
}
