package booking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestVelocityLimiter_Allow(t *testing.T) {
	_, client := setupTestRedis(t)
	limiter := NewVelocityLimiter(client, VelocityConfig{MaxAttempts: 3, Window: time.Hour}, nil)
	ctx := context.Background()

	tests := []struct {
		name        string
		key         string
		attempts    int
		wantAllowed bool
	}{
		{name: "first attempt allowed", key: "s1", attempts: 1, wantAllowed: true},
		{name: "at limit allowed", key: "s2", attempts: 3, wantAllowed: true},
		{name: "over limit blocked", key: "s3", attempts: 4, wantAllowed: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result *AttemptResult
			var err error
			for i := 0; i < tt.attempts; i++ {
				result, err = limiter.Allow(ctx, tt.key)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantAllowed, result.Allowed)
			assert.Equal(t, tt.attempts, result.CurrentCount)
			assert.Equal(t, 3, result.MaxAllowed)
		})
	}
}

func TestVelocityLimiter_WindowExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	limiter := NewVelocityLimiter(client, VelocityConfig{MaxAttempts: 1, Window: time.Minute}, nil)
	ctx := context.Background()

	res, err := limiter.Allow(ctx, "s")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "s")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	mr.FastForward(2 * time.Minute)

	res, err = limiter.Allow(ctx, "s")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestVelocityLimiter_Reset(t *testing.T) {
	_, client := setupTestRedis(t)
	limiter := NewVelocityLimiter(client, VelocityConfig{MaxAttempts: 1, Window: time.Minute}, nil)
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "s")
	res, _ := limiter.Allow(ctx, "s")
	assert.False(t, res.Allowed)

	require.NoError(t, limiter.Reset(ctx, "s"))
	res, _ = limiter.Allow(ctx, "s")
	assert.True(t, res.Allowed)
}

func TestVelocityLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	limiter := NewVelocityLimiter(client, VelocityConfig{}, nil)
	mr.Close()

	res, err := limiter.Allow(context.Background(), "s")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, "velocity check unavailable", res.Message)
}

func TestVelocityLimiter_DefaultsApplied(t *testing.T) {
	_, client := setupTestRedis(t)
	limiter := NewVelocityLimiter(client, VelocityConfig{}, nil)
	assert.Equal(t, DefaultVelocityConfig(), limiter.config)
}
