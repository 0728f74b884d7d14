package discord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 1000,
		BurstSize:         2,
		MinInterval:       time.Microsecond,
		WaitTimeout:       time.Second,
		RetryAfter:        5 * time.Millisecond,
	}
}

func TestAllow_BurstThenRefill(t *testing.T) {
	rl := NewRateLimiter(fastLimiterConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Allow(ctx))
	}

	status := rl.Status()
	assert.Less(t, status.AvailableTokens, status.MaxTokens)
}

func TestAllow_TimesOutWhenWaitExceedsBudget(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 0.001, // one token every ~17 minutes
		BurstSize:         1,
		MinInterval:       time.Microsecond,
		WaitTimeout:       10 * time.Millisecond,
		RetryAfter:        time.Millisecond,
	})
	ctx := context.Background()

	require.NoError(t, rl.Allow(ctx))

	err := rl.Allow(ctx)
	require.Error(t, err)
	var rateLimitErr *RateLimitError
	require.ErrorAs(t, err, &rateLimitErr)
	assert.Greater(t, rateLimitErr.RetryAfter, time.Duration(0))
}

func TestAllow_HonorsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 0.001,
		BurstSize:         1,
		MinInterval:       time.Microsecond,
		WaitTimeout:       time.Hour,
		RetryAfter:        time.Millisecond,
	})

	require.NoError(t, rl.Allow(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := rl.Allow(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecordRateLimitHit_PausesUntilRetryAfter(t *testing.T) {
	rl := NewRateLimiter(fastLimiterConfig())
	ctx := context.Background()

	require.NoError(t, rl.Allow(ctx))

	rl.RecordRateLimitHit(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, rl.Allow(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestRecordRateLimitHit_ReducesSustainedRate(t *testing.T) {
	rl := NewRateLimiter(fastLimiterConfig())
	before := rl.Status().RefillRate

	rl.RecordRateLimitHit(time.Millisecond)

	assert.InDelta(t, before*0.8, rl.Status().RefillRate, 0.01)
}

func TestReset_RestoresFullBucket(t *testing.T) {
	rl := NewRateLimiter(fastLimiterConfig())
	ctx := context.Background()

	require.NoError(t, rl.Allow(ctx))
	rl.RecordRateLimitHit(time.Hour)

	rl.Reset()

	status := rl.Status()
	assert.Equal(t, status.MaxTokens, status.AvailableTokens)
	assert.Zero(t, status.ConsecutiveWaits)

	// The hour-long pause is gone too.
	require.NoError(t, rl.Allow(ctx))
}
