// Package discord implements the Discord REST API client.
package discord

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces outgoing requests with a token bucket. A history fetch
// issues thousands of sequential page requests; without client-side pacing
// the run burns straight into Discord's per-route limits.
type RateLimiter struct {
	mu sync.Mutex

	tokens     float64 // current bucket level
	capacity   float64 // bucket size, the allowed burst
	refillRate float64 // tokens per second

	lastRefill  time.Time
	lastRequest time.Time

	minInterval  time.Duration // floor between consecutive requests
	waitTimeout  time.Duration // give up waiting after this long
	defaultPause time.Duration // pause applied on a 429 with no Retry-After

	// pausedUntil holds the deadline set by the last 429 response.
	// No request goes out before it.
	pausedUntil time.Time

	// streak counts acquisitions that had to wait, for exponential backoff.
	streak int
}

// RateLimiterConfig tunes the pacing.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate.
	RequestsPerSecond float64

	// BurstSize is how many requests may go out back to back.
	BurstSize int

	// MinInterval spaces requests even while burst tokens remain.
	MinInterval time.Duration

	// WaitTimeout bounds how long Allow blocks before giving up.
	WaitTimeout time.Duration

	// RetryAfter is the pause applied when the API rate-limits us
	// without advertising its own wait.
	RetryAfter time.Duration
}

// DefaultRateLimiterConfig returns defaults tuned for the Discord REST API.
// The bot shares its global limit with nothing else, so the sustained rate
// can sit close to the documented 50 req/s global cap while staying far
// under the per-route message-history limit.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10.0,
		BurstSize:         3,
		MinInterval:       50 * time.Millisecond,
		WaitTimeout:       30 * time.Second,
		RetryAfter:        60 * time.Second,
	}
}

// NewRateLimiter returns a limiter with a full bucket, ready to serve an
// immediate first request.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		tokens:       float64(config.BurstSize),
		capacity:     float64(config.BurstSize),
		refillRate:   config.RequestsPerSecond,
		lastRefill:   now,
		lastRequest:  now.Add(-config.MinInterval),
		minInterval:  config.MinInterval,
		waitTimeout:  config.WaitTimeout,
		defaultPause: config.RetryAfter,
	}
}

// RateLimitError is returned when the rate limit is exceeded, either locally
// or by a 429 response from the API.
type RateLimitError struct {
	// RetryAfter is the suggested wait before the next attempt.
	RetryAfter time.Duration

	// Global reports whether Discord limited the whole token, not one route.
	Global bool

	Message string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// Allow blocks until a request may proceed. It returns a RateLimitError
// when the wait would run past the configured timeout, or the context error
// on cancellation.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	deadline := time.Now().Add(rl.waitTimeout)

	for {
		wait := rl.acquire()
		if wait == 0 {
			return nil
		}

		if time.Now().Add(wait).After(deadline) {
			return &RateLimitError{
				RetryAfter: wait,
				Message:    "rate limit exceeded, retry after " + wait.String(),
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// acquire takes a token if one is available, or reports how long to wait
// before trying again.
func (rl *RateLimiter) acquire() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.refill(now)

	// A 429 pause overrides everything else.
	if now.Before(rl.pausedUntil) {
		return rl.pausedUntil.Sub(now)
	}

	if since := now.Sub(rl.lastRequest); since < rl.minInterval {
		return rl.minInterval - since
	}

	if rl.tokens < 1 {
		wait := time.Duration((1 - rl.tokens) / rl.refillRate * float64(time.Second))
		// Every consecutive dry acquisition doubles the wait, capped at 32x,
		// so a starved loop backs off instead of spinning on the clock.
		if rl.streak > 0 {
			wait *= time.Duration(1 << min(rl.streak, 5))
		}
		rl.streak++
		return wait
	}

	rl.tokens--
	rl.lastRequest = now
	rl.streak = 0
	return 0
}

// refill tops the bucket up for the time elapsed. Caller holds the lock.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now
}

// RecordRateLimitHit reacts to a 429 from the API: the bucket empties, no
// request goes out until the advertised Retry-After has passed, and the
// sustained rate drops a notch for the rest of the run.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if retryAfter <= 0 {
		retryAfter = rl.defaultPause
	}

	rl.tokens = 0
	rl.pausedUntil = time.Now().Add(retryAfter)
	rl.refillRate *= 0.8
	rl.streak++
}

// Reset restores the limiter to its initial state.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = rl.capacity
	rl.lastRefill = time.Now()
	rl.lastRequest = time.Now().Add(-rl.minInterval)
	rl.pausedUntil = time.Time{}
	rl.streak = 0
}

// RateLimiterStatus is a point-in-time snapshot for the status endpoint.
type RateLimiterStatus struct {
	AvailableTokens  float64
	MaxTokens        float64
	RefillRate       float64
	LastRefill       time.Time
	LastRequest      time.Time
	ConsecutiveWaits int
}

// Status reports the limiter's current state.
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(time.Now())

	return RateLimiterStatus{
		AvailableTokens:  rl.tokens,
		MaxTokens:        rl.capacity,
		RefillRate:       rl.refillRate,
		LastRefill:       rl.lastRefill,
		LastRequest:      rl.lastRequest,
		ConsecutiveWaits: rl.streak,
	}
}
