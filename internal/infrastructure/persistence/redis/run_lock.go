package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN LOCK
// At most one tracking run may execute at a time: concurrent runs would
// double-archive log entries and race on the latest-report slot. The lock is
// a SET NX key with a TTL, so a crashed run cannot block tracking forever.
// ══════════════════════════════════════════════════════════════════════════════

// runLockResource names the lock key shared by every process that starts
// tracking runs (worker scheduler, one-shot CLI, HTTP trigger).
const runLockResource = "tracking-run"

// releaseScript deletes the lock only while the holder's token still
// matches. A lock that expired and was re-acquired by another run must not
// be deleted by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RunLock is a Redis-backed distributed lock for tracking runs.
type RunLock struct {
	cache *Cache
	ttl   time.Duration
}

// NewRunLock creates a run lock. Zero or negative TTL uses TTLRunLock.
func NewRunLock(cache *Cache, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = TTLRunLock
	}
	return &RunLock{
		cache: cache,
		ttl:   ttl,
	}
}

// Acquire takes the lock and returns a release function. When another
// process already holds it, shared.ErrRunInProgress is returned.
func (l *RunLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	key := LockKey(runLockResource)
	token := uuid.New().String()

	ok, err := l.cache.Client().SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, shared.ErrRunInProgress
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.cache.Client(), []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release run lock: %w", err)
		}
		return nil
	}
	return release, nil
}

// Held reports whether the lock is currently taken by any process.
func (l *RunLock) Held(ctx context.Context) (bool, error) {
	return l.cache.Exists(ctx, LockKey(runLockResource))
}
