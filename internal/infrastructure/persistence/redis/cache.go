// Package redis provides the Redis-backed pieces of the tracker: the
// latest-report cache, the tracking-run lock, and the Pub/Sub transport
// behind the distributed event bus. All of them share one connection pool
// owned by Cache; Redis being down degrades the tracker (no cache, no
// cross-instance events) but never blocks a run.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheMiss is returned when a key does not exist or has expired.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection is returned when the Redis connection is
	// unavailable or already closed.
	ErrCacheConnection = errors.New("cache: connection unavailable")

	// ErrCacheSerialization wraps JSON encode/decode failures for cached
	// values.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	// ErrCacheKeyEmpty is returned when an operation is given an empty key
	// or channel name.
	ErrCacheKeyEmpty = errors.New("cache: key is empty")

	// ErrCacheNilValue is returned when a nil value is stored or decoded
	// into.
	ErrCacheNilValue = errors.New("cache: value is nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYSPACE
// Every key the tracker writes lives under "guild-hub:" so a shared Redis
// instance can be inspected per application.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// PrefixReport namespaces cached activity reports.
	PrefixReport = "guild-hub:report"

	// PrefixLock namespaces distributed locks.
	PrefixLock = "guild-hub:lock"
)

const (
	// TTLLatestReport keeps the latest report slightly longer than a day,
	// so it survives a late tracking run without serving week-old data.
	TTLLatestReport = 26 * time.Hour

	// TTLRunLock bounds how long a crashed run can hold the tracking lock.
	TTLRunLock = 2 * time.Hour
)

// LatestReportKey returns the key of the single latest-report slot.
func LatestReportKey() string {
	return PrefixReport + ":latest"
}

// LockKey returns the lock key for a named resource.
func LockKey(resource string) string {
	return fmt.Sprintf("%s:%s", PrefixLock, resource)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection settings.
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns settings suitable for a local Redis instance.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns the host:port address for the Redis client.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache wraps the shared Redis connection with JSON value handling. Report
// cache, run lock, and event bridge all operate through it.
type Cache struct {
	client *redis.Client
}

// NewCache connects to Redis and verifies the connection with a ping.
func NewCache(cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	return &Cache{client: client}, nil
}

// Client exposes the underlying go-redis client for operations the wrapper
// does not cover (SET NX, Lua scripts, raw publish).
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks connectivity. Used by the HTTP health endpoint.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return nil
}

// Set stores a value as JSON under key with the given TTL. A zero TTL
// stores the key without expiry.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	if value == nil {
		return ErrCacheNilValue
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return nil
}

// Get loads the JSON value stored under key into dest. Missing or expired
// keys return ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	if dest == nil {
		return ErrCacheNilValue
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

// Exists reports whether key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return n > 0, nil
}

// Subscribe opens a Pub/Sub subscription on the given channels. The caller
// owns the returned subscription and must close it.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.client.Subscribe(ctx, channels...)
}
