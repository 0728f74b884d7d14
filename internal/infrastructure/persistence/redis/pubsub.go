package redis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/messaging"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT BRIDGE
// Adapts the Redis connection to the event bus's transport interface: a raw
// publish plus a message channel fed by a Pub/Sub subscription. The bus owns
// envelope encoding, so messages pass through here untouched.
// ══════════════════════════════════════════════════════════════════════════════

// EventBridge implements messaging.RedisClient on top of the shared Cache
// connection.
type EventBridge struct {
	cache  *Cache
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
	wg     sync.WaitGroup
}

// NewEventBridge creates a transport bridge for the distributed event bus.
func NewEventBridge(cache *Cache, logger *slog.Logger) *EventBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBridge{
		cache:  cache,
		logger: logger.With("component", "event_bridge"),
	}
}

// Publish sends an already-encoded message to a channel. Strings and byte
// slices are written as-is; re-encoding them here would double-wrap the
// bus's envelope.
func (b *EventBridge) Publish(ctx context.Context, channel string, message interface{}) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}
	return b.cache.Client().Publish(ctx, channel, message).Err()
}

// Subscribe opens a subscription and returns a channel of incoming
// messages. The channel closes when the context is cancelled or the bridge
// is closed.
func (b *EventBridge) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := b.cache.Subscribe(ctx, channels...)

	// Confirm the subscription before handing back a channel; a dead
	// connection should fail here, not silently deliver nothing.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = sub.Close()
		return nil, ErrCacheConnection
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	out := make(chan messaging.RedisMessage, 64)
	b.wg.Add(1)
	go b.pump(ctx, sub, out)

	return out, nil
}

// pump converts go-redis messages into transport messages until the
// subscription closes.
func (b *EventBridge) pump(ctx context.Context, sub *redis.PubSub, out chan<- messaging.RedisMessage) {
	defer b.wg.Done()
	defer close(out)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			out <- messaging.RedisMessage{
				Channel: msg.Channel,
				Payload: msg.Payload,
			}
		}
	}
}

// Close terminates all subscriptions and waits for their pumps to drain.
// The underlying connection belongs to the Cache and stays open.
func (b *EventBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			b.logger.Warn("failed to close subscription", "error", err)
		}
	}

	b.wg.Wait()
	return nil
}
