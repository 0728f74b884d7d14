// Package messaging implements the event bus the tracker publishes run
// lifecycle events on. It provides an in-memory bus for single-process
// deployments and a Redis Pub/Sub bus for setups where the worker and
// one-shot CLI runs need to share events.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ErrEventBusClosed is returned for operations on a closed bus.
var ErrEventBusClosed = errors.New("event bus is closed")

// subscriberTable holds per-type and catch-all handlers behind one lock.
// Both bus implementations share it.
type subscriberTable struct {
	mu     sync.RWMutex
	byType map[shared.EventType][]shared.EventHandler
	global []shared.EventHandler
}

func newSubscriberTable() *subscriberTable {
	return &subscriberTable{byType: make(map[shared.EventType][]shared.EventHandler)}
}

func (t *subscriberTable) add(eventType shared.EventType, h shared.EventHandler) {
	t.mu.Lock()
	t.byType[eventType] = append(t.byType[eventType], h)
	t.mu.Unlock()
}

func (t *subscriberTable) addGlobal(h shared.EventHandler) {
	t.mu.Lock()
	t.global = append(t.global, h)
	t.mu.Unlock()
}

// matching returns the handlers to invoke for one event, per-type first.
func (t *subscriberTable) matching(eventType shared.EventType) []shared.EventHandler {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]shared.EventHandler, 0, len(t.byType[eventType])+len(t.global))
	out = append(out, t.byType[eventType]...)
	out = append(out, t.global...)
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures an InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on the worker pool instead of inline.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent async handlers.
	WorkerPoolSize int

	// Logger for handler failures.
	Logger *slog.Logger

	// EnableMetrics turns on publish/execution counters.
	EnableMetrics bool
}

// DefaultInMemoryEventBusConfig returns the async production configuration.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		EnableMetrics:  true,
	}
}

// InMemoryEventBus delivers events to subscribers within one process. A
// tracking run publishes on the order of ten events, so the bus optimizes
// for simplicity: one subscriber table, one bounded worker pool.
type InMemoryEventBus struct {
	subs    *subscriberTable
	async   bool
	slots   chan struct{}
	logger  *slog.Logger
	metrics *EventBusMetrics

	stateMu sync.Mutex
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewInMemoryEventBus creates a bus ready for subscriptions.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	bus := &InMemoryEventBus{
		subs:   newSubscriberTable(),
		async:  config.AsyncMode,
		slots:  make(chan struct{}, config.WorkerPoolSize),
		logger: config.Logger,
		done:   make(chan struct{}),
	}
	if config.EnableMetrics {
		bus.metrics = NewEventBusMetrics()
	}
	return bus
}

// Subscribe registers a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	if b.isClosed() {
		return ErrEventBusClosed
	}
	b.subs.add(eventType, handler)
	b.logger.Debug("subscribed handler", "event_type", eventType)
	return nil
}

// SubscribeAll registers a handler that sees every event.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	if b.isClosed() {
		return ErrEventBusClosed
	}
	b.subs.addGlobal(handler)
	b.logger.Debug("subscribed global handler")
	return nil
}

// Publish delivers an event to every matching handler. In async mode the
// call returns once handlers are queued; handler errors are logged, never
// returned, so a broken subscriber cannot fail the tracking run that
// published the event.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if b.isClosed() {
		return ErrEventBusClosed
	}

	handlers := b.subs.matching(event.EventType())
	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.EventType())
		return nil
	}

	if b.metrics != nil {
		b.metrics.RecordPublish(event.EventType())
	}

	for _, h := range handlers {
		if b.async {
			b.wg.Add(1)
			go func(h shared.EventHandler) {
				defer b.wg.Done()
				select {
				case b.slots <- struct{}{}:
					defer func() { <-b.slots }()
				case <-b.done:
					return
				}
				b.invoke(event, h)
			}(h)
		} else {
			b.invoke(event, h)
		}
	}
	return nil
}

func (b *InMemoryEventBus) invoke(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := h(event)
	elapsed := time.Since(start)

	if b.metrics != nil {
		b.metrics.RecordHandlerExecution(event.EventType(), elapsed, err == nil)
	}
	if err != nil {
		b.logger.Error("handler error",
			"event_type", event.EventType(),
			"duration", elapsed,
			"error", err,
		)
	}
}

// Close stops accepting events and waits for queued handlers to finish.
// Closing twice is a no-op.
func (b *InMemoryEventBus) Close() error {
	b.stateMu.Lock()
	if b.closed {
		b.stateMu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.stateMu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
	return nil
}

// Metrics returns the bus counters, nil when metrics are disabled.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

func (b *InMemoryEventBus) isClosed() bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.closed
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the Pub/Sub surface the Redis bus needs. The concrete
// implementation lives in the redis persistence package; tests supply fakes.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one Pub/Sub delivery, or a subscription error.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig configures a RedisEventBus.
type RedisEventBusConfig struct {
	// Client is the Redis Pub/Sub connection. Required.
	Client RedisClient

	// ChannelName is the shared channel, "guild-hub:events" by default.
	ChannelName string

	// InstanceID identifies this process so its own publishes are not
	// re-delivered. Defaults to a timestamp-derived ID.
	InstanceID string

	// LocalBusConfig configures the embedded in-memory bus.
	LocalBusConfig InMemoryEventBusConfig

	Logger *slog.Logger
}

// RedisEventBus mirrors events across processes over Redis Pub/Sub. Local
// subscribers get the original typed event; remote processes get a JSON
// envelope and rebuild a payload-only view of it. Lets the worker react to
// runs triggered from the one-shot CLI and vice versa.
type RedisEventBus struct {
	client   RedisClient
	local    *InMemoryEventBus
	channel  string
	instance string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stateMu sync.Mutex
	closed  bool
}

// eventEnvelope is the wire form of an event on the Redis channel.
type eventEnvelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// NewRedisEventBus creates the bus and starts its subscription pump.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = "guild-hub:events"
	}
	if config.InstanceID == "" {
		config.InstanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &RedisEventBus{
		client:   config.Client,
		local:    NewInMemoryEventBus(config.LocalBusConfig),
		channel:  config.ChannelName,
		instance: config.InstanceID,
		logger:   config.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	messages, err := bus.client.Subscribe(ctx, bus.channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start subscriber: %w", err)
	}
	bus.wg.Add(1)
	go bus.pump(messages)

	return bus, nil
}

// Subscribe registers a handler for one event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for every event.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish sends the event to the Redis channel and to local subscribers.
// A Redis outage degrades to local-only delivery rather than failing the
// publish.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.stateMu.Lock()
	closed := b.closed
	b.stateMu.Unlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(eventEnvelope{
		InstanceID:  b.instance,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.client.Publish(b.ctx, b.channel, string(data)); err != nil {
		b.logger.Error("failed to publish to redis", "error", err)
	}

	return b.local.Publish(event)
}

// pump relays channel messages from other instances into the local bus.
func (b *RedisEventBus) pump(messages <-chan RedisMessage) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.logger.Error("redis subscription error", "error", msg.Err)
				continue
			}
			b.relay(msg.Payload)
		}
	}
}

func (b *RedisEventBus) relay(payload string) {
	var env eventEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Error("failed to unmarshal event", "error", err)
		return
	}

	// Our own publishes already went through the local bus.
	if env.InstanceID == b.instance {
		return
	}

	if err := b.local.Publish(remoteEvent{env: env}); err != nil {
		b.logger.Error("failed to process remote event", "error", err)
	}
}

// Close stops the pump and the local bus. Closing twice is a no-op.
func (b *RedisEventBus) Close() error {
	b.stateMu.Lock()
	if b.closed {
		b.stateMu.Unlock()
		return nil
	}
	b.closed = true
	b.stateMu.Unlock()

	b.cancel()
	b.wg.Wait()

	if err := b.local.Close(); err != nil {
		b.logger.Error("failed to close local bus", "error", err)
	}
	b.logger.Info("redis event bus closed")
	return nil
}

// Metrics returns the embedded local bus counters.
func (b *RedisEventBus) Metrics() *EventBusMetrics {
	return b.local.Metrics()
}

// remoteEvent is the payload-only view of an event received over Redis.
// The concrete event type does not survive the wire; handlers that care
// about more than Payload subscribe in the publishing process.
type remoteEvent struct {
	env eventEnvelope
}

func (e remoteEvent) EventType() shared.EventType     { return e.env.EventType }
func (e remoteEvent) AggregateID() string             { return e.env.AggregateID }
func (e remoteEvent) OccurredAt() time.Time           { return e.env.OccurredAt }
func (e remoteEvent) Payload() map[string]interface{} { return e.env.Payload }

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics counts publishes and handler executions. PublishedTotal
// is lifetime; PublishedLastHour is cleared by Reset, which the worker
// calls on an hourly ticker.
type EventBusMetrics struct {
	mu sync.RWMutex

	PublishedTotal    map[shared.EventType]int64
	PublishedLastHour map[shared.EventType]int64

	HandlerExecutions    int64
	HandlerSuccesses     int64
	HandlerFailures      int64
	HandlerTotalDuration time.Duration

	LastReset time.Time
}

// NewEventBusMetrics creates zeroed counters.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{
		PublishedTotal:    make(map[shared.EventType]int64),
		PublishedLastHour: make(map[shared.EventType]int64),
		LastReset:         time.Now(),
	}
}

// RecordPublish counts one published event.
func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	m.PublishedTotal[eventType]++
	m.PublishedLastHour[eventType]++
	m.mu.Unlock()
}

// RecordHandlerExecution counts one handler invocation.
func (m *EventBusMetrics) RecordHandlerExecution(eventType shared.EventType, duration time.Duration, success bool) {
	m.mu.Lock()
	m.HandlerExecutions++
	m.HandlerTotalDuration += duration
	if success {
		m.HandlerSuccesses++
	} else {
		m.HandlerFailures++
	}
	m.mu.Unlock()
}

// Reset clears the hourly window. Lifetime totals are kept.
func (m *EventBusMetrics) Reset() {
	m.mu.Lock()
	m.PublishedLastHour = make(map[shared.EventType]int64)
	m.LastReset = time.Now()
	m.mu.Unlock()
}

// Snapshot returns an aggregate view of the counters.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var published int64
	for _, n := range m.PublishedTotal {
		published += n
	}

	var avg time.Duration
	rate := 1.0
	if m.HandlerExecutions > 0 {
		avg = m.HandlerTotalDuration / time.Duration(m.HandlerExecutions)
		rate = float64(m.HandlerSuccesses) / float64(m.HandlerExecutions)
	}

	return EventBusMetricsSnapshot{
		TotalPublished:         published,
		TotalHandlerExecs:      m.HandlerExecutions,
		HandlerSuccessRate:     rate,
		AverageHandlerDuration: avg,
		LastReset:              m.LastReset,
	}
}

// EventBusMetricsSnapshot is a point-in-time aggregate of bus counters.
type EventBusMetricsSnapshot struct {
	TotalPublished         int64
	TotalHandlerExecs      int64
	HandlerSuccessRate     float64
	AverageHandlerDuration time.Duration
	LastReset              time.Time
}
