package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher sits between the event bus and the application's event
// handlers. The bus is fire-and-forget; the dispatcher adds what the
// handlers need on top of it: middleware, per-handler timeouts, retry with
// backoff, and a dead letter queue so a failed role sync after a run is
// inspectable instead of lost.
type Dispatcher struct {
	eventBus    shared.EventBus
	handlers    map[shared.EventType][]HandlerRegistration
	middlewares []Middleware
	retryConfig RetryConfig
	deadLetterQ *DeadLetterQueue
	workerPool  chan struct{}
	metrics     *DispatcherMetrics
	logger      *slog.Logger

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// HandlerRegistration describes one handler and its execution bounds.
type HandlerRegistration struct {
	Name    string
	Handler shared.EventHandler

	// Async handlers cannot fail the dispatch; their errors end in the
	// dead letter queue. Sync handler errors surface to the publisher.
	Async bool

	// MaxRetries per dispatch; zero takes the dispatcher default.
	MaxRetries int

	// Timeout per attempt; zero takes 30s.
	Timeout time.Duration
}

// RetryConfig shapes the backoff between handler attempts.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the production retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	EventBus              shared.EventBus
	WorkerPoolSize        int
	RetryConfig           RetryConfig
	EnableDeadLetterQueue bool
	DeadLetterQueueSize   int
	Logger                *slog.Logger
}

// DefaultDispatcherConfig returns production defaults around the given bus.
func DefaultDispatcherConfig(eventBus shared.EventBus) DispatcherConfig {
	return DispatcherConfig{
		EventBus:              eventBus,
		WorkerPoolSize:        10,
		RetryConfig:           DefaultRetryConfig(),
		EnableDeadLetterQueue: true,
		DeadLetterQueueSize:   1000,
	}
}

// NewDispatcher creates a dispatcher. Call Start to begin receiving bus
// events; Dispatch works immediately for direct delivery.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		eventBus:    config.EventBus,
		handlers:    make(map[shared.EventType][]HandlerRegistration),
		retryConfig: config.RetryConfig,
		workerPool:  make(chan struct{}, config.WorkerPoolSize),
		metrics:     NewDispatcherMetrics(),
		logger:      config.Logger,
		ctx:         ctx,
		cancel:      cancel,
	}
	if config.EnableDeadLetterQueue {
		d.deadLetterQ = NewDeadLetterQueue(config.DeadLetterQueueSize)
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// RegisterHandler registers a handler with explicit execution bounds.
func (d *Dispatcher) RegisterHandler(eventType shared.EventType, reg HandlerRegistration) error {
	if reg.Handler == nil {
		return errors.New("handler cannot be nil")
	}
	d.normalize(&reg)

	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], reg)
	d.mu.Unlock()

	d.logger.Debug("registered handler",
		"event_type", eventType,
		"handler_name", reg.Name,
		"async", reg.Async,
	)
	return nil
}

// normalize fills the registration's zero fields with dispatcher defaults.
func (d *Dispatcher) normalize(reg *HandlerRegistration) {
	if reg.Name == "" {
		reg.Name = fmt.Sprintf("handler-%d", time.Now().UnixNano())
	}
	if reg.MaxRetries <= 0 {
		reg.MaxRetries = d.retryConfig.MaxRetries
	}
	if reg.Timeout <= 0 {
		reg.Timeout = 30 * time.Second
	}
}

// Register registers an async handler with default bounds.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	return d.RegisterHandler(eventType, HandlerRegistration{Name: name, Handler: handler, Async: true})
}

// RegisterSync registers a handler whose errors surface to the publisher.
func (d *Dispatcher) RegisterSync(eventType shared.EventType, name string, handler shared.EventHandler) error {
	return d.RegisterHandler(eventType, HandlerRegistration{Name: name, Handler: handler})
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution. The first Use'd middleware is the
// outermost.
type Middleware func(shared.EventHandler) shared.EventHandler

// Use appends a middleware to the chain.
func (d *Dispatcher) Use(middleware Middleware) {
	d.mu.Lock()
	d.middlewares = append(d.middlewares, middleware)
	d.mu.Unlock()
}

// RecoveryMiddleware converts a handler panic into an error.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic recovered",
						"event_type", event.EventType(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs each handler invocation with its duration.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			elapsed := time.Since(start)

			if err != nil {
				logger.Error("handler failed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", elapsed,
					"error", err,
				)
			} else {
				logger.Debug("handler completed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", elapsed,
				)
			}
			return err
		}
	}
}

// MetricsMiddleware records handler executions on the given metrics.
func MetricsMiddleware(metrics *DispatcherMetrics) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			metrics.RecordExecution(event.EventType(), time.Since(start), err == nil)
			return err
		}
	}
}

// TimeoutMiddleware bounds a single handler invocation. The handler
// goroutine keeps running past the deadline; the dispatch just stops
// waiting for it.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			return awaitHandler(next, event, timeout, nil)
		}
	}
}

// awaitHandler runs the handler in its own goroutine and waits for the
// first of: completion, the timeout, or cancellation. The goroutine is
// abandoned past the deadline since handlers take no context.
func awaitHandler(handler shared.EventHandler, event shared.Event, timeout time.Duration, cancel <-chan struct{}) error {
	done := make(chan error, 1)
	go func() { done <- handler(event) }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("handler timeout after %v", timeout)
	case <-cancel:
		return context.Canceled
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHING
// ══════════════════════════════════════════════════════════════════════════════

// Start subscribes the dispatcher to every bus event.
func (d *Dispatcher) Start() error {
	return d.eventBus.SubscribeAll(func(event shared.Event) error {
		return d.dispatch(event)
	})
}

// Dispatch delivers one event to its registered handlers, bypassing the
// bus. Returns once every handler (async included) has finished; only sync
// handler errors are returned.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	return d.dispatch(event)
}

func (d *Dispatcher) dispatch(event shared.Event) error {
	d.mu.RLock()
	regs := d.handlers[event.EventType()]
	chain := d.middlewares
	d.mu.RUnlock()

	if len(regs) == 0 {
		return nil
	}
	d.metrics.RecordDispatch(event.EventType())

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var syncErrs []error

	for _, reg := range regs {
		if reg.Async {
			wg.Add(1)
			go func(r HandlerRegistration) {
				defer wg.Done()
				d.runHandler(event, r, chain)
			}(reg)
			continue
		}
		if err := d.runHandler(event, reg, chain); err != nil {
			errMu.Lock()
			syncErrs = append(syncErrs, err)
			errMu.Unlock()
		}
	}
	wg.Wait()

	if len(syncErrs) > 0 {
		return fmt.Errorf("sync handler errors: %v", syncErrs)
	}
	return nil
}

// runHandler executes one registration with middleware, timeout, and
// retries. Exhausted retries record the event in the dead letter queue.
func (d *Dispatcher) runHandler(event shared.Event, reg HandlerRegistration, chain []Middleware) error {
	select {
	case d.workerPool <- struct{}{}:
		defer func() { <-d.workerPool }()
	case <-d.ctx.Done():
		return d.ctx.Err()
	}

	handler := reg.Handler
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}

	var lastErr error
	for attempt := 0; attempt <= reg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := d.calculateBackoff(attempt)
			d.logger.Debug("retrying handler",
				"handler", reg.Name,
				"attempt", attempt,
				"backoff", backoff,
			)
			select {
			case <-d.ctx.Done():
				return d.ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := d.attempt(handler, event, reg.Timeout)
		if err == nil {
			if attempt > 0 {
				d.metrics.RecordRetrySuccess()
			}
			return nil
		}
		lastErr = err
		d.logger.Warn("handler attempt failed",
			"handler", reg.Name,
			"attempt", attempt,
			"error", err,
		)
	}

	if d.deadLetterQ != nil {
		d.deadLetterQ.Add(DeadLetterEntry{
			Event:       event,
			HandlerName: reg.Name,
			Error:       lastErr,
			Attempts:    reg.MaxRetries + 1,
			FailedAt:    time.Now(),
		})
	}
	d.metrics.RecordFailure()
	return fmt.Errorf("handler %s failed after %d retries: %w", reg.Name, reg.MaxRetries+1, lastErr)
}

// attempt runs the handler once, bounded by the per-attempt timeout and
// the dispatcher lifetime.
func (d *Dispatcher) attempt(handler shared.EventHandler, event shared.Event, timeout time.Duration) error {
	return awaitHandler(handler, event, timeout, d.ctx.Done())
}

// calculateBackoff returns the wait before retry `attempt` (1-based),
// growing geometrically from InitialBackoff and capped at MaxBackoff.
func (d *Dispatcher) calculateBackoff(attempt int) time.Duration {
	backoff := float64(d.retryConfig.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= d.retryConfig.BackoffMultiplier
	}
	if limit := float64(d.retryConfig.MaxBackoff); backoff > limit {
		backoff = limit
	}
	return time.Duration(backoff)
}

// Stop cancels in-flight retries and backoff waits. Idempotent.
func (d *Dispatcher) Stop() error {
	d.cancel()
	d.logger.Info("dispatcher stopped")
	return nil
}

// Metrics returns the dispatcher counters.
func (d *Dispatcher) Metrics() *DispatcherMetrics {
	return d.metrics
}

// DeadLetterQueue returns the dead letter queue, nil when disabled.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetterQ
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is one event a handler could not process.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterQueue is a bounded FIFO of failed events. At capacity the
// oldest entry is dropped; the queue exists for operator inspection, not
// durable delivery.
type DeadLetterQueue struct {
	mu      sync.RWMutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a queue holding at most maxSize entries.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends an entry, evicting the oldest at capacity.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of the queued entries, oldest first.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]DeadLetterEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Size returns the number of queued entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// Clear drops every entry.
func (q *DeadLetterQueue) Clear() {
	q.mu.Lock()
	q.entries = nil
	q.mu.Unlock()
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherMetrics counts dispatches and handler outcomes.
type DispatcherMetrics struct {
	mu sync.RWMutex

	DispatchedTotal    map[shared.EventType]int64
	DispatchedLastHour map[shared.EventType]int64

	ExecutionsTotal int64
	SuccessTotal    int64
	FailuresTotal   int64
	RetriesTotal    int64
	TotalDuration   time.Duration

	LastReset time.Time
}

// NewDispatcherMetrics creates zeroed counters.
func NewDispatcherMetrics() *DispatcherMetrics {
	return &DispatcherMetrics{
		DispatchedTotal:    make(map[shared.EventType]int64),
		DispatchedLastHour: make(map[shared.EventType]int64),
		LastReset:          time.Now(),
	}
}

// RecordDispatch counts a dispatched event that had handlers.
func (m *DispatcherMetrics) RecordDispatch(eventType shared.EventType) {
	m.mu.Lock()
	m.DispatchedTotal[eventType]++
	m.DispatchedLastHour[eventType]++
	m.mu.Unlock()
}

// RecordExecution counts one handler invocation.
func (m *DispatcherMetrics) RecordExecution(eventType shared.EventType, duration time.Duration, success bool) {
	m.mu.Lock()
	m.ExecutionsTotal++
	m.TotalDuration += duration
	if success {
		m.SuccessTotal++
	} else {
		m.FailuresTotal++
	}
	m.mu.Unlock()
}

// RecordRetrySuccess counts a handler that recovered on a retry.
func (m *DispatcherMetrics) RecordRetrySuccess() {
	m.mu.Lock()
	m.RetriesTotal++
	m.mu.Unlock()
}

// RecordFailure counts a handler that exhausted its retries.
func (m *DispatcherMetrics) RecordFailure() {
	m.mu.Lock()
	m.FailuresTotal++
	m.mu.Unlock()
}

// Reset clears the hourly window. Lifetime totals are kept.
func (m *DispatcherMetrics) Reset() {
	m.mu.Lock()
	m.DispatchedLastHour = make(map[shared.EventType]int64)
	m.LastReset = time.Now()
	m.mu.Unlock()
}

// Snapshot returns an aggregate view of the counters.
func (m *DispatcherMetrics) Snapshot() DispatcherMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dispatched int64
	for _, n := range m.DispatchedTotal {
		dispatched += n
	}

	var avg time.Duration
	rate := 1.0
	if m.ExecutionsTotal > 0 {
		avg = m.TotalDuration / time.Duration(m.ExecutionsTotal)
		rate = float64(m.SuccessTotal) / float64(m.ExecutionsTotal)
	}

	return DispatcherMetricsSnapshot{
		TotalDispatched: dispatched,
		TotalExecutions: m.ExecutionsTotal,
		TotalFailures:   m.FailuresTotal,
		TotalRetries:    m.RetriesTotal,
		SuccessRate:     rate,
		AverageDuration: avg,
		LastReset:       m.LastReset,
	}
}

// DispatcherMetricsSnapshot is a point-in-time aggregate of counters.
type DispatcherMetricsSnapshot struct {
	TotalDispatched int64
	TotalExecutions int64
	TotalFailures   int64
	TotalRetries    int64
	SuccessRate     float64
	AverageDuration time.Duration
	LastReset       time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherBuilder assembles a Dispatcher fluently; the worker entrypoint
// uses it to keep its wiring section flat.
type DispatcherBuilder struct {
	config DispatcherConfig
}

// NewDispatcherBuilder starts from production defaults around the bus.
func NewDispatcherBuilder(eventBus shared.EventBus) *DispatcherBuilder {
	return &DispatcherBuilder{config: DefaultDispatcherConfig(eventBus)}
}

// WithWorkerPoolSize bounds concurrent handler executions.
func (b *DispatcherBuilder) WithWorkerPoolSize(size int) *DispatcherBuilder {
	b.config.WorkerPoolSize = size
	return b
}

// WithRetryConfig replaces the retry settings.
func (b *DispatcherBuilder) WithRetryConfig(config RetryConfig) *DispatcherBuilder {
	b.config.RetryConfig = config
	return b
}

// WithDeadLetterQueue enables the dead letter queue with the given cap.
func (b *DispatcherBuilder) WithDeadLetterQueue(size int) *DispatcherBuilder {
	b.config.EnableDeadLetterQueue = true
	b.config.DeadLetterQueueSize = size
	return b
}

// WithLogger sets the logger.
func (b *DispatcherBuilder) WithLogger(logger *slog.Logger) *DispatcherBuilder {
	b.config.Logger = logger
	return b
}

// Build creates the dispatcher.
func (b *DispatcherBuilder) Build() *Dispatcher {
	return NewDispatcher(b.config)
}
