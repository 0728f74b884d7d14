package messaging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// fastRetryConfig keeps retry backoff in the low milliseconds so failing
// handlers do not slow the suite down.
func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        4 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger()})
	t.Cleanup(func() { _ = bus.Close() })

	cfg := DefaultDispatcherConfig(bus)
	cfg.RetryConfig = fastRetryConfig()
	cfg.Logger = quietLogger()

	d := NewDispatcher(cfg)
	t.Cleanup(func() { _ = d.Stop() })
	return d
}

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestDispatcher_RoutesEventsByType(t *testing.T) {
	d := newTestDispatcher(t)

	var got []shared.Event
	require.NoError(t, d.RegisterSync(shared.EventRunCompleted, "recorder", func(e shared.Event) error {
		got = append(got, e)
		return nil
	}))

	require.NoError(t, d.Dispatch(completedEvent("run-1")))
	require.NoError(t, d.Dispatch(startedEvent("run-2")))

	require.Len(t, got, 1)
	assert.Equal(t, "run-1", got[0].AggregateID())
}

func TestDispatcher_DispatchWaitsForAsyncHandlers(t *testing.T) {
	d := newTestDispatcher(t)

	calls := 0
	require.NoError(t, d.Register(shared.EventRunStarted, "async-counter", func(shared.Event) error {
		calls++
		return nil
	}))

	require.NoError(t, d.Dispatch(startedEvent("run-1")))
	assert.Equal(t, 1, calls)
}

func TestDispatcher_SyncHandlerErrorsSurface(t *testing.T) {
	d := newTestDispatcher(t)

	require.NoError(t, d.RegisterSync(shared.EventRunFailed, "notify", func(shared.Event) error {
		return errors.New("pager down")
	}))

	err := d.Dispatch(shared.NewRunFailedEvent("run-3", "classify roster", "empty roster"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync handler errors")
	assert.Contains(t, err.Error(), "pager down")
}

func TestDispatcher_AsyncHandlerErrorsGoToDeadLetterNotCaller(t *testing.T) {
	d := newTestDispatcher(t)

	require.NoError(t, d.Register(shared.EventRunFailed, "flapping", func(shared.Event) error {
		return errors.New("boom")
	}))

	assert.NoError(t, d.Dispatch(shared.NewRunFailedEvent("run-5", "retrieve log", "timeout")))

	require.Equal(t, 1, d.DeadLetterQueue().Size())
	assert.Equal(t, int64(1), d.Metrics().Snapshot().TotalFailures)
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	d := newTestDispatcher(t)

	attempts := 0
	require.NoError(t, d.RegisterSync(shared.EventRunCompleted, "flaky", func(shared.Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, d.Dispatch(completedEvent("run-1")))

	assert.Equal(t, 3, attempts)
	assert.Equal(t, int64(1), d.Metrics().Snapshot().TotalRetries)
	assert.Zero(t, d.DeadLetterQueue().Size())
}

func TestDispatcher_ExhaustedRetriesLandInDeadLetterQueue(t *testing.T) {
	d := newTestDispatcher(t)

	require.NoError(t, d.RegisterSync(shared.EventRunFailed, "always-fails", func(shared.Event) error {
		return errors.New("permanent")
	}))

	err := d.Dispatch(shared.NewRunFailedEvent("run-9", "build report", "boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 retries")

	q := d.DeadLetterQueue()
	require.Equal(t, 1, q.Size())

	entry, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "always-fails", entry.HandlerName)
	assert.Equal(t, 3, entry.Attempts)
	assert.EqualError(t, entry.Error, "permanent")
	assert.Equal(t, "run-9", entry.Event.AggregateID())
	assert.WithinDuration(t, time.Now(), entry.FailedAt, time.Minute)
	assert.Zero(t, q.Size())
}

func TestDispatcher_PerHandlerTimeoutFailsAttempt(t *testing.T) {
	d := newTestDispatcher(t)

	require.NoError(t, d.RegisterHandler(shared.EventRunStarted, HandlerRegistration{
		Name:       "slow",
		Handler:    func(shared.Event) error { time.Sleep(200 * time.Millisecond); return nil },
		MaxRetries: 1,
		Timeout:    10 * time.Millisecond,
	}))

	err := d.Dispatch(startedEvent("run-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler timeout after 10ms")
}

func TestDispatcher_MiddlewareWrapsInRegistrationOrder(t *testing.T) {
	d := newTestDispatcher(t)

	var order []string
	trace := func(name string) Middleware {
		return func(next shared.EventHandler) shared.EventHandler {
			return func(e shared.Event) error {
				order = append(order, name)
				return next(e)
			}
		}
	}
	d.Use(trace("outer"))
	d.Use(trace("inner"))

	require.NoError(t, d.RegisterSync(shared.EventRunStarted, "traced", func(shared.Event) error {
		order = append(order, "handler")
		return nil
	}))

	require.NoError(t, d.Dispatch(startedEvent("run-1")))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRecoveryMiddleware_ConvertsPanicToError(t *testing.T) {
	logger, buf := captureLogger()
	handler := RecoveryMiddleware(logger)(func(shared.Event) error {
		panic("nope")
	})

	err := handler(startedEvent("run-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic: nope")
	assert.Contains(t, buf.String(), "handler panic recovered")
}

func TestLoggingMiddleware_LogsBothOutcomes(t *testing.T) {
	logger, buf := captureLogger()
	mw := LoggingMiddleware(logger)

	require.NoError(t, mw(func(shared.Event) error { return nil })(startedEvent("run-1")))
	assert.Contains(t, buf.String(), "handler completed")

	require.Error(t, mw(func(shared.Event) error { return errors.New("boom") })(startedEvent("run-1")))
	assert.Contains(t, buf.String(), "handler failed")
}

func TestTimeoutMiddleware_CutsOffSlowHandlers(t *testing.T) {
	mw := TimeoutMiddleware(10 * time.Millisecond)

	err := mw(func(shared.Event) error { time.Sleep(100 * time.Millisecond); return nil })(startedEvent("run-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler timeout")

	assert.NoError(t, mw(func(shared.Event) error { return nil })(startedEvent("run-1")))
}

func TestMetricsMiddleware_RecordsExecutions(t *testing.T) {
	metrics := NewDispatcherMetrics()
	mw := MetricsMiddleware(metrics)

	require.NoError(t, mw(func(shared.Event) error { return nil })(startedEvent("run-1")))
	require.Error(t, mw(func(shared.Event) error { return errors.New("boom") })(startedEvent("run-1")))

	snap := metrics.Snapshot()
	assert.Equal(t, int64(2), snap.TotalExecutions)
	assert.InDelta(t, 0.5, snap.SuccessRate, 0.001)
}

func TestDispatcher_RegistrationDefaults(t *testing.T) {
	d := newTestDispatcher(t)

	assert.EqualError(t, d.Register(shared.EventRunStarted, "nil-handler", nil), "handler cannot be nil")

	require.NoError(t, d.RegisterHandler(shared.EventRunStarted, HandlerRegistration{
		Handler: func(shared.Event) error { return nil },
	}))
	require.NoError(t, d.Register(shared.EventRunStarted, "async-one", func(shared.Event) error { return nil }))

	bare := d.handlers[shared.EventRunStarted][0]
	assert.NotEmpty(t, bare.Name)
	assert.Equal(t, 2, bare.MaxRetries)
	assert.Equal(t, 30*time.Second, bare.Timeout)
	assert.False(t, bare.Async)

	assert.True(t, d.handlers[shared.EventRunStarted][1].Async)
}

func TestDispatcher_StartRoutesBusEvents(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger()})
	t.Cleanup(func() { _ = bus.Close() })

	cfg := DefaultDispatcherConfig(bus)
	cfg.RetryConfig = fastRetryConfig()
	cfg.Logger = quietLogger()
	d := NewDispatcher(cfg)
	t.Cleanup(func() { _ = d.Stop() })

	var got []shared.EventType
	require.NoError(t, d.RegisterSync(shared.EventRolesSynced, "roles", func(e shared.Event) error {
		got = append(got, e.EventType())
		return nil
	}))
	require.NoError(t, d.Start())

	require.NoError(t, bus.Publish(shared.NewRolesSyncedEvent("run-1", 2, 1, false)))
	assert.Equal(t, []shared.EventType{shared.EventRolesSynced}, got)
}

func TestDispatcher_BackoffGrowsAndCaps(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		RetryConfig: RetryConfig{
			MaxRetries:        10,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        time.Second,
			BackoffMultiplier: 2.0,
		},
		Logger: quietLogger(),
	})
	t.Cleanup(func() { _ = d.Stop() })

	assert.Equal(t, 100*time.Millisecond, d.calculateBackoff(1))
	assert.Equal(t, 200*time.Millisecond, d.calculateBackoff(2))
	assert.Equal(t, 400*time.Millisecond, d.calculateBackoff(3))
	assert.Equal(t, time.Second, d.calculateBackoff(8))
}

func TestDispatcher_MetricsCountOnlyHandledDispatches(t *testing.T) {
	d := newTestDispatcher(t)
	require.NoError(t, d.RegisterSync(shared.EventRunStarted, "ok", func(shared.Event) error { return nil }))

	require.NoError(t, d.Dispatch(startedEvent("run-1")))
	require.NoError(t, d.Dispatch(startedEvent("run-2")))
	require.NoError(t, d.Dispatch(shared.NewRunFailedEvent("run-3", "stage", "unhandled type")))

	assert.Equal(t, int64(2), d.Metrics().Snapshot().TotalDispatched)
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	d := newTestDispatcher(t)

	require.NoError(t, d.Stop())
	assert.NoError(t, d.Stop())
}

func TestDeadLetterQueue_EvictsOldestAtCapacity(t *testing.T) {
	q := NewDeadLetterQueue(2)

	q.Add(DeadLetterEntry{HandlerName: "a"})
	q.Add(DeadLetterEntry{HandlerName: "b"})
	q.Add(DeadLetterEntry{HandlerName: "c"})

	require.Equal(t, 2, q.Size())
	entries := q.Entries()
	assert.Equal(t, "b", entries[0].HandlerName)
	assert.Equal(t, "c", entries[1].HandlerName)

	q.Clear()
	assert.Zero(t, q.Size())
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestDeadLetterQueue_PopIsFIFO(t *testing.T) {
	q := NewDeadLetterQueue(0)
	assert.Equal(t, 1000, q.maxSize)

	q.Add(DeadLetterEntry{HandlerName: "first"})
	q.Add(DeadLetterEntry{HandlerName: "second"})

	entry, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "first", entry.HandlerName)
	assert.Equal(t, 1, q.Size())
}

func TestDeadLetterQueue_EntriesReturnsCopy(t *testing.T) {
	q := NewDeadLetterQueue(10)
	q.Add(DeadLetterEntry{HandlerName: "a"})

	entries := q.Entries()
	entries[0].HandlerName = "mutated"

	assert.Equal(t, "a", q.Entries()[0].HandlerName)
}

func TestDispatcherBuilder_AssemblesConfiguredDispatcher(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger()})
	t.Cleanup(func() { _ = bus.Close() })

	logger := quietLogger()
	rc := fastRetryConfig()
	d := NewDispatcherBuilder(bus).
		WithWorkerPoolSize(3).
		WithRetryConfig(rc).
		WithDeadLetterQueue(25).
		WithLogger(logger).
		Build()
	t.Cleanup(func() { _ = d.Stop() })

	assert.Equal(t, rc, d.retryConfig)
	assert.Equal(t, 3, cap(d.workerPool))
	assert.Same(t, logger, d.logger)
	require.NotNil(t, d.DeadLetterQueue())
	assert.Equal(t, 25, d.DeadLetterQueue().maxSize)
}
