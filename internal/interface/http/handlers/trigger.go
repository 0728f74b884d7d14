package handlers

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coolio-hub/guild-activity-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MANUAL TRIGGER RUNNER
// Admin-guarded POST endpoints accept a run request, hand it off here, and
// return immediately. The runner executes at most one run at a time; a
// second trigger while one is in flight gets ErrTriggerBusy (HTTP 409).
// ══════════════════════════════════════════════════════════════════════════════

// ErrTriggerBusy - a triggered run is already executing.
var ErrTriggerBusy = errors.New("a tracking run is already in progress")

// TriggerRequest carries the run options from the trigger endpoint.
// Role sync is not a per-request option: the worker chains it off the
// run-completed event with its configured flags.
type TriggerRequest struct {
	// Offline replays the event archive without calling the Discord API.
	Offline bool

	// MaxMessages / MaxDays override the retrieval bounds (0 = default).
	MaxMessages int
	MaxDays     int

	// CorrelationID is assigned by the runner and returned to the caller.
	CorrelationID string
}

// TriggerReceipt acknowledges an accepted run.
type TriggerReceipt struct {
	// CorrelationID traces the run through logs and events.
	CorrelationID string `json:"correlation_id"`

	// AcceptedAt is when the run was handed off.
	AcceptedAt time.Time `json:"accepted_at"`
}

// TriggerRunner defines the interface for starting manual tracking runs.
type TriggerRunner interface {
	// TriggerRun starts a run in the background and returns a receipt,
	// or ErrTriggerBusy when one is already executing.
	TriggerRun(ctx context.Context, req TriggerRequest) (*TriggerReceipt, error)
}

// RunFunc executes one full tracking cycle for a trigger request.
type RunFunc func(ctx context.Context, req TriggerRequest) error

// ══════════════════════════════════════════════════════════════════════════════
// ASYNC IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AsyncTriggerRunner runs triggered cycles in a background goroutine. A
// full run fetches the Discord log and can take minutes, far longer than
// any sane HTTP timeout, so the endpoint acknowledges and detaches.
type AsyncTriggerRunner struct {
	run     RunFunc
	timeout time.Duration
	logger  *logger.Logger

	busy atomic.Bool
}

// NewAsyncTriggerRunner creates a runner executing cycles via run, each
// bounded by timeout.
func NewAsyncTriggerRunner(run RunFunc, timeout time.Duration, log *logger.Logger) *AsyncTriggerRunner {
	if log == nil {
		log = logger.Default()
	}
	if timeout <= 0 {
		timeout = time.Hour
	}

	return &AsyncTriggerRunner{
		run:     run,
		timeout: timeout,
		logger:  log.With(logger.Component("manual-trigger")),
	}
}

// TriggerRun starts a background run. The request context is deliberately
// not propagated: the run must outlive the HTTP request that started it.
func (r *AsyncTriggerRunner) TriggerRun(_ context.Context, req TriggerRequest) (*TriggerReceipt, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrTriggerBusy
	}

	req.CorrelationID = uuid.NewString()
	receipt := &TriggerReceipt{
		CorrelationID: req.CorrelationID,
		AcceptedAt:    time.Now().UTC(),
	}

	go func() {
		defer r.busy.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		start := time.Now()
		if err := r.run(ctx, req); err != nil {
			r.logger.Error("manual tracking run failed",
				logger.String("correlation_id", req.CorrelationID),
				logger.Duration("elapsed", time.Since(start)),
				logger.Err(err),
			)
			return
		}

		r.logger.Info("manual tracking run finished",
			logger.String("correlation_id", req.CorrelationID),
			logger.Duration("elapsed", time.Since(start)),
		)
	}()

	return receipt, nil
}

// Busy reports whether a triggered run is currently executing.
func (r *AsyncTriggerRunner) Busy() bool {
	return r.busy.Load()
}
