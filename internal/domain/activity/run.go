package activity

import (
	"errors"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// Domain errors for tracking runs.
var (
	ErrInvalidRunID      = errors.New("activity: invalid run ID")
	ErrInvalidTrigger    = errors.New("activity: invalid run trigger")
	ErrRunFinished       = errors.New("activity: run already finished")
	ErrFinishBeforeStart = errors.New("activity: finish time precedes start time")
	ErrFutureTimestamp   = errors.New("activity: timestamp cannot be in the future")
)

// RunTrigger records what started a tracking run.
type RunTrigger string

const (
	TriggerScheduled RunTrigger = "scheduled" // fired by the worker scheduler
	TriggerManual    RunTrigger = "manual"    // fired through the HTTP API
	TriggerCLI       RunTrigger = "cli"       // fired by the one-shot tracker binary
)

// IsValid checks that the trigger is one of the recognized kinds.
func (t RunTrigger) IsValid() bool {
	switch t {
	case TriggerScheduled, TriggerManual, TriggerCLI:
		return true
	default:
		return false
	}
}

// String returns the string representation of RunTrigger.
func (t RunTrigger) String() string {
	return string(t)
}

// RunStatus represents the current state of a tracking run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial" // retrieval was cut short, archived pages still processed
	RunStatusFailed    RunStatus = "failed"
)

// IsValid checks that the status is one of the recognized kinds.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusPartial, RunStatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// TrackingRun is one execution of the activity pipeline. It records what
// the run consumed, what survived ingest, the verdict counts, and how the
// run ended. The verdict lists themselves are persisted alongside the run
// by RunRepository.
type TrackingRun struct {
	ID      shared.RunID
	Trigger RunTrigger
	Status  RunStatus

	StartedAt  time.Time
	FinishedAt *time.Time // nil while the run is in flight

	// LogBounds spans the ingested log, zero when the run failed before
	// reconstruction.
	LogBounds shared.TimeRange

	// Retrieval and ingest counters.
	MessagesScanned int // chat messages inspected during retrieval
	RecordsArchived int // join/leave records newly written to the archive
	RecordsAccepted int // records that survived ingest validation
	RecordsDropped  int // records ingest rejected

	// Verdict counts, recorded once classification finishes.
	ActiveCount   int
	GraceCount    int
	InactiveCount int

	// Error holds the failure cause for partial and failed runs.
	Error string
}

// NewTrackingRun creates a new in-flight run.
func NewTrackingRun(id shared.RunID, trigger RunTrigger, startedAt time.Time) (*TrackingRun, error) {
	if !id.IsValid() {
		return nil, ErrInvalidRunID
	}
	if !trigger.IsValid() {
		return nil, ErrInvalidTrigger
	}
	if startedAt.After(time.Now().Add(time.Minute)) { // Allow 1 minute tolerance
		return nil, ErrFutureTimestamp
	}

	return &TrackingRun{
		ID:        id,
		Trigger:   trigger,
		Status:    RunStatusRunning,
		StartedAt: startedAt,
	}, nil
}

// RecordRetrieval stores the fetch counters.
func (r *TrackingRun) RecordRetrieval(scanned, archived int) {
	r.MessagesScanned = scanned
	r.RecordsArchived = archived
}

// RecordIngest stores the ingest counters and the log bounds.
func (r *TrackingRun) RecordIngest(accepted, dropped int, bounds shared.TimeRange) {
	r.RecordsAccepted = accepted
	r.RecordsDropped = dropped
	r.LogBounds = bounds
}

// RecordVerdicts stores the classification counts.
func (r *TrackingRun) RecordVerdicts(c *Classification) {
	if c == nil {
		return
	}
	r.ActiveCount, r.GraceCount, r.InactiveCount = c.Counts()
}

// Complete marks the run as finished successfully.
func (r *TrackingRun) Complete(finishedAt time.Time) error {
	return r.finish(finishedAt, RunStatusCompleted, "")
}

// CompletePartial marks a run whose retrieval was interrupted but whose
// archived pages were still processed into verdicts.
func (r *TrackingRun) CompletePartial(finishedAt time.Time, cause string) error {
	return r.finish(finishedAt, RunStatusPartial, cause)
}

// Fail marks the run as failed before it could produce verdicts.
func (r *TrackingRun) Fail(finishedAt time.Time, cause string) error {
	return r.finish(finishedAt, RunStatusFailed, cause)
}

func (r *TrackingRun) finish(finishedAt time.Time, status RunStatus, cause string) error {
	if r.Status != RunStatusRunning {
		return ErrRunFinished
	}
	if finishedAt.Before(r.StartedAt) {
		return ErrFinishBeforeStart
	}

	r.Status = status
	r.FinishedAt = &finishedAt
	r.Error = cause
	return nil
}

// IsTerminal reports whether the run reached a final status.
func (r *TrackingRun) IsTerminal() bool {
	return r.Status != RunStatusRunning
}

// Duration returns the wall-clock runtime, zero while the run is in flight.
func (r *TrackingRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
