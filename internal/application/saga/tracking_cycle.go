// Package saga contains multi-step business processes that orchestrate
// several application operations in a coordinated manner. Sagas track which
// step failed and decide per step whether the process aborts or degrades.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coolio-hub/guild-activity-hub/internal/application/command"
	"github.com/coolio-hub/guild-activity-hub/internal/application/query"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRACKING CYCLE SAGA
// The complete nightly cycle as one coordinated process:
// Validate → Run Tracking → Verify Report → Sync Roles → Complete
//
// The tracking run is the only step that can abort the cycle: without
// verdicts there is nothing to verify or reconcile. Later steps degrade
// instead of aborting, because a written report is already useful on its
// own and the guild server reconciles itself on the next cycle anyway.
// ══════════════════════════════════════════════════════════════════════════════

// Saga-level errors.
var (
	ErrCycleRunFailed = errors.New("tracking cycle: run failed")
	ErrNilRunResult   = errors.New("tracking cycle: run produced no result")
)

// TrackingCycleInput contains all data required to execute one cycle.
type TrackingCycleInput struct {
	// Trigger records what started the cycle.
	Trigger activity.RunTrigger

	// Offline replays the archived log without fetching from Discord.
	Offline bool

	// MaxMessages and MaxDays bound retrieval; zero uses handler defaults.
	MaxMessages int
	MaxDays     int

	// SkipRoleSync leaves the guild server untouched.
	SkipRoleSync bool

	// DryRunRoles computes the role diff without applying it.
	DryRunRoles bool

	// CorrelationID ties the cycle's events together. Empty generates one.
	CorrelationID string
}

// Validate checks if the input is valid for a cycle.
func (i TrackingCycleInput) Validate() error {
	if !i.Trigger.IsValid() {
		return fmt.Errorf("tracking cycle: unknown trigger %q", i.Trigger)
	}
	if i.MaxMessages < 0 {
		return errors.New("tracking cycle: max messages cannot be negative")
	}
	if i.MaxDays < 0 {
		return errors.New("tracking cycle: max days cannot be negative")
	}
	return nil
}

// TrackingCycleResult contains the outcome of a completed cycle.
type TrackingCycleResult struct {
	// Run is the tracking run outcome, always present on success.
	Run *command.RunTrackingResult

	// RoleSync is the reconciliation outcome, nil when skipped or failed.
	RoleSync *command.SyncActiveRolesResult

	// ReportVerified reports whether the cached report was read back.
	ReportVerified bool

	// RoleSyncSkipped is set when the input asked to skip reconciliation.
	RoleSyncSkipped bool

	// RoleSyncError carries a degraded role sync, empty otherwise.
	RoleSyncError string

	// CorrelationID is the effective correlation ID of the cycle.
	CorrelationID string

	// StartedAt and CompletedAt bound the cycle.
	StartedAt   time.Time
	CompletedAt time.Time
}

// Degraded reports whether any non-critical step failed.
func (r *TrackingCycleResult) Degraded() bool {
	return r.RoleSyncError != "" || (!r.ReportVerified && !r.RoleSyncSkipped)
}

// Duration returns the wall-clock cycle time.
func (r *TrackingCycleResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// TrackingCycleStep represents a step in the cycle.
type TrackingCycleStep string

const (
	StepValidateInput TrackingCycleStep = "validate_input"
	StepRunTracking   TrackingCycleStep = "run_tracking"
	StepVerifyReport  TrackingCycleStep = "verify_report"
	StepSyncRoles     TrackingCycleStep = "sync_roles"
	StepComplete      TrackingCycleStep = "complete"
)

// TrackingCycleState tracks the current state of the cycle saga.
type TrackingCycleState struct {
	CurrentStep TrackingCycleStep
	Input       TrackingCycleInput
	Run         *command.RunTrackingResult
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       error
	FailedStep  TrackingCycleStep
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// Satisfied by the command and query handlers; declared here so tests can
// substitute fakes without standing up the whole pipeline.
// ══════════════════════════════════════════════════════════════════════════════

// TrackingRunner executes one full tracking run.
type TrackingRunner interface {
	Handle(ctx context.Context, cmd command.RunTrackingCommand) (*command.RunTrackingResult, error)
}

// RoleSynchronizer reconciles the active role on the guild server.
type RoleSynchronizer interface {
	Handle(ctx context.Context, cmd command.SyncActiveRolesCommand) (*command.SyncActiveRolesResult, error)
}

// ReportReader returns the latest cached report.
type ReportReader interface {
	Handle(ctx context.Context, q query.GetActivityReportQuery) (*query.GetActivityReportResult, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// TRACKING CYCLE SAGA IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// TrackingCycleSaga orchestrates the complete nightly cycle. The one-shot
// tracker binary drives it directly; the worker composes the same steps
// through the scheduler and event handlers instead.
type TrackingCycleSaga struct {
	runner       TrackingRunner
	synchronizer RoleSynchronizer
	reportReader ReportReader

	config TrackingCycleSagaConfig
}

// TrackingCycleSagaConfig contains configuration for the cycle saga.
type TrackingCycleSagaConfig struct {
	// RoleSyncTimeout bounds the reconciliation step.
	RoleSyncTimeout time.Duration

	// VerifyReport reads the report back from the cache after the run.
	// Catches a silently broken cache before officers reach for the
	// report in the morning.
	VerifyReport bool

	// MaxReportAge bounds how old the read-back report may be for the
	// verification to count. Guards against verifying yesterday's report
	// when today's cache write failed.
	MaxReportAge time.Duration
}

// DefaultTrackingCycleConfig returns default configuration.
func DefaultTrackingCycleConfig() TrackingCycleSagaConfig {
	return TrackingCycleSagaConfig{
		RoleSyncTimeout: 5 * time.Minute,
		VerifyReport:    true,
		MaxReportAge:    time.Hour,
	}
}

// NewTrackingCycleSaga creates a new cycle saga with all dependencies.
// reportReader may be nil when report caching is disabled; the verify step
// is skipped.
func NewTrackingCycleSaga(
	runner TrackingRunner,
	synchronizer RoleSynchronizer,
	reportReader ReportReader,
	config TrackingCycleSagaConfig,
) *TrackingCycleSaga {
	if config.RoleSyncTimeout == 0 {
		config.RoleSyncTimeout = DefaultTrackingCycleConfig().RoleSyncTimeout
	}
	if config.MaxReportAge == 0 {
		config.MaxReportAge = DefaultTrackingCycleConfig().MaxReportAge
	}

	return &TrackingCycleSaga{
		runner:       runner,
		synchronizer: synchronizer,
		reportReader: reportReader,
		config:       config,
	}
}

// Execute runs the complete cycle.
// It returns the result on success or an error with context about the failure.
func (s *TrackingCycleSaga) Execute(ctx context.Context, input TrackingCycleInput) (*TrackingCycleResult, error) {
	state := &TrackingCycleState{
		CurrentStep: StepValidateInput,
		Input:       input,
		StartedAt:   time.Now().UTC(),
	}

	// Step 1: Validate input
	if err := s.stepValidateInput(state); err != nil {
		return nil, s.wrapError(state, err)
	}
	if state.Input.CorrelationID == "" {
		state.Input.CorrelationID = uuid.NewString()
	}

	// Step 2: Run tracking. The only aborting step.
	state.CurrentStep = StepRunTracking
	if err := s.stepRunTracking(ctx, state); err != nil {
		return nil, s.wrapError(state, err)
	}

	result := &TrackingCycleResult{
		Run:           state.Run,
		CorrelationID: state.Input.CorrelationID,
		StartedAt:     state.StartedAt,
	}

	// Step 3: Verify the cached report round-trips.
	// Non-critical - the report text already reached the output sink.
	state.CurrentStep = StepVerifyReport
	result.ReportVerified = s.stepVerifyReport(ctx, state)

	// Step 4: Reconcile guild server roles against the fresh active list.
	// Non-critical - the guild server self-corrects on the next cycle.
	state.CurrentStep = StepSyncRoles
	if input.SkipRoleSync {
		result.RoleSyncSkipped = true
	} else {
		syncResult, err := s.stepSyncRoles(ctx, state)
		if err != nil {
			result.RoleSyncError = err.Error()
		} else {
			result.RoleSync = syncResult
		}
	}

	// Complete
	state.CurrentStep = StepComplete
	now := time.Now().UTC()
	state.CompletedAt = &now
	result.CompletedAt = now

	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

// stepValidateInput validates all input parameters.
func (s *TrackingCycleSaga) stepValidateInput(state *TrackingCycleState) error {
	if err := state.Input.Validate(); err != nil {
		state.FailedStep = StepValidateInput
		state.Error = err
		return err
	}
	if s.runner == nil {
		state.FailedStep = StepValidateInput
		state.Error = errors.New("tracking cycle: tracking runner is required")
		return state.Error
	}
	return nil
}

// stepRunTracking executes the tracking run.
func (s *TrackingCycleSaga) stepRunTracking(ctx context.Context, state *TrackingCycleState) error {
	runResult, err := s.runner.Handle(ctx, command.RunTrackingCommand{
		Trigger:       state.Input.Trigger,
		Offline:       state.Input.Offline,
		MaxMessages:   state.Input.MaxMessages,
		MaxDays:       state.Input.MaxDays,
		CorrelationID: state.Input.CorrelationID,
	})
	if err != nil {
		state.FailedStep = StepRunTracking
		state.Error = fmt.Errorf("%w: %v", ErrCycleRunFailed, err)
		// A partial result still carries the run ID and stats for the
		// caller's failure report.
		state.Run = runResult
		return state.Error
	}
	if runResult == nil {
		state.FailedStep = StepRunTracking
		state.Error = ErrNilRunResult
		return state.Error
	}

	state.Run = runResult
	return nil
}

// stepVerifyReport reads the report back from the cache.
func (s *TrackingCycleSaga) stepVerifyReport(ctx context.Context, state *TrackingCycleState) bool {
	if !s.config.VerifyReport || s.reportReader == nil {
		return false
	}

	readBack, err := s.reportReader.Handle(ctx, query.GetActivityReportQuery{
		MaxAge: s.config.MaxReportAge,
	})
	if err != nil || readBack == nil || readBack.Report == nil {
		return false
	}

	// The cache must serve the run we just finished, not a survivor from
	// an earlier cycle.
	return readBack.Report.RunID == state.Run.RunID
}

// stepSyncRoles reconciles the active role.
func (s *TrackingCycleSaga) stepSyncRoles(ctx context.Context, state *TrackingCycleState) (*command.SyncActiveRolesResult, error) {
	if s.synchronizer == nil {
		return nil, errors.New("tracking cycle: role synchronizer not configured")
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.config.RoleSyncTimeout)
	defer cancel()

	// Hand the active list over in memory; the file written by the run is
	// for the next standalone invocation, not for this cycle.
	var activeIDs []shared.Identity
	if state.Run.Report != nil {
		activeIDs = state.Run.Report.ActiveIdentities()
	}

	syncResult, err := s.synchronizer.Handle(syncCtx, command.SyncActiveRolesCommand{
		DryRun:           state.Input.DryRunRoles,
		ActiveIdentities: activeIDs,
		RunID:            state.Run.RunID,
		CorrelationID:    state.Input.CorrelationID,
	})
	if err != nil {
		return nil, fmt.Errorf("sync roles: %w", err)
	}
	return syncResult, nil
}

// wrapError annotates a failure with the step it happened in.
func (s *TrackingCycleSaga) wrapError(state *TrackingCycleState, err error) error {
	return fmt.Errorf("tracking cycle failed at %s: %w", state.FailedStep, err)
}
