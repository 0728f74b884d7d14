package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC ROLES JOB
// ══════════════════════════════════════════════════════════════════════════════

// RoleSyncRunner reconciles the active role on the guild server. Satisfied
// by the role sync command handler.
type RoleSyncRunner interface {
	Handle(ctx context.Context, cmd command.SyncActiveRolesCommand) (*command.SyncActiveRolesResult, error)
}

// SyncRolesJob periodically reconciles the Discord active role against the
// latest Active list. The run.completed handler already syncs right after
// each run; this sweep catches drift from manual role edits and from syncs
// that failed mid-flight.
type SyncRolesJob struct {
	runner RoleSyncRunner
	logger *slog.Logger

	config SyncRolesConfig

	lastSyncStats atomic.Value // *RoleSyncStats
}

// SyncRolesConfig contains configuration for the role sync job.
type SyncRolesConfig struct {
	// Timeout is the maximum duration for one sweep.
	Timeout time.Duration

	// DryRun computes the diff without mutating the server.
	DryRun bool
}

// DefaultSyncRolesConfig returns sensible defaults.
func DefaultSyncRolesConfig() SyncRolesConfig {
	return SyncRolesConfig{
		Timeout: 10 * time.Minute,
	}
}

// RoleSyncStats contains statistics from the last sweep.
type RoleSyncStats struct {
	StartedAt      time.Time
	CompletedAt    time.Time
	Duration       time.Duration
	MembersChecked int
	Added          int
	Removed        int
	AlreadyCorrect int
	NotFound       int
	FailedCount    int
	DryRun         bool
	Error          string
}

// NewSyncRolesJob creates a new role sync job.
func NewSyncRolesJob(
	runner RoleSyncRunner,
	logger *slog.Logger,
	config SyncRolesConfig,
) *SyncRolesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSyncRolesConfig().Timeout
	}

	return &SyncRolesJob{
		runner: runner,
		logger: logger,
		config: config,
	}
}

// Name returns the job name.
func (j *SyncRolesJob) Name() string {
	return "sync_roles"
}

// Description returns a human-readable description.
func (j *SyncRolesJob) Description() string {
	return "Reconciles the Discord active role against the latest Active list"
}

// Run executes one reconciliation sweep.
func (j *SyncRolesJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &RoleSyncStats{StartedAt: startedAt, DryRun: j.config.DryRun}

	j.logger.Info("starting sync_roles job", "dry_run", j.config.DryRun)

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	result, err := j.runner.Handle(ctx, command.SyncActiveRolesCommand{
		DryRun: j.config.DryRun,
	})

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	if result != nil {
		stats.MembersChecked = result.MembersChecked
		stats.Added = result.Added
		stats.Removed = result.Removed
		stats.AlreadyCorrect = result.AlreadyCorrect
		stats.NotFound = len(result.NotFound)
		stats.FailedCount = len(result.Errors)
	}
	if err != nil {
		stats.Error = err.Error()
	}
	j.lastSyncStats.Store(stats)

	if err != nil {
		j.logger.Error("sync_roles job failed",
			"duration", stats.Duration.String(),
			"error", err,
		)
		return fmt.Errorf("sync roles: %w", err)
	}

	for ign, mutErr := range result.Errors {
		j.logger.Error("role mutation failed",
			"ign", ign,
			"error", mutErr,
		)
	}

	j.logger.Info("sync_roles job completed",
		"duration", stats.Duration.String(),
		"checked", stats.MembersChecked,
		"added", stats.Added,
		"removed", stats.Removed,
		"already_correct", stats.AlreadyCorrect,
		"not_on_server", stats.NotFound,
		"failed", stats.FailedCount,
		"dry_run", stats.DryRun,
	)

	// A sweep where every attempted mutation failed points at a broken
	// token or missing permission, not at per-member flakiness.
	attempted := stats.Added + stats.Removed + stats.FailedCount
	if stats.FailedCount > 0 && stats.FailedCount == attempted {
		return fmt.Errorf("sync roles: all %d role mutations failed", stats.FailedCount)
	}

	return nil
}

// LastSyncStats returns statistics from the last execution.
func (j *SyncRolesJob) LastSyncStats() *RoleSyncStats {
	stats := j.lastSyncStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*RoleSyncStats)
}
