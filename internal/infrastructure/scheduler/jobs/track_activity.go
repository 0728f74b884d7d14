// Package jobs contains the scheduled jobs of the guild activity worker.
// Each job wraps an application use case, bounds it with a timeout, and
// keeps stats from its last execution for the health endpoints.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/application/command"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRACK ACTIVITY JOB
// ══════════════════════════════════════════════════════════════════════════════

// TrackingRunner executes one tracking run. Satisfied by the run tracking
// command handler.
type TrackingRunner interface {
	Handle(ctx context.Context, cmd command.RunTrackingCommand) (*command.RunTrackingResult, error)
}

// TrackActivityJob executes the daily tracking run: fetch the join/leave
// log, reconstruct sessions, classify the roster, evaluate promotions, and
// publish the report. Role reconciliation is not part of this job; it is
// chained off the run.completed event.
type TrackActivityJob struct {
	runner TrackingRunner
	logger *slog.Logger

	config TrackActivityConfig

	lastRunStats atomic.Value // *TrackRunStats
}

// TrackActivityConfig contains configuration for the tracking job.
type TrackActivityConfig struct {
	// Timeout is the maximum duration for the entire run, fetch included.
	Timeout time.Duration

	// MaxMessages and MaxDays bound retrieval; zero uses handler defaults.
	MaxMessages int
	MaxDays     int
}

// DefaultTrackActivityConfig returns sensible defaults. A full 60-day
// history walk at Discord page rates takes tens of minutes, so the timeout
// is generous.
func DefaultTrackActivityConfig() TrackActivityConfig {
	return TrackActivityConfig{
		Timeout: 45 * time.Minute,
	}
}

// TrackRunStats contains statistics from the last tracking run.
type TrackRunStats struct {
	StartedAt     time.Time
	CompletedAt   time.Time
	Duration      time.Duration
	RunID         string
	Status        string
	ActiveCount   int
	GraceCount    int
	InactiveCount int
	Dropped       int
	Error         string
}

// NewTrackActivityJob creates a new tracking job.
func NewTrackActivityJob(
	runner TrackingRunner,
	logger *slog.Logger,
	config TrackActivityConfig,
) *TrackActivityJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTrackActivityConfig().Timeout
	}

	return &TrackActivityJob{
		runner: runner,
		logger: logger,
		config: config,
	}
}

// Name returns the job name.
func (j *TrackActivityJob) Name() string {
	return "track_activity"
}

// Description returns a human-readable description.
func (j *TrackActivityJob) Description() string {
	return "Runs the daily guild activity tracking pipeline"
}

// Run executes the tracking run.
func (j *TrackActivityJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &TrackRunStats{StartedAt: startedAt}

	j.logger.Info("starting track_activity job")

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	result, err := j.runner.Handle(ctx, command.RunTrackingCommand{
		Trigger:     activity.TriggerScheduled,
		MaxMessages: j.config.MaxMessages,
		MaxDays:     j.config.MaxDays,
	})

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	if result != nil {
		stats.RunID = string(result.RunID)
		stats.Status = string(result.Status)
		stats.Dropped = len(result.DroppedRecords)
		if result.Report != nil {
			stats.ActiveCount = len(result.Report.Active)
			stats.GraceCount = len(result.Report.GracePeriod)
			stats.InactiveCount = len(result.Report.Inactive)
		}
	}
	if err != nil {
		stats.Error = err.Error()
	}
	j.lastRunStats.Store(stats)

	if err != nil {
		j.logger.Error("track_activity job failed",
			"run_id", stats.RunID,
			"duration", stats.Duration.String(),
			"error", err,
		)
		return fmt.Errorf("track activity: %w", err)
	}

	j.logger.Info("track_activity job completed",
		"run_id", stats.RunID,
		"status", stats.Status,
		"duration", stats.Duration.String(),
		"active", stats.ActiveCount,
		"grace", stats.GraceCount,
		"inactive", stats.InactiveCount,
		"dropped", stats.Dropped,
	)
	return nil
}

// LastRunStats returns statistics from the last execution.
func (j *TrackActivityJob) LastRunStats() *TrackRunStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*TrackRunStats)
}
