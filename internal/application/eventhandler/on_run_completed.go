// Package eventhandler contains domain event handlers. Handlers react to
// events published by the tracking pipeline: chaining the role sync after a
// finished run, announcing promotion candidates to officers, and surfacing
// stale input warnings. Handlers never fail the run that emitted the event;
// they log and move on.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON RUN COMPLETED HANDLER
// Reacts to a finished tracking run.
//
// Key functions:
// 1. Log the run outcome — counts, log window, duration
// 2. Chain the active-role sync — the run just rewrote the active list,
//    so the guild server roles are reconciled against it immediately
//    instead of waiting for the next periodic sweep
// ═══════════════════════════════════════════════════════════════════════════

// RoleSyncer starts an active-role sync for a finished run. Implemented by
// the sync command handler through a thin adapter in the worker wiring.
type RoleSyncer interface {
	SyncActiveRoles(ctx context.Context, runID, correlationID string, dryRun bool) error
}

// RoleSyncerFunc adapts a function to the RoleSyncer interface.
type RoleSyncerFunc func(ctx context.Context, runID, correlationID string, dryRun bool) error

// SyncActiveRoles implements RoleSyncer.
func (f RoleSyncerFunc) SyncActiveRoles(ctx context.Context, runID, correlationID string, dryRun bool) error {
	return f(ctx, runID, correlationID, dryRun)
}

// OnRunCompletedHandler reacts to the run.completed event.
type OnRunCompletedHandler struct {
	roleSyncer RoleSyncer

	logger *slog.Logger
	config RunCompletedConfig
}

// RunCompletedConfig contains the handler configuration.
type RunCompletedConfig struct {
	// SyncRolesAfterRun chains the active-role sync after every
	// completed run. Disabled when role sync runs on its own schedule
	// only, or when the roles.dry_run flag governs a manual rollout.
	SyncRolesAfterRun bool

	// SyncDryRun computes the role diff without mutating the server.
	SyncDryRun bool

	// SyncTimeout bounds the chained sync.
	SyncTimeout time.Duration
}

// DefaultRunCompletedConfig returns the default configuration.
func DefaultRunCompletedConfig() RunCompletedConfig {
	return RunCompletedConfig{
		SyncRolesAfterRun: true,
		SyncDryRun:        false,
		SyncTimeout:       5 * time.Minute,
	}
}

// NewOnRunCompletedHandler creates a new run completion handler.
func NewOnRunCompletedHandler(
	roleSyncer RoleSyncer,
	logger *slog.Logger,
	config RunCompletedConfig,
) *OnRunCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SyncTimeout == 0 {
		config.SyncTimeout = DefaultRunCompletedConfig().SyncTimeout
	}

	return &OnRunCompletedHandler{
		roleSyncer: roleSyncer,
		logger:     logger.With("handler", "on_run_completed"),
		config:     config,
	}
}

// Handle processes the run completed event.
func (h *OnRunCompletedHandler) Handle(event shared.Event) error {
	runEvent, ok := event.(shared.RunCompletedEvent)
	if !ok {
		h.logger.Warn("received non-RunCompletedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	// 1. Record the outcome.
	h.logger.Info("tracking run completed",
		"run_id", runEvent.RunID,
		"duration", runEvent.Duration.String(),
		"active", runEvent.ActiveCount,
		"grace", runEvent.GraceCount,
		"inactive", runEvent.InactiveCount,
		"log_entries", runEvent.LogEntries,
		"log_start", runEvent.LogStart,
		"log_end", runEvent.LogEnd,
	)

	// 2. Reconcile guild server roles against the fresh active list.
	if !h.config.SyncRolesAfterRun || h.roleSyncer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.SyncTimeout)
	defer cancel()

	if err := h.roleSyncer.SyncActiveRoles(ctx, runEvent.RunID, runEvent.CorrelationID, h.config.SyncDryRun); err != nil {
		h.logger.Error("chained role sync failed",
			"run_id", runEvent.RunID,
			"error", err,
		)
		return fmt.Errorf("sync roles after run %s: %w", runEvent.RunID, err)
	}

	h.logger.Info("chained role sync finished",
		"run_id", runEvent.RunID,
		"dry_run", h.config.SyncDryRun,
	)

	return nil
}

// EventType returns the event type this handler processes.
func (h *OnRunCompletedHandler) EventType() shared.EventType {
	return shared.EventRunCompleted
}
