package activity

import (
	"context"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// RunRepository defines the interface for tracking run persistence.
// This interface is implemented by the infrastructure layer.
// The domain layer has no knowledge of the actual storage mechanism.
type RunRepository interface {
	// Save persists the run and, when a classification is present, its
	// verdict lists in the same transaction. Saving an existing run ID
	// updates it, so the orchestrator can record the run at start and
	// again once it finishes.
	Save(ctx context.Context, run *TrackingRun, classification *Classification) error

	// FindByID returns a run by ID, or shared.ErrRunNotFound.
	FindByID(ctx context.Context, id shared.RunID) (*TrackingRun, error)

	// Latest returns the most recently started run, or shared.ErrRunNotFound
	// when no run has ever been recorded.
	Latest(ctx context.Context) (*TrackingRun, error)

	// List returns runs ordered by start time descending, newest first.
	List(ctx context.Context, limit int) ([]*TrackingRun, error)

	// VerdictsByRun rehydrates the verdict lists persisted with a run.
	// Runs that finished without producing verdicts yield an empty
	// classification.
	VerdictsByRun(ctx context.Context, id shared.RunID) (*Classification, error)
}
