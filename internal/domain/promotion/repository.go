package promotion

import (
	"context"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// CandidateRepository defines the interface for promotion candidate
// persistence. Candidate lists are stored per tracking run so a
// recommendation can always be traced back to the evidence that produced
// it. Implemented by the infrastructure layer.
type CandidateRepository interface {
	// SaveForRun stores the candidate lists produced by one run,
	// replacing any lists already stored for it.
	SaveForRun(ctx context.Context, runID shared.RunID, lists []CandidateList) error

	// FindByRun returns the candidate lists stored for a run, grouped by
	// transition in stored order. Loaded lists carry only the transition
	// name; callers resolve titles and windows against the active policy.
	// Runs evaluated with promotions disabled yield an empty slice.
	FindByRun(ctx context.Context, runID shared.RunID) ([]CandidateList, error)
}
