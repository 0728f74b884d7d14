package promotion

import (
	"errors"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/session"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CANDIDATE LISTS
// ══════════════════════════════════════════════════════════════════════════════

// CandidateList is the evaluation outcome for one transition. Clear holds
// candidates that passed every gate with a known guild join date.
// NeedsReview holds candidates that passed every gate except that their
// join date was never observed in the log; they are surfaced for a human
// decision, never silently promoted or excluded. Both preserve roster file
// order.
type CandidateList struct {
	Transition  Transition
	Clear       []shared.Identity
	NeedsReview []shared.Identity
}

// Total returns the combined candidate count.
func (c CandidateList) Total() int {
	return len(c.Clear) + len(c.NeedsReview)
}

// IsEmpty reports whether the transition produced no candidates.
func (c CandidateList) IsEmpty() bool {
	return c.Total() == 0
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrNilClassification - evaluator called without a classification.
	ErrNilClassification = errors.New("promotion: classification is nil")

	// ErrNilReconstruction - evaluator called without session state.
	ErrNilReconstruction = errors.New("promotion: reconstruction result is nil")

	// ErrNilRoster - evaluator called without a roster.
	ErrNilRoster = errors.New("promotion: roster is nil")

	// ErrNilLevels - evaluator called without a level directory.
	ErrNilLevels = errors.New("promotion: level directory is nil")
)

// Evaluate applies the policy and returns one candidate list per
// transition, in policy order.
//
// A candidate passes a transition when all of the following hold:
//
//   - the member holds the transition's source rank (roster file order is
//     preserved in the output);
//   - the member's verdict is Active;
//   - none of the member's RequiredLongSessions most recent long-session
//     starts is older than the recency window measured back from the
//     latest log timestamp (fewer recorded starts pass vacuously);
//   - the guild join date is at least the tenure window before now, OR
//     the join date was never observed, which flags the member for manual
//     review instead of excluding them;
//   - when the transition carries a level gate, the member's level meets it.
//
// now is injected so evaluation stays pure and idempotent.
func Evaluate(
	policy Policy,
	classification *activity.Classification,
	recon *session.Result,
	roster *member.Roster,
	levels *member.LevelDirectory,
	now time.Time,
) ([]CandidateList, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if classification == nil {
		return nil, ErrNilClassification
	}
	if recon == nil {
		return nil, ErrNilReconstruction
	}
	if roster == nil {
		return nil, ErrNilRoster
	}
	if levels == nil {
		return nil, ErrNilLevels
	}

	lists := make([]CandidateList, 0, len(policy.Transitions))
	for _, transition := range policy.Transitions {
		list := CandidateList{Transition: transition}
		recencyCutoff := recon.Bounds.To.Add(-transition.RecencyWindow)
		tenureCutoff := now.Add(-transition.TenureWindow)

		for _, id := range roster.Members(transition.From) {
			if !classification.IsActive(id) {
				continue
			}
			state, ok := recon.State(id)
			if !ok {
				continue
			}
			if !recentSessionsWithin(state, transition.RequiredLongSessions, recencyCutoff) {
				continue
			}
			if transition.HasLevelGate() && !levels.Lookup(id).Meets(transition.MinLevel) {
				continue
			}

			joinDate, known := recon.GuildJoinDates[id]
			switch {
			case !known:
				list.NeedsReview = append(list.NeedsReview, id)
			case !joinDate.After(tenureCutoff):
				list.Clear = append(list.Clear, id)
			}
		}

		lists = append(lists, list)
	}

	return lists, nil
}

// recentSessionsWithin checks that none of the n most recent long-session
// starts predates the cutoff.
func recentSessionsWithin(state *session.MemberState, n int, cutoff time.Time) bool {
	for _, start := range state.RecentLongSessions(n) {
		if start.Before(cutoff) {
			return false
		}
	}
	return true
}
