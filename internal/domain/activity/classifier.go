// Package activity classifies the guild roster into engagement verdicts
// from reconstructed session state. The three verdicts form an exact
// partition: every roster member lands in exactly one list.
// This is pure business logic with no external dependencies.
package activity

import (
	"errors"
	"sort"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/session"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VERDICTS
// ══════════════════════════════════════════════════════════════════════════════

// Verdict is a member's engagement classification.
type Verdict string

const (
	// VerdictActive - the member recorded enough long sessions.
	VerdictActive Verdict = "active"
	// VerdictGracePeriod - the member joined the guild recently and is
	// not yet held to the activity bar.
	VerdictGracePeriod Verdict = "grace_period"
	// VerdictInactive - everyone else on the roster.
	VerdictInactive Verdict = "inactive"
)

// IsValid checks that the verdict is one of the recognized kinds.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictActive, VerdictGracePeriod, VerdictInactive:
		return true
	default:
		return false
	}
}

// String returns the verdict as a string.
func (v Verdict) String() string {
	return string(v)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds the classification threshold.
type Config struct {
	// ActiveLongSessionThreshold is the minimum number of recorded long
	// sessions for an Active verdict.
	ActiveLongSessionThreshold int
}

// DefaultConfig returns the production threshold.
func DefaultConfig() Config {
	return Config{ActiveLongSessionThreshold: 2}
}

// Validate checks the threshold is at least one.
func (c Config) Validate() error {
	if c.ActiveLongSessionThreshold < 1 {
		return shared.NewDomainError("activity", "Validate", shared.ErrValueOutOfRange,
			"active long-session threshold must be at least 1")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// Classification is the roster partition. Active and GracePeriod are
// ordered by last join descending. Inactive lists members observed in the
// log first (last join descending), then members never observed,
// alphabetically.
type Classification struct {
	Active      []shared.Identity
	GracePeriod []shared.Identity
	Inactive    []shared.Identity

	verdicts map[shared.Identity]Verdict
}

// NewClassification rebuilds a classification from previously stored
// verdict lists, preserving list order. Used when rehydrating a persisted
// run; fresh classifications come from Classify.
func NewClassification(active, grace, inactive []shared.Identity) *Classification {
	c := &Classification{
		Active:      active,
		GracePeriod: grace,
		Inactive:    inactive,
		verdicts:    make(map[shared.Identity]Verdict, len(active)+len(grace)+len(inactive)),
	}
	for _, id := range active {
		c.verdicts[id] = VerdictActive
	}
	for _, id := range grace {
		c.verdicts[id] = VerdictGracePeriod
	}
	for _, id := range inactive {
		c.verdicts[id] = VerdictInactive
	}
	return c
}

// VerdictOf returns the verdict for a roster member.
func (c *Classification) VerdictOf(id shared.Identity) (Verdict, bool) {
	v, ok := c.verdicts[id]
	return v, ok
}

// Counts returns the size of each verdict list.
func (c *Classification) Counts() (active, grace, inactive int) {
	return len(c.Active), len(c.GracePeriod), len(c.Inactive)
}

// Size returns the total number of classified members.
func (c *Classification) Size() int {
	return len(c.Active) + len(c.GracePeriod) + len(c.Inactive)
}

// IsActive reports whether the identity holds an Active verdict.
func (c *Classification) IsActive(id shared.Identity) bool {
	return c.verdicts[id] == VerdictActive
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASSIFIER
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrNilReconstruction - classifier called without session state.
	ErrNilReconstruction = errors.New("classify: reconstruction result is nil")

	// ErrNilRoster - classifier called without a roster.
	ErrNilRoster = errors.New("classify: roster is nil")
)

// Classify partitions the roster into engagement verdicts.
//
// Verdict precedence when lists overlap: Active beats GracePeriod (a new
// member who already plays enough is simply Active), and GracePeriod beats
// Inactive (a recent guild join shields a quiet member). A roster member
// with no log history at all is Inactive.
func Classify(recon *session.Result, roster *member.Roster, cfg Config) (*Classification, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if recon == nil {
		return nil, ErrNilReconstruction
	}
	if roster == nil {
		return nil, ErrNilRoster
	}

	// Build the candidate lists in first-seen order, then sort by last
	// join descending. The sorts are stable, so ties keep log order.
	var active, grace, observedIdle []shared.Identity
	activeSet := make(map[shared.Identity]bool)

	for _, id := range recon.Order {
		state := recon.States[id]
		if state.LongSessionCount() >= cfg.ActiveLongSessionThreshold {
			active = append(active, id)
			activeSet[id] = true
		} else {
			observedIdle = append(observedIdle, id)
		}
		if recon.GraceCandidates[id] {
			grace = append(grace, id)
		}
	}

	byLastJoinDesc := func(ids []shared.Identity) {
		sort.SliceStable(ids, func(i, j int) bool {
			return recon.States[ids[i]].LastJoin.After(recon.States[ids[j]].LastJoin)
		})
	}
	byLastJoinDesc(active)
	byLastJoinDesc(grace)
	byLastJoinDesc(observedIdle)

	// Roster members the log never mentions trail the inactive list
	// alphabetically.
	var neverSeen []shared.Identity
	for _, id := range roster.All() {
		if !recon.Observed(id) {
			neverSeen = append(neverSeen, id)
		}
	}
	shared.SortIdentities(neverSeen)
	inactive := append(observedIdle, neverSeen...)

	// Restrict every list to the roster, then apply verdict precedence:
	// grace loses to active, inactive loses to grace.
	active = filterOnRoster(active, roster)
	grace = filterOnRoster(grace, roster)
	inactive = filterOnRoster(inactive, roster)

	grace = subtract(grace, activeSet)
	graceSet := make(map[shared.Identity]bool, len(grace))
	for _, id := range grace {
		graceSet[id] = true
	}
	inactive = subtract(inactive, graceSet)

	classification := &Classification{
		Active:      active,
		GracePeriod: grace,
		Inactive:    inactive,
		verdicts:    make(map[shared.Identity]Verdict, roster.Size()),
	}
	for _, id := range active {
		classification.verdicts[id] = VerdictActive
	}
	for _, id := range grace {
		classification.verdicts[id] = VerdictGracePeriod
	}
	for _, id := range inactive {
		classification.verdicts[id] = VerdictInactive
	}

	return classification, nil
}

func filterOnRoster(ids []shared.Identity, roster *member.Roster) []shared.Identity {
	out := ids[:0:0]
	for _, id := range ids {
		if roster.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

func subtract(ids []shared.Identity, exclude map[shared.Identity]bool) []shared.Identity {
	out := ids[:0:0]
	for _, id := range ids {
		if !exclude[id] {
			out = append(out, id)
		}
	}
	return out
}
