// Package promotion evaluates rank promotion recommendations against a
// configurable policy. Evaluation is pure: candidates come from the roster,
// evidence from reconstructed session state, and the clock is injected, so
// re-running a policy over the same run is idempotent.
package promotion

import (
	"fmt"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Transition describes one promotion gate between two ranks.
type Transition struct {
	// Name is the stable machine identifier, e.g. "raw-to-boiled".
	Name string

	// Title is the human heading used in reports, e.g. "Raw to Boiled".
	Title string

	// From is the rank whose members are evaluated.
	From member.Rank

	// To is the rank recommended on success.
	To member.Rank

	// RecencyWindow bounds how old the candidate's recent long sessions
	// may be, measured back from the latest log timestamp.
	RecencyWindow time.Duration

	// RequiredLongSessions is how many of the most recent long sessions
	// the recency check inspects. Fewer recorded sessions pass vacuously;
	// the Active verdict already guarantees a floor.
	RequiredLongSessions int

	// TenureWindow is the minimum guild membership, measured back from
	// the evaluation time. Members with unknown join dates pass but are
	// flagged for manual review.
	TenureWindow time.Duration

	// MinLevel is the numeric level gate; zero disables it. Members
	// missing from the level directory fail an enabled gate.
	MinLevel float64
}

// HasLevelGate reports whether the transition checks the level directory.
func (t Transition) HasLevelGate() bool {
	return t.MinLevel > 0
}

// Validate checks the transition is internally consistent.
func (t Transition) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("promotion: transition name is required")
	}
	if t.Title == "" {
		return fmt.Errorf("promotion: transition %q: title is required", t.Name)
	}
	if !t.From.IsValid() || !t.To.IsValid() {
		return fmt.Errorf("promotion: transition %q: from and to ranks are required", t.Name)
	}
	if t.From == t.To {
		return fmt.Errorf("promotion: transition %q: from and to ranks must differ", t.Name)
	}
	if t.RecencyWindow <= 0 {
		return fmt.Errorf("promotion: transition %q: recency window must be positive", t.Name)
	}
	if t.RequiredLongSessions < 1 {
		return fmt.Errorf("promotion: transition %q: required long sessions must be at least 1", t.Name)
	}
	if t.TenureWindow <= 0 {
		return fmt.Errorf("promotion: transition %q: tenure window must be positive", t.Name)
	}
	if t.MinLevel < 0 {
		return fmt.Errorf("promotion: transition %q: min level cannot be negative", t.Name)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy is the ordered list of transitions evaluated each run.
type Policy struct {
	Transitions []Transition
}

// DefaultPolicy returns the production ladder: Raw Egg to Hard Boiled Egg
// after 30 days of tenure, Hard Boiled Egg to Scrambled Egg after 91 days
// plus the level gate.
func DefaultPolicy() Policy {
	return Policy{
		Transitions: []Transition{
			{
				Name:                 "raw-to-boiled",
				Title:                "Raw to Boiled",
				From:                 member.RankRawEgg,
				To:                   member.RankHardBoiledEgg,
				RecencyWindow:        7 * 24 * time.Hour,
				RequiredLongSessions: 1,
				TenureWindow:         30 * 24 * time.Hour,
			},
			{
				Name:                 "boiled-to-scrambled",
				Title:                "Boiled to Scrambled",
				From:                 member.RankHardBoiledEgg,
				To:                   member.RankScrambledEgg,
				RecencyWindow:        7 * 24 * time.Hour,
				RequiredLongSessions: 1,
				TenureWindow:         91 * 24 * time.Hour,
				MinLevel:             240,
			},
		},
	}
}

// Validate checks every transition and rejects duplicate names.
func (p Policy) Validate() error {
	if len(p.Transitions) == 0 {
		return fmt.Errorf("promotion: policy has no transitions")
	}
	names := make(map[string]bool, len(p.Transitions))
	for _, t := range p.Transitions {
		if err := t.Validate(); err != nil {
			return err
		}
		if names[t.Name] {
			return fmt.Errorf("promotion: duplicate transition name %q", t.Name)
		}
		names[t.Name] = true
	}
	return nil
}

// Find returns the transition with the given name.
func (p Policy) Find(name string) (Transition, bool) {
	for _, t := range p.Transitions {
		if t.Name == name {
			return t, true
		}
	}
	return Transition{}, false
}
