package session

import (
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds the session reconstruction thresholds. All comparisons use
// total elapsed time between timestamps.
type Config struct {
	// ReconnectTimeout is the maximum gap after a leave for a following
	// join to count as a reconnect into the same session.
	ReconnectTimeout time.Duration

	// StaleJoinTimeout is the gap after a join beyond which a later join
	// is treated as a fresh session even without an intervening leave.
	StaleJoinTimeout time.Duration

	// LongSessionMinDuration is the minimum join-to-leave span for the
	// session to count toward the activity verdict.
	LongSessionMinDuration time.Duration

	// ActivityGraceWindow bounds how far back from the earliest observed
	// log timestamp a guild join still marks the member a grace candidate.
	ActivityGraceWindow time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		ReconnectTimeout:       120 * time.Minute,
		StaleJoinTimeout:       1440 * time.Minute,
		LongSessionMinDuration: 30 * time.Minute,
		ActivityGraceWindow:    60 * 24 * time.Hour,
	}
}

// Validate checks that every threshold is positive.
func (c Config) Validate() error {
	if c.ReconnectTimeout <= 0 || c.StaleJoinTimeout <= 0 ||
		c.LongSessionMinDuration <= 0 || c.ActivityGraceWindow <= 0 {
		return shared.NewDomainError("session", "Validate", shared.ErrValueOutOfRange,
			"reconstruction thresholds must be positive")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PER-MEMBER STATE
// ══════════════════════════════════════════════════════════════════════════════

// MemberState is the per-identity fold state. Zero times mean "not yet
// observed".
type MemberState struct {
	Identity shared.Identity

	// LastJoin is the start of the member's current or most recent
	// session. A leave with no prior join initializes it to the earliest
	// log timestamp, so a log that opens mid-session still credits the
	// member with the observable span.
	LastJoin time.Time

	// LastLeave is the most recent leave timestamp.
	LastLeave time.Time

	// LongSessionStarts are the join timestamps of sessions that lasted
	// at least LongSessionMinDuration, strictly increasing.
	LongSessionStarts []time.Time
}

// LongSessionCount returns how many long sessions were recorded.
func (s *MemberState) LongSessionCount() int {
	return len(s.LongSessionStarts)
}

// RecentLongSessions returns the n most recent long-session starts,
// newest first.
func (s *MemberState) RecentLongSessions(n int) []time.Time {
	if n <= 0 || len(s.LongSessionStarts) == 0 {
		return nil
	}
	if n > len(s.LongSessionStarts) {
		n = len(s.LongSessionStarts)
	}
	out := make([]time.Time, 0, n)
	for i := len(s.LongSessionStarts) - 1; i >= len(s.LongSessionStarts)-n; i-- {
		out = append(out, s.LongSessionStarts[i])
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULT
// ══════════════════════════════════════════════════════════════════════════════

// Result is the reconstruction output consumed by the classifier and the
// promotion evaluator.
type Result struct {
	// States maps every identity observed in the log to its fold state.
	States map[shared.Identity]*MemberState

	// Order lists identities in first-seen order. Verdict sorts are
	// stable, so ties on LastJoin keep this order.
	Order []shared.Identity

	// GuildJoinDates records the latest observed guild-join timestamp per
	// identity. Promotion tenure checks read from here; an identity absent
	// from this map has unknown tenure.
	GuildJoinDates map[shared.Identity]time.Time

	// GraceCandidates holds identities whose guild join fell within the
	// grace window.
	GraceCandidates map[shared.Identity]bool

	// Bounds is the log span: earliest and latest entry timestamps.
	Bounds shared.TimeRange
}

// State returns the fold state for an identity.
func (r *Result) State(id shared.Identity) (*MemberState, bool) {
	s, ok := r.States[id]
	return s, ok
}

// Observed reports whether the identity appeared anywhere in the log.
func (r *Result) Observed(id shared.Identity) bool {
	_, ok := r.States[id]
	return ok
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONSTRUCTION FOLD
// ══════════════════════════════════════════════════════════════════════════════

// Reconstruct folds chronologically ordered entries into per-identity
// session state. It is a pure function: same entries and config always
// produce the same result.
//
// Join handling at time t, with J = state.LastJoin and L = state.LastLeave:
//
//	(a) no leave observed yet            -> LastJoin = t
//	(b) t - L >= ReconnectTimeout        -> LastJoin = t (previous session closed)
//	(c) t - J >  StaleJoinTimeout        -> LastJoin = t (previous join stale)
//	otherwise the join is a reconnect and LastJoin is preserved.
//
// Leave handling at time t: record L = t; a leave with no prior join
// initializes LastJoin to the earliest log timestamp; a span of at least
// LongSessionMinDuration appends LastJoin to LongSessionStarts unless it
// equals the last recorded start.
func Reconstruct(entries []LogEntry, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, shared.ErrEmptyLog
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			return nil, shared.ErrLogNotOrdered
		}
	}

	earliest := entries[0].Timestamp
	latest := entries[len(entries)-1].Timestamp
	graceCutoff := earliest.Add(-cfg.ActivityGraceWindow)

	result := &Result{
		States:          make(map[shared.Identity]*MemberState),
		GuildJoinDates:  make(map[shared.Identity]time.Time),
		GraceCandidates: make(map[shared.Identity]bool),
		Bounds:          shared.TimeRange{From: earliest, To: latest},
	}

	for _, entry := range entries {
		state, ok := result.States[entry.Identity]
		if !ok {
			state = &MemberState{Identity: entry.Identity}
			result.States[entry.Identity] = state
			result.Order = append(result.Order, entry.Identity)
		}

		t := entry.Timestamp
		switch entry.Marker {
		case MarkerJoin, MarkerGuildJoin:
			freshSession := state.LastLeave.IsZero() ||
				t.Sub(state.LastLeave) >= cfg.ReconnectTimeout ||
				t.Sub(state.LastJoin) > cfg.StaleJoinTimeout
			if freshSession {
				state.LastJoin = t
			}

			// A guild join is a join that additionally pins tenure.
			if entry.Marker == MarkerGuildJoin {
				result.GuildJoinDates[entry.Identity] = t
				if !t.Before(graceCutoff) {
					result.GraceCandidates[entry.Identity] = true
				}
			}

		case MarkerLeave:
			state.LastLeave = t
			if state.LastJoin.IsZero() {
				state.LastJoin = earliest
			}
			if t.Sub(state.LastJoin) >= cfg.LongSessionMinDuration {
				n := len(state.LongSessionStarts)
				if n == 0 || !state.LongSessionStarts[n-1].Equal(state.LastJoin) {
					state.LongSessionStarts = append(state.LongSessionStarts, state.LastJoin)
				}
			}
		}
	}

	return result, nil
}
