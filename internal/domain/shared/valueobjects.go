package shared

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identity
// ═══════════════════════════════════════════════════════════════════════════

// Identity is a member's in-game name (ign). It is an opaque identifier:
// the engine never follows renames, so a member who changes ign looks like
// two unrelated identities.
type Identity string

// IsValid reports whether the identity carries any visible characters.
func (i Identity) IsValid() bool {
	return strings.TrimSpace(string(i)) != ""
}

func (i Identity) String() string {
	return string(i)
}

// SortIdentities orders a slice of identities alphabetically in place, so
// report sections and candidate lists come out deterministic.
func SortIdentities(ids []Identity) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// ═══════════════════════════════════════════════════════════════════════════
// RunID
// ═══════════════════════════════════════════════════════════════════════════

// RunID identifies one tracking run. Run IDs are UUIDs minted when the run
// starts and threaded through persistence, events, and the report.
type RunID string

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsValid reports whether the run ID is a well-formed UUID.
func (r RunID) IsValid() bool {
	return uuidRegex.MatchString(string(r))
}

func (r RunID) String() string {
	return string(r)
}

// NewRunID validates id and wraps it as a RunID.
func NewRunID(id string) (RunID, error) {
	runID := RunID(id)
	if !runID.IsValid() {
		return "", NewDomainError("shared", "NewRunID", ErrInvalidID, "run ID must be a valid UUID")
	}
	return runID, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// MessageID
// ═══════════════════════════════════════════════════════════════════════════

// MessageID is a Discord message snowflake. Snowflakes are 64-bit unsigned
// integers but are kept as strings so they survive JSON round-trips intact;
// the event-log archive compares them by length then value.
type MessageID string

func (m MessageID) String() string {
	return string(m)
}

// IsEmpty reports whether no snowflake was recorded for the entry.
func (m MessageID) IsEmpty() bool {
	return string(m) == ""
}

// ═══════════════════════════════════════════════════════════════════════════
// SkyblockLevel
// ═══════════════════════════════════════════════════════════════════════════

// SkyblockLevel is a member's numeric game level from the level directory.
type SkyblockLevel float64

// LevelUnknown marks a member absent from the level directory. An unknown
// level fails every minimum-level gate.
const LevelUnknown SkyblockLevel = -1

// IsKnown reports whether the level was actually observed.
func (l SkyblockLevel) IsKnown() bool {
	return l >= 0
}

// Meets reports whether the level clears a minimum threshold.
func (l SkyblockLevel) Meets(min float64) bool {
	return float64(l) >= min
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange is an inclusive time span, such as the bounds of an ingested
// event log. A zero From or To means the bound was never observed.
type TimeRange struct {
	From time.Time
	To   time.Time
}
