// Package member contains the guild roster domain model: ranks, roster
// sections, and the numeric level directory. This is pure business logic
// with no external dependencies.
package member

import (
	"errors"
	"strings"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank is a guild rank name as it appears in the roster file.
type Rank string

// The promotion ladder. The roster may carry other ranks (officers, guild
// master); only these three participate in promotion evaluation.
const (
	// RankRawEgg is the entry rank every new member starts at.
	RankRawEgg Rank = "Raw Egg"
	// RankHardBoiledEgg is the first earned rank.
	RankHardBoiledEgg Rank = "Hard Boiled Egg"
	// RankScrambledEgg is the second earned rank.
	RankScrambledEgg Rank = "Scrambled Egg"
)

// rankLadder orders the promotable ranks from lowest to highest.
var rankLadder = map[Rank]int{
	RankRawEgg:        0,
	RankHardBoiledEgg: 1,
	RankScrambledEgg:  2,
}

// IsValid checks that the rank name is non-empty.
func (r Rank) IsValid() bool {
	return strings.TrimSpace(string(r)) != ""
}

// String returns the rank name.
func (r Rank) String() string {
	return string(r)
}

// OnLadder reports whether the rank participates in promotion evaluation.
func (r Rank) OnLadder() bool {
	_, ok := rankLadder[r]
	return ok
}

// Position returns the rank's position on the promotion ladder, or -1 for
// ranks outside it.
func (r Rank) Position() int {
	pos, ok := rankLadder[r]
	if !ok {
		return -1
	}
	return pos
}

// IsBelow reports whether r sits below other on the promotion ladder.
// Ranks outside the ladder are never below anything.
func (r Rank) IsBelow(other Rank) bool {
	rp, ok := rankLadder[r]
	if !ok {
		return false
	}
	op, ok := rankLadder[other]
	if !ok {
		return false
	}
	return rp < op
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER AGGREGATE
// ══════════════════════════════════════════════════════════════════════════════

// RosterSection is one rank block of the roster file: the rank name and its
// members in file order.
type RosterSection struct {
	Rank    Rank
	Members []shared.Identity
}

// Roster is the guild member list grouped by rank. It preserves two
// orderings from the source file: the order of rank sections and the order
// of members within each section. Promotion candidate lists and the report's
// guild-list section both follow file order.
type Roster struct {
	sections []RosterSection
	rankOf   map[shared.Identity]Rank
	order    []shared.Identity
}

// NewRoster builds a roster from parsed sections. Sections for the same rank
// are merged in encounter order. An identity listed twice keeps its first
// rank.
func NewRoster(sections []RosterSection) (*Roster, error) {
	if len(sections) == 0 {
		return nil, ErrNoSections
	}

	r := &Roster{
		rankOf: make(map[shared.Identity]Rank),
	}

	merged := make(map[Rank]int)
	for _, section := range sections {
		if !section.Rank.IsValid() {
			return nil, ErrBlankRankName
		}
		idx, seen := merged[section.Rank]
		if !seen {
			idx = len(r.sections)
			merged[section.Rank] = idx
			r.sections = append(r.sections, RosterSection{Rank: section.Rank})
		}
		for _, id := range section.Members {
			if !id.IsValid() {
				return nil, ErrBlankMemberName
			}
			if _, dup := r.rankOf[id]; dup {
				continue
			}
			r.rankOf[id] = section.Rank
			r.order = append(r.order, id)
			r.sections[idx].Members = append(r.sections[idx].Members, id)
		}
	}

	if len(r.order) == 0 {
		return nil, ErrNoMembers
	}

	return r, nil
}

// Sections returns the rank sections in file order.
func (r *Roster) Sections() []RosterSection {
	return r.sections
}

// Ranks returns the rank names in file order.
func (r *Roster) Ranks() []Rank {
	ranks := make([]Rank, len(r.sections))
	for i, s := range r.sections {
		ranks[i] = s.Rank
	}
	return ranks
}

// Members returns the members holding the given rank, in file order.
func (r *Roster) Members(rank Rank) []shared.Identity {
	for _, s := range r.sections {
		if s.Rank == rank {
			return s.Members
		}
	}
	return nil
}

// All returns every roster member in file order.
func (r *Roster) All() []shared.Identity {
	return r.order
}

// Contains reports whether the identity is on the roster.
func (r *Roster) Contains(id shared.Identity) bool {
	_, ok := r.rankOf[id]
	return ok
}

// RankOf returns the identity's rank.
func (r *Roster) RankOf(id shared.Identity) (Rank, bool) {
	rank, ok := r.rankOf[id]
	return rank, ok
}

// Size returns the total member count.
func (r *Roster) Size() int {
	return len(r.order)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL DIRECTORY
// ══════════════════════════════════════════════════════════════════════════════

// LevelEntry is one identity-to-level pair from the level directory file.
type LevelEntry struct {
	Identity shared.Identity
	Level    shared.SkyblockLevel
}

// LevelDirectory maps identities to their numeric game level. Members absent
// from the directory resolve to shared.LevelUnknown and fail minimum-level
// gates.
type LevelDirectory struct {
	levels map[shared.Identity]shared.SkyblockLevel
}

// NewLevelDirectory builds a directory from parsed entries. A repeated
// identity keeps its last level, matching how the source file is appended to.
func NewLevelDirectory(entries []LevelEntry) *LevelDirectory {
	d := &LevelDirectory{
		levels: make(map[shared.Identity]shared.SkyblockLevel, len(entries)),
	}
	for _, e := range entries {
		d.levels[e.Identity] = e.Level
	}
	return d
}

// Lookup returns the identity's level, or shared.LevelUnknown when the
// identity is not in the directory.
func (d *LevelDirectory) Lookup(id shared.Identity) shared.SkyblockLevel {
	level, ok := d.levels[id]
	if !ok {
		return shared.LevelUnknown
	}
	return level
}

// Size returns the number of entries in the directory.
func (d *LevelDirectory) Size() int {
	return len(d.levels)
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrNoSections - roster file contained no rank sections.
	ErrNoSections = errors.New("roster has no rank sections")

	// ErrNoMembers - roster file contained sections but no members.
	ErrNoMembers = errors.New("roster has no members")

	// ErrBlankRankName - a rank delimiter line produced an empty name.
	ErrBlankRankName = errors.New("roster rank name is blank")

	// ErrBlankMemberName - a bullet line produced an empty identity.
	ErrBlankMemberName = errors.New("roster member name is blank")
)
