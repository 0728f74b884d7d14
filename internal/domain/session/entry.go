// Package session turns the raw join/leave event stream into per-member
// session state. It owns the two inner pipeline stages: ingest (validate
// and order raw records) and reconstruction (fold ordered entries into
// last-join/last-leave/long-session state per identity).
// This is pure business logic with no external dependencies.
package session

import (
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MARKERS
// ══════════════════════════════════════════════════════════════════════════════

// Marker identifies what a log record represents.
type Marker string

const (
	// MarkerJoin - the member connected to the server.
	MarkerJoin Marker = "join"
	// MarkerLeave - the member disconnected from the server.
	MarkerLeave Marker = "leave"
	// MarkerGuildJoin - the member entered the guild. A guild join is
	// still a join for session state; it additionally pins the member's
	// tenure and can start the grace period.
	MarkerGuildJoin Marker = "guild_join"
)

// IsValid checks that the marker is one of the recognized kinds.
func (m Marker) IsValid() bool {
	switch m {
	case MarkerJoin, MarkerLeave, MarkerGuildJoin:
		return true
	default:
		return false
	}
}

// String returns the marker as a string.
func (m Marker) String() string {
	return string(m)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS AND ENTRIES
// ══════════════════════════════════════════════════════════════════════════════

// RawRecord is a log record as it arrives from the fetcher or the archive,
// before validation. MessageID is the archive dedup key; synthetic records
// (tests, imports) may leave it empty.
type RawRecord struct {
	MessageID shared.MessageID `json:"message_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Identity  shared.Identity  `json:"ign"`
	Marker    Marker           `json:"marker"`
}

// LogEntry is a validated, ordered join/leave record ready for
// reconstruction.
type LogEntry struct {
	Timestamp time.Time
	Identity  shared.Identity
	Marker    Marker
}

// Validate reports why a raw record cannot become a log entry, or nil.
func (r RawRecord) Validate() error {
	if r.Timestamp.IsZero() {
		return shared.ErrMalformedLogEntry
	}
	if !r.Identity.IsValid() {
		return shared.ErrMalformedLogEntry
	}
	if !r.Marker.IsValid() {
		return shared.ErrUnknownMarker
	}
	return nil
}

// Entry converts a validated raw record into a log entry.
func (r RawRecord) Entry() LogEntry {
	return LogEntry{
		Timestamp: r.Timestamp,
		Identity:  r.Identity,
		Marker:    r.Marker,
	}
}
