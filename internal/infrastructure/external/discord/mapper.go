// Package discord implements the Discord REST API client.
package discord

import (
	"strings"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/session"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - Message DTO to domain record transformations
// ══════════════════════════════════════════════════════════════════════════════

// The log bot posts one embed per event. The event kind is carried by the
// embed color, the member identity by the description text.
const (
	// joinLeavePrefix opens every server join/leave notification.
	joinLeavePrefix = "<:egg_right:1178195628615028776> "

	// joinColor marks a server join embed.
	joinColor = 4714569

	// leaveColor marks a server leave embed.
	leaveColor = 15747399

	// guildJoinPhrase appears in first-time guild join notifications.
	guildJoinPhrase = "joined the guild"
)

// MapOutcome classifies what the mapper did with a message.
type MapOutcome int

const (
	// OutcomeMapped - the message produced a log record.
	OutcomeMapped MapOutcome = iota

	// OutcomeNoEmbed - the message carries no embeds; not a bot notification.
	OutcomeNoEmbed

	// OutcomeNoDescription - the first embed has no description text.
	// Happens when the log bot was offline and posted a bare status embed.
	OutcomeNoDescription

	// OutcomeUnknownColor - a join/leave notification whose color matches
	// neither the join nor the leave palette. Skipped with a warning.
	OutcomeUnknownColor

	// OutcomeUnrecognized - the description matches no known notification
	// shape. Chatter and unrelated bot output land here.
	OutcomeUnrecognized
)

// String returns the outcome name for logging.
func (o MapOutcome) String() string {
	switch o {
	case OutcomeMapped:
		return "mapped"
	case OutcomeNoEmbed:
		return "no_embed"
	case OutcomeNoDescription:
		return "no_description"
	case OutcomeUnknownColor:
		return "unknown_color"
	case OutcomeUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// MapStats counts mapper outcomes across a batch of messages.
type MapStats struct {
	Mapped        int
	NoEmbed       int
	NoDescription int
	UnknownColor  int
	Unrecognized  int
}

// Total returns the number of messages the stats cover.
func (s MapStats) Total() int {
	return s.Mapped + s.NoEmbed + s.NoDescription + s.UnknownColor + s.Unrecognized
}

// record adjusts the counter matching the outcome.
func (s *MapStats) record(outcome MapOutcome) {
	switch outcome {
	case OutcomeMapped:
		s.Mapped++
	case OutcomeNoEmbed:
		s.NoEmbed++
	case OutcomeNoDescription:
		s.NoDescription++
	case OutcomeUnknownColor:
		s.UnknownColor++
	case OutcomeUnrecognized:
		s.Unrecognized++
	}
}

// Mapper translates Discord message DTOs into domain log records.
// This is the anti-corruption layer between the raw embed stream and the
// session domain: nothing past this point knows about embeds or colors.
type Mapper struct{}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{}
}

// RecordFromMessage parses a single message into a raw log record.
//
// Only the first embed is examined. A description starting with the
// join/leave prefix is routed by color: joinColor becomes a join,
// leaveColor a leave, anything else is skipped as OutcomeUnknownColor.
// Without the prefix, a description containing the guild-join phrase
// becomes a guild-join whose identity is the first token of the text.
// The identity is never validated here; ingest owns that.
func (m *Mapper) RecordFromMessage(dto MessageDTO) (session.RawRecord, MapOutcome) {
	if len(dto.Embeds) == 0 {
		return session.RawRecord{}, OutcomeNoEmbed
	}

	embed := dto.Embeds[0]
	if embed.Description == "" {
		return session.RawRecord{}, OutcomeNoDescription
	}

	if strings.HasPrefix(embed.Description, joinLeavePrefix) {
		// Example: '<:egg_right:...> MyIGN has gone into a deep slumber!'
		ign := firstToken(embed.Description[len(joinLeavePrefix):])

		var marker session.Marker
		switch embed.Color {
		case joinColor:
			marker = session.MarkerJoin
		case leaveColor:
			marker = session.MarkerLeave
		default:
			return session.RawRecord{}, OutcomeUnknownColor
		}

		return session.RawRecord{
			MessageID: shared.MessageID(dto.ID),
			Timestamp: dto.Timestamp,
			Identity:  shared.Identity(ign),
			Marker:    marker,
		}, OutcomeMapped
	}

	if strings.Contains(embed.Description, guildJoinPhrase) {
		return session.RawRecord{
			MessageID: shared.MessageID(dto.ID),
			Timestamp: dto.Timestamp,
			Identity:  shared.Identity(firstToken(embed.Description)),
			Marker:    session.MarkerGuildJoin,
		}, OutcomeMapped
	}

	return session.RawRecord{}, OutcomeUnrecognized
}

// RecordsFromMessages maps a page of messages, collecting outcome counts.
// Message order is preserved; ordering for reconstruction is ingest's job.
func (m *Mapper) RecordsFromMessages(dtos []MessageDTO) ([]session.RawRecord, MapStats) {
	records := make([]session.RawRecord, 0, len(dtos))
	var stats MapStats

	for _, dto := range dtos {
		record, outcome := m.RecordFromMessage(dto)
		stats.record(outcome)
		if outcome == OutcomeMapped {
			records = append(records, record)
		}
	}

	return records, stats
}

// firstToken returns the first whitespace-delimited token of s, or "" when
// s has none.
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
