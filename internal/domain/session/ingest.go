package session

import (
	"fmt"
	"sort"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INGEST
// ══════════════════════════════════════════════════════════════════════════════

// IngestStats summarizes what happened to the raw records during ingest.
type IngestStats struct {
	Total                int
	Accepted             int
	DroppedUnknownMarker int
	DroppedMalformed     int
	OutOfOrder           int
}

// DroppedRecord pairs a rejected raw record with the reason it was dropped,
// so the caller can warn per record without the domain importing a logger.
type DroppedRecord struct {
	Record RawRecord
	Reason string
}

// IngestResult carries the ordered entries plus ingest diagnostics.
type IngestResult struct {
	Entries []LogEntry
	Dropped []DroppedRecord
	Stats   IngestStats
}

// Ingest validates raw records and orders them oldest-first.
//
// Records with an unrecognized marker or a missing timestamp/identity are
// dropped, never fatal: one bad record must not cost a run. Input that is
// not already chronological is stably sorted; the out-of-order count is
// surfaced so the caller can warn about a misbehaving source.
func Ingest(records []RawRecord) IngestResult {
	result := IngestResult{
		Entries: make([]LogEntry, 0, len(records)),
	}
	result.Stats.Total = len(records)

	for _, record := range records {
		if err := record.Validate(); err != nil {
			reason := "malformed record"
			if err == shared.ErrUnknownMarker {
				reason = fmt.Sprintf("unrecognized marker %q", record.Marker)
				result.Stats.DroppedUnknownMarker++
			} else {
				result.Stats.DroppedMalformed++
			}
			result.Dropped = append(result.Dropped, DroppedRecord{Record: record, Reason: reason})
			continue
		}
		result.Entries = append(result.Entries, record.Entry())
	}
	result.Stats.Accepted = len(result.Entries)

	for i := 1; i < len(result.Entries); i++ {
		if result.Entries[i].Timestamp.Before(result.Entries[i-1].Timestamp) {
			result.Stats.OutOfOrder++
		}
	}
	if result.Stats.OutOfOrder > 0 {
		sort.SliceStable(result.Entries, func(i, j int) bool {
			return result.Entries[i].Timestamp.Before(result.Entries[j].Timestamp)
		})
	}

	return result
}
