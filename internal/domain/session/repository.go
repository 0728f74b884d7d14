package session

import (
	"context"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// EventLogRepository is the archive of raw join/leave records. Appends are
// idempotent on message ID, which is what makes re-fetching overlapping
// history windows safe.
type EventLogRepository interface {
	// SaveBatch archives records, silently skipping message IDs already
	// stored. Returns how many rows were newly inserted.
	SaveBatch(ctx context.Context, records []RawRecord) (int, error)

	// LoadAll returns the full archive ordered oldest-first.
	LoadAll(ctx context.Context) ([]RawRecord, error)

	// LoadSince returns records at or after the given time, oldest-first.
	LoadSince(ctx context.Context, since time.Time) ([]RawRecord, error)

	// NewestMessageID returns the resume cursor: the highest archived
	// message snowflake, or empty when the archive has never been written.
	NewestMessageID(ctx context.Context) (shared.MessageID, error)

	// Count returns the number of archived records.
	Count(ctx context.Context) (int64, error)
}
