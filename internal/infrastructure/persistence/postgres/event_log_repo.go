package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/session"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
	"github.com/coolio-hub/guild-activity-hub/pkg/retry"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT LOG REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// EventLogRepository implements session.EventLogRepository for PostgreSQL.
// Archive writes run inside a retrier tuned for transient database errors:
// SaveBatch is called once per fetched page, and losing a page mid-run
// would break the partial-save contract.
type EventLogRepository struct {
	conn    *Connection
	retrier *retry.Retrier
}

// NewEventLogRepository creates a new EventLogRepository.
func NewEventLogRepository(conn *Connection) *EventLogRepository {
	return &EventLogRepository{
		conn:    conn,
		retrier: retry.DatabaseRetrier(),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// SaveBatch archives records, silently skipping message IDs already stored.
// Records without a message ID are not archivable and are skipped too.
// Returns the number of rows newly inserted.
func (r *EventLogRepository) SaveBatch(ctx context.Context, records []session.RawRecord) (int, error) {
	query := `
		INSERT INTO event_log (message_id, occurred_at, ign, marker)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO NOTHING
	`

	keyed := make([]session.RawRecord, 0, len(records))
	for _, rec := range records {
		if !rec.MessageID.IsEmpty() {
			keyed = append(keyed, rec)
		}
	}
	if len(keyed) == 0 {
		return 0, nil
	}

	var inserted int
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		inserted = 0

		// ON CONFLICT DO NOTHING makes the whole transaction idempotent,
		// so a retry after a partial failure never double-counts.
		txErr := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for _, rec := range keyed {
				batch.Queue(query,
					rec.MessageID.String(),
					rec.Timestamp,
					rec.Identity.String(),
					rec.Marker.String(),
				)
			}

			br := tx.SendBatch(ctx, batch)
			defer br.Close()

			for range keyed {
				tag, err := br.Exec()
				if err != nil {
					return fmt.Errorf("failed to archive record: %w", err)
				}
				inserted += int(tag.RowsAffected())
			}

			return nil
		})
		if txErr != nil {
			return retry.Retryable(txErr)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// LoadAll returns every archived record, oldest first.
func (r *EventLogRepository) LoadAll(ctx context.Context) ([]session.RawRecord, error) {
	query := `
		SELECT message_id, occurred_at, ign, marker
		FROM event_log
		ORDER BY occurred_at ASC, id ASC
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load event log: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// LoadSince returns archived records with occurred_at >= since, oldest first.
func (r *EventLogRepository) LoadSince(ctx context.Context, since time.Time) ([]session.RawRecord, error) {
	query := `
		SELECT message_id, occurred_at, ign, marker
		FROM event_log
		WHERE occurred_at >= $1
		ORDER BY occurred_at ASC, id ASC
	`

	rows, err := r.conn.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load event log since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// NewestMessageID returns the resume cursor: the snowflake of the newest
// archived message. Snowflakes are compared numerically, which for
// non-padded decimal strings is length first, then value. Returns the
// empty ID when the archive has never been written.
func (r *EventLogRepository) NewestMessageID(ctx context.Context) (shared.MessageID, error) {
	query := `
		SELECT message_id
		FROM event_log
		ORDER BY LENGTH(message_id) DESC, message_id DESC
		LIMIT 1
	`

	var id string
	err := r.conn.QueryRow(ctx, query).Scan(&id)
	if err != nil {
		if IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query newest message ID: %w", err)
	}

	return shared.MessageID(id), nil
}

// Count returns the number of archived records.
func (r *EventLogRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.conn.QueryRow(ctx, "SELECT COUNT(*) FROM event_log").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count event log: %w", err)
	}
	return count, nil
}

// scanRecords drains rows in (message_id, occurred_at, ign, marker) order.
func scanRecords(rows pgx.Rows) ([]session.RawRecord, error) {
	var records []session.RawRecord
	for rows.Next() {
		var (
			messageID  string
			occurredAt time.Time
			ign        string
			marker     string
		)
		if err := rows.Scan(&messageID, &occurredAt, &ign, &marker); err != nil {
			return nil, fmt.Errorf("failed to scan event log row: %w", err)
		}
		records = append(records, session.RawRecord{
			MessageID: shared.MessageID(messageID),
			Timestamp: occurredAt,
			Identity:  shared.Identity(ign),
			Marker:    session.Marker(marker),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log rows: %w", err)
	}

	return records, nil
}
