package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRACKING RUN REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RunRepository implements activity.RunRepository for PostgreSQL.
// A run row is inserted when the pipeline starts and updated in place when
// it finishes, so the upsert keys on the run ID. Verdict lists ride along
// in the same transaction: a run that claims counts always has the rows
// backing them.
type RunRepository struct {
	conn *Connection
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(conn *Connection) *RunRepository {
	return &RunRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Save upserts the run and, when a classification is present, replaces its
// verdict lists in the same transaction.
func (r *RunRepository) Save(ctx context.Context, run *activity.TrackingRun, classification *activity.Classification) error {
	if run == nil {
		return fmt.Errorf("run repository: run is nil")
	}

	upsertRun := `
		INSERT INTO tracking_runs (
			id, triggered_by, status, started_at, finished_at,
			log_from, log_to,
			messages_scanned, records_archived, records_accepted, records_dropped,
			active_count, grace_count, inactive_count, error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			log_from = EXCLUDED.log_from,
			log_to = EXCLUDED.log_to,
			messages_scanned = EXCLUDED.messages_scanned,
			records_archived = EXCLUDED.records_archived,
			records_accepted = EXCLUDED.records_accepted,
			records_dropped = EXCLUDED.records_dropped,
			active_count = EXCLUDED.active_count,
			grace_count = EXCLUDED.grace_count,
			inactive_count = EXCLUDED.inactive_count,
			error = EXCLUDED.error
	`

	deleteVerdicts := `DELETE FROM run_verdicts WHERE run_id = $1`

	insertVerdict := `
		INSERT INTO run_verdicts (run_id, ign, verdict, sort_order)
		VALUES ($1, $2, $3, $4)
	`

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, upsertRun,
			run.ID.String(),
			run.Trigger.String(),
			run.Status.String(),
			run.StartedAt,
			run.FinishedAt,
			nullableTime(run.LogBounds.From),
			nullableTime(run.LogBounds.To),
			run.MessagesScanned,
			run.RecordsArchived,
			run.RecordsAccepted,
			run.RecordsDropped,
			run.ActiveCount,
			run.GraceCount,
			run.InactiveCount,
			run.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}

		if classification == nil {
			return nil
		}

		// Replace, never merge: the lists are a snapshot of one
		// classification and must stay an exact partition.
		if _, err := tx.Exec(ctx, deleteVerdicts, run.ID.String()); err != nil {
			return fmt.Errorf("failed to clear verdicts: %w", err)
		}

		batch := &pgx.Batch{}
		queueList := func(ids []shared.Identity, verdict activity.Verdict) {
			for i, id := range ids {
				batch.Queue(insertVerdict, run.ID.String(), id.String(), verdict.String(), i)
			}
		}
		queueList(classification.Active, activity.VerdictActive)
		queueList(classification.GracePeriod, activity.VerdictGracePeriod)
		queueList(classification.Inactive, activity.VerdictInactive)

		if batch.Len() == 0 {
			return nil
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("failed to save verdict: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist tracking run %s: %w", run.ID, err)
	}

	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

const runColumns = `
	id, triggered_by, status, started_at, finished_at,
	log_from, log_to,
	messages_scanned, records_archived, records_accepted, records_dropped,
	active_count, grace_count, inactive_count, error
`

// FindByID returns a run by ID, or shared.ErrRunNotFound.
func (r *RunRepository) FindByID(ctx context.Context, id shared.RunID) (*activity.TrackingRun, error) {
	query := `SELECT ` + runColumns + ` FROM tracking_runs WHERE id = $1`

	run, err := scanRun(r.conn.QueryRow(ctx, query, id.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to find run %s: %w", id, err)
	}

	return run, nil
}

// Latest returns the most recently started run, or shared.ErrRunNotFound
// when the history is empty.
func (r *RunRepository) Latest(ctx context.Context) (*activity.TrackingRun, error) {
	query := `SELECT ` + runColumns + ` FROM tracking_runs ORDER BY started_at DESC LIMIT 1`

	run, err := scanRun(r.conn.QueryRow(ctx, query))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to find latest run: %w", err)
	}

	return run, nil
}

// List returns runs ordered by start time descending, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*activity.TrackingRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + runColumns + ` FROM tracking_runs ORDER BY started_at DESC LIMIT $1`

	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*activity.TrackingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run rows: %w", err)
	}

	return runs, nil
}

// VerdictsByRun rehydrates the verdict lists persisted with a run. The
// per-list sort_order written by Save is restored by reading in ascending
// order and appending by verdict.
func (r *RunRepository) VerdictsByRun(ctx context.Context, id shared.RunID) (*activity.Classification, error) {
	query := `
		SELECT ign, verdict
		FROM run_verdicts
		WHERE run_id = $1
		ORDER BY sort_order ASC, id ASC
	`

	rows, err := r.conn.Query(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load verdicts for run %s: %w", id, err)
	}
	defer rows.Close()

	var active, grace, inactive []shared.Identity
	for rows.Next() {
		var (
			ign     string
			verdict string
		)
		if err := rows.Scan(&ign, &verdict); err != nil {
			return nil, fmt.Errorf("failed to scan verdict row: %w", err)
		}

		identity := shared.Identity(ign)
		switch activity.Verdict(verdict) {
		case activity.VerdictActive:
			active = append(active, identity)
		case activity.VerdictGracePeriod:
			grace = append(grace, identity)
		case activity.VerdictInactive:
			inactive = append(inactive, identity)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read verdict rows: %w", err)
	}

	return activity.NewClassification(active, grace, inactive), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

// scanRun maps a row in runColumns order onto the aggregate.
func scanRun(row pgx.Row) (*activity.TrackingRun, error) {
	var (
		run        activity.TrackingRun
		id         string
		trigger    string
		status     string
		finishedAt *time.Time
		logFrom    *time.Time
		logTo      *time.Time
	)

	err := row.Scan(
		&id,
		&trigger,
		&status,
		&run.StartedAt,
		&finishedAt,
		&logFrom,
		&logTo,
		&run.MessagesScanned,
		&run.RecordsArchived,
		&run.RecordsAccepted,
		&run.RecordsDropped,
		&run.ActiveCount,
		&run.GraceCount,
		&run.InactiveCount,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}

	run.ID = shared.RunID(id)
	run.Trigger = activity.RunTrigger(trigger)
	run.Status = activity.RunStatus(status)
	run.FinishedAt = finishedAt
	if logFrom != nil && logTo != nil {
		run.LogBounds = shared.TimeRange{From: *logFrom, To: *logTo}
	}

	return &run, nil
}

// nullableTime maps the zero time onto NULL so runs that failed before
// reconstruction carry no log bounds.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
