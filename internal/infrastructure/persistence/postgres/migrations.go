package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrMigrationFailed wraps any schema migration failure.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// GetMigrations returns the schema in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_event_log", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_tracking_runs", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_promotion_candidates", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// Migrator applies pending migrations at startup. Both binaries run it;
// the schema_migrations table makes that race-safe enough for this
// deployment (one worker, occasional CLI runs).
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator over the embedded schema.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

// Migrate applies every migration not yet recorded, each in its own
// transaction together with its bookkeeping row.
func (m *Migrator) Migrate(ctx context.Context) error {
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for version %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)",
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts the newest applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var target *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			target = &m.migrations[i]
			break
		}
	}
	if target == nil || target.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for version %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, target.DownSQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", last)
		return err
	})
}

// appliedVersions ensures the bookkeeping table exists and returns the
// recorded versions.
func (m *Migrator) appliedVersions(ctx context.Context) (map[int]time.Time, error) {
	_, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: create schema_migrations: %v", ErrMigrationFailed, err)
	}

	rows, err := m.conn.Query(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("%w: read schema_migrations: %v", ErrMigrationFailed, err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("%w: scan schema_migrations: %v", ErrMigrationFailed, err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE EVENT LOG
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create the join/leave event archive
-- Version: 001

-- Append-only archive of parsed log records. message_id is the chat
-- platform snowflake and the dedup key: re-fetching an already archived
-- page inserts nothing.
CREATE TABLE IF NOT EXISTS event_log (
    id BIGSERIAL PRIMARY KEY,
    message_id VARCHAR(20) NOT NULL UNIQUE,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ign VARCHAR(100) NOT NULL,
    marker VARCHAR(20) NOT NULL,
    archived_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- Constraints for data integrity
    CONSTRAINT valid_marker CHECK (marker IN ('join', 'leave', 'guild_join')),
    CONSTRAINT nonempty_ign CHECK (ign <> '')
);

-- Replay order: chronological, insertion id as tiebreaker
CREATE INDEX IF NOT EXISTS idx_event_log_occurred_at ON event_log(occurred_at, id);

-- Resume cursor: newest snowflake by numeric order (length, then value)
CREATE INDEX IF NOT EXISTS idx_event_log_snowflake ON event_log(LENGTH(message_id) DESC, message_id DESC);

-- Per-member history lookups
CREATE INDEX IF NOT EXISTS idx_event_log_ign ON event_log(ign, occurred_at);
`

const migration001Down = `
DROP TABLE IF EXISTS event_log;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE TRACKING RUNS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create tracking run history and per-run verdicts
-- Version: 002

-- One row per pipeline execution, inserted when the run starts and
-- updated when it finishes.
CREATE TABLE IF NOT EXISTS tracking_runs (
    id UUID PRIMARY KEY,
    triggered_by VARCHAR(20) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'running',
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    finished_at TIMESTAMP WITH TIME ZONE,
    log_from TIMESTAMP WITH TIME ZONE,
    log_to TIMESTAMP WITH TIME ZONE,
    messages_scanned INTEGER NOT NULL DEFAULT 0,
    records_archived INTEGER NOT NULL DEFAULT 0,
    records_accepted INTEGER NOT NULL DEFAULT 0,
    records_dropped INTEGER NOT NULL DEFAULT 0,
    active_count INTEGER NOT NULL DEFAULT 0,
    grace_count INTEGER NOT NULL DEFAULT 0,
    inactive_count INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',

    -- Constraints for data integrity
    CONSTRAINT valid_trigger CHECK (triggered_by IN ('scheduled', 'manual', 'cli')),
    CONSTRAINT valid_run_status CHECK (status IN ('running', 'completed', 'partial', 'failed')),
    CONSTRAINT finished_after_started CHECK (finished_at IS NULL OR finished_at >= started_at)
);

CREATE INDEX IF NOT EXISTS idx_tracking_runs_started_at ON tracking_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_tracking_runs_status ON tracking_runs(status) WHERE status = 'running';

-- Verdict lists for a run. sort_order preserves the report ordering
-- (last join descending, never-observed members alphabetically last).
CREATE TABLE IF NOT EXISTS run_verdicts (
    id BIGSERIAL PRIMARY KEY,
    run_id UUID NOT NULL REFERENCES tracking_runs(id) ON DELETE CASCADE,
    ign VARCHAR(100) NOT NULL,
    verdict VARCHAR(20) NOT NULL,
    sort_order INTEGER NOT NULL,

    -- Constraints for data integrity
    CONSTRAINT valid_verdict CHECK (verdict IN ('active', 'grace_period', 'inactive')),
    CONSTRAINT uq_run_verdicts_member UNIQUE (run_id, ign)
);

CREATE INDEX IF NOT EXISTS idx_run_verdicts_run ON run_verdicts(run_id, verdict, sort_order);
`

const migration002Down = `
DROP TABLE IF EXISTS run_verdicts;
DROP TABLE IF EXISTS tracking_runs;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE PROMOTION CANDIDATES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create promotion candidate lists
-- Version: 003

-- Candidates recommended by a run, one row per member per transition.
-- needs_review marks members whose guild join date was never observed;
-- they are surfaced for a human decision instead of being promoted or
-- dropped silently. sort_order preserves roster file order.
CREATE TABLE IF NOT EXISTS promotion_candidates (
    id BIGSERIAL PRIMARY KEY,
    run_id UUID NOT NULL REFERENCES tracking_runs(id) ON DELETE CASCADE,
    transition VARCHAR(50) NOT NULL,
    ign VARCHAR(100) NOT NULL,
    needs_review BOOLEAN NOT NULL DEFAULT FALSE,
    sort_order INTEGER NOT NULL,

    CONSTRAINT uq_promotion_candidates UNIQUE (run_id, transition, ign)
);

CREATE INDEX IF NOT EXISTS idx_promotion_candidates_run ON promotion_candidates(run_id, transition, sort_order);
`

const migration003Down = `
DROP TABLE IF EXISTS promotion_candidates;
`
