package member

import (
	"context"
	"time"
)

// RosterRepository loads the guild roster from its backing store.
// This interface is implemented by the infrastructure layer.
// The domain layer has no knowledge of the actual storage mechanism.
type RosterRepository interface {
	// Load parses and returns the full roster. A missing or unreadable
	// source is a fatal error for the calling run (shared.ErrInputUnavailable).
	Load(ctx context.Context) (*Roster, error)

	// LastUpdated returns when the backing file was last modified.
	// Used for staleness warnings in the activity report.
	LastUpdated(ctx context.Context) (time.Time, error)
}

// LevelRepository loads the numeric level directory.
type LevelRepository interface {
	// Load parses and returns the level directory. A missing source is
	// fatal (shared.ErrInputUnavailable); malformed lines inside an
	// existing file are skipped.
	Load(ctx context.Context) (*LevelDirectory, error)

	// LastUpdated returns when the backing file was last modified.
	LastUpdated(ctx context.Context) (time.Time, error)
}
