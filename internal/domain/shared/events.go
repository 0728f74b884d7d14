package shared

import (
	"time"
)

// EventType names a kind of domain event.
type EventType string

// Every event type the engine emits. The dispatcher routes handlers by
// these names, and the Redis relay publishes them verbatim.
const (
	// Tracking run lifecycle
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"

	// Log retrieval
	EventLogFetchCompleted EventType = "log.fetch_completed"

	// Classification
	EventRosterClassified EventType = "activity.roster_classified"

	// Promotions
	EventPromotionCandidatesFound EventType = "promotion.candidates_found"

	// Input freshness
	EventDirectoryStale EventType = "directory.stale"

	// Role sync
	EventRolesSynced EventType = "roles.synced"
)

// Event is what every domain event can answer about itself.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string

	// Payload returns the event data as a map for logging and transport.
	Payload() map[string]interface{}
}

// BaseEvent carries the fields shared by every event. Concrete events
// embed it and add their own payload fields.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e BaseEvent) EventType() EventType {
	return e.Type
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent stamps a fresh event of the given type.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Tracking Run Events
// ═══════════════════════════════════════════════════════════════════════════

// RunStartedEvent is emitted when a tracking run begins.
type RunStartedEvent struct {
	BaseEvent
	RunID   string `json:"run_id"`
	Trigger string `json:"trigger"` // e.g., "schedule", "manual", "cli"
	Offline bool   `json:"offline"` // true when replaying the archive without fetching
}

// Payload implements Event interface.
func (e RunStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"run_id":  e.RunID,
		"trigger": e.Trigger,
		"offline": e.Offline,
	}
}

// NewRunStartedEvent creates a new RunStartedEvent.
func NewRunStartedEvent(runID, trigger string, offline bool) RunStartedEvent {
	return RunStartedEvent{
		BaseEvent: NewBaseEvent(EventRunStarted, runID),
		RunID:     runID,
		Trigger:   trigger,
		Offline:   offline,
	}
}

// RunCompletedEvent is emitted when a tracking run finishes successfully.
type RunCompletedEvent struct {
	BaseEvent
	RunID         string        `json:"run_id"`
	Duration      time.Duration `json:"duration"`
	ActiveCount   int           `json:"active_count"`
	GraceCount    int           `json:"grace_count"`
	InactiveCount int           `json:"inactive_count"`
	LogEntries    int           `json:"log_entries"`
	LogStart      time.Time     `json:"log_start"`
	LogEnd        time.Time     `json:"log_end"`
}

// Payload implements Event interface.
func (e RunCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"run_id":         e.RunID,
		"duration":       e.Duration.String(),
		"active_count":   e.ActiveCount,
		"grace_count":    e.GraceCount,
		"inactive_count": e.InactiveCount,
		"log_entries":    e.LogEntries,
		"log_start":      e.LogStart.Format(time.RFC3339),
		"log_end":        e.LogEnd.Format(time.RFC3339),
	}
}

// NewRunCompletedEvent creates a new RunCompletedEvent.
func NewRunCompletedEvent(runID string, duration time.Duration, active, grace, inactive, entries int, logStart, logEnd time.Time) RunCompletedEvent {
	return RunCompletedEvent{
		BaseEvent:     NewBaseEvent(EventRunCompleted, runID),
		RunID:         runID,
		Duration:      duration,
		ActiveCount:   active,
		GraceCount:    grace,
		InactiveCount: inactive,
		LogEntries:    entries,
		LogStart:      logStart,
		LogEnd:        logEnd,
	}
}

// RunFailedEvent is emitted when a tracking run aborts.
type RunFailedEvent struct {
	BaseEvent
	RunID  string `json:"run_id"`
	Stage  string `json:"stage"` // e.g., "fetch", "roster", "classify"
	Reason string `json:"reason"`
}

// Payload implements Event interface.
func (e RunFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"run_id": e.RunID,
		"stage":  e.Stage,
		"reason": e.Reason,
	}
}

// NewRunFailedEvent creates a new RunFailedEvent.
func NewRunFailedEvent(runID, stage, reason string) RunFailedEvent {
	return RunFailedEvent{
		BaseEvent: NewBaseEvent(EventRunFailed, runID),
		RunID:     runID,
		Stage:     stage,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Log Retrieval Events
// ═══════════════════════════════════════════════════════════════════════════

// LogFetchCompletedEvent is emitted after the log channel fetch finishes,
// whether complete or interrupted. Partial fetches still archive every page
// retrieved before the failure.
type LogFetchCompletedEvent struct {
	BaseEvent
	RunID        string `json:"run_id"`
	Fetched      int    `json:"fetched"`
	Archived     int    `json:"archived"`
	SkippedColor int    `json:"skipped_color"`
	Partial      bool   `json:"partial"`
}

// Payload implements Event interface.
func (e LogFetchCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"run_id":        e.RunID,
		"fetched":       e.Fetched,
		"archived":      e.Archived,
		"skipped_color": e.SkippedColor,
		"partial":       e.Partial,
	}
}

// NewLogFetchCompletedEvent creates a new LogFetchCompletedEvent.
func NewLogFetchCompletedEvent(runID string, fetched, archived, skippedColor int, partial bool) LogFetchCompletedEvent {
	return LogFetchCompletedEvent{
		BaseEvent:    NewBaseEvent(EventLogFetchCompleted, runID),
		RunID:        runID,
		Fetched:      fetched,
		Archived:     archived,
		SkippedColor: skippedColor,
		Partial:      partial,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Classification Events
// ═══════════════════════════════════════════════════════════════════════════

// RosterClassifiedEvent is emitted when the roster partition is computed.
type RosterClassifiedEvent struct {
	BaseEvent
	RunID         string `json:"run_id"`
	RosterSize    int    `json:"roster_size"`
	ActiveCount   int    `json:"active_count"`
	GraceCount    int    `json:"grace_count"`
	InactiveCount int    `json:"inactive_count"`
}

// Payload implements Event interface.
func (e RosterClassifiedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"run_id":         e.RunID,
		"roster_size":    e.RosterSize,
		"active_count":   e.ActiveCount,
		"grace_count":    e.GraceCount,
		"inactive_count": e.InactiveCount,
	}
}

// NewRosterClassifiedEvent creates a new RosterClassifiedEvent.
func NewRosterClassifiedEvent(runID string, rosterSize, active, grace, inactive int) RosterClassifiedEvent {
	return RosterClassifiedEvent{
		BaseEvent:     NewBaseEvent(EventRosterClassified, runID),
		RunID:         runID,
		RosterSize:    rosterSize,
		ActiveCount:   active,
		GraceCount:    grace,
		InactiveCount: inactive,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Promotion Events
// ═══════════════════════════════════════════════════════════════════════════

// PromotionCandidatesFoundEvent is emitted per transition when the evaluator
// produces a non-empty candidate list. Candidates whose guild join date was
// never observed pass eligibility but land in NeedsReview instead of Clear.
type PromotionCandidatesFoundEvent struct {
	BaseEvent
	RunID       string   `json:"run_id"`
	Transition  string   `json:"transition"`
	Clear       []string `json:"clear"`
	NeedsReview []string `json:"needs_review"`
}

// Payload implements Event interface.
func (e PromotionCandidatesFoundEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"run_id":       e.RunID,
		"transition":   e.Transition,
		"clear":        e.Clear,
		"needs_review": e.NeedsReview,
	}
}

// NewPromotionCandidatesFoundEvent creates a new PromotionCandidatesFoundEvent.
func NewPromotionCandidatesFoundEvent(runID, transition string, clear, needsReview []string) PromotionCandidatesFoundEvent {
	return PromotionCandidatesFoundEvent{
		BaseEvent:   NewBaseEvent(EventPromotionCandidatesFound, runID),
		RunID:       runID,
		Transition:  transition,
		Clear:       clear,
		NeedsReview: needsReview,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Directory Events
// ═══════════════════════════════════════════════════════════════════════════

// DirectoryStaleEvent is emitted when a data file backing a run has not been
// refreshed recently. The run proceeds; the report carries a warning.
type DirectoryStaleEvent struct {
	BaseEvent
	Directory   string    `json:"directory"` // "roster" or "levels"
	LastUpdated time.Time `json:"last_updated"`
	Age         string    `json:"age"`
}

// Payload implements Event interface.
func (e DirectoryStaleEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"directory":    e.Directory,
		"last_updated": e.LastUpdated.Format(time.RFC3339),
		"age":          e.Age,
	}
}

// NewDirectoryStaleEvent creates a new DirectoryStaleEvent.
func NewDirectoryStaleEvent(directory string, lastUpdated time.Time, age time.Duration) DirectoryStaleEvent {
	return DirectoryStaleEvent{
		BaseEvent:   NewBaseEvent(EventDirectoryStale, directory),
		Directory:   directory,
		LastUpdated: lastUpdated,
		Age:         age.String(),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Role Sync Events
// ═══════════════════════════════════════════════════════════════════════════

// RolesSyncedEvent is emitted after the active-role sync applies (or, in dry
// run, would apply) role mutations on the guild server.
type RolesSyncedEvent struct {
	BaseEvent
	RunID   string `json:"run_id"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	DryRun  bool   `json:"dry_run"`
}

// Payload implements Event interface.
func (e RolesSyncedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"run_id":  e.RunID,
		"added":   e.Added,
		"removed": e.Removed,
		"dry_run": e.DryRun,
	}
}

// NewRolesSyncedEvent creates a new RolesSyncedEvent.
func NewRolesSyncedEvent(runID string, added, removed int, dryRun bool) RolesSyncedEvent {
	return RolesSyncedEvent{
		BaseEvent: NewBaseEvent(EventRolesSynced, runID),
		RunID:     runID,
		Added:     added,
		Removed:   removed,
		DryRun:    dryRun,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler reacts to one event. A handler error is logged by the bus
// but never fails the publishing side.
type EventHandler func(event Event) error

// EventPublisher is the write half of the bus; command handlers depend on
// this alone so tests can capture events with a slice-backed fake.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber is the read half of the bus.
type EventSubscriber interface {
	// Subscribe registers a handler for one event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler that sees every event.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines both halves; the in-process dispatcher implements it.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
