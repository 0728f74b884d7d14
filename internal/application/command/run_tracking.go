// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system.
// Each command is one use case of the tracking pipeline: a full run over the
// join/leave log, or a role sync against the guild's Discord server.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/promotion"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/report"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/session"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN TRACKING COMMAND
// Executes the full activity pipeline: retrieve the join/leave log, rebuild
// sessions, classify the roster, evaluate promotions, and produce the report.
// ══════════════════════════════════════════════════════════════════════════════

// RunTrackingCommand contains the data needed to execute a tracking run.
type RunTrackingCommand struct {
	// Trigger records what started the run.
	Trigger activity.RunTrigger

	// Offline replays the event archive without touching the Discord API.
	Offline bool

	// MaxMessages caps how many channel messages the retrieval scans.
	// Zero uses the handler default.
	MaxMessages int

	// MaxDays bounds how far back retrieval walks. Zero uses the handler
	// default.
	MaxDays int

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c RunTrackingCommand) Validate() error {
	if !c.Trigger.IsValid() {
		return activity.ErrInvalidTrigger
	}
	if c.MaxMessages < 0 {
		return errors.New("run_tracking: max messages cannot be negative")
	}
	if c.MaxDays < 0 {
		return errors.New("run_tracking: max days cannot be negative")
	}
	return nil
}

// RunTrackingStats carries the pipeline counters for one run.
type RunTrackingStats struct {
	// MessagesScanned is how many channel messages retrieval inspected.
	MessagesScanned int

	// RecordsParsed is how many messages mapped to join/leave records.
	RecordsParsed int

	// RecordsArchived is how many records were newly written to the archive.
	RecordsArchived int

	// SkippedUnknownColor counts join/leave embeds with an unrecognized
	// color palette.
	SkippedUnknownColor int

	// RecordsAccepted is how many records survived ingest validation.
	RecordsAccepted int

	// RecordsDropped is how many records ingest rejected.
	RecordsDropped int

	// OutOfOrder is how many records arrived out of chronological order.
	OutOfOrder int
}

// RunTrackingResult contains the result of a tracking run.
type RunTrackingResult struct {
	// RunID identifies the run across storage and events.
	RunID shared.RunID

	// Status is the final run status: completed, partial, or failed.
	Status activity.RunStatus

	// Report is the assembled activity report.
	Report *report.Report

	// ReportText is the rendered report, empty when no renderer is wired.
	ReportText string

	// Duration is the wall-clock runtime.
	Duration time.Duration

	// Stats carries the pipeline counters.
	Stats RunTrackingStats

	// DroppedRecords lists the records ingest rejected, with reasons, so
	// the caller can warn per record.
	DroppedRecords []session.DroppedRecord

	// Events contains domain events generated during the run.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// LogFetchRequest bounds one walk over the log channel history.
type LogFetchRequest struct {
	// MaxMessages caps the total number of messages scanned.
	MaxMessages int

	// MaxDays stops the walk after the first message older than MaxDays+1
	// days.
	MaxDays int

	// ResumeCursor halts the walk at an already-archived message,
	// exclusive. Empty walks the full window.
	ResumeCursor shared.MessageID
}

// LogFetchStats reports what a history walk did.
type LogFetchStats struct {
	// Scanned is how many channel messages were inspected.
	Scanned int

	// Parsed is how many messages mapped to join/leave records.
	Parsed int

	// SkippedColor counts join/leave embeds whose color matched neither
	// the join nor the leave palette.
	SkippedColor int

	// StoppedBy says why the walk ended.
	StoppedBy string
}

// RecordBatchFunc receives each page of parsed records. Returning an error
// aborts the walk; batches delivered before the error stay delivered.
type RecordBatchFunc func(ctx context.Context, records []session.RawRecord) error

// LogFetcher walks the guild's join/leave channel newest-first, parsing
// messages into raw records and delivering them page by page.
type LogFetcher interface {
	FetchRecords(ctx context.Context, req LogFetchRequest, onBatch RecordBatchFunc) (LogFetchStats, error)
}

// RunLock serializes tracking runs across processes. Acquire returns the
// release function for the held lock, or shared.ErrRunInProgress when
// another run holds it.
type RunLock interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// ReportRenderer renders the assembled report into its text form.
type ReportRenderer interface {
	Render(r *report.Report) string
}

// OutputSink persists run outputs: the rendered report and the Active list
// consumed by the role updater.
type OutputSink interface {
	WriteReport(content string) error
	WriteActiveList(ids []shared.Identity) error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RunTrackingHandler handles the RunTrackingCommand.
//
// Several dependencies are optional so the same handler serves both the full
// worker deployment and the bare offline CLI: a nil runLock skips
// cross-process locking, a nil eventLog disables the archive, nil runRepo and
// candidateRepo skip persistence, and a nil reportCache skips caching. The
// roster and level repositories are always required; a run without them has
// nothing to classify.
type RunTrackingHandler struct {
	fetcher       LogFetcher
	eventLog      session.EventLogRepository
	rosterRepo    member.RosterRepository
	levelRepo     member.LevelRepository
	runRepo       activity.RunRepository
	candidateRepo promotion.CandidateRepository
	reportCache   report.Cache
	runLock       RunLock
	renderer      ReportRenderer
	output        OutputSink
	eventPub      shared.EventPublisher

	config RunTrackingHandlerConfig
}

// RunTrackingHandlerConfig contains configuration for the handler.
type RunTrackingHandlerConfig struct {
	// Session holds the reconstruction thresholds.
	Session session.Config

	// Activity holds the classification thresholds.
	Activity activity.Config

	// Policy is the promotion ladder to evaluate.
	Policy promotion.Policy

	// RecentSessionLimit is how many long-session starts each report row
	// shows.
	RecentSessionLimit int

	// StaleWarningAge is how old an input file may grow before the run
	// emits a staleness event. Zero disables the events.
	StaleWarningAge time.Duration

	// MaxMessages and MaxDays are the retrieval caps applied when the
	// command leaves them zero.
	MaxMessages int
	MaxDays     int

	// ArchiveEnabled persists fetched records to the event archive and
	// sources the run from it.
	ArchiveEnabled bool

	// ResumeEnabled stops retrieval at the newest archived message.
	ResumeEnabled bool

	// CacheReport stores the assembled report in the report cache.
	CacheReport bool

	// EvaluatePromotions runs the promotion evaluator after classification.
	EvaluatePromotions bool
}

// DefaultRunTrackingHandlerConfig returns default configuration.
func DefaultRunTrackingHandlerConfig() RunTrackingHandlerConfig {
	return RunTrackingHandlerConfig{
		Session:            session.DefaultConfig(),
		Activity:           activity.DefaultConfig(),
		Policy:             promotion.DefaultPolicy(),
		RecentSessionLimit: report.DefaultRecentSessionLimit,
		StaleWarningAge:    24 * time.Hour,
		MaxMessages:        300000,
		MaxDays:            60,
		ArchiveEnabled:     true,
		ResumeEnabled:      true,
		CacheReport:        true,
		EvaluatePromotions: true,
	}
}

// NewRunTrackingHandler creates a new RunTrackingHandler.
func NewRunTrackingHandler(
	fetcher LogFetcher,
	eventLog session.EventLogRepository,
	rosterRepo member.RosterRepository,
	levelRepo member.LevelRepository,
	runRepo activity.RunRepository,
	candidateRepo promotion.CandidateRepository,
	reportCache report.Cache,
	runLock RunLock,
	renderer ReportRenderer,
	output OutputSink,
	eventPub shared.EventPublisher,
	config RunTrackingHandlerConfig,
) *RunTrackingHandler {
	if config.MaxMessages == 0 && config.MaxDays == 0 {
		config = DefaultRunTrackingHandlerConfig()
	}

	return &RunTrackingHandler{
		fetcher:       fetcher,
		eventLog:      eventLog,
		rosterRepo:    rosterRepo,
		levelRepo:     levelRepo,
		runRepo:       runRepo,
		candidateRepo: candidateRepo,
		reportCache:   reportCache,
		runLock:       runLock,
		renderer:      renderer,
		output:        output,
		eventPub:      eventPub,
		config:        config,
	}
}

// Handle executes the tracking run.
//
// On output-write failure the returned result is still non-nil: the run
// itself completed and its verdicts are persisted, only the file write
// failed.
func (h *RunTrackingHandler) Handle(ctx context.Context, cmd RunTrackingCommand) (*RunTrackingResult, error) {
	// Validate command
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("run_tracking: validation failed: %w", err)
	}

	// Serialize runs across processes
	if h.runLock != nil {
		release, err := h.runLock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("run_tracking: acquire run lock: %w", err)
		}
		defer func() { _ = release(ctx) }()
	}

	runID, err := shared.NewRunID(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("run_tracking: generate run id: %w", err)
	}

	startedAt := time.Now().UTC()
	run, err := activity.NewTrackingRun(runID, cmd.Trigger, startedAt)
	if err != nil {
		return nil, fmt.Errorf("run_tracking: open run: %w", err)
	}

	result := &RunTrackingResult{
		RunID:  runID,
		Events: make([]shared.Event, 0, 8),
	}

	// Record the in-flight run before any external work so a crashed run
	// stays visible in the history.
	h.saveRun(ctx, run, nil)

	startedEvent := shared.NewRunStartedEvent(runID.String(), cmd.Trigger.String(), cmd.Offline)
	if cmd.CorrelationID != "" {
		startedEvent.BaseEvent = startedEvent.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	h.publish(result, startedEvent)

	// Load the officer-maintained inputs. Either one missing aborts the
	// run: without the roster there is nothing to classify.
	roster, err := h.rosterRepo.Load(ctx)
	if err != nil {
		return nil, h.failRun(ctx, result, run, "load roster", err)
	}
	levels, err := h.levelRepo.Load(ctx)
	if err != nil {
		return nil, h.failRun(ctx, result, run, "load levels", err)
	}

	rosterUpdated, _ := h.rosterRepo.LastUpdated(ctx)
	levelsUpdated, _ := h.levelRepo.LastUpdated(ctx)
	h.noteStaleDirectories(result, startedAt, rosterUpdated, levelsUpdated)

	// Retrieve the join/leave records, from the channel or the archive.
	records, partialCause, err := h.collectRecords(ctx, cmd, run, result)
	if err != nil {
		return nil, h.failRun(ctx, result, run, "retrieve log", err)
	}

	// Validate and order the records. Individual bad records are dropped,
	// never fatal; an empty log is.
	ingested := session.Ingest(records)
	result.Stats.RecordsAccepted = ingested.Stats.Accepted
	result.Stats.RecordsDropped = ingested.Stats.Total - ingested.Stats.Accepted
	result.Stats.OutOfOrder = ingested.Stats.OutOfOrder
	result.DroppedRecords = ingested.Dropped

	// Rebuild per-member sessions.
	recon, err := session.Reconstruct(ingested.Entries, h.config.Session)
	if err != nil {
		return nil, h.failRun(ctx, result, run, "reconstruct sessions", err)
	}
	run.RecordIngest(ingested.Stats.Accepted, result.Stats.RecordsDropped, recon.Bounds)

	// Partition the roster into Active, GracePeriod, and Inactive.
	classification, err := activity.Classify(recon, roster, h.config.Activity)
	if err != nil {
		return nil, h.failRun(ctx, result, run, "classify roster", err)
	}
	run.RecordVerdicts(classification)

	active, grace, inactive := classification.Counts()
	h.publish(result, shared.NewRosterClassifiedEvent(
		runID.String(), roster.Size(), active, grace, inactive))

	// Evaluate the promotion ladder over the same evidence.
	var candidates []promotion.CandidateList
	if h.config.EvaluatePromotions {
		candidates, err = promotion.Evaluate(
			h.config.Policy, classification, recon, roster, levels, time.Now().UTC())
		if err != nil {
			return nil, h.failRun(ctx, result, run, "evaluate promotions", err)
		}

		if h.candidateRepo != nil {
			// Candidate persistence failing must not cost the run; the
			// lists still reach the report.
			_ = h.candidateRepo.SaveForRun(ctx, runID, candidates)
		}

		for _, list := range candidates {
			if list.IsEmpty() {
				continue
			}
			h.publish(result, shared.NewPromotionCandidatesFoundEvent(
				runID.String(), list.Transition.Name,
				identityStrings(list.Clear), identityStrings(list.NeedsReview)))
		}
	}

	// Assemble the report.
	rep, err := report.Build(report.BuildInput{
		RunID:              runID,
		GeneratedAt:        time.Now().UTC(),
		Reconstruction:     recon,
		Classification:     classification,
		Candidates:         candidates,
		Roster:             roster,
		RosterUpdatedAt:    rosterUpdated,
		LevelsUpdatedAt:    levelsUpdated,
		RecentSessionLimit: h.config.RecentSessionLimit,
	})
	if err != nil {
		return nil, h.failRun(ctx, result, run, "build report", err)
	}
	result.Report = rep

	if h.config.CacheReport && h.reportCache != nil {
		// Cache miss on the next read falls back to the run repository.
		_ = h.reportCache.SaveLatest(ctx, rep)
	}

	// Close the run before writing output files: the verdicts exist even
	// if a disk write fails afterwards.
	finishedAt := time.Now().UTC()
	if partialCause != "" {
		err = run.CompletePartial(finishedAt, partialCause)
	} else {
		err = run.Complete(finishedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("run_tracking: close run: %w", err)
	}
	result.Status = run.Status
	result.Duration = run.Duration()
	h.saveRun(ctx, run, classification)

	completedEvent := shared.NewRunCompletedEvent(
		runID.String(), run.Duration(),
		active, grace, inactive,
		ingested.Stats.Accepted, recon.Bounds.From, recon.Bounds.To)
	if cmd.CorrelationID != "" {
		completedEvent.BaseEvent = completedEvent.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	h.publish(result, completedEvent)

	// Write the report and the Active list the role updater reads.
	if h.renderer != nil {
		result.ReportText = h.renderer.Render(rep)
	}
	if h.output != nil {
		if result.ReportText != "" {
			if err := h.output.WriteReport(result.ReportText); err != nil {
				return result, fmt.Errorf("run_tracking: write report: %w", err)
			}
		}
		if err := h.output.WriteActiveList(rep.ActiveIdentities()); err != nil {
			return result, fmt.Errorf("run_tracking: write active list: %w", err)
		}
	}

	return result, nil
}

// collectRecords assembles the raw join/leave records for the run.
//
// Online runs walk the channel history, archiving every page before the next
// request, then read the tracked window back from the archive so previously
// archived history merges with the fresh fetch. An interrupted fetch is not
// fatal once anything is archived: the run proceeds on archived data and is
// marked partial, with the cause in the second return value.
func (h *RunTrackingHandler) collectRecords(
	ctx context.Context,
	cmd RunTrackingCommand,
	run *activity.TrackingRun,
	result *RunTrackingResult,
) ([]session.RawRecord, string, error) {
	maxMessages := cmd.MaxMessages
	if maxMessages <= 0 {
		maxMessages = h.config.MaxMessages
	}
	maxDays := cmd.MaxDays
	if maxDays <= 0 {
		maxDays = h.config.MaxDays
	}

	archiving := h.config.ArchiveEnabled && h.eventLog != nil

	if cmd.Offline {
		if !archiving {
			return nil, "", fmt.Errorf("offline run needs the event archive: %w", shared.ErrInputUnavailable)
		}
		records, err := h.loadArchiveWindow(ctx, maxDays)
		if err != nil {
			return nil, "", err
		}
		return records, "", nil
	}

	if h.fetcher == nil {
		return nil, "", fmt.Errorf("log fetcher not configured: %w", shared.ErrInputUnavailable)
	}

	req := LogFetchRequest{
		MaxMessages: maxMessages,
		MaxDays:     maxDays,
	}
	if archiving && h.config.ResumeEnabled {
		if cursor, err := h.eventLog.NewestMessageID(ctx); err == nil {
			req.ResumeCursor = cursor
		}
	}

	var fetched []session.RawRecord
	var archived int
	stats, fetchErr := h.fetcher.FetchRecords(ctx, req, func(ctx context.Context, batch []session.RawRecord) error {
		if !archiving {
			fetched = append(fetched, batch...)
			return nil
		}
		n, err := h.eventLog.SaveBatch(ctx, batch)
		if err != nil {
			return err
		}
		archived += n
		return nil
	})

	var partialCause string
	if fetchErr != nil {
		if !archiving || archived == 0 {
			return nil, "", fetchErr
		}
		// Pages archived before the failure carry the run.
		partialCause = fetchErr.Error()
	}

	run.RecordRetrieval(stats.Scanned, archived)
	result.Stats.MessagesScanned = stats.Scanned
	result.Stats.RecordsParsed = stats.Parsed
	result.Stats.RecordsArchived = archived
	result.Stats.SkippedUnknownColor = stats.SkippedColor

	h.publish(result, shared.NewLogFetchCompletedEvent(
		run.ID.String(), stats.Scanned, archived, stats.SkippedColor, partialCause != ""))

	if !archiving {
		return fetched, partialCause, nil
	}

	records, err := h.loadArchiveWindow(ctx, maxDays)
	if err != nil {
		return nil, "", err
	}
	return records, partialCause, nil
}

// loadArchiveWindow reads the archived records covering the tracked window,
// one day wider than maxDays so the window edge is never clipped short.
func (h *RunTrackingHandler) loadArchiveWindow(ctx context.Context, maxDays int) ([]session.RawRecord, error) {
	since := time.Now().UTC().AddDate(0, 0, -(maxDays + 1))
	return h.eventLog.LoadSince(ctx, since)
}

// noteStaleDirectories emits a staleness event per input file that has not
// been refreshed within the configured age. The run itself proceeds; the
// report carries the matching warning.
func (h *RunTrackingHandler) noteStaleDirectories(result *RunTrackingResult, now, roster, levels time.Time) {
	if h.config.StaleWarningAge <= 0 {
		return
	}
	if !roster.IsZero() && now.Sub(roster) > h.config.StaleWarningAge {
		h.publish(result, shared.NewDirectoryStaleEvent("roster", roster, now.Sub(roster)))
	}
	if !levels.IsZero() && now.Sub(levels) > h.config.StaleWarningAge {
		h.publish(result, shared.NewDirectoryStaleEvent("levels", levels, now.Sub(levels)))
	}
}

// failRun closes the run as failed, records it, and publishes the failure
// event. The returned error wraps the cause with the failed stage.
func (h *RunTrackingHandler) failRun(
	ctx context.Context,
	result *RunTrackingResult,
	run *activity.TrackingRun,
	stage string,
	cause error,
) error {
	_ = run.Fail(time.Now().UTC(), cause.Error())
	result.Status = run.Status
	h.saveRun(ctx, run, nil)
	h.publish(result, shared.NewRunFailedEvent(run.ID.String(), stage, cause.Error()))
	return fmt.Errorf("run_tracking: %s: %w", stage, cause)
}

// saveRun persists the run snapshot. Persistence problems never abort the
// pipeline; the run in memory stays the source of truth for the report.
func (h *RunTrackingHandler) saveRun(ctx context.Context, run *activity.TrackingRun, c *activity.Classification) {
	if h.runRepo == nil {
		return
	}
	_ = h.runRepo.Save(ctx, run, c)
}

// publish records the event on the result and sends it to subscribers.
// Publish failures never fail the run; handlers are side effects.
func (h *RunTrackingHandler) publish(result *RunTrackingResult, event shared.Event) {
	result.Events = append(result.Events, event)
	if h.eventPub == nil {
		return
	}
	_ = h.eventPub.Publish(event)
}

// identityStrings converts identities to plain strings for event payloads.
func identityStrings(ids []shared.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
