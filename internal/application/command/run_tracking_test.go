package command

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/promotion"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/report"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/session"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

// logStart sits comfortably inside the default 60-day retrieval window.
var logStart = time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Second)

func rec(offset time.Duration, ign string, marker session.Marker, msgID string) session.RawRecord {
	return session.RawRecord{
		MessageID: shared.MessageID(msgID),
		Timestamp: logStart.Add(offset),
		Identity:  shared.Identity(ign),
		Marker:    marker,
	}
}

// activeRecords yields two long sessions far enough apart to stay separate,
// which clears the default Active threshold.
func activeRecords(ign string) []session.RawRecord {
	return []session.RawRecord{
		rec(0, ign, session.MarkerJoin, "100"),
		rec(40*time.Minute, ign, session.MarkerLeave, "101"),
		rec(10*time.Hour, ign, session.MarkerJoin, "102"),
		rec(10*time.Hour+45*time.Minute, ign, session.MarkerLeave, "103"),
	}
}

func testRoster(t *testing.T, igns ...string) *member.Roster {
	t.Helper()
	ids := make([]shared.Identity, len(igns))
	for i, ign := range igns {
		ids[i] = shared.Identity(ign)
	}
	roster, err := member.NewRoster([]member.RosterSection{
		{Rank: member.RankRawEgg, Members: ids},
	})
	require.NoError(t, err)
	return roster
}

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeFetcher struct {
	batches [][]session.RawRecord
	stats   LogFetchStats
	err     error

	calls   int
	lastReq LogFetchRequest
}

func (f *fakeFetcher) FetchRecords(ctx context.Context, req LogFetchRequest, onBatch RecordBatchFunc) (LogFetchStats, error) {
	f.calls++
	f.lastReq = req
	for _, batch := range f.batches {
		if err := onBatch(ctx, batch); err != nil {
			return f.stats, err
		}
	}
	return f.stats, f.err
}

type memEventLog struct {
	records map[shared.MessageID]session.RawRecord
	saveErr error
}

func newMemEventLog(records ...session.RawRecord) *memEventLog {
	log := &memEventLog{records: make(map[shared.MessageID]session.RawRecord)}
	for _, r := range records {
		log.records[r.MessageID] = r
	}
	return log
}

func (l *memEventLog) SaveBatch(_ context.Context, batch []session.RawRecord) (int, error) {
	if l.saveErr != nil {
		return 0, l.saveErr
	}
	inserted := 0
	for _, r := range batch {
		if _, dup := l.records[r.MessageID]; dup {
			continue
		}
		l.records[r.MessageID] = r
		inserted++
	}
	return inserted, nil
}

func (l *memEventLog) LoadAll(ctx context.Context) ([]session.RawRecord, error) {
	return l.LoadSince(ctx, time.Time{})
}

func (l *memEventLog) LoadSince(_ context.Context, since time.Time) ([]session.RawRecord, error) {
	var out []session.RawRecord
	for _, r := range l.records {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (l *memEventLog) NewestMessageID(_ context.Context) (shared.MessageID, error) {
	var newest shared.MessageID
	for id := range l.records {
		if string(id) > string(newest) {
			newest = id
		}
	}
	return newest, nil
}

func (l *memEventLog) Count(_ context.Context) (int64, error) {
	return int64(len(l.records)), nil
}

type stubRosterRepo struct {
	roster  *member.Roster
	updated time.Time
	err     error
}

func (s *stubRosterRepo) Load(context.Context) (*member.Roster, error) { return s.roster, s.err }
func (s *stubRosterRepo) LastUpdated(context.Context) (time.Time, error) {
	return s.updated, nil
}

type stubLevelRepo struct {
	levels  *member.LevelDirectory
	updated time.Time
	err     error
}

func (s *stubLevelRepo) Load(context.Context) (*member.LevelDirectory, error) {
	return s.levels, s.err
}
func (s *stubLevelRepo) LastUpdated(context.Context) (time.Time, error) {
	return s.updated, nil
}

type stubLock struct {
	err      error
	acquired bool
	released bool
}

func (s *stubLock) Acquire(context.Context) (func(context.Context) error, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.acquired = true
	return func(context.Context) error {
		s.released = true
		return nil
	}, nil
}

type stubRenderer struct{}

func (stubRenderer) Render(r *report.Report) string {
	return "report for run " + r.RunID.String() + "\n"
}

type memSink struct {
	report    string
	active    []shared.Identity
	reportErr error
	activeErr error
}

func (s *memSink) WriteReport(content string) error {
	if s.reportErr != nil {
		return s.reportErr
	}
	s.report = content
	return nil
}

func (s *memSink) WriteActiveList(ids []shared.Identity) error {
	if s.activeErr != nil {
		return s.activeErr
	}
	s.active = ids
	return nil
}

type memRunRepo struct {
	statuses []activity.RunStatus
	runs     map[shared.RunID]*activity.TrackingRun
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{runs: make(map[shared.RunID]*activity.TrackingRun)}
}

func (r *memRunRepo) Save(_ context.Context, run *activity.TrackingRun, _ *activity.Classification) error {
	r.statuses = append(r.statuses, run.Status)
	r.runs[run.ID] = run
	return nil
}

func (r *memRunRepo) FindByID(_ context.Context, id shared.RunID) (*activity.TrackingRun, error) {
	run, ok := r.runs[id]
	if !ok {
		return nil, shared.ErrRunNotFound
	}
	return run, nil
}

func (r *memRunRepo) Latest(context.Context) (*activity.TrackingRun, error) {
	return nil, shared.ErrRunNotFound
}

func (r *memRunRepo) List(context.Context, int) ([]*activity.TrackingRun, error) {
	return nil, nil
}

func (r *memRunRepo) VerdictsByRun(context.Context, shared.RunID) (*activity.Classification, error) {
	return activity.NewClassification(nil, nil, nil), nil
}

type memCandidateRepo struct {
	byRun map[shared.RunID][]promotion.CandidateList
}

func newMemCandidateRepo() *memCandidateRepo {
	return &memCandidateRepo{byRun: make(map[shared.RunID][]promotion.CandidateList)}
}

func (r *memCandidateRepo) SaveForRun(_ context.Context, runID shared.RunID, lists []promotion.CandidateList) error {
	r.byRun[runID] = lists
	return nil
}

func (r *memCandidateRepo) FindByRun(_ context.Context, runID shared.RunID) ([]promotion.CandidateList, error) {
	return r.byRun[runID], nil
}

type memReportCache struct {
	latest  *report.Report
	saveErr error
}

func (c *memReportCache) SaveLatest(_ context.Context, r *report.Report) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	c.latest = r
	return nil
}

func (c *memReportCache) Latest(context.Context) (*report.Report, error) {
	if c.latest == nil {
		return nil, report.ErrNoReport
	}
	return c.latest, nil
}

type eventRecorder struct {
	events []shared.Event
}

func (r *eventRecorder) Publish(event shared.Event) error {
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types() []shared.EventType {
	out := make([]shared.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// HARNESS
// ══════════════════════════════════════════════════════════════════════════════

type trackingHarness struct {
	fetcher    *fakeFetcher
	eventLog   *memEventLog
	roster     *stubRosterRepo
	levels     *stubLevelRepo
	runRepo    *memRunRepo
	candidates *memCandidateRepo
	cache      *memReportCache
	lock       *stubLock
	sink       *memSink
	publisher  *eventRecorder
	config     RunTrackingHandlerConfig
}

func newTrackingHarness(t *testing.T) *trackingHarness {
	cfg := DefaultRunTrackingHandlerConfig()
	cfg.StaleWarningAge = 0 // staleness is exercised in its own test

	return &trackingHarness{
		fetcher:    &fakeFetcher{},
		eventLog:   newMemEventLog(),
		roster:     &stubRosterRepo{roster: testRoster(t, "Aurvandil", "Everlynn", "Sylvara"), updated: logStart},
		levels:     &stubLevelRepo{levels: member.NewLevelDirectory(nil), updated: logStart},
		runRepo:    newMemRunRepo(),
		candidates: newMemCandidateRepo(),
		cache:      &memReportCache{},
		lock:       &stubLock{},
		sink:       &memSink{},
		publisher:  &eventRecorder{},
		config:     cfg,
	}
}

func (h *trackingHarness) handler() *RunTrackingHandler {
	return NewRunTrackingHandler(
		h.fetcher, h.eventLog, h.roster, h.levels,
		h.runRepo, h.candidates, h.cache, h.lock,
		stubRenderer{}, h.sink, h.publisher, h.config,
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRunTracking_CompletesFullPipeline(t *testing.T) {
	h := newTrackingHarness(t)
	h.fetcher.batches = [][]session.RawRecord{append(
		activeRecords("Aurvandil"),
		rec(time.Hour, "Everlynn", session.MarkerJoin, "200"),
		rec(time.Hour+5*time.Minute, "Everlynn", session.MarkerLeave, "201"),
	)}
	h.fetcher.stats = LogFetchStats{Scanned: 120, Parsed: 6}

	result, err := h.handler().Handle(context.Background(), RunTrackingCommand{Trigger: activity.TriggerScheduled})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, activity.RunStatusCompleted, result.Status)
	assert.True(t, result.RunID.IsValid())

	// Verdicts: two long sessions make Aurvandil active, Everlynn's short
	// session and the never-seen Sylvara land inactive.
	require.NotNil(t, result.Report)
	assert.Equal(t, []shared.Identity{"Aurvandil"}, result.Report.ActiveIdentities())
	assert.Len(t, result.Report.Inactive, 2)
	assert.Empty(t, result.Report.GracePeriod)

	// Outputs.
	assert.Equal(t, "report for run "+result.RunID.String()+"\n", result.ReportText)
	assert.Equal(t, result.ReportText, h.sink.report)
	assert.Equal(t, []shared.Identity{"Aurvandil"}, h.sink.active)

	// The cache serves the same run the sink received.
	require.NotNil(t, h.cache.latest)
	assert.Equal(t, result.RunID, h.cache.latest.RunID)

	// Run history: recorded at start and again at completion.
	assert.Equal(t, []activity.RunStatus{activity.RunStatusRunning, activity.RunStatusCompleted}, h.runRepo.statuses)

	// Lock round-trip.
	assert.True(t, h.lock.acquired)
	assert.True(t, h.lock.released)

	// Event trail.
	types := h.publisher.types()
	assert.Contains(t, types, shared.EventRunStarted)
	assert.Contains(t, types, shared.EventLogFetchCompleted)
	assert.Contains(t, types, shared.EventRosterClassified)
	assert.Contains(t, types, shared.EventRunCompleted)
	assert.Equal(t, types, typesOf(result.Events))

	// Stats carried through from the fetch.
	assert.Equal(t, 120, result.Stats.MessagesScanned)
	assert.Equal(t, 6, result.Stats.RecordsParsed)
}

func typesOf(events []shared.Event) []shared.EventType {
	out := make([]shared.EventType, len(events))
	for i, e := range events {
		out[i] = e.EventType()
	}
	return out
}

func TestRunTracking_ArchiveMergesPreviousHistory(t *testing.T) {
	h := newTrackingHarness(t)

	// One old record is already archived; the fetch delivers the rest.
	old := activeRecords("Aurvandil")
	h.eventLog = newMemEventLog(old[0], old[1])
	h.fetcher.batches = [][]session.RawRecord{{old[2], old[3]}}
	h.fetcher.stats = LogFetchStats{Scanned: 2, Parsed: 2}

	result, err := h.handler().Handle(context.Background(), RunTrackingCommand{Trigger: activity.TriggerScheduled})
	require.NoError(t, err)

	// Resume cursor pointed at the newest archived snowflake.
	assert.Equal(t, shared.MessageID("101"), h.fetcher.lastReq.ResumeCursor)

	// Only the fresh pages count as archived, but the classification saw
	// the merged window: both sessions, hence an Active verdict.
	assert.Equal(t, 2, result.Stats.RecordsArchived)
	assert.Equal(t, []shared.Identity{"Aurvandil"}, result.Report.ActiveIdentities())
}

func TestRunTracking_OfflineReplaysArchiveWithoutFetching(t *testing.T) {
	h := newTrackingHarness(t)
	h.eventLog = newMemEventLog(activeRecords("Aurvandil")...)

	result, err := h.handler().Handle(context.Background(), RunTrackingCommand{
		Trigger: activity.TriggerCLI,
		Offline: true,
	})
	require.NoError(t, err)

	assert.Zero(t, h.fetcher.calls)
	assert.Equal(t, activity.RunStatusCompleted, result.Status)
	assert.Equal(t, []shared.Identity{"Aurvandil"}, result.Report.ActiveIdentities())
}

func TestRunTracking_OfflineWithoutArchiveFails(t *testing.T) {
	h := newTrackingHarness(t)
	h.config.ArchiveEnabled = false

	_, err := h.handler().Handle(context.Background(), RunTrackingCommand{
		Trigger: activity.TriggerCLI,
		Offline: true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInputUnavailable)
}

func TestRunTracking_LockBusyRejectsRun(t *testing.T) {
	h := newTrackingHarness(t)
	h.lock.err = shared.ErrRunInProgress

	_, err := h.handler().Handle(context.Background(), RunTrackingCommand{Trigger: activity.TriggerManual})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRunInProgress)
	assert.Zero(t, h.fetcher.calls)
	assert.Empty(t, h.runRepo.statuses)
}

func TestRunTracking_MissingRosterFailsRun(t *testing.T) {
	h := newTrackingHarness(t)
	h.roster.err = shared.ErrRosterUnavailable

	_, err := h.handler().Handle(context.Background(), RunTrackingCommand{Trigger: activity.TriggerScheduled})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInputUnavailable)

	// The failure is part of the run history, not silently discarded.
	require.NotEmpty(t, h.runRepo.statuses)
	assert.Equal(t, activity.RunStatusFailed, h.runRepo.statuses[len(h.runRepo.statuses)-1])
	assert.Contains(t, h.publisher.types(), shared.EventRunFailed)
}

func TestRunTracking_InterruptedFetchCompletesPartialFromArchive(t *testing.T) {
	h := newTrackingHarness(t)
	h.fetcher.batches = [][]session.RawRecord{activeRecords("Aurvandil")}
	h.fetcher.err = errors.New("discord: 503 while paging")
	h.fetcher.stats = LogFetchStats{Scanned: 4, Parsed: 4, StoppedBy: "error"}

	result, err := h.handler().Handle(context.Background(), RunTrackingCommand{Trigger: activity.TriggerScheduled})
	require.NoError(t, err)

	// The archived pages carried the run; its status says the window may
	// be short.
	assert.Equal(t, activity.RunStatusPartial, result.Status)
	assert.Equal(t, []shared.Identity{"Aurvandil"}, result.Report.ActiveIdentities())
}

func TestRunTracking_FetchFailureWithoutArchiveAborts(t *testing.T) {
	h := newTrackingHarness(t)
	h.config.ArchiveEnabled = false
	h.fetcher.err = errors.New("discord: connection refused")

	_, err := h.handler().Handle(context.Background(), RunTrackingCommand{Trigger: activity.TriggerScheduled})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieve log")

	require.NotEmpty(t, h.runRepo.statuses)
	assert.Equal(t, activity.RunStatusFailed, h.runRepo.statuses[len(h.runRepo.statuses)-1])
}

func TestRunTracking_BadRecordsDroppedNotFatal(t *testing.T) {
	h := newTrackingHarness(t)
	h.config.ArchiveEnabled = false
	h.fetcher.batches = [][]session.RawRecord{append(
		activeRecords("Aurvandil"),
		session.RawRecord{MessageID: "300", Timestamp: logStart, Identity: "", Marker: session.MarkerJoin},
	)}

	result, err := h.handler().Handle(context.Background(), RunTrackingCommand{Trigger: activity.TriggerScheduled})
	require.NoError(t, err)

	assert.Equal(t, activity.RunStatusCompleted, result.Status)
	require.Len(t, result.DroppedRecords, 1)
	assert.NotEmpty(t, result.DroppedRecords[0].Reason)
	assert.Equal(t, 1, result.Stats.RecordsDropped)
	assert.Equal(t, 4, result.Stats.RecordsAccepted)
}

func TestRunTracking_OutputFailureStillReturnsResult(t *testing.T) {
	h := newTrackingHarness(t)
	h.config.ArchiveEnabled = false
	h.fetcher.batches = [][]session.RawRecord{activeRecords("Aurvandil")}
	h.sink.activeErr = errors.New("disk full")

	result, err := h.handler().Handle(context.Background(), RunTrackingCommand{Trigger: activity.TriggerScheduled})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write active list")

	// The run itself finished; only the file write failed.
	require.NotNil(t, result)
	assert.Equal(t, activity.RunStatusCompleted, result.Status)
	require.NotNil(t, h.cache.latest)
}

func TestRunTracking_PromotionCandidatesPersistedAndAnnounced(t *testing.T) {
	h := newTrackingHarness(t)
	h.config.ArchiveEnabled = false
	h.fetcher.batches = [][]session.RawRecord{activeRecords("Aurvandil")}

	result, err := h.handler().Handle(context.Background(), RunTrackingCommand{Trigger: activity.TriggerScheduled})
	require.NoError(t, err)

	// Aurvandil is an Active Raw Egg with recent sessions and no observed
	// guild-join date, so the first rung flags a manual review.
	lists := h.candidates.byRun[result.RunID]
	require.NotEmpty(t, lists)
	assert.Equal(t, "raw-to-boiled", lists[0].Transition.Name)
	assert.Equal(t, []shared.Identity{"Aurvandil"}, lists[0].NeedsReview)

	assert.Contains(t, h.publisher.types(), shared.EventPromotionCandidatesFound)
}

func TestRunTracking_StaleInputsEmitWarningEvents(t *testing.T) {
	h := newTrackingHarness(t)
	h.config.ArchiveEnabled = false
	h.config.StaleWarningAge = 24 * time.Hour
	h.roster.updated = time.Now().UTC().Add(-40 * time.Hour)
	h.levels.updated = time.Now().UTC().Add(-time.Hour) // fresh
	h.fetcher.batches = [][]session.RawRecord{activeRecords("Aurvandil")}

	_, err := h.handler().Handle(context.Background(), RunTrackingCommand{Trigger: activity.TriggerScheduled})
	require.NoError(t, err)

	stale := 0
	for _, e := range h.publisher.events {
		if e.EventType() == shared.EventDirectoryStale {
			stale++
		}
	}
	assert.Equal(t, 1, stale)
}

func TestRunTracking_CorrelationIDThreadsThroughEvents(t *testing.T) {
	h := newTrackingHarness(t)
	h.config.ArchiveEnabled = false
	h.fetcher.batches = [][]session.RawRecord{activeRecords("Aurvandil")}

	result, err := h.handler().Handle(context.Background(), RunTrackingCommand{
		Trigger:       activity.TriggerManual,
		CorrelationID: "corr-42",
	})
	require.NoError(t, err)

	var started, completed bool
	for _, e := range result.Events {
		switch ev := e.(type) {
		case shared.RunStartedEvent:
			started = true
			assert.Equal(t, "corr-42", ev.CorrelationID)
		case shared.RunCompletedEvent:
			completed = true
			assert.Equal(t, "corr-42", ev.CorrelationID)
		}
	}
	assert.True(t, started)
	assert.True(t, completed)
}

func TestRunTracking_RejectsNegativeBounds(t *testing.T) {
	h := newTrackingHarness(t)

	_, err := h.handler().Handle(context.Background(), RunTrackingCommand{
		Trigger:     activity.TriggerManual,
		MaxMessages: -1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")

	_, err = h.handler().Handle(context.Background(), RunTrackingCommand{Trigger: "unknown"})
	require.Error(t, err)
}

func TestRunTracking_CommandBoundsOverrideDefaults(t *testing.T) {
	h := newTrackingHarness(t)
	h.config.ArchiveEnabled = false
	h.fetcher.batches = [][]session.RawRecord{activeRecords("Aurvandil")}

	_, err := h.handler().Handle(context.Background(), RunTrackingCommand{
		Trigger:     activity.TriggerManual,
		MaxMessages: 500,
		MaxDays:     7,
	})
	require.NoError(t, err)

	assert.Equal(t, 500, h.fetcher.lastReq.MaxMessages)
	assert.Equal(t, 7, h.fetcher.lastReq.MaxDays)
}

func TestRunTracking_EmptyLogFailsRun(t *testing.T) {
	h := newTrackingHarness(t)
	h.config.ArchiveEnabled = false
	h.fetcher.batches = nil

	_, err := h.handler().Handle(context.Background(), RunTrackingCommand{Trigger: activity.TriggerScheduled})
	require.Error(t, err)
	require.NotEmpty(t, h.runRepo.statuses)
	assert.Equal(t, activity.RunStatusFailed, h.runRepo.statuses[len(h.runRepo.statuses)-1])
}

func TestRunTracking_NilOptionalDependencies(t *testing.T) {
	// The CLI path: no lock, no archive, no run history, no candidates
	// store, no cache, no event bus.
	h := newTrackingHarness(t)
	h.config.ArchiveEnabled = false
	h.fetcher.batches = [][]session.RawRecord{activeRecords("Aurvandil")}

	handler := NewRunTrackingHandler(
		h.fetcher, nil, h.roster, h.levels,
		nil, nil, nil, nil,
		stubRenderer{}, h.sink, nil, h.config,
	)

	result, err := handler.Handle(context.Background(), RunTrackingCommand{Trigger: activity.TriggerCLI})
	require.NoError(t, err)
	assert.Equal(t, activity.RunStatusCompleted, result.Status)
	assert.Equal(t, []shared.Identity{"Aurvandil"}, h.sink.active)
	// Events still accumulate on the result for the caller.
	assert.NotEmpty(t, result.Events)
}
