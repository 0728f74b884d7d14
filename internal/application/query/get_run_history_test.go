package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

const (
	historyRunID = "a3aa7887-4f18-4f37-9d1c-6ce78e7c011f"
	olderRunID   = "5b0287f7-0a4f-49da-a95d-0c6f37e58f93"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type stubRunRepo struct {
	runs     []*activity.TrackingRun
	verdicts map[shared.RunID]*activity.Classification

	listErr     error
	verdictsErr error
	lastLimit   int
}

func (r *stubRunRepo) Save(context.Context, *activity.TrackingRun, *activity.Classification) error {
	return nil
}

func (r *stubRunRepo) FindByID(_ context.Context, id shared.RunID) (*activity.TrackingRun, error) {
	for _, run := range r.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, shared.ErrRunNotFound
}

func (r *stubRunRepo) Latest(context.Context) (*activity.TrackingRun, error) {
	if len(r.runs) == 0 {
		return nil, shared.ErrRunNotFound
	}
	return r.runs[0], nil
}

func (r *stubRunRepo) List(_ context.Context, limit int) ([]*activity.TrackingRun, error) {
	r.lastLimit = limit
	if r.listErr != nil {
		return nil, r.listErr
	}
	if limit > len(r.runs) {
		limit = len(r.runs)
	}
	return r.runs[:limit], nil
}

func (r *stubRunRepo) VerdictsByRun(_ context.Context, id shared.RunID) (*activity.Classification, error) {
	if r.verdictsErr != nil {
		return nil, r.verdictsErr
	}
	if c, ok := r.verdicts[id]; ok {
		return c, nil
	}
	return activity.NewClassification(nil, nil, nil), nil
}

// finishedRun builds a completed run with realistic counters.
func finishedRun(t *testing.T, id string, startedAgo time.Duration) *activity.TrackingRun {
	t.Helper()
	started := time.Now().UTC().Add(-startedAgo)
	run, err := activity.NewTrackingRun(shared.RunID(id), activity.TriggerScheduled, started)
	require.NoError(t, err)

	run.RecordRetrieval(1200, 48)
	run.RecordIngest(46, 2, shared.TimeRange{
		From: started.Add(-14 * 24 * time.Hour),
		To:   started,
	})
	run.RecordVerdicts(activity.NewClassification(
		[]shared.Identity{"Aurvandil"},
		[]shared.Identity{"Maelis"},
		[]shared.Identity{"Everlynn", "Sylvara"},
	))
	require.NoError(t, run.Complete(started.Add(90*time.Second)))
	return run
}

// ══════════════════════════════════════════════════════════════════════════════
// RUN HISTORY
// ══════════════════════════════════════════════════════════════════════════════

func TestGetRunHistory_ListsRunsNewestFirst(t *testing.T) {
	repo := &stubRunRepo{runs: []*activity.TrackingRun{
		finishedRun(t, historyRunID, time.Hour),
		finishedRun(t, olderRunID, 25*time.Hour),
	}}

	result, err := NewGetRunHistoryHandler(repo).Handle(context.Background(), GetRunHistoryQuery{Limit: 10})
	require.NoError(t, err)

	require.Equal(t, 2, result.Count)
	first := result.Runs[0]
	assert.Equal(t, historyRunID, first.RunID)
	assert.Equal(t, "scheduled", first.Trigger)
	assert.Equal(t, "completed", first.Status)
	assert.Equal(t, 1200, first.MessagesScanned)
	assert.Equal(t, 48, first.RecordsArchived)
	assert.Equal(t, 46, first.RecordsAccepted)
	assert.Equal(t, 2, first.RecordsDropped)
	assert.Equal(t, 1, first.ActiveCount)
	assert.Equal(t, 1, first.GraceCount)
	assert.Equal(t, 2, first.InactiveCount)
	assert.InDelta(t, 90.0, first.DurationSeconds, 0.001)
	require.NotNil(t, first.FinishedAt)
	require.NotNil(t, first.LogFrom)
	require.NotNil(t, first.LogTo)
	assert.Empty(t, first.Error)
}

func TestGetRunHistory_LimitDefaultsAndCaps(t *testing.T) {
	repo := &stubRunRepo{}
	handler := NewGetRunHistoryHandler(repo)

	_, err := handler.Handle(context.Background(), GetRunHistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, 20, repo.lastLimit)

	_, err = handler.Handle(context.Background(), GetRunHistoryQuery{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 100, repo.lastLimit)

	_, err = handler.Handle(context.Background(), GetRunHistoryQuery{Limit: -1})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetRunHistory_RepositoryFailureWrapped(t *testing.T) {
	repo := &stubRunRepo{listErr: errors.New("connection reset")}

	_, err := NewGetRunHistoryHandler(repo).Handle(context.Background(), GetRunHistoryQuery{})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrExternalService)
}

func TestGetRunHistory_FailedRunCarriesCause(t *testing.T) {
	started := time.Now().UTC().Add(-time.Hour)
	run, err := activity.NewTrackingRun(historyRunID, activity.TriggerManual, started)
	require.NoError(t, err)
	require.NoError(t, run.Fail(started.Add(time.Second), "roster file missing"))
	repo := &stubRunRepo{runs: []*activity.TrackingRun{run}}

	result, err := NewGetRunHistoryHandler(repo).Handle(context.Background(), GetRunHistoryQuery{})
	require.NoError(t, err)

	require.Equal(t, 1, result.Count)
	assert.Equal(t, "failed", result.Runs[0].Status)
	assert.Equal(t, "roster file missing", result.Runs[0].Error)
	assert.Nil(t, result.Runs[0].LogFrom, "a run that failed before ingest has no log bounds")
}

// ══════════════════════════════════════════════════════════════════════════════
// RUN DETAIL
// ══════════════════════════════════════════════════════════════════════════════

func TestGetRunDetail_DefaultsToLatestRun(t *testing.T) {
	repo := &stubRunRepo{runs: []*activity.TrackingRun{
		finishedRun(t, historyRunID, time.Hour),
		finishedRun(t, olderRunID, 25*time.Hour),
	}}

	result, err := NewGetRunDetailHandler(repo).Handle(context.Background(), GetRunDetailQuery{})
	require.NoError(t, err)

	assert.Equal(t, historyRunID, result.Run.RunID)
	assert.Nil(t, result.Verdicts)
}

func TestGetRunDetail_ByIDWithVerdicts(t *testing.T) {
	run := finishedRun(t, olderRunID, 25*time.Hour)
	repo := &stubRunRepo{
		runs: []*activity.TrackingRun{finishedRun(t, historyRunID, time.Hour), run},
		verdicts: map[shared.RunID]*activity.Classification{
			run.ID: activity.NewClassification(
				[]shared.Identity{"Aurvandil"},
				nil,
				[]shared.Identity{"Everlynn", "Sylvara"},
			),
		},
	}

	result, err := NewGetRunDetailHandler(repo).Handle(context.Background(), GetRunDetailQuery{
		RunID:           "  " + olderRunID + " ", // IDs arrive via URL, trim them
		IncludeVerdicts: true,
	})
	require.NoError(t, err)

	assert.Equal(t, olderRunID, result.Run.RunID)
	require.NotNil(t, result.Verdicts)
	assert.Equal(t, []string{"Aurvandil"}, result.Verdicts.Active)
	assert.Empty(t, result.Verdicts.GracePeriod)
	assert.Equal(t, []string{"Everlynn", "Sylvara"}, result.Verdicts.Inactive)
	assert.Equal(t, 3, result.Verdicts.Total)
}

func TestGetRunDetail_UnknownRun(t *testing.T) {
	repo := &stubRunRepo{}

	_, err := NewGetRunDetailHandler(repo).Handle(context.Background(), GetRunDetailQuery{
		RunID: "29f1f87c-1e5f-4f4e-a9ad-6cbf055d0d56",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRunNotFound)
}

func TestGetRunDetail_InFlightRunHasNoFinish(t *testing.T) {
	started := time.Now().UTC().Add(-10 * time.Second)
	run, err := activity.NewTrackingRun(historyRunID, activity.TriggerScheduled, started)
	require.NoError(t, err)
	repo := &stubRunRepo{runs: []*activity.TrackingRun{run}}

	result, err := NewGetRunDetailHandler(repo).Handle(context.Background(), GetRunDetailQuery{})
	require.NoError(t, err)

	assert.Equal(t, "running", result.Run.Status)
	assert.Nil(t, result.Run.FinishedAt)
	assert.Zero(t, result.Run.DurationSeconds)
}
