package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/promotion"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

type stubCandidateRepo struct {
	byRun map[shared.RunID][]promotion.CandidateList
	err   error
}

func (r *stubCandidateRepo) SaveForRun(_ context.Context, runID shared.RunID, lists []promotion.CandidateList) error {
	if r.byRun == nil {
		r.byRun = make(map[shared.RunID][]promotion.CandidateList)
	}
	r.byRun[runID] = lists
	return nil
}

func (r *stubCandidateRepo) FindByRun(_ context.Context, runID shared.RunID) ([]promotion.CandidateList, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.byRun[runID], nil
}

// storedLists mimics what the candidate repository serves: lists that carry
// only the transition name, with titles and ranks stripped by storage.
func storedLists() []promotion.CandidateList {
	return []promotion.CandidateList{
		{
			Transition:  promotion.Transition{Name: "raw-to-boiled"},
			Clear:       []shared.Identity{"Aurvandil"},
			NeedsReview: []shared.Identity{"Maelis"},
		},
		{
			Transition: promotion.Transition{Name: "boiled-to-scrambled"},
			Clear:      []shared.Identity{"Everlynn"},
		},
	}
}

func TestGetPromotionCandidates_DefaultsToLatestRun(t *testing.T) {
	run := finishedRun(t, historyRunID, time.Hour)
	runRepo := &stubRunRepo{runs: []*activity.TrackingRun{run}}
	candRepo := &stubCandidateRepo{byRun: map[shared.RunID][]promotion.CandidateList{
		run.ID: storedLists(),
	}}

	handler := NewGetPromotionCandidatesHandler(runRepo, candRepo, promotion.DefaultPolicy())
	result, err := handler.Handle(context.Background(), GetPromotionCandidatesQuery{})
	require.NoError(t, err)

	assert.Equal(t, historyRunID, result.RunID)
	assert.Equal(t, run.StartedAt, result.RunStartedAt)
	assert.Equal(t, 3, result.TotalCandidates)
	require.Len(t, result.Lists, 2)

	// Stored lists carry only the name; the policy fills in the metadata.
	first := result.Lists[0]
	assert.Equal(t, "raw-to-boiled", first.Transition)
	assert.Equal(t, "Raw to Boiled", first.Title)
	assert.Equal(t, "Raw Egg", first.FromRank)
	assert.Equal(t, "Hard Boiled Egg", first.ToRank)
	assert.Equal(t, []string{"Aurvandil"}, first.Clear)
	assert.Equal(t, []string{"Maelis"}, first.NeedsReview)
	assert.Equal(t, 2, first.Total)

	second := result.Lists[1]
	assert.Equal(t, "Boiled to Scrambled", second.Title)
	assert.Equal(t, "Scrambled Egg", second.ToRank)
	assert.Equal(t, 1, second.Total)
}

func TestGetPromotionCandidates_ByRunID(t *testing.T) {
	older := finishedRun(t, olderRunID, 25*time.Hour)
	runRepo := &stubRunRepo{runs: []*activity.TrackingRun{
		finishedRun(t, historyRunID, time.Hour),
		older,
	}}
	candRepo := &stubCandidateRepo{byRun: map[shared.RunID][]promotion.CandidateList{
		older.ID: storedLists()[:1],
	}}

	handler := NewGetPromotionCandidatesHandler(runRepo, candRepo, promotion.DefaultPolicy())
	result, err := handler.Handle(context.Background(), GetPromotionCandidatesQuery{
		RunID: " " + olderRunID + " ",
	})
	require.NoError(t, err)

	assert.Equal(t, olderRunID, result.RunID)
	require.Len(t, result.Lists, 1)
	assert.Equal(t, 2, result.TotalCandidates)
}

func TestGetPromotionCandidates_RetiredTransitionKeepsStoredMetadata(t *testing.T) {
	run := finishedRun(t, historyRunID, time.Hour)
	runRepo := &stubRunRepo{runs: []*activity.TrackingRun{run}}
	candRepo := &stubCandidateRepo{byRun: map[shared.RunID][]promotion.CandidateList{
		run.ID: {{
			Transition: promotion.Transition{
				Name:  "boiled-to-fried",
				Title: "Boiled to Fried",
				From:  "Hard Boiled Egg",
				To:    "Fried Egg",
			},
			Clear: []shared.Identity{"Aurvandil"},
		}},
	}}

	handler := NewGetPromotionCandidatesHandler(runRepo, candRepo, promotion.DefaultPolicy())
	result, err := handler.Handle(context.Background(), GetPromotionCandidatesQuery{})
	require.NoError(t, err)

	// The policy no longer knows this transition; whatever storage kept
	// is better than blank fields.
	require.Len(t, result.Lists, 1)
	assert.Equal(t, "Boiled to Fried", result.Lists[0].Title)
	assert.Equal(t, "Fried Egg", result.Lists[0].ToRank)
}

func TestGetPromotionCandidates_UnknownRun(t *testing.T) {
	handler := NewGetPromotionCandidatesHandler(&stubRunRepo{}, &stubCandidateRepo{}, promotion.DefaultPolicy())

	_, err := handler.Handle(context.Background(), GetPromotionCandidatesQuery{})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRunNotFound)
}

func TestGetPromotionCandidates_RunWithoutLists(t *testing.T) {
	run := finishedRun(t, historyRunID, time.Hour)
	handler := NewGetPromotionCandidatesHandler(
		&stubRunRepo{runs: []*activity.TrackingRun{run}},
		&stubCandidateRepo{},
		promotion.DefaultPolicy(),
	)

	result, err := handler.Handle(context.Background(), GetPromotionCandidatesQuery{})
	require.NoError(t, err)

	assert.Empty(t, result.Lists)
	assert.Zero(t, result.TotalCandidates)
}
