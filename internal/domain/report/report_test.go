package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/promotion"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/session"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

const testRunID = shared.RunID("8a2e7f1e-3c4d-4b5a-9f6e-7d8c9b0a1f2e")

var base = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return base.Add(offset)
}

func ids(igns ...string) []shared.Identity {
	out := make([]shared.Identity, len(igns))
	for i, ign := range igns {
		out[i] = shared.Identity(ign)
	}
	return out
}

func testRoster(t *testing.T) *member.Roster {
	t.Helper()
	roster, err := member.NewRoster([]member.RosterSection{
		{Rank: "Scrambled", Members: ids("Skyler")},
		{Rank: "Boiled", Members: ids("Mariner", "Quill")},
		{Rank: "Raw", Members: ids("Kirington")},
	})
	require.NoError(t, err)
	return roster
}

func testReconstruction() *session.Result {
	return &session.Result{
		States: map[shared.Identity]*session.MemberState{
			"Skyler": {
				Identity: "Skyler",
				LastJoin: at(72 * time.Hour),
				LongSessionStarts: []time.Time{
					at(0),
					at(24 * time.Hour),
					at(72 * time.Hour),
				},
			},
			"Mariner": {
				Identity: "Mariner",
				LastJoin: at(48 * time.Hour),
			},
		},
		Bounds: shared.TimeRange{From: at(0), To: at(75 * time.Hour)},
	}
}

func TestBuild_ComposesSections(t *testing.T) {
	in := BuildInput{
		RunID:          testRunID,
		GeneratedAt:    at(76 * time.Hour),
		Reconstruction: testReconstruction(),
		Classification: activity.NewClassification(
			ids("Skyler"),
			ids("Mariner"),
			ids("Quill", "Kirington"),
		),
		Candidates: []promotion.CandidateList{
			{
				Transition:  promotion.Transition{Name: "raw_to_boiled", Title: "Raw to Boiled"},
				Clear:       ids("Kirington"),
				NeedsReview: ids("Quill"),
			},
		},
		Roster:          testRoster(t),
		RosterUpdatedAt: at(70 * time.Hour),
		LevelsUpdatedAt: at(71 * time.Hour),
	}

	r, err := Build(in)
	require.NoError(t, err)

	// Roster groups stay in file order.
	require.Len(t, r.Roster, 3)
	assert.Equal(t, "Scrambled", r.Roster[0].Rank)
	assert.Equal(t, ids("Mariner", "Quill"), r.Roster[1].Members)

	// Verdict sections keep the classifier's ordering.
	require.Len(t, r.Active, 1)
	require.Len(t, r.GracePeriod, 1)
	require.Len(t, r.Inactive, 2)
	assert.Equal(t, shared.Identity("Quill"), r.Inactive[0].Identity)

	// Observed rows carry session detail.
	skyler := r.Active[0]
	assert.True(t, skyler.Observed)
	assert.Equal(t, at(72*time.Hour), skyler.LastJoin)
	assert.Equal(t, 3, skyler.TotalLongSessions)

	// Recent sessions are newest first and capped at the limit.
	require.Len(t, skyler.RecentLongSessions, 2)
	assert.Equal(t, at(72*time.Hour), skyler.RecentLongSessions[0])
	assert.Equal(t, at(24*time.Hour), skyler.RecentLongSessions[1])

	// Never-observed members get a bare row.
	quill := r.Inactive[0]
	assert.False(t, quill.Observed)
	assert.True(t, quill.LastJoin.IsZero())
	assert.Empty(t, quill.RecentLongSessions)

	require.Len(t, r.Promotions, 1)
	assert.Equal(t, "Raw to Boiled", r.Promotions[0].Title)
	assert.Equal(t, ids("Kirington"), r.Promotions[0].Clear)
	assert.Equal(t, ids("Quill"), r.Promotions[0].NeedsReview)
}

func TestBuild_MissingInputs(t *testing.T) {
	recon := testReconstruction()
	classification := activity.NewClassification(nil, nil, nil)
	roster := testRoster(t)

	_, err := Build(BuildInput{Classification: classification, Roster: roster})
	assert.ErrorIs(t, err, ErrNilReconstruction)

	_, err = Build(BuildInput{Reconstruction: recon, Roster: roster})
	assert.ErrorIs(t, err, ErrNilClassification)

	_, err = Build(BuildInput{Reconstruction: recon, Classification: classification})
	assert.ErrorIs(t, err, ErrNilRoster)
}

func TestReport_LogDays(t *testing.T) {
	r := &Report{LogFrom: at(0), LogTo: at(54*24*time.Hour + 5*time.Hour)}
	assert.Equal(t, 54, r.LogDays())
}

func TestReport_RankOf(t *testing.T) {
	in := BuildInput{
		RunID:          testRunID,
		GeneratedAt:    at(76 * time.Hour),
		Reconstruction: testReconstruction(),
		Classification: activity.NewClassification(nil, nil, ids("Skyler", "Mariner", "Quill", "Kirington")),
		Roster:         testRoster(t),
	}

	r, err := Build(in)
	require.NoError(t, err)

	assert.Equal(t, "Boiled", r.RankOf("Quill"))
	assert.Equal(t, "", r.RankOf("Stranger"))
}
