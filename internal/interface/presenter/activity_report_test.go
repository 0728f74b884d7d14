package presenter

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/report"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
	"github.com/coolio-hub/guild-activity-hub/pkg/timeutil"
)

func eastern(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, timeutil.EasternTZ)
}

func ids(igns ...string) []shared.Identity {
	out := make([]shared.Identity, len(igns))
	for i, ign := range igns {
		out[i] = shared.Identity(ign)
	}
	return out
}

// The layout is the contract: every banner, tab stop, and blank line is
// pinned by this golden rendering.
func TestRender_FullReport(t *testing.T) {
	r := &report.Report{
		RunID:       "8a2e7f1e-3c4d-4b5a-9f6e-7d8c9b0a1f2e",
		GeneratedAt: eastern(2025, time.July, 1, 22, 0),
		LogFrom:     eastern(2025, time.May, 1, 10, 0),
		LogTo:       eastern(2025, time.July, 1, 21, 0),
		Roster: []report.RankGroup{
			{Rank: "Scrambled Egg", Members: ids("Skyler")},
			{Rank: "Hard Boiled Egg", Members: ids("Mariner", "Quill")},
			{Rank: "Raw Egg", Members: ids("Kirington")},
		},
		Active: []report.Row{{
			Identity: "Skyler",
			Observed: true,
			LastJoin: eastern(2025, time.July, 1, 20, 15),
			RecentLongSessions: []time.Time{
				eastern(2025, time.July, 1, 20, 15),
				eastern(2025, time.June, 28, 19, 2),
			},
			TotalLongSessions: 3,
		}},
		GracePeriod: []report.Row{{
			Identity: "Mariner",
			Observed: true,
			LastJoin: eastern(2025, time.June, 15, 14, 30),
		}},
		Inactive: []report.Row{
			{Identity: "Quill"},
			{Identity: "Kirington"},
		},
		Promotions: []report.PromotionList{
			{
				Transition:  "raw_to_boiled",
				Title:       "Raw to Boiled",
				Clear:       ids("Kirington"),
				NeedsReview: ids("Quill"),
			},
			{
				Transition: "boiled_to_scrambled",
				Title:      "Boiled to Scrambled",
			},
		},
		RosterUpdatedAt: eastern(2025, time.July, 1, 9, 0),
		LevelsUpdatedAt: eastern(2025, time.June, 28, 22, 0),
	}

	got := NewActivityReportPresenter().Render(r)

	divider := strings.Repeat("=", 69)
	dashes := strings.Repeat("-", 69)
	header := fmt.Sprintf("%-20s\t%-15s\t%s", "IGN", "Last Join", "Last Long Joins(s)")
	row := func(ign, lastJoin, sessions string) string {
		return fmt.Sprintf("%-20s\t%-15s\t%s", ign, lastJoin, sessions)
	}

	expected := strings.Join([]string{
		divider,
		"Guild list:",
		"",
		"Scrambled Egg",
		"- Skyler",
		"",
		"Hard Boiled Egg",
		"- Mariner, Quill",
		"",
		"Raw Egg",
		"- Kirington",
		"",
		"",
		divider,
		"Active list:",
		"",
		"Scrambled Egg",
		"- Skyler",
		"",
		"",
		header,
		dashes,
		row("Skyler", "Jul 01 20:15", "['Jul 01 20:15', 'Jun 28 19:02', ...]"),
		"",
		"",
		"",
		divider,
		"Grace period list (currently inactive):",
		"",
		"Hard Boiled Egg",
		"- Mariner",
		"",
		"",
		header,
		dashes,
		row("Mariner", "Jun 15 14:30", "[]"),
		"",
		"",
		"",
		divider,
		"Inactive list:",
		"",
		"Hard Boiled Egg",
		"- Quill",
		"",
		"Raw Egg",
		"- Kirington",
		"",
		"",
		header,
		dashes,
		row("Quill", "N/A", "[]"),
		row("Kirington", "N/A", "[]"),
		"",
		"",
		"",
		"Raw to Boiled promotion list:",
		ansiRed + "WARNING: No recent guild join date logs for ['Quill']. Manually check guild join date before promoting" + ansiReset,
		"['Kirington']",
		"",
		"Boiled to Scrambled promotion list:",
		"[]",
		"",
		"Activity calculation using logs from [May 01 2025 10:00] to [Jul 01 2025 21:00] (61 days)",
		"Guild list last updated: Jul 01 2025 09:00",
		"SB level list last updated: Jun 28 2025 22:00",
		ansiRed + "WARNING: SB level list has not been updated in the last day. Check for updates." + ansiReset,
		"Note: This does not support ign changes",
		"",
		"",
	}, "\n")

	assert.Equal(t, expected, got)
}

func TestRender_SessionListTail(t *testing.T) {
	p := NewActivityReportPresenter()

	// Fewer recorded than the cap: no tail.
	compact := report.Row{
		Observed:           true,
		RecentLongSessions: []time.Time{eastern(2025, time.July, 1, 20, 15)},
		TotalLongSessions:  1,
	}
	assert.Equal(t, "['Jul 01 20:15']", p.formatSessionList(compact))

	// More recorded than shown: the list gains a ", ...]" tail.
	overflow := compact
	overflow.TotalLongSessions = 5
	assert.Equal(t, "['Jul 01 20:15', ...]", p.formatSessionList(overflow))
}

func TestRender_FreshDirectoriesNoWarnings(t *testing.T) {
	r := &report.Report{
		GeneratedAt:     eastern(2025, time.July, 1, 22, 0),
		LogFrom:         eastern(2025, time.June, 1, 10, 0),
		LogTo:           eastern(2025, time.July, 1, 21, 0),
		RosterUpdatedAt: eastern(2025, time.June, 30, 9, 0),
		LevelsUpdatedAt: eastern(2025, time.June, 30, 9, 0),
	}

	got := NewActivityReportPresenter().Render(r)
	assert.NotContains(t, got, "WARNING")

	// A directory under two whole days old is still fresh.
	r.RosterUpdatedAt = eastern(2025, time.June, 30, 1, 0)
	got = NewActivityReportPresenter().Render(r)
	assert.NotContains(t, got, "WARNING: Guild list")
}

func TestGroupByRank_PreservesSectionOrder(t *testing.T) {
	roster := []report.RankGroup{
		{Rank: "Hard Boiled Egg", Members: ids("Alpha", "Beta", "Gamma")},
		{Rank: "Raw Egg", Members: ids("Delta")},
	}

	// Rows arrive in classifier order (most recent join first), which must
	// survive regrouping.
	rows := []report.Row{
		{Identity: "Gamma"},
		{Identity: "Delta"},
		{Identity: "Alpha"},
	}

	groups := groupByRank(roster, rows)
	assert.Equal(t, ids("Gamma", "Alpha"), groups[0].Members)
	assert.Equal(t, ids("Delta"), groups[1].Members)
}
