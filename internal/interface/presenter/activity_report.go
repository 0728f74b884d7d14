// Package presenter formats domain objects for human consumption.
// Presenters handle the conversion from composed domain results to the
// plain-text documents guild officers actually read.
package presenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/report"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
	"github.com/coolio-hub/guild-activity-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY REPORT PRESENTER
// Renders the composed report as the fixed-width text document: roster
// breakdown, the three activity sections with session detail, promotion
// recommendations, and data-freshness warnings. Officers diff successive
// reports by eye, so the layout is part of the contract and must not drift.
// ══════════════════════════════════════════════════════════════════════════════

// Layout constants. The report is read in fixed-width terminals; column
// widths and divider lengths are part of the format.
const (
	ignColumnWidth      = 20
	lastJoinColumnWidth = 15
	dividerWidth        = 69

	ansiRed   = "\033[31m"
	ansiReset = "\033[0m"
)

// ActivityReportPresenter renders a composed report as plain text, with
// timestamps in the guild's report timezone.
type ActivityReportPresenter struct{}

// NewActivityReportPresenter creates a presenter.
func NewActivityReportPresenter() *ActivityReportPresenter {
	return &ActivityReportPresenter{}
}

// Render produces the full report text.
func (p *ActivityReportPresenter) Render(r *report.Report) string {
	var sb strings.Builder

	p.writeRankGroups(&sb, "Guild list:", r.Roster)

	p.writeActivitySection(&sb, "Active list:", r.Active, r)
	sb.WriteString("\n\n\n")
	p.writeActivitySection(&sb, "Grace period list (currently inactive):", r.GracePeriod, r)
	sb.WriteString("\n\n\n")
	p.writeActivitySection(&sb, "Inactive list:", r.Inactive, r)
	sb.WriteString("\n\n\n")

	p.writePromotions(&sb, r.Promotions)
	p.writeFooter(&sb, r)

	return sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// RANK GROUPS
// ─────────────────────────────────────────────────────────────────────────────

// writeRankGroups writes a banner title followed by one block per
// non-empty rank: the rank name and its members on a dashed line.
func (p *ActivityReportPresenter) writeRankGroups(sb *strings.Builder, title string, groups []report.RankGroup) {
	sb.WriteString(strings.Repeat("=", dividerWidth))
	sb.WriteByte('\n')
	sb.WriteString(title)
	sb.WriteByte('\n')

	for _, group := range groups {
		if len(group.Members) == 0 {
			continue
		}
		sb.WriteByte('\n')
		sb.WriteString(group.Rank)
		sb.WriteByte('\n')
		sb.WriteString("- ")
		sb.WriteString(joinIdentities(group.Members))
		sb.WriteByte('\n')
	}

	sb.WriteString("\n\n")
}

// groupByRank regroups a section's rows by roster rank: ranks in roster
// order, members within a rank in section order.
func groupByRank(roster []report.RankGroup, rows []report.Row) []report.RankGroup {
	groups := make([]report.RankGroup, 0, len(roster))
	for _, rankGroup := range roster {
		inRank := make(map[shared.Identity]bool, len(rankGroup.Members))
		for _, id := range rankGroup.Members {
			inRank[id] = true
		}

		var members []shared.Identity
		for _, row := range rows {
			if inRank[row.Identity] {
				members = append(members, row.Identity)
			}
		}
		groups = append(groups, report.RankGroup{Rank: rankGroup.Rank, Members: members})
	}
	return groups
}

// ─────────────────────────────────────────────────────────────────────────────
// ACTIVITY SECTIONS
// ─────────────────────────────────────────────────────────────────────────────

func (p *ActivityReportPresenter) writeActivitySection(sb *strings.Builder, title string, rows []report.Row, r *report.Report) {
	p.writeRankGroups(sb, title, groupByRank(r.Roster, rows))
	p.writeTableHeader(sb)
	for _, row := range rows {
		p.writeRow(sb, row)
	}
}

func (p *ActivityReportPresenter) writeTableHeader(sb *strings.Builder) {
	fmt.Fprintf(sb, "%-*s\t%-*s\t%s\n",
		ignColumnWidth, "IGN",
		lastJoinColumnWidth, "Last Join",
		"Last Long Joins(s)")
	sb.WriteString(strings.Repeat("-", dividerWidth))
	sb.WriteByte('\n')
}

func (p *ActivityReportPresenter) writeRow(sb *strings.Builder, row report.Row) {
	lastJoin := "N/A"
	sessions := "[]"
	if row.Observed {
		lastJoin = timeutil.FormatReportTime(row.LastJoin)
		sessions = p.formatSessionList(row)
	}

	fmt.Fprintf(sb, "%-*s\t%-*s\t%s\n",
		ignColumnWidth, row.Identity.String(),
		lastJoinColumnWidth, lastJoin,
		sessions)
}

// formatSessionList renders the recent long-session starts newest first,
// with a ", ...]" tail when more were recorded than shown.
func (p *ActivityReportPresenter) formatSessionList(row report.Row) string {
	if len(row.RecentLongSessions) == 0 {
		return "[]"
	}

	quoted := make([]string, len(row.RecentLongSessions))
	for i, t := range row.RecentLongSessions {
		quoted[i] = "'" + timeutil.FormatReportTime(t) + "'"
	}

	list := "[" + strings.Join(quoted, ", ") + "]"
	if row.TotalLongSessions > len(row.RecentLongSessions) {
		list = list[:len(list)-1] + ", ...]"
	}
	return list
}

// ─────────────────────────────────────────────────────────────────────────────
// PROMOTION LISTS
// ─────────────────────────────────────────────────────────────────────────────

func (p *ActivityReportPresenter) writePromotions(sb *strings.Builder, lists []report.PromotionList) {
	for i, list := range lists {
		if i > 0 {
			sb.WriteByte('\n')
		}

		sb.WriteString(list.Title)
		sb.WriteString(" promotion list:\n")

		if len(list.NeedsReview) > 0 {
			fmt.Fprintf(sb, "%sWARNING: No recent guild join date logs for %s. Manually check guild join date before promoting%s\n",
				ansiRed, identityList(list.NeedsReview), ansiReset)
		}

		sb.WriteString(identityList(list.Clear))
		sb.WriteByte('\n')
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// FOOTER
// ─────────────────────────────────────────────────────────────────────────────

func (p *ActivityReportPresenter) writeFooter(sb *strings.Builder, r *report.Report) {
	from := timeutil.FormatReportSpan(r.LogFrom)
	to := timeutil.FormatReportSpan(r.LogTo)
	fmt.Fprintf(sb, "\nActivity calculation using logs from [%s] to [%s] (%d days)\n",
		from, to, r.LogDays())

	fmt.Fprintf(sb, "Guild list last updated: %s\n",
		timeutil.FormatReportSpan(r.RosterUpdatedAt))
	if wholeDays(r.GeneratedAt.Sub(r.RosterUpdatedAt)) > 1 {
		sb.WriteString(ansiRed + "WARNING: Guild list has not been updated in the last day. Check for updates." + ansiReset + "\n")
	}

	fmt.Fprintf(sb, "SB level list last updated: %s\n",
		timeutil.FormatReportSpan(r.LevelsUpdatedAt))
	if wholeDays(r.GeneratedAt.Sub(r.LevelsUpdatedAt)) > 1 {
		sb.WriteString(ansiRed + "WARNING: SB level list has not been updated in the last day. Check for updates." + ansiReset + "\n")
	}

	sb.WriteString("Note: This does not support ign changes\n\n")
}

// ─────────────────────────────────────────────────────────────────────────────
// HELPERS
// ─────────────────────────────────────────────────────────────────────────────

func joinIdentities(ids []shared.Identity) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return strings.Join(names, ", ")
}

// identityList renders identities as a bracketed, quoted list, e.g.
// ['Kirington', 'Quill']. Empty input renders as [].
func identityList(ids []shared.Identity) string {
	if len(ids) == 0 {
		return "[]"
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + id.String() + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// wholeDays truncates a duration to whole days, the granularity the
// staleness warnings use.
func wholeDays(d time.Duration) int {
	return int(d.Hours() / 24)
}
