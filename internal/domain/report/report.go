// Package report composes the outcome of a tracking run into the activity
// report artifact: the roster breakdown, the three verdict sections with
// per-member session detail, the promotion recommendations, and the data
// freshness stamps the renderer turns into warnings. The composed report
// is what gets cached, served over HTTP, and rendered to text.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/promotion"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/session"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// Domain errors for report composition.
var (
	ErrNilClassification = errors.New("report: classification is nil")
	ErrNilReconstruction = errors.New("report: reconstruction result is nil")
	ErrNilRoster         = errors.New("report: roster is nil")

	// ErrNoReport - no report has been generated yet (or the cached one
	// expired).
	ErrNoReport = errors.New("report: no report available")
)

// DefaultRecentSessionLimit is how many long-session starts a row carries.
// It mirrors the classifier's session threshold: the report shows exactly
// the evidence the Active verdict was decided on.
const DefaultRecentSessionLimit = 2

// ══════════════════════════════════════════════════════════════════════════════
// REPORT STRUCTURE
// ══════════════════════════════════════════════════════════════════════════════

// Row is one member line in an activity section.
type Row struct {
	Identity shared.Identity `json:"ign"`

	// Observed is false for roster members the log never mentioned.
	// Their LastJoin is the zero time and they carry no sessions.
	Observed bool      `json:"observed"`
	LastJoin time.Time `json:"last_join"`

	// RecentLongSessions holds the newest long-session start times,
	// newest first, capped at the configured limit. TotalLongSessions
	// counts everything recorded, so the renderer can mark overflow.
	RecentLongSessions []time.Time `json:"recent_long_sessions,omitempty"`
	TotalLongSessions  int         `json:"total_long_sessions"`
}

// RankGroup is one roster rank and its members.
type RankGroup struct {
	Rank    string            `json:"rank"`
	Members []shared.Identity `json:"members"`
}

// PromotionList is one transition's recommendation as rendered in the
// report: the clear candidates plus the unknown-tenure identities that
// need a human decision.
type PromotionList struct {
	Transition  string            `json:"transition"`
	Title       string            `json:"title"`
	Clear       []shared.Identity `json:"clear"`
	NeedsReview []shared.Identity `json:"needs_review"`
}

// Report is the complete activity report for one tracking run.
type Report struct {
	RunID       shared.RunID `json:"run_id"`
	GeneratedAt time.Time    `json:"generated_at"`

	// LogFrom/LogTo span the ingested log (earliest and latest entry).
	LogFrom time.Time `json:"log_from"`
	LogTo   time.Time `json:"log_to"`

	// Roster is the guild list in file order: rank sections first, then
	// members within each section.
	Roster []RankGroup `json:"roster"`

	// Verdict sections, each ordered the way the classifier ordered them.
	Active      []Row `json:"active"`
	GracePeriod []Row `json:"grace_period"`
	Inactive    []Row `json:"inactive"`

	Promotions []PromotionList `json:"promotions"`

	// Directory freshness, for the staleness warnings.
	RosterUpdatedAt time.Time `json:"roster_updated_at"`
	LevelsUpdatedAt time.Time `json:"levels_updated_at"`
}

// LogDays returns the whole days the log spans.
func (r *Report) LogDays() int {
	return int(r.LogTo.Sub(r.LogFrom).Hours() / 24)
}

// RankOf returns the roster rank of an identity, or "" when the identity
// is not on the roster.
func (r *Report) RankOf(id shared.Identity) string {
	for _, group := range r.Roster {
		for _, m := range group.Members {
			if m == id {
				return group.Rank
			}
		}
	}
	return ""
}

// ActiveIdentities returns the Active section's identities in order.
func (r *Report) ActiveIdentities() []shared.Identity {
	ids := make([]shared.Identity, len(r.Active))
	for i, row := range r.Active {
		ids[i] = row.Identity
	}
	return ids
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITION
// ══════════════════════════════════════════════════════════════════════════════

// BuildInput carries everything one composed report needs.
type BuildInput struct {
	RunID       shared.RunID
	GeneratedAt time.Time

	Reconstruction *session.Result
	Classification *activity.Classification
	Candidates     []promotion.CandidateList
	Roster         *member.Roster

	RosterUpdatedAt time.Time
	LevelsUpdatedAt time.Time

	// RecentSessionLimit caps the long-session starts carried per row.
	// Zero means DefaultRecentSessionLimit.
	RecentSessionLimit int
}

// Build composes the report from a run's outputs. It is pure assembly:
// all ordering decisions were already made by the classifier and the
// evaluator and are preserved here.
func Build(in BuildInput) (*Report, error) {
	if in.Reconstruction == nil {
		return nil, ErrNilReconstruction
	}
	if in.Classification == nil {
		return nil, ErrNilClassification
	}
	if in.Roster == nil {
		return nil, ErrNilRoster
	}

	limit := in.RecentSessionLimit
	if limit <= 0 {
		limit = DefaultRecentSessionLimit
	}

	r := &Report{
		RunID:           in.RunID,
		GeneratedAt:     in.GeneratedAt,
		LogFrom:         in.Reconstruction.Bounds.From,
		LogTo:           in.Reconstruction.Bounds.To,
		RosterUpdatedAt: in.RosterUpdatedAt,
		LevelsUpdatedAt: in.LevelsUpdatedAt,
	}

	for _, section := range in.Roster.Sections() {
		members := make([]shared.Identity, len(section.Members))
		copy(members, section.Members)
		r.Roster = append(r.Roster, RankGroup{
			Rank:    section.Rank.String(),
			Members: members,
		})
	}

	r.Active = buildRows(in.Classification.Active, in.Reconstruction, limit)
	r.GracePeriod = buildRows(in.Classification.GracePeriod, in.Reconstruction, limit)
	r.Inactive = buildRows(in.Classification.Inactive, in.Reconstruction, limit)

	for _, list := range in.Candidates {
		r.Promotions = append(r.Promotions, PromotionList{
			Transition:  list.Transition.Name,
			Title:       list.Transition.Title,
			Clear:       list.Clear,
			NeedsReview: list.NeedsReview,
		})
	}

	return r, nil
}

func buildRows(ids []shared.Identity, recon *session.Result, limit int) []Row {
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		state, ok := recon.State(id)
		if !ok {
			rows = append(rows, Row{Identity: id})
			continue
		}
		rows = append(rows, Row{
			Identity:           id,
			Observed:           true,
			LastJoin:           state.LastJoin,
			RecentLongSessions: state.RecentLongSessions(limit),
			TotalLongSessions:  state.LongSessionCount(),
		})
	}
	return rows
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache holds the latest composed report for fast reads. Implemented by
// the infrastructure layer.
type Cache interface {
	// SaveLatest stores the report as the current one, replacing any
	// previous report.
	SaveLatest(ctx context.Context, r *Report) error

	// Latest returns the current report, or ErrNoReport when none is
	// stored.
	Latest(ctx context.Context) (*Report, error)
}
