package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/promotion"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROMOTION CANDIDATES QUERY
// Returns the promotion candidate lists stored for a tracking run. Stored
// lists carry only the transition name, so titles and rank pairs are
// resolved against the active policy before the DTOs leave this layer.
// ══════════════════════════════════════════════════════════════════════════════

// GetPromotionCandidatesQuery contains parameters for fetching candidates.
type GetPromotionCandidatesQuery struct {
	// RunID selects the run to read. Empty selects the latest run.
	RunID string
}

// Validate validates the query parameters.
func (q *GetPromotionCandidatesQuery) Validate() error {
	q.RunID = strings.TrimSpace(q.RunID)
	return nil
}

// PromotionListDTO is one transition's candidate lists.
type PromotionListDTO struct {
	// Transition is the stable machine name, e.g. "raw-to-boiled".
	Transition string `json:"transition"`

	// Title is the human heading, e.g. "Raw to Boiled".
	Title string `json:"title"`

	// FromRank and ToRank describe the rank pair.
	FromRank string `json:"from_rank"`
	ToRank   string `json:"to_rank"`

	// Clear lists members who passed every gate.
	Clear []string `json:"clear"`

	// NeedsReview lists members recommended with a caveat, such as an
	// unknown guild join date.
	NeedsReview []string `json:"needs_review"`

	// Total is the combined candidate count.
	Total int `json:"total"`
}

// GetPromotionCandidatesResult contains the candidate lists for one run.
type GetPromotionCandidatesResult struct {
	// RunID is the run the lists were produced by.
	RunID string `json:"run_id"`

	// RunStartedAt is when that run started.
	RunStartedAt time.Time `json:"run_started_at"`

	// Lists holds one entry per policy transition, in policy order.
	Lists []PromotionListDTO `json:"lists"`

	// TotalCandidates sums candidates across all transitions.
	TotalCandidates int `json:"total_candidates"`

	// GeneratedAt is when this result was read.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetPromotionCandidatesHandler handles candidate lookups.
type GetPromotionCandidatesHandler struct {
	runRepo       activity.RunRepository
	candidateRepo promotion.CandidateRepository
	policy        promotion.Policy
}

// NewGetPromotionCandidatesHandler creates a new candidates query handler.
func NewGetPromotionCandidatesHandler(
	runRepo activity.RunRepository,
	candidateRepo promotion.CandidateRepository,
	policy promotion.Policy,
) *GetPromotionCandidatesHandler {
	if len(policy.Transitions) == 0 {
		policy = promotion.DefaultPolicy()
	}
	return &GetPromotionCandidatesHandler{
		runRepo:       runRepo,
		candidateRepo: candidateRepo,
		policy:        policy,
	}
}

// Handle returns the promotion candidate lists for the requested run.
func (h *GetPromotionCandidatesHandler) Handle(ctx context.Context, query GetPromotionCandidatesQuery) (*GetPromotionCandidatesResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetPromotionCandidates", shared.ErrValidation, err.Error(), err)
	}

	run, err := h.resolveRun(ctx, query.RunID)
	if err != nil {
		if errors.Is(err, shared.ErrRunNotFound) {
			return nil, shared.WrapError("query", "GetPromotionCandidates", shared.ErrRunNotFound, "run not found", err)
		}
		return nil, shared.WrapError("query", "GetPromotionCandidates", shared.ErrExternalService, "resolve run", err)
	}

	lists, err := h.candidateRepo.FindByRun(ctx, run.ID)
	if err != nil {
		return nil, shared.WrapError("query", "GetPromotionCandidates", shared.ErrExternalService, "load candidate lists", err)
	}

	dtos := make([]PromotionListDTO, 0, len(lists))
	total := 0
	for _, list := range lists {
		dtos = append(dtos, h.toDTO(list))
		total += list.Total()
	}

	return &GetPromotionCandidatesResult{
		RunID:           string(run.ID),
		RunStartedAt:    run.StartedAt,
		Lists:           dtos,
		TotalCandidates: total,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}

// resolveRun loads the requested run, defaulting to the latest one.
func (h *GetPromotionCandidatesHandler) resolveRun(ctx context.Context, runID string) (*activity.TrackingRun, error) {
	if runID == "" {
		return h.runRepo.Latest(ctx)
	}
	return h.runRepo.FindByID(ctx, shared.RunID(runID))
}

// toDTO resolves policy metadata for a stored candidate list.
func (h *GetPromotionCandidatesHandler) toDTO(list promotion.CandidateList) PromotionListDTO {
	dto := PromotionListDTO{
		Transition:  list.Transition.Name,
		Title:       list.Transition.Title,
		Clear:       identityStrings(list.Clear),
		NeedsReview: identityStrings(list.NeedsReview),
		Total:       list.Total(),
	}

	// Loaded lists carry only the transition name; the rest comes from
	// the active policy. A transition retired from the policy keeps its
	// stored name and whatever metadata was stored with it.
	if t, ok := h.policy.Find(list.Transition.Name); ok {
		dto.Title = t.Title
		dto.FromRank = string(t.From)
		dto.ToRank = string(t.To)
	} else {
		dto.FromRank = string(list.Transition.From)
		dto.ToRank = string(list.Transition.To)
	}

	return dto
}

// identityStrings converts identities to plain strings for serialization.
func identityStrings(ids []shared.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
