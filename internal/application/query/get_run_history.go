package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET RUN HISTORY QUERY
// Lists recent tracking runs with their retrieval, ingest, and verdict
// counters. The verdict lists themselves are served by the run detail
// query below.
// ══════════════════════════════════════════════════════════════════════════════

// GetRunHistoryQuery contains parameters for listing tracking runs.
type GetRunHistoryQuery struct {
	// Limit - number of runs to return (default 20, maximum 100).
	Limit int
}

// Validate validates the query parameters.
func (q *GetRunHistoryQuery) Validate() error {
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	return nil
}

// TrackingRunDTO is one tracking run's summary.
type TrackingRunDTO struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// Trigger records what started the run: scheduled, manual, or cli.
	Trigger string `json:"trigger"`

	// Status is the run outcome: running, completed, partial, or failed.
	Status string `json:"status"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the run reached a terminal status.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// DurationSeconds is the wall-clock runtime.
	DurationSeconds float64 `json:"duration_seconds"`

	// LogFrom and LogTo span the ingested log.
	LogFrom *time.Time `json:"log_from,omitempty"`
	LogTo   *time.Time `json:"log_to,omitempty"`

	// Retrieval and ingest counters.
	MessagesScanned int `json:"messages_scanned"`
	RecordsArchived int `json:"records_archived"`
	RecordsAccepted int `json:"records_accepted"`
	RecordsDropped  int `json:"records_dropped"`

	// Verdict counts.
	ActiveCount   int `json:"active_count"`
	GraceCount    int `json:"grace_count"`
	InactiveCount int `json:"inactive_count"`

	// Error holds the failure cause for partial and failed runs.
	Error string `json:"error,omitempty"`
}

// GetRunHistoryResult contains the run listing.
type GetRunHistoryResult struct {
	// Runs are ordered by start time descending, newest first.
	Runs []TrackingRunDTO `json:"runs"`

	// Count is the number of runs returned.
	Count int `json:"count"`

	// GeneratedAt is when this result was read.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetRunHistoryHandler handles run history lookups.
type GetRunHistoryHandler struct {
	runRepo activity.RunRepository
}

// NewGetRunHistoryHandler creates a new run history query handler.
func NewGetRunHistoryHandler(runRepo activity.RunRepository) *GetRunHistoryHandler {
	return &GetRunHistoryHandler{runRepo: runRepo}
}

// Handle returns the most recent tracking runs.
func (h *GetRunHistoryHandler) Handle(ctx context.Context, query GetRunHistoryQuery) (*GetRunHistoryResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetRunHistory", shared.ErrValidation, err.Error(), err)
	}

	runs, err := h.runRepo.List(ctx, query.Limit)
	if err != nil {
		return nil, shared.WrapError("query", "GetRunHistory", shared.ErrExternalService, "list tracking runs", err)
	}

	dtos := make([]TrackingRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}

	return &GetRunHistoryResult{
		Runs:        dtos,
		Count:       len(dtos),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET RUN DETAIL QUERY
// Returns one run's summary together with its rehydrated verdict lists.
// ══════════════════════════════════════════════════════════════════════════════

// GetRunDetailQuery contains parameters for fetching a single run.
type GetRunDetailQuery struct {
	// RunID selects the run to read. Empty selects the latest run.
	RunID string

	// IncludeVerdicts loads the full verdict lists alongside the counters.
	IncludeVerdicts bool
}

// Validate validates the query parameters.
func (q *GetRunDetailQuery) Validate() error {
	q.RunID = strings.TrimSpace(q.RunID)
	return nil
}

// VerdictListsDTO holds the ordered verdict lists of one run.
type VerdictListsDTO struct {
	// Active and GracePeriod are ordered by last join descending. Inactive
	// lists observed members first, then never-observed alphabetically.
	Active      []string `json:"active"`
	GracePeriod []string `json:"grace_period"`
	Inactive    []string `json:"inactive"`

	// Total is the roster size the run classified.
	Total int `json:"total"`
}

// GetRunDetailResult contains one run with optional verdict lists.
type GetRunDetailResult struct {
	// Run is the run summary.
	Run TrackingRunDTO `json:"run"`

	// Verdicts is present when requested and the run produced verdicts.
	Verdicts *VerdictListsDTO `json:"verdicts,omitempty"`

	// GeneratedAt is when this result was read.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetRunDetailHandler handles single-run lookups.
type GetRunDetailHandler struct {
	runRepo activity.RunRepository
}

// NewGetRunDetailHandler creates a new run detail query handler.
func NewGetRunDetailHandler(runRepo activity.RunRepository) *GetRunDetailHandler {
	return &GetRunDetailHandler{runRepo: runRepo}
}

// Handle returns the requested run, defaulting to the latest one.
func (h *GetRunDetailHandler) Handle(ctx context.Context, query GetRunDetailQuery) (*GetRunDetailResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetRunDetail", shared.ErrValidation, err.Error(), err)
	}

	var (
		run *activity.TrackingRun
		err error
	)
	if query.RunID == "" {
		run, err = h.runRepo.Latest(ctx)
	} else {
		run, err = h.runRepo.FindByID(ctx, shared.RunID(query.RunID))
	}
	if err != nil {
		if errors.Is(err, shared.ErrRunNotFound) {
			return nil, shared.WrapError("query", "GetRunDetail", shared.ErrRunNotFound, "run not found", err)
		}
		return nil, shared.WrapError("query", "GetRunDetail", shared.ErrExternalService, "load tracking run", err)
	}

	result := &GetRunDetailResult{
		Run:         toRunDTO(run),
		GeneratedAt: time.Now().UTC(),
	}

	if query.IncludeVerdicts {
		classification, err := h.runRepo.VerdictsByRun(ctx, run.ID)
		if err != nil {
			return nil, shared.WrapError("query", "GetRunDetail", shared.ErrExternalService, "load verdict lists", err)
		}
		result.Verdicts = &VerdictListsDTO{
			Active:      identityStrings(classification.Active),
			GracePeriod: identityStrings(classification.GracePeriod),
			Inactive:    identityStrings(classification.Inactive),
			Total:       classification.Size(),
		}
	}

	return result, nil
}

// toRunDTO converts a tracking run to its transport shape.
func toRunDTO(run *activity.TrackingRun) TrackingRunDTO {
	dto := TrackingRunDTO{
		RunID:           string(run.ID),
		Trigger:         run.Trigger.String(),
		Status:          run.Status.String(),
		StartedAt:       run.StartedAt,
		DurationSeconds: run.Duration().Seconds(),
		MessagesScanned: run.MessagesScanned,
		RecordsArchived: run.RecordsArchived,
		RecordsAccepted: run.RecordsAccepted,
		RecordsDropped:  run.RecordsDropped,
		ActiveCount:     run.ActiveCount,
		GraceCount:      run.GraceCount,
		InactiveCount:   run.InactiveCount,
		Error:           run.Error,
	}

	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		dto.FinishedAt = &finished
	}
	if !run.LogBounds.From.IsZero() {
		from := run.LogBounds.From
		dto.LogFrom = &from
	}
	if !run.LogBounds.To.IsZero() {
		to := run.LogBounds.To
		dto.LogTo = &to
	}

	return dto
}
