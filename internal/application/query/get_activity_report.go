// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/report"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ACTIVITY REPORT QUERY
// Serves the latest assembled activity report from the report cache. The
// cache outlives the run that wrote it by a full daily cycle, so a miss
// means no recent run; callers surface that as "no report available" rather
// than rebuilding a degraded report from partial state.
// ══════════════════════════════════════════════════════════════════════════════

// GetActivityReportQuery contains parameters for fetching the latest report.
type GetActivityReportQuery struct {
	// MaxAge rejects a cached report generated longer than this ago.
	// Zero accepts any cached report.
	MaxAge time.Duration
}

// Validate validates the query parameters.
func (q *GetActivityReportQuery) Validate() error {
	if q.MaxAge < 0 {
		return errors.New("max age cannot be negative")
	}
	return nil
}

// GetActivityReportResult contains the latest report plus read metadata.
type GetActivityReportResult struct {
	// Report is the assembled activity report.
	Report *report.Report `json:"report"`

	// Age is how long ago the report was generated.
	Age time.Duration `json:"age"`

	// FetchedAt is when this result was read.
	FetchedAt time.Time `json:"fetched_at"`
}

// GetActivityReportHandler handles report lookups.
type GetActivityReportHandler struct {
	cache report.Cache
}

// NewGetActivityReportHandler creates a new report query handler.
func NewGetActivityReportHandler(cache report.Cache) *GetActivityReportHandler {
	return &GetActivityReportHandler{cache: cache}
}

// Handle returns the latest cached report. report.ErrNoReport is returned
// when no run has produced one recently, or when the cached report exceeds
// the requested age.
func (h *GetActivityReportHandler) Handle(ctx context.Context, query GetActivityReportQuery) (*GetActivityReportResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetActivityReport", shared.ErrValidation, err.Error(), err)
	}

	if h.cache == nil {
		return nil, report.ErrNoReport
	}

	rep, err := h.cache.Latest(ctx)
	if err != nil {
		if errors.Is(err, report.ErrNoReport) {
			return nil, report.ErrNoReport
		}
		return nil, shared.WrapError("query", "GetActivityReport", shared.ErrExternalService, "read report cache", err)
	}

	now := time.Now().UTC()
	age := now.Sub(rep.GeneratedAt)
	if query.MaxAge > 0 && age > query.MaxAge {
		return nil, report.ErrNoReport
	}

	return &GetActivityReportResult{
		Report:    rep,
		Age:       age,
		FetchedAt: now,
	}, nil
}
