package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/report"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

type stubReportCache struct {
	report *report.Report
	err    error
}

func (c *stubReportCache) SaveLatest(_ context.Context, r *report.Report) error {
	c.report = r
	return nil
}

func (c *stubReportCache) Latest(context.Context) (*report.Report, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.report == nil {
		return nil, report.ErrNoReport
	}
	return c.report, nil
}

func cachedReport(age time.Duration) *report.Report {
	return &report.Report{
		RunID:       shared.RunID("a3aa7887-4f18-4f37-9d1c-6ce78e7c011f"),
		GeneratedAt: time.Now().UTC().Add(-age),
		Active:      []report.Row{{Identity: "Aurvandil", Observed: true}},
	}
}

func TestGetActivityReport_ServesCachedReport(t *testing.T) {
	cache := &stubReportCache{report: cachedReport(10 * time.Minute)}

	result, err := NewGetActivityReportHandler(cache).Handle(context.Background(), GetActivityReportQuery{})
	require.NoError(t, err)

	assert.Same(t, cache.report, result.Report)
	assert.InDelta(t, (10 * time.Minute).Seconds(), result.Age.Seconds(), 5)
	assert.False(t, result.FetchedAt.IsZero())
}

func TestGetActivityReport_NoCacheConfigured(t *testing.T) {
	_, err := NewGetActivityReportHandler(nil).Handle(context.Background(), GetActivityReportQuery{})
	assert.ErrorIs(t, err, report.ErrNoReport)
}

func TestGetActivityReport_EmptyCache(t *testing.T) {
	_, err := NewGetActivityReportHandler(&stubReportCache{}).Handle(context.Background(), GetActivityReportQuery{})
	assert.ErrorIs(t, err, report.ErrNoReport)
}

func TestGetActivityReport_MaxAgeRejectsOldReport(t *testing.T) {
	cache := &stubReportCache{report: cachedReport(2 * time.Hour)}
	handler := NewGetActivityReportHandler(cache)

	_, err := handler.Handle(context.Background(), GetActivityReportQuery{MaxAge: time.Hour})
	assert.ErrorIs(t, err, report.ErrNoReport)

	// Zero accepts any age; officers may read yesterday's report on purpose.
	result, err := handler.Handle(context.Background(), GetActivityReportQuery{})
	require.NoError(t, err)
	assert.Same(t, cache.report, result.Report)
}

func TestGetActivityReport_NegativeMaxAgeRejected(t *testing.T) {
	_, err := NewGetActivityReportHandler(&stubReportCache{}).Handle(context.Background(), GetActivityReportQuery{MaxAge: -time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetActivityReport_CacheFailureWrapped(t *testing.T) {
	cache := &stubReportCache{err: errors.New("redis: connection pool exhausted")}

	_, err := NewGetActivityReportHandler(cache).Handle(context.Background(), GetActivityReportQuery{})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrExternalService)
	assert.NotErrorIs(t, err, report.ErrNoReport)
}
