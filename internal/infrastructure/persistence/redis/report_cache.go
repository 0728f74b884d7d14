package redis

import (
	"context"
	"errors"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/report"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPORT CACHE
// Keeps the latest composed activity report hot so the HTTP surface and the
// role-sync command read it without touching Postgres. One run per day means
// a single "latest" slot is enough; each completed run overwrites it.
// ══════════════════════════════════════════════════════════════════════════════

// ReportCache stores the latest composed activity report in Redis.
type ReportCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewReportCache creates a report cache with the default TTL.
func NewReportCache(cache *Cache) *ReportCache {
	return &ReportCache{
		cache: cache,
		ttl:   TTLLatestReport,
	}
}

// WithTTL overrides the report TTL. Zero or negative keeps the default.
func (c *ReportCache) WithTTL(ttl time.Duration) *ReportCache {
	if ttl > 0 {
		c.ttl = ttl
	}
	return c
}

// SaveLatest stores the report as the current one, replacing any previous
// report.
func (c *ReportCache) SaveLatest(ctx context.Context, r *report.Report) error {
	if r == nil {
		return ErrCacheNilValue
	}
	return c.cache.Set(ctx, LatestReportKey(), r, c.ttl)
}

// Latest returns the current report, or report.ErrNoReport when none is
// stored (or the stored one expired).
func (c *ReportCache) Latest(ctx context.Context) (*report.Report, error) {
	var r report.Report
	if err := c.cache.Get(ctx, LatestReportKey(), &r); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, report.ErrNoReport
		}
		return nil, err
	}
	return &r, nil
}
