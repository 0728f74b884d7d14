package scheduler

import (
	"time"
)

// IntervalSchedule fires a fixed duration after each run. The role-sync
// sweep uses it; unlike a cron slot it drifts with run duration, which is
// fine for a reconciliation pass.
type IntervalSchedule struct {
	interval time.Duration
}

// NewIntervalSchedule creates an interval schedule. Intervals below one
// second are rounded up to one second.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval < time.Second {
		interval = time.Second
	}
	return &IntervalSchedule{interval: interval}
}

// Next returns t plus the interval.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval)
}

// String renders the schedule in the "@every" convention.
func (s *IntervalSchedule) String() string {
	return "@every " + s.interval.String()
}
