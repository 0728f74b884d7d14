package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a parsed five-field cron expression
// (minute hour day-of-month month day-of-week). The worker uses it for the
// daily tracking run ("30 21 * * *" style); the full field grammar
// (wildcards, steps, ranges, lists) is supported anyway so operators can
// reschedule without code changes.
type CronSchedule struct {
	raw string

	// One bit per permitted value, bit n = value n.
	minutes  uint64
	hours    uint32
	days     uint32
	months   uint16
	weekdays uint8
}

// ParseCronExpression parses a standard five-field cron expression.
func ParseCronExpression(expr string) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("scheduler: cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	cs := &CronSchedule{raw: expr}

	specs := []struct {
		field    string
		min, max int
		set      func(mask uint64)
	}{
		{fields[0], 0, 59, func(m uint64) { cs.minutes = m }},
		{fields[1], 0, 23, func(m uint64) { cs.hours = uint32(m) }},
		{fields[2], 1, 31, func(m uint64) { cs.days = uint32(m) }},
		{fields[3], 1, 12, func(m uint64) { cs.months = uint16(m) }},
		{fields[4], 0, 6, func(m uint64) { cs.weekdays = uint8(m) }},
	}
	names := []string{"minute", "hour", "day", "month", "weekday"}

	for i, spec := range specs {
		mask, err := parseCronField(spec.field, spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("scheduler: cron expression %q: %s field: %w", expr, names[i], err)
		}
		spec.set(mask)
	}
	return cs, nil
}

// parseCronField converts one field into a bitmask of permitted values.
// Accepted forms: "*", "*/step", "n", "n-m", "n-m/step", and comma lists of
// those.
func parseCronField(field string, min, max int) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		m, err := parseCronTerm(strings.TrimSpace(part), min, max)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	if mask == 0 {
		return 0, fmt.Errorf("no values in %q", field)
	}
	return mask, nil
}

func parseCronTerm(term string, min, max int) (uint64, error) {
	step := 1
	if base, stepStr, ok := strings.Cut(term, "/"); ok {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("bad step in %q", term)
		}
		term, step = base, n
	}

	lo, hi := min, max
	switch {
	case term == "*":
	case strings.Contains(term, "-"):
		loStr, hiStr, _ := strings.Cut(term, "-")
		var err error
		if lo, err = strconv.Atoi(loStr); err != nil {
			return 0, fmt.Errorf("bad range start in %q", term)
		}
		if hi, err = strconv.Atoi(hiStr); err != nil {
			return 0, fmt.Errorf("bad range end in %q", term)
		}
	default:
		n, err := strconv.Atoi(term)
		if err != nil {
			return 0, fmt.Errorf("bad value %q", term)
		}
		if step == 1 {
			hi = n
		}
		lo = n
	}

	if lo < min || hi > max || lo > hi {
		return 0, fmt.Errorf("value out of range [%d-%d] in %q", min, max, term)
	}

	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= 1 << uint(v)
	}
	return mask, nil
}

// Next returns the first matching wall-clock minute strictly after t.
func (cs *CronSchedule) Next(t time.Time) time.Time {
	// Minute resolution; scanning minute by minute is plenty fast for the
	// sparse schedules this worker runs.
	next := t.Truncate(time.Minute).Add(time.Minute)

	// A valid expression matches at least once per year.
	limit := next.AddDate(1, 0, 1)
	for ; next.Before(limit); next = next.Add(time.Minute) {
		if cs.matches(next) {
			return next
		}
	}
	return time.Time{}
}

func (cs *CronSchedule) matches(t time.Time) bool {
	return cs.minutes&(1<<uint(t.Minute())) != 0 &&
		cs.hours&(1<<uint(t.Hour())) != 0 &&
		cs.days&(1<<uint(t.Day())) != 0 &&
		cs.months&(1<<uint(t.Month())) != 0 &&
		cs.weekdays&(1<<uint(t.Weekday())) != 0
}

// String returns the original expression.
func (cs *CronSchedule) String() string {
	return cs.raw
}
