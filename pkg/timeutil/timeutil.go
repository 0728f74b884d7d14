// Package timeutil pins the guild's report timezone (US/Eastern) and the
// timestamp formats of the activity report. The activity log stores UTC;
// every human-facing surface renders in Eastern time, matching what guild
// officers expect to read.
package timeutil

import "time"

// EasternTZ is the guild report timezone. US/Eastern observes DST, so we
// load the IANA zone; if tzdata is unavailable we fall back to a fixed
// UTC-5 zone rather than failing startup.
var EasternTZ = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("US/Eastern")
	if err != nil {
		return time.FixedZone("US/Eastern", -5*60*60)
	}
	return loc
}

// ToEastern converts a time to the report timezone.
func ToEastern(t time.Time) time.Time {
	return t.In(EasternTZ)
}

// Report timestamp layouts. Officers diff successive reports by eye, so
// these are part of the report's format contract.
const (
	// FormatReportShort is the per-row timestamp format in activity reports.
	FormatReportShort = "Jan 02 15:04"
	// FormatReportLong is the log-span timestamp format in report footers.
	FormatReportLong = "Jan 02 2006 15:04"
)

// FormatEastern formats a time in the report timezone with the given layout.
func FormatEastern(t time.Time, layout string) string {
	return ToEastern(t).Format(layout)
}

// FormatReportTime formats a timestamp for activity report rows.
func FormatReportTime(t time.Time) string {
	return FormatEastern(t, FormatReportShort)
}

// FormatReportSpan formats a timestamp for the report's log-span footer.
func FormatReportSpan(t time.Time) string {
	return FormatEastern(t, FormatReportLong)
}
