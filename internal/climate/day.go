// Package climate holds the climate-day arithmetic and the series
// reconciliation used to turn raw station telemetry into daily and
// water-year statistics.
package climate

import "time"

// CutoffHour is the UTC hour at which a climate day starts. 08Z is local
// midnight for Pacific standard time, used year-round.
const CutoffHour = 8

// Window returns the [start, end) climate day containing ref shifted back by
// daysAgo days.
func Window(ref time.Time, daysAgo int) (start, end time.Time) {
	shifted := ref.UTC().Add(-time.Duration(daysAgo) * 24 * time.Hour)
	start = time.Date(shifted.Year(), shifted.Month(), shifted.Day(), CutoffHour, 0, 0, 0, time.UTC)
	if shifted.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start, start.Add(24 * time.Hour)
}

// DayLabel returns the civil date a climate day represents.
func DayLabel(start time.Time) string {
	return start.UTC().Add(-CutoffHour * time.Hour).Format("2006-01-02")
}

// WaterYearStart returns the most recent Oct 1 07:00 UTC at or before now.
func WaterYearStart(now time.Time) time.Time {
	now = now.UTC()
	start := time.Date(now.Year(), time.October, 1, 7, 0, 0, 0, time.UTC)
	if now.Before(start) {
		start = start.AddDate(-1, 0, 0)
	}
	return start
}
