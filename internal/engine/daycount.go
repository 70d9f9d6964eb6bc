package engine

import "time"

// utcDay returns the ordinal UTC calendar day of t (days since the Unix
// epoch, date-truncated)
func utcDay(t time.Time) int64 {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// fullDays counts whole accrual days between start and end. The day the
// window opens and the day it closes never count, so a window has to span at
// least two midnights before it accrues anything.
func fullDays(start, end time.Time) int64 {
	d := utcDay(end) - utcDay(start) - 1
	if d < 0 {
		return 0
	}
	return d
}

// daysSinceStart counts whole 24h periods between start and the cutoff
func daysSinceStart(start, cutoff time.Time) int64 {
	return int64(cutoff.Sub(start).Hours() / 24)
}
