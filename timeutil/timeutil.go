// Package timeutil is the single source of truth for instant/interval
// arithmetic used by the Availability Engine, Reservation Manager, and
// Payout Scheduler. All exported functions take "now" (or another clock
// reading) as a parameter; nothing in this package reads the system
// clock, so callers stay deterministic and testable.
package timeutil

import "time"

// Interval is a half-open span [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlap reports whether a and b intersect as half-open intervals.
func Overlap(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// OverlapInstants is Overlap without constructing Interval values.
func OverlapInstants(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// LoadLocation loads an IANA zone name, defaulting to UTC on an empty
// string so callers never have to special-case a missing home timezone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// DayStart returns local midnight of t's calendar date in t's own
// location.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfLocalDay returns the exclusive end of t's calendar date, i.e. the
// start of the following local day. Used as the half-open upper bound
// of a booking horizon.
func EndOfLocalDay(t time.Time) time.Time {
	return DayStart(t).AddDate(0, 0, 1)
}

// CeilToGrid rounds t up to the next instant whose minute-of-local-day is
// a multiple of intervalMinutes, anchored at local midnight. A t that
// already lands exactly on the grid is returned unchanged.
func CeilToGrid(t time.Time, intervalMinutes int) time.Time {
	if intervalMinutes <= 0 {
		return t
	}
	loc := t.Location()
	y, m, d := t.Date()
	minuteOfDay := t.Hour()*60 + t.Minute()
	if t.Second() > 0 || t.Nanosecond() > 0 {
		minuteOfDay++
	}
	if rem := minuteOfDay % intervalMinutes; rem != 0 {
		minuteOfDay += intervalMinutes - rem
	}
	extraDays := minuteOfDay / 1440
	minuteOfDay %= 1440
	return time.Date(y, m, d+extraDays, minuteOfDay/60, minuteOfDay%60, 0, 0, loc)
}

// EarliestCandidate computes the first instant a guest may start a
// booking: ceiling-round "now + minimumNotice" to the slot
// grid, except when minimumNotice is at least a full day (1440 minutes),
// in which case the result is the start of the local day on which
// now + minimumNotice falls — never a same-day slot.
func EarliestCandidate(now time.Time, tz *time.Location, minimumNoticeMinutes, intervalMinutes int) time.Time {
	raw := now.In(tz).Add(time.Duration(minimumNoticeMinutes) * time.Minute)
	if minimumNoticeMinutes >= 1440 {
		return DayStart(raw)
	}
	return CeilToGrid(raw, intervalMinutes)
}

// WeekdayMinute converts an instant into its (weekday, minute-of-day) in
// the given timezone, honoring DST: the conversion goes through the
// zone's own wall-clock fields rather than a fixed-offset computation.
func WeekdayMinute(t time.Time, tz *time.Location) (time.Weekday, int) {
	lt := t.In(tz)
	return lt.Weekday(), lt.Hour()*60 + lt.Minute()
}

// LocalDate formats t's calendar date in tz as YYYY-MM-DD, the form
// BlockedDate.LocalDate is stored in.
func LocalDate(t time.Time, tz *time.Location) string {
	return t.In(tz).Format("2006-01-02")
}
