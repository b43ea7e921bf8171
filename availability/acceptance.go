package availability

import (
	"time"

	"consulta/models"
	"consulta/timeutil"
)

type acceptanceInputs struct {
	windows      []models.WeeklyWindow
	tz           *time.Location
	blocked      map[string]bool
	busy         []models.CalendarBusyInterval
	reservations []models.Reservation
	meetings     []models.Meeting
	policy       models.BookingPolicy
	duration     time.Duration
	latest       time.Time
	now          time.Time
}

// accepts applies the acceptance rule to one candidate
// start instant t. Pure: depends only on its arguments.
func accepts(t time.Time, in acceptanceInputs) bool {
	end := t.Add(in.duration)

	if end.After(in.latest) {
		return false
	}
	if !t.After(in.now) {
		return false
	}
	if in.blocked[timeutil.LocalDate(t, in.tz)] {
		return false
	}
	if !coveredBySchedule(in.windows, in.tz, t, end) {
		return false
	}

	before := time.Duration(in.policy.BeforeEventBufferMin) * time.Minute
	after := time.Duration(in.policy.AfterEventBufferMin) * time.Minute
	checkStart := t.Add(-before)
	checkEnd := end.Add(after)

	for _, b := range in.busy {
		if timeutil.OverlapInstants(checkStart, checkEnd, b.StartInstant, b.EndInstant) {
			return false
		}
	}
	for _, r := range in.reservations {
		if r.Status.IsTerminal() {
			continue
		}
		if r.Overlaps(checkStart, checkEnd) {
			return false
		}
	}
	for _, m := range in.meetings {
		if m.IsCancelled() {
			continue
		}
		if m.Overlaps(checkStart, checkEnd) {
			return false
		}
	}
	return true
}

// coveredBySchedule reports whether [start,end) is fully covered by the
// union of weekly availability windows, splitting at local-midnight
// boundaries so windows never need to represent more than one calendar
// day; windows that straddle midnight are handled by the split.
func coveredBySchedule(windows []models.WeeklyWindow, tz *time.Location, start, end time.Time) bool {
	byWeekday := mergeByWeekday(windows)

	cursor := start
	for cursor.Before(end) {
		dayEnd := timeutil.DayStart(cursor).AddDate(0, 0, 1)
		segmentEnd := end
		if dayEnd.Before(segmentEnd) {
			segmentEnd = dayEnd
		}

		weekday, startMinute := timeutil.WeekdayMinute(cursor, tz)
		endMinute := startMinute + int(segmentEnd.Sub(cursor).Minutes())

		if !minuteRangeCovered(byWeekday[weekday], startMinute, endMinute) {
			return false
		}
		cursor = segmentEnd
	}
	return true
}

type minuteRange struct{ start, end int }

func mergeByWeekday(windows []models.WeeklyWindow) map[time.Weekday][]minuteRange {
	byDay := make(map[time.Weekday][]minuteRange)
	for _, w := range windows {
		byDay[w.Weekday] = append(byDay[w.Weekday], minuteRange{w.StartMinute, w.EndMinute})
	}
	for wd, ranges := range byDay {
		byDay[wd] = mergeRanges(ranges)
	}
	return byDay
}

func mergeRanges(ranges []minuteRange) []minuteRange {
	if len(ranges) == 0 {
		return ranges
	}
	sorted := make([]minuteRange, len(ranges))
	copy(sorted, ranges)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].start > sorted[j].start; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	merged := []minuteRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// minuteRangeCovered reports whether [start,end) is entirely contained
// in the union of ranges. The half-open interval rule applies at shared
// boundaries: schedule-side inclusion is half-open.
func minuteRangeCovered(ranges []minuteRange, start, end int) bool {
	cursor := start
	for cursor < end {
		advanced := false
		for _, r := range ranges {
			if r.start <= cursor && cursor < r.end {
				if r.end > cursor {
					cursor = r.end
					advanced = true
					break
				}
			}
		}
		if !advanced {
			return false
		}
	}
	return true
}
