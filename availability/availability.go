// Package availability implements the Availability Engine: given
// (expertId, eventId, now) it produces the finite, ordered sequence of
// valid start-instants at which a guest may begin the event.
//
// The engine never reads the system clock; now is supplied by the
// caller. All I/O happens up front in Candidates; the acceptance rule
// itself (accepts) is a pure function over already-materialized inputs,
// matching the "compute phases are non-suspending after inputs are
// materialized" requirement for this component.
package availability

import (
	"context"
	"sort"
	"time"

	"consulta/apperr"
	"consulta/database/repository/meeting"
	"consulta/database/repository/reservation"
	"consulta/database/repository/schedule"
	"consulta/models"
	"consulta/timeutil"
)

// CalendarGateway is the subset of calendar.Gateway this engine needs;
// declared locally so tests can supply a fake without pulling in the
// Google API client.
type CalendarGateway interface {
	HasValidTokens(ctx context.Context, expertID models.ExpertID) bool
	BusyIntervals(ctx context.Context, expertID models.ExpertID, from, to time.Time) ([]models.CalendarBusyInterval, error)
}

// Engine is the Availability Engine.
type Engine struct {
	Schedules    schedule.Repository
	Reservations reservation.Repository
	Meetings     meeting.Repository
	Calendar     CalendarGateway
}

// New wires an Engine from its three collaborating stores and the
// calendar gateway.
func New(schedules schedule.Repository, reservations reservation.Repository, meetings meeting.Repository, cal CalendarGateway) *Engine {
	return &Engine{Schedules: schedules, Reservations: reservations, Meetings: meetings, Calendar: cal}
}

// Candidates returns the ascending sequence of valid start-instants for
// (expertID, eventID) as of now. An empty, nil-error result means
// "NoSlots": a valid empty result within the horizon. A non-nil error
// means the engine could not answer at all (CalendarNotConnected,
// AvailabilityUnknown) and callers must not treat it as "no slots".
func (e *Engine) Candidates(ctx context.Context, expertID models.ExpertID, eventID models.EventID, now time.Time) ([]time.Time, error) {
	expert, err := e.Schedules.GetExpert(ctx, expertID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "expert not found", err)
	}
	event, err := e.Schedules.GetEvent(ctx, eventID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "event not found", err)
	}
	policy, err := e.Schedules.LoadPolicy(ctx, expertID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load booking policy", err)
	}

	sched, err := e.Schedules.LoadSchedule(ctx, expertID)
	if err != nil && err != schedule.ErrNotFound {
		return nil, apperr.Wrap(apperr.Internal, "failed to load schedule", err)
	}
	var windows []models.WeeklyWindow
	if sched != nil {
		windows = sched.Windows
	}

	tz, err := timeutil.LoadLocation(expert.HomeTimezone)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "invalid expert timezone", err)
	}

	earliest := timeutil.EarliestCandidate(now, tz, policy.MinimumNoticeMinutes, policy.TimeSlotIntervalMinutes)
	latest := timeutil.EndOfLocalDay(earliest.AddDate(0, 0, policy.BookingWindowDays))

	blocked, err := e.Schedules.ListBlockedDates(ctx, expertID, timeutil.LocalDate(earliest, tz), timeutil.LocalDate(latest, tz))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load blocked dates", err)
	}

	if !e.Calendar.HasValidTokens(ctx, expertID) {
		return nil, apperr.New(apperr.Unauthorized, "calendar not connected")
	}
	busy, err := e.Calendar.BusyIntervals(ctx, expertID, earliest, latest)
	if err != nil {
		// Any error other than a clean empty result means the engine
		// cannot answer; it is reported as UpstreamUnavailable (a kind
		// apperr.Retryable accepts) with the upstream error wrapped inside.
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, "availability unknown: calendar fetch failed", err)
	}

	maxBuffer := time.Duration(maxInt(policy.BeforeEventBufferMin, policy.AfterEventBufferMin)) * time.Minute
	fetchFrom := earliest.Add(-maxBuffer - time.Duration(event.DurationMin)*time.Minute)
	fetchTo := latest.Add(maxBuffer + time.Duration(event.DurationMin)*time.Minute)

	reservations, err := e.Reservations.ListOverlapping(ctx, expertID, fetchFrom, fetchTo)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load reservations", err)
	}
	meetings, err := e.Meetings.ListOverlapping(ctx, expertID, fetchFrom, fetchTo)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load meetings", err)
	}

	inputs := acceptanceInputs{
		windows:      windows,
		tz:           tz,
		blocked:      blocked,
		busy:         busy,
		reservations: reservations,
		meetings:     meetings,
		policy:       policy,
		duration:     time.Duration(event.DurationMin) * time.Minute,
		latest:       latest,
		now:          now,
	}

	var out []time.Time
	for t := earliest; !t.After(latest); t = t.Add(time.Duration(policy.TimeSlotIntervalMinutes) * time.Minute) {
		if accepts(t, inputs) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
