package availability

import (
	"context"
	"testing"
	"time"

	"consulta/database/repository/meeting"
	"consulta/database/repository/reservation"
	"consulta/database/repository/schedule"
	"consulta/models"
	"consulta/timeutil"

	"github.com/stretchr/testify/require"
)

type fakeCalendar struct {
	connected bool
	busy      []models.CalendarBusyInterval
	err       error
}

func (f *fakeCalendar) HasValidTokens(ctx context.Context, expertID models.ExpertID) bool { return f.connected }
func (f *fakeCalendar) BusyIntervals(ctx context.Context, expertID models.ExpertID, from, to time.Time) ([]models.CalendarBusyInterval, error) {
	return f.busy, f.err
}

func lisbonFixture(t *testing.T) (*schedule.InMemoryRepository, models.ExpertID, models.EventID) {
	t.Helper()
	repo := schedule.NewInMemoryRepository()
	expertID := models.ExpertID("expert-1")
	eventID := models.EventID("event-1")

	repo.PutExpert(models.Expert{
		ID:           expertID,
		HomeTimezone: "Europe/Lisbon",
	})
	repo.PutEvent(models.Event{ID: eventID, ExpertID: expertID, DurationMin: 60, Active: true})
	return repo, expertID, eventID
}

func newEngine(repo *schedule.InMemoryRepository, cal CalendarGateway) *Engine {
	return New(repo, reservation.NewInMemoryRepository(), meeting.NewInMemoryRepository(), cal)
}

func mustLoadLisbon(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Lisbon")
	require.NoError(t, err)
	return loc
}

func TestCandidates_SameDayNoticeFirstThreeCandidates(t *testing.T) {
	repo, expertID, eventID := lisbonFixture(t)
	require.NoError(t, repo.SaveSchedule(context.Background(), models.Schedule{
		ExpertID: expertID,
		Windows: []models.WeeklyWindow{
			{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60},
			{Weekday: time.Tuesday, StartMinute: 9 * 60, EndMinute: 17 * 60},
			{Weekday: time.Wednesday, StartMinute: 9 * 60, EndMinute: 17 * 60},
			{Weekday: time.Thursday, StartMinute: 9 * 60, EndMinute: 17 * 60},
			{Weekday: time.Friday, StartMinute: 9 * 60, EndMinute: 17 * 60},
		},
	}))
	repo.PutExpert(models.Expert{
		ID:           expertID,
		HomeTimezone: "Europe/Lisbon",
		PolicyOverride: &models.BookingPolicy{
			TimeSlotIntervalMinutes: 30,
			BookingWindowDays:       7,
			MinimumNoticeMinutes:    60,
		},
	})

	engine := newEngine(repo, &fakeCalendar{connected: true})
	now, err := time.Parse(time.RFC3339, "2025-03-03T08:00:00Z")
	require.NoError(t, err)

	candidates, err := engine.Candidates(context.Background(), expertID, eventID, now)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(candidates), 3)

	loc := mustLoadLisbon(t)
	require.Equal(t, "2025-03-03 09:00", candidates[0].In(loc).Format("2006-01-02 15:04"))
	require.Equal(t, "2025-03-03 09:30", candidates[1].In(loc).Format("2006-01-02 15:04"))
	require.Equal(t, "2025-03-03 10:00", candidates[2].In(loc).Format("2006-01-02 15:04"))
}

func TestCandidates_BusyIntervalDisplacesFirstCandidate(t *testing.T) {
	repo, expertID, eventID := lisbonFixture(t)
	loc := mustLoadLisbon(t)
	require.NoError(t, repo.SaveSchedule(context.Background(), models.Schedule{
		ExpertID: expertID,
		Windows: []models.WeeklyWindow{
			{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60},
		},
	}))
	repo.PutExpert(models.Expert{
		ID:           expertID,
		HomeTimezone: "Europe/Lisbon",
		PolicyOverride: &models.BookingPolicy{
			TimeSlotIntervalMinutes: 30,
			BookingWindowDays:       7,
			MinimumNoticeMinutes:    60,
		},
	})

	busyStart := time.Date(2025, 3, 3, 9, 15, 0, 0, loc)
	busyEnd := time.Date(2025, 3, 3, 10, 15, 0, 0, loc)
	engine := newEngine(repo, &fakeCalendar{connected: true, busy: []models.CalendarBusyInterval{{StartInstant: busyStart, EndInstant: busyEnd}}})

	now, err := time.Parse(time.RFC3339, "2025-03-03T08:00:00Z")
	require.NoError(t, err)

	candidates, err := engine.Candidates(context.Background(), expertID, eventID, now)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	require.False(t, candidates[0].In(loc).Before(time.Date(2025, 3, 3, 10, 30, 0, 0, loc)))
}

func TestCandidates_FullDayNoticeSkipsToNextDay(t *testing.T) {
	repo, expertID, eventID := lisbonFixture(t)
	loc := mustLoadLisbon(t)
	require.NoError(t, repo.SaveSchedule(context.Background(), models.Schedule{
		ExpertID: expertID,
		Windows: []models.WeeklyWindow{
			{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60},
			{Weekday: time.Tuesday, StartMinute: 9 * 60, EndMinute: 17 * 60},
		},
	}))
	repo.PutExpert(models.Expert{
		ID:           expertID,
		HomeTimezone: "Europe/Lisbon",
		PolicyOverride: &models.BookingPolicy{
			TimeSlotIntervalMinutes: 30,
			BookingWindowDays:       7,
			MinimumNoticeMinutes:    1440,
		},
	})

	engine := newEngine(repo, &fakeCalendar{connected: true})
	now := time.Date(2025, 3, 3, 14, 0, 0, 0, loc)

	candidates, err := engine.Candidates(context.Background(), expertID, eventID, now)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	require.Equal(t, "2025-03-04 09:00", candidates[0].In(loc).Format("2006-01-02 15:04"))
}

func TestCandidates_CalendarNotConnected(t *testing.T) {
	repo, expertID, eventID := lisbonFixture(t)
	engine := newEngine(repo, &fakeCalendar{connected: false})

	_, err := engine.Candidates(context.Background(), expertID, eventID, time.Now())
	require.Error(t, err)
}

func TestCandidates_RoundTripAcceptance(t *testing.T) {
	repo, expertID, eventID := lisbonFixture(t)
	require.NoError(t, repo.SaveSchedule(context.Background(), models.Schedule{
		ExpertID: expertID,
		Windows: []models.WeeklyWindow{
			{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60},
		},
	}))
	repo.PutExpert(models.Expert{
		ID:           expertID,
		HomeTimezone: "Europe/Lisbon",
		PolicyOverride: &models.BookingPolicy{
			TimeSlotIntervalMinutes: 30,
			BookingWindowDays:       7,
			MinimumNoticeMinutes:    60,
		},
	})
	engine := newEngine(repo, &fakeCalendar{connected: true})
	now, err := time.Parse(time.RFC3339, "2025-03-03T08:00:00Z")
	require.NoError(t, err)

	candidates, err := engine.Candidates(context.Background(), expertID, eventID, now)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	expert, err := repo.GetExpert(context.Background(), expertID)
	require.NoError(t, err)
	event, err := repo.GetEvent(context.Background(), eventID)
	require.NoError(t, err)
	policy, err := repo.LoadPolicy(context.Background(), expertID)
	require.NoError(t, err)
	sched, err := repo.LoadSchedule(context.Background(), expertID)
	require.NoError(t, err)
	loc := mustLoadLisbon(t)
	_ = expert

	earliest := timeutil.EarliestCandidate(now, loc, policy.MinimumNoticeMinutes, policy.TimeSlotIntervalMinutes)
	latest := timeutil.EndOfLocalDay(earliest.AddDate(0, 0, policy.BookingWindowDays))
	for _, c := range candidates {
		ok := accepts(c, acceptanceInputs{
			windows:  sched.Windows,
			tz:       loc,
			blocked:  map[string]bool{},
			policy:   policy,
			duration: time.Duration(event.DurationMin) * time.Minute,
			latest:   latest,
			now:      now,
		})
		require.True(t, ok, "candidate %v must satisfy the acceptance rule when re-checked", c)
	}
}
