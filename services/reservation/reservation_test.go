package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	"consulta/availability"
	"consulta/database/repository/meeting"
	"consulta/database/repository/reservation"
	"consulta/database/repository/schedule"
	"consulta/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

type fakeCalendar struct{}

func (fakeCalendar) HasValidTokens(ctx context.Context, expertID models.ExpertID) bool { return true }
func (fakeCalendar) BusyIntervals(ctx context.Context, expertID models.ExpertID, from, to time.Time) ([]models.CalendarBusyInterval, error) {
	return nil, nil
}

type fakePayment struct {
	mu       sync.Mutex
	sessions int
	refunds  []models.SessionID
}

func (f *fakePayment) CreateSession(ctx context.Context, reservationID models.ReservationID, amountMinor int64, currency string) (models.SessionID, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return models.SessionID("sess-" + string(reservationID)), "https://pay.example/" + string(reservationID), nil
}

func (f *fakePayment) Refund(ctx context.Context, sessionID models.SessionID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, sessionID)
	return nil
}

func setup(t *testing.T) (*Manager, *schedule.InMemoryRepository, models.ExpertID, models.EventID, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	schedules := schedule.NewInMemoryRepository()
	expertID := models.ExpertID("expert-1")
	eventID := models.EventID("event-1")
	schedules.PutExpert(models.Expert{ID: expertID, HomeTimezone: "UTC"})
	schedules.PutEvent(models.Event{ID: eventID, ExpertID: expertID, DurationMin: 60, PriceMinor: 10000, Currency: "usd", Active: true})
	require.NoError(t, schedules.SaveSchedule(context.Background(), models.Schedule{
		ExpertID: expertID,
		Windows:  []models.WeeklyWindow{{Weekday: time.Monday, StartMinute: 0, EndMinute: 1440}},
	}))

	reservations := reservation.NewInMemoryRepository()
	meetings := meeting.NewInMemoryRepository()
	engine := availability.New(schedules, reservations, meetings, fakeCalendar{})

	mgr := New(reservations, meetings, schedules, engine, &fakePayment{}, nil, &fakePayouts{}, client, 0.15, 30*time.Minute, 120)
	return mgr, schedules, expertID, eventID, client
}

type payoutCall struct {
	MeetingID models.MeetingID
	Gross     int64
	Net       int64
	StartAt   time.Time
}

type fakePayouts struct {
	mu    sync.Mutex
	calls []payoutCall
	seen  map[models.MeetingID]bool
}

func (f *fakePayouts) CreateForMeeting(ctx context.Context, meetingID models.MeetingID, expertAccountID models.PaymentAccountID, grossAmountMinor, netAmountMinor int64, currency string, sessionStartAt, paymentCreatedAt, now time.Time, requiresApproval bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[models.MeetingID]bool)
	}
	if f.seen[meetingID] {
		return nil
	}
	f.seen[meetingID] = true
	f.calls = append(f.calls, payoutCall{MeetingID: meetingID, Gross: grossAmountMinor, Net: netAmountMinor, StartAt: sessionStartAt})
	return nil
}

func mondayAt(hour int) time.Time {
	// 2025-03-03 is a Monday (UTC).
	return time.Date(2025, 3, 3, hour, 0, 0, 0, time.UTC)
}

func TestHold_Success(t *testing.T) {
	mgr, _, _, eventID, _ := setup(t)
	now := mondayAt(8)
	start := mondayAt(9)

	result, err := mgr.Hold(context.Background(), eventID, start, "guest-1", now)
	require.NoError(t, err)
	require.Equal(t, models.ReservationHeld, result.Reservation.Status)
	require.NotEmpty(t, result.Reservation.PaymentSessionID)
}

func TestHold_ConcurrentOverlapOnlyOneSucceeds(t *testing.T) {
	mgr, _, _, eventID, _ := setup(t)
	now := mondayAt(8)
	start := mondayAt(9)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := mgr.Hold(context.Background(), eventID, start, models.GuestID("guest"), now)
			results[idx] = err
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes, "exactly one of two concurrent holds on the same instant must succeed")
}

func TestConfirm_IdempotentOnSameCapturedPaymentID(t *testing.T) {
	mgr, _, _, eventID, _ := setup(t)
	now := mondayAt(8)
	start := mondayAt(9)

	result, err := mgr.Hold(context.Background(), eventID, start, "guest-1", now)
	require.NoError(t, err)

	m1, err := mgr.Confirm(context.Background(), result.Reservation.ID, "pay_123", "UTC", "", "", now)
	require.NoError(t, err)

	m2, err := mgr.Confirm(context.Background(), result.Reservation.ID, "pay_123", "UTC", "", "", now)
	require.NoError(t, err)
	require.Equal(t, m1.ID, m2.ID, "replaying confirm with the same capturedPaymentId must not create a second Meeting")

	fp := mgr.Payouts.(*fakePayouts)
	require.Len(t, fp.calls, 1, "replaying confirm must not create a second transfer")
}

func TestConfirm_EnqueuesPayoutForNetAmount(t *testing.T) {
	mgr, _, _, eventID, _ := setup(t)
	now := mondayAt(8)
	start := mondayAt(9)

	result, err := mgr.Hold(context.Background(), eventID, start, "guest-1", now)
	require.NoError(t, err)

	m, err := mgr.Confirm(context.Background(), result.Reservation.ID, "pay_123", "UTC", "", "", now)
	require.NoError(t, err)

	fp := mgr.Payouts.(*fakePayouts)
	require.Len(t, fp.calls, 1)
	require.Equal(t, m.ID, fp.calls[0].MeetingID)
	require.Equal(t, int64(10000), fp.calls[0].Gross)
	require.Equal(t, int64(8500), fp.calls[0].Net)
	require.True(t, fp.calls[0].StartAt.Equal(start), "transfer is scheduled for the session start instant")
}

func TestConfirm_SweptExpiredReservationStillRefunds(t *testing.T) {
	mgr, _, _, eventID, _ := setup(t)
	now := mondayAt(8)
	start := mondayAt(9)

	result, err := mgr.Hold(context.Background(), eventID, start, "guest-1", now)
	require.NoError(t, err)

	afterExpiry := now.Add(31 * time.Minute)
	swept, err := mgr.SweepExpired(context.Background(), afterExpiry)
	require.NoError(t, err)
	require.True(t, swept)

	// A late "captured" webhook for the already-swept reservation must
	// refund and must not resurrect the hold into a Meeting.
	_, err = mgr.Confirm(context.Background(), result.Reservation.ID, "pay_late", "UTC", "", "", afterExpiry)
	require.Error(t, err)

	fp := mgr.Payment.(*fakePayment)
	require.Len(t, fp.refunds, 1)
	_, err = mgr.Meetings.GetByReservation(context.Background(), result.Reservation.ID)
	require.Error(t, err)
}

func TestConfirm_ExpiredReservationRefundsAndCreatesNoMeeting(t *testing.T) {
	mgr, _, _, eventID, _ := setup(t)
	now := mondayAt(8)
	start := mondayAt(9)

	result, err := mgr.Hold(context.Background(), eventID, start, "guest-1", now)
	require.NoError(t, err)

	afterExpiry := now.Add(31 * time.Minute)
	_, err = mgr.Confirm(context.Background(), result.Reservation.ID, "pay_123", "UTC", "", "", afterExpiry)
	require.Error(t, err)

	fp := mgr.Payment.(*fakePayment)
	require.Len(t, fp.refunds, 1)

	_, err = mgr.Meetings.GetByReservation(context.Background(), result.Reservation.ID)
	require.Error(t, err, "no Meeting must exist for an expired reservation")
}

func TestSweepExpired_MovesHeldPastDeadlineToExpired(t *testing.T) {
	mgr, _, _, eventID, _ := setup(t)
	now := mondayAt(8)
	start := mondayAt(9)

	result, err := mgr.Hold(context.Background(), eventID, start, "guest-1", now)
	require.NoError(t, err)

	swept, err := mgr.SweepExpired(context.Background(), now.Add(31*time.Minute))
	require.NoError(t, err)
	require.True(t, swept)

	res, err := mgr.Reservations.Get(context.Background(), result.Reservation.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReservationExpired, res.Status)
}
