package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"consulta/availability"
	"consulta/database/repository/meeting"
	"consulta/database/repository/reservation"
	"consulta/database/repository/schedule"
	"consulta/models"
	"consulta/services/payment"
	rsv "consulta/services/reservation"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeCalendar struct{}

func (fakeCalendar) HasValidTokens(ctx context.Context, expertID models.ExpertID) bool { return true }
func (fakeCalendar) BusyIntervals(ctx context.Context, expertID models.ExpertID, from, to time.Time) ([]models.CalendarBusyInterval, error) {
	return nil, nil
}

// fakePaymentSessionCreator stands in for the Payment Orchestrator from
// the Reservation Manager's point of view, seeding the same Redis cache
// the real Orchestrator reads from so handlePaymentEvent's decide() sees
// consistent session metadata without a live Stripe call.
type fakePaymentSessionCreator struct {
	cache *redis.Client
}

type seededSessionMeta struct {
	ReservationID models.ReservationID `json:"reservationId"`
	AmountMinor   int64                `json:"amountMinor"`
	Currency      string               `json:"currency"`
}

func (f *fakePaymentSessionCreator) CreateSession(ctx context.Context, reservationID models.ReservationID, amountMinor int64, currency string) (models.SessionID, string, error) {
	sessionID := models.SessionID("sess-" + string(reservationID))
	data, err := json.Marshal(seededSessionMeta{ReservationID: reservationID, AmountMinor: amountMinor, Currency: currency})
	if err != nil {
		return "", "", err
	}
	if err := f.cache.Set(ctx, "paysession:"+string(sessionID), data, time.Hour).Err(); err != nil {
		return "", "", err
	}
	return sessionID, "https://pay.example/" + string(reservationID), nil
}

func (f *fakePaymentSessionCreator) Refund(ctx context.Context, sessionID models.SessionID, reason string) error {
	return nil
}

func setupRuntime(t *testing.T) (*Runtime, *rsv.Manager, models.EventID) {
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

	mgr := rsv.New(reservations, meetings, schedules, engine, &fakePaymentSessionCreator{cache: client}, nil, nil, client, 0.15, 30*time.Minute, 120)
	orch := payment.New(reservations, client, client, 0.15, "https://example.com/success", "https://example.com/cancel", 120)

	rt := NewRuntime(orch, mgr, nil, nil, nil, client, nil)
	return rt, mgr, eventID
}

func mondayAt(hour int) time.Time {
	return time.Date(2025, 3, 3, hour, 0, 0, 0, time.UTC)
}

// nextMondayAt returns hour:00 UTC on the first Monday at least two days
// after t, so a hold made at t is still live when applyEffect confirms
// it against the real clock.
func nextMondayAt(t time.Time, hour int) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day()+2, hour, 0, 0, 0, time.UTC)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func TestHandlePaymentEvent_ConfirmsReservationOnMatchingAmount(t *testing.T) {
	rt, mgr, eventID := setupRuntime(t)
	now := time.Now().UTC()
	start := nextMondayAt(now, 9)

	result, err := mgr.Hold(context.Background(), eventID, start, "guest-1", now)
	require.NoError(t, err)

	event := payment.ProviderEvent{
		ID:                "evt_1",
		SessionID:         result.Reservation.PaymentSessionID,
		AmountMinor:       10000,
		CapturedPaymentID: "pay_abc",
	}
	payload, err := json.Marshal(PaymentEventPayload{Event: event})
	require.NoError(t, err)
	task := asynq.NewTask(TypePaymentEvent, payload)

	err = rt.handlePaymentEvent(context.Background(), task)
	require.NoError(t, err)

	res, err := mgr.Reservations.Get(context.Background(), result.Reservation.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReservationConfirmed, res.Status)
}

func TestHandlePaymentEvent_UnknownSessionIsNoopNotError(t *testing.T) {
	rt, _, _ := setupRuntime(t)

	event := payment.ProviderEvent{ID: "evt_2", SessionID: "sess-never-created", AmountMinor: 10000}
	payload, err := json.Marshal(PaymentEventPayload{Event: event})
	require.NoError(t, err)
	task := asynq.NewTask(TypePaymentEvent, payload)

	err = rt.handlePaymentEvent(context.Background(), task)
	require.NoError(t, err)
}

func TestHandlePaymentEvent_MismatchedAmountAbortsReservation(t *testing.T) {
	rt, mgr, eventID := setupRuntime(t)
	now := mondayAt(8)
	start := mondayAt(9)

	result, err := mgr.Hold(context.Background(), eventID, start, "guest-1", now)
	require.NoError(t, err)

	event := payment.ProviderEvent{
		ID:          "evt_3",
		SessionID:   result.Reservation.PaymentSessionID,
		AmountMinor: 1, // mismatched against the 10000 the session was created with
	}
	payload, err := json.Marshal(PaymentEventPayload{Event: event})
	require.NoError(t, err)
	task := asynq.NewTask(TypePaymentEvent, payload)

	err = rt.handlePaymentEvent(context.Background(), task)
	require.NoError(t, err)

	res, err := mgr.Reservations.Get(context.Background(), result.Reservation.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReservationCancelled, res.Status)
}

func TestHandleCalendarIdentityEvent_NilProfilesIsNoop(t *testing.T) {
	rt, _, _ := setupRuntime(t)

	payload, err := json.Marshal(CalendarIdentityEvent{ExpertID: "expert-1", Status: "disconnected"})
	require.NoError(t, err)
	task := asynq.NewTask(TypeCalendarEvent, payload)

	err = rt.handleCalendarIdentityEvent(context.Background(), task)
	require.NoError(t, err)
}
