// Package reservation implements the Reservation Manager: short-lived
// exclusive slot holds with idempotent confirm. A Redis SETNX advisory
// lock keyed by expertId serializes competing holds on the same Expert;
// the availability re-check and the insert-time overlap check run under
// that lock.
package reservation

import (
	"context"
	"errors"
	"time"

	"consulta/apperr"
	"consulta/availability"
	"consulta/database/repository/meeting"
	"consulta/database/repository/reservation"
	"consulta/database/repository/schedule"
	"consulta/models"
	"consulta/services/payment"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// PaymentSessionCreator is the slice of the Payment Orchestrator
// the Reservation Manager depends on.
type PaymentSessionCreator interface {
	CreateSession(ctx context.Context, reservationID models.ReservationID, amountMinor int64, currency string) (sessionID models.SessionID, redirectURL string, err error)
	Refund(ctx context.Context, sessionID models.SessionID, reason string) error
}

// MeetingCreator is the slice of the Meeting Ledger confirm drives:
// it persists the Meeting and handles the external calendar entry.
type MeetingCreator interface {
	Create(ctx context.Context, m models.Meeting) (*models.Meeting, error)
}

// TransferEnqueuer is the slice of the Payout Scheduler confirm
// drives: it creates the PENDING transfer for a just-captured Meeting.
// Must be idempotent on meetingID so a replayed confirm is safe.
type TransferEnqueuer interface {
	CreateForMeeting(ctx context.Context, meetingID models.MeetingID, expertAccountID models.PaymentAccountID, grossAmountMinor, netAmountMinor int64, currency string, sessionStartAt, paymentCreatedAt, now time.Time, requiresApproval bool) error
}

// Manager is the Reservation Manager.
type Manager struct {
	Reservations reservation.Repository
	Meetings     meeting.Repository
	Schedules    schedule.Repository
	Engine       *availability.Engine
	Payment      PaymentSessionCreator
	Ledger       MeetingCreator
	Payouts      TransferEnqueuer
	Lock         *redis.Client

	FeeRate             float64
	DefaultTTL          time.Duration
	VoucherGraceMinutes int
}

// New wires a Manager from its collaborators.
func New(reservations reservation.Repository, meetings meeting.Repository, schedules schedule.Repository, engine *availability.Engine, pay PaymentSessionCreator, ledger MeetingCreator, payouts TransferEnqueuer, lock *redis.Client, feeRate float64, defaultTTL time.Duration, voucherGraceMinutes int) *Manager {
	return &Manager{
		Reservations:        reservations,
		Meetings:            meetings,
		Schedules:           schedules,
		Engine:              engine,
		Payment:             pay,
		Ledger:              ledger,
		Payouts:             payouts,
		Lock:                lock,
		FeeRate:             feeRate,
		DefaultTTL:          defaultTTL,
		VoucherGraceMinutes: voucherGraceMinutes,
	}
}

const lockTTL = 5 * time.Second

// HoldResult is returned by Hold.
type HoldResult struct {
	Reservation models.Reservation
	RedirectURL string
}

// Hold takes an exclusive short-lived hold on a slot: re-validate against the
// Availability Engine inside the advisory-lock-guarded section, refuse on
// overlap, create the Reservation, then attach a payment session.
func (m *Manager) Hold(ctx context.Context, eventID models.EventID, startInstant time.Time, guestID models.GuestID, now time.Time) (*HoldResult, error) {
	event, err := m.Schedules.GetEvent(ctx, eventID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "event not found", err)
	}

	release, err := m.acquireLock(ctx, event.ExpertID)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, "could not acquire booking lock", err)
	}
	defer release()

	if err := m.revalidate(ctx, event, startInstant, now); err != nil {
		return nil, err
	}

	endInstant := startInstant.Add(time.Duration(event.DurationMin) * time.Minute)
	res := models.Reservation{
		ID:           models.ReservationID(uuid.New().String()),
		EventID:      eventID,
		ExpertID:     event.ExpertID,
		GuestID:      guestID,
		StartInstant: startInstant,
		EndInstant:   endInstant,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.DefaultTTL),
		Status:       models.ReservationHeld,
	}

	if err := m.Reservations.Create(ctx, res); err != nil {
		if errors.Is(err, reservation.ErrOverlap) {
			return nil, apperr.New(apperr.Conflict, "slot already held or booked")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to create reservation", err)
	}

	sessionID, redirectURL, err := m.Payment.CreateSession(ctx, res.ID, event.PriceMinor, event.Currency)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, "failed to create payment session", err)
	}
	if err := m.Reservations.SetPaymentSession(ctx, res.ID, sessionID); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to attach payment session", err)
	}
	res.PaymentSessionID = sessionID

	return &HoldResult{Reservation: res, RedirectURL: redirectURL}, nil
}

// revalidate re-checks startInstant against the Availability Engine
// inside the same linearization as the advisory lock.
func (m *Manager) revalidate(ctx context.Context, event *models.Event, startInstant, now time.Time) error {
	candidates, err := m.Engine.Candidates(ctx, event.ExpertID, event.ID, now)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if c.Equal(startInstant) {
			return nil
		}
	}
	return apperr.New(apperr.PreconditionFailed, "requested start is no longer available")
}

// Confirm turns a paid hold into a Meeting. Idempotent: replaying the
// same capturedPaymentID against an already-CONFIRMED reservation is a
// no-op success. A captured payment landing on an EXPIRED or
// CANCELLED reservation is refunded and reported as Gone — the system
// never creates a Meeting for it.
func (m *Manager) Confirm(ctx context.Context, reservationID models.ReservationID, capturedPaymentID string, guestTimezone, locationHandle, guestNotes string, now time.Time) (*models.Meeting, error) {
	res, err := m.Reservations.Get(ctx, reservationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "reservation not found", err)
	}

	if res.Status == models.ReservationConfirmed {
		if res.CapturedPaymentID == capturedPaymentID {
			existing, err := m.Meetings.GetByReservation(ctx, reservationID)
			if err != nil {
				return nil, apperr.Wrap(apperr.Internal, "confirmed reservation missing its meeting", err)
			}
			if err := m.enqueuePayout(ctx, res, existing.ID, now); err != nil {
				return nil, err
			}
			return existing, nil
		}
		return nil, apperr.New(apperr.Conflict, "reservation already confirmed with a different payment")
	}

	if res.Status == models.ReservationExpired || res.Status == models.ReservationCancelled {
		if refundErr := m.Payment.Refund(ctx, res.PaymentSessionID, "payment captured for a dead reservation"); refundErr != nil {
			return nil, apperr.Wrap(apperr.UpstreamUnavailable, "reservation gone; refund failed", refundErr)
		}
		return nil, apperr.New(apperr.Gone, "reservation is no longer held")
	}

	if res.IsExpiredAt(now) {
		if ok, err := m.Reservations.TransitionStatus(ctx, reservationID, []models.ReservationStatus{models.ReservationHeld}, models.ReservationExpired); err == nil && ok {
			if refundErr := m.Payment.Refund(ctx, res.PaymentSessionID, "reservation expired before confirm"); refundErr != nil {
				return nil, apperr.Wrap(apperr.UpstreamUnavailable, "reservation expired; refund failed", refundErr)
			}
		}
		return nil, apperr.New(apperr.Gone, "reservation expired")
	}

	ok, err := m.Reservations.ConfirmWithPayment(ctx, reservationID, capturedPaymentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to confirm reservation", err)
	}
	if !ok {
		// Lost the race (sweepExpired or a concurrent confirm moved the
		// status away from HELD between Get and here): re-read and
		// resolve via the idempotent path above rather than failing blind.
		return m.Confirm(ctx, reservationID, capturedPaymentID, guestTimezone, locationHandle, guestNotes, now)
	}

	meetingRecord := models.Meeting{
		ID:             models.MeetingID(uuid.New().String()),
		EventID:        res.EventID,
		ExpertID:       res.ExpertID,
		GuestID:        res.GuestID,
		StartInstant:   res.StartInstant,
		EndInstant:     res.EndInstant,
		GuestTimezone:  guestTimezone,
		LocationHandle: locationHandle,
		GuestNotes:     guestNotes,
		PaymentStatus:  models.PaymentCaptured,
		CreatedAt:      now,
		ReservationID:  reservationID,
	}
	created, err := m.createMeeting(ctx, meetingRecord)
	if err != nil {
		if apperr.Is(err, apperr.Conflict) || errors.Is(err, meeting.ErrConflict) {
			if refundErr := m.Payment.Refund(ctx, res.PaymentSessionID, "meeting conflict on confirm"); refundErr != nil {
				return nil, apperr.Wrap(apperr.UpstreamUnavailable, "meeting conflict; refund failed", refundErr)
			}
			return nil, apperr.New(apperr.Conflict, "meeting already exists for this expert and start instant")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to create meeting", err)
	}

	if err := m.enqueuePayout(ctx, res, created.ID, now); err != nil {
		return nil, err
	}
	return created, nil
}

func (m *Manager) createMeeting(ctx context.Context, rec models.Meeting) (*models.Meeting, error) {
	if m.Ledger != nil {
		return m.Ledger.Create(ctx, rec)
	}
	if err := m.Meetings.Create(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// enqueuePayout creates the PENDING transfer for the confirmed Meeting
// as part of confirming. Safe to call on the idempotent
// replay path because the Payout Scheduler no-ops when a transfer for
// the meeting already exists.
func (m *Manager) enqueuePayout(ctx context.Context, res *models.Reservation, meetingID models.MeetingID, now time.Time) error {
	if m.Payouts == nil {
		return nil
	}
	event, err := m.Schedules.GetEvent(ctx, res.EventID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to load event for payout", err)
	}
	expert, err := m.Schedules.GetExpert(ctx, res.ExpertID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to load expert for payout", err)
	}

	_, net := payment.ComputeFee(event.PriceMinor, m.FeeRate)
	requiresApproval := expert.Onboarding != models.OnboardingActive
	if err := m.Payouts.CreateForMeeting(ctx, meetingID, expert.PayoutAccountID, event.PriceMinor, net, event.Currency, res.StartInstant, now, now, requiresApproval); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to schedule payout transfer", err)
	}
	return nil
}

// Abort cancels a hold: HELD→CANCELLED, a no-op on
// terminal states.
func (m *Manager) Abort(ctx context.Context, reservationID models.ReservationID, reason string) error {
	ok, err := m.Reservations.TransitionStatus(ctx, reservationID, []models.ReservationStatus{models.ReservationHeld}, models.ReservationCancelled)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to abort reservation", err)
	}
	_ = ok // no-op on terminal states; not an error either way
	return nil
}

// MarkPendingVoucher flags res as awaiting an asynchronous voucher
// payment, extending its deadline to the negotiated grace window.
func (m *Manager) MarkPendingVoucher(ctx context.Context, reservationID models.ReservationID, now time.Time) error {
	graceExpires := now.Add(time.Duration(m.VoucherGraceMinutes) * time.Minute)
	_, err := m.Reservations.MarkPendingVoucher(ctx, reservationID, graceExpires)
	return err
}

// SweepExpired moves one HELD reservation
// past its deadline to EXPIRED, safe to run concurrently with Confirm
// (whichever commits first wins). Call in a loop until it returns
// (false, nil) to drain everything due.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (bool, error) {
	res, err := m.Reservations.ClaimNextExpired(ctx, now)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "sweep failed", err)
	}
	return res != nil, nil
}

func (m *Manager) acquireLock(ctx context.Context, expertID models.ExpertID) (release func(), err error) {
	key := "lock:expert:" + string(expertID)
	deadline := time.Now().Add(2 * time.Second)
	for {
		ok, err := m.Lock.SetNX(ctx, key, "1", lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { m.Lock.Del(context.Background(), key) }, nil
		}
		if time.Now().After(deadline) {
			return nil, errors.New("timed out waiting for booking lock")
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
