// Package meeting implements the Meeting Ledger: a thin service
// layer over the meeting repository that enforces creation invariants,
// drives best-effort external-calendar bookkeeping, and signals the
// Payout Scheduler when a paid Meeting is cancelled before disbursement.
package meeting

import (
	"context"
	"fmt"
	"time"

	"consulta/apperr"
	"consulta/database/repository/meeting"
	"consulta/models"

	"go.uber.org/zap"
)

// CalendarWriter is the subset of the Calendar Gateway the Meeting
// Ledger needs; declared locally so this package depends on a contract,
// not the concrete Google-backed Gateway.
type CalendarWriter interface {
	CreateEvent(ctx context.Context, expertID models.ExpertID, summary string, start, end time.Time) (string, error)
	RemoveEvent(ctx context.Context, expertID models.ExpertID, externalID string) error
}

// TransferVoider is satisfied by the Payout Scheduler: Cancel calls it
// to void any not-yet-disbursed transfer for a meeting that is cancelled
// before payout.
type TransferVoider interface {
	VoidIfNotDisbursed(ctx context.Context, meetingID models.MeetingID, now time.Time) error
}

// Ledger is the Meeting Ledger.
type Ledger struct {
	Meetings meeting.Repository
	Calendar CalendarWriter
	Payouts  TransferVoider
	Log      *zap.Logger
}

// New wires a Ledger. calendar and payouts may be nil in deployments or
// tests that don't exercise those side effects.
func New(meetings meeting.Repository, calendar CalendarWriter, payouts TransferVoider, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{Meetings: meetings, Calendar: calendar, Payouts: payouts, Log: log}
}

// Create persists a new Meeting. The repository's unique index allows
// one non-cancelled Meeting per (expertId, startInstant); Create here
// only translates a violation into apperr.Conflict. Overlap with a
// Meeting that starts at a different instant, and a second Meeting for
// the same Reservation, are not rejected here.
func (l *Ledger) Create(ctx context.Context, m models.Meeting) (*models.Meeting, error) {
	if err := l.Meetings.Create(ctx, m); err != nil {
		if err == meeting.ErrConflict {
			return nil, apperr.New(apperr.Conflict, "a meeting already occupies this slot")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to create meeting", err)
	}

	if l.Calendar != nil {
		externalID, err := l.Calendar.CreateEvent(ctx, m.ExpertID, fmt.Sprintf("Consultation with %s", m.GuestID), m.StartInstant, m.EndInstant)
		if err != nil {
			// Best-effort: the meeting is booked either way; a missing
			// calendar entry is logged, not retried and not returned to
			// the caller.
			l.Log.Warn("failed to create external calendar entry", zap.String("meetingId", string(m.ID)), zap.Error(err))
		} else if err := l.Meetings.SetExternalCalendarEntry(ctx, m.ID, externalID); err != nil {
			l.Log.Warn("failed to persist external calendar entry id", zap.String("meetingId", string(m.ID)), zap.Error(err))
		}
	}

	created, err := l.Meetings.Get(ctx, m.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to reload created meeting", err)
	}
	return created, nil
}

// Cancel marks a Meeting cancelled, best-effort removes its external
// calendar entry, and signals the Payout Scheduler to void any
// not-yet-disbursed transfer.
func (l *Ledger) Cancel(ctx context.Context, id models.MeetingID, at time.Time, by models.CancelActor, reason string) (*models.Meeting, error) {
	m, err := l.Meetings.Cancel(ctx, id, at, by, reason)
	if err != nil {
		if err == meeting.ErrNotFound {
			return nil, apperr.New(apperr.NotFound, "meeting not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to cancel meeting", err)
	}

	if l.Calendar != nil && m.ExternalCalendarEntryID != "" {
		if err := l.Calendar.RemoveEvent(ctx, m.ExpertID, m.ExternalCalendarEntryID); err != nil {
			l.Log.Warn("failed to remove external calendar entry", zap.String("meetingId", string(id)), zap.Error(err))
		}
	}

	if l.Payouts != nil {
		if err := l.Payouts.VoidIfNotDisbursed(ctx, id, at); err != nil {
			l.Log.Warn("failed to void transfer for cancelled meeting", zap.String("meetingId", string(id)), zap.Error(err))
		}
	}

	return m, nil
}

func (l *Ledger) Get(ctx context.Context, id models.MeetingID) (*models.Meeting, error) {
	m, err := l.Meetings.Get(ctx, id)
	if err != nil {
		if err == meeting.ErrNotFound {
			return nil, apperr.New(apperr.NotFound, "meeting not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to load meeting", err)
	}
	return m, nil
}

func (l *Ledger) FindByExpert(ctx context.Context, expertID models.ExpertID, from, to time.Time) ([]models.Meeting, error) {
	out, err := l.Meetings.FindByExpert(ctx, expertID, from, to)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list meetings by expert", err)
	}
	return out, nil
}

func (l *Ledger) FindByGuest(ctx context.Context, guestID models.GuestID, from, to time.Time) ([]models.Meeting, error) {
	out, err := l.Meetings.FindByGuest(ctx, guestID, from, to)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list meetings by guest", err)
	}
	return out, nil
}
