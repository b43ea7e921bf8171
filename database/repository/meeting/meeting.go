// Package meeting persists confirmed, paid Meetings and enforces the
// unique (expertId, startInstant) constraint that keeps one Meeting per
// slot.
package meeting

import (
	"context"
	"errors"
	"time"

	"consulta/models"
)

var ErrNotFound = errors.New("not found")

// ErrConflict is returned by Create when (expertId, startInstant) already
// has a non-cancelled Meeting.
var ErrConflict = errors.New("meeting conflict")

type Repository interface {
	Create(ctx context.Context, m models.Meeting) error
	Get(ctx context.Context, id models.MeetingID) (*models.Meeting, error)
	GetByReservation(ctx context.Context, reservationID models.ReservationID) (*models.Meeting, error)

	Cancel(ctx context.Context, id models.MeetingID, at time.Time, by models.CancelActor, reason string) (*models.Meeting, error)

	// SetTransferState records the Payout Scheduler's view of
	// disbursement progress.
	SetTransferState(ctx context.Context, id models.MeetingID, state models.TransferState) error
	SetExternalCalendarEntry(ctx context.Context, id models.MeetingID, externalID string) error

	FindByExpert(ctx context.Context, expertID models.ExpertID, from, to time.Time) ([]models.Meeting, error)
	FindByGuest(ctx context.Context, guestID models.GuestID, from, to time.Time) ([]models.Meeting, error)

	// ListOverlapping returns non-cancelled meetings for expertID whose
	// interval intersects [start,end); used by the Availability Engine
	// and by the Reservation Manager's defense-in-depth re-check.
	ListOverlapping(ctx context.Context, expertID models.ExpertID, start, end time.Time) ([]models.Meeting, error)
}
