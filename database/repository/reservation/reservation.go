// Package reservation persists Reservations and
// provides the overlap-check and atomic-expiry primitives the Reservation
// Manager's concurrency guarantees depend on.
package reservation

import (
	"context"
	"errors"
	"time"

	"consulta/models"
)

var ErrNotFound = errors.New("not found")

// ErrOverlap is returned by Create when another HELD or CONFIRMED
// reservation already occupies the requested interval for the same expert.
// Meetings are not checked here.
var ErrOverlap = errors.New("overlapping reservation")

type Repository interface {
	// Create inserts a new HELD reservation, atomically re-checking for
	// overlap against existing HELD/CONFIRMED reservations for the same
	// expert (defense-in-depth below the advisory lock).
	Create(ctx context.Context, r models.Reservation) error

	Get(ctx context.Context, id models.ReservationID) (*models.Reservation, error)
	GetBySessionID(ctx context.Context, sessionID models.SessionID) (*models.Reservation, error)

	// TransitionStatus performs an atomic CAS from one of fromStatuses to
	// to; it reports (false, nil) without error if the document no longer
	// matches fromStatuses (lost the race), distinct from a real error.
	TransitionStatus(ctx context.Context, id models.ReservationID, fromStatuses []models.ReservationStatus, to models.ReservationStatus) (bool, error)

	// MarkPendingVoucher sets PendingVoucher and voucherGraceExpires,
	// atomically, only while still HELD; expiresAt is left unchanged.
	MarkPendingVoucher(ctx context.Context, id models.ReservationID, graceExpires time.Time) (bool, error)

	// SetPaymentSession attaches the payment session id created by the
	// Payment Orchestrator to an existing HELD reservation.
	SetPaymentSession(ctx context.Context, id models.ReservationID, sessionID models.SessionID) error

	// ConfirmWithPayment atomically transitions HELD→CONFIRMED and
	// records capturedPaymentID, only while status is still HELD.
	ConfirmWithPayment(ctx context.Context, id models.ReservationID, capturedPaymentID string) (bool, error)

	// ListOverlapping returns non-terminal reservations for expertID whose
	// [start,end) interval intersects the given interval.
	ListOverlapping(ctx context.Context, expertID models.ExpertID, start, end time.Time) ([]models.Reservation, error)

	// ClaimNextExpired atomically transitions and returns one HELD
	// reservation whose deadline (expiresAt, or voucherGraceExpires when
	// PendingVoucher) is at or before now, moving it to EXPIRED. Returns
	// nil, nil when there is nothing left to claim.
	ClaimNextExpired(ctx context.Context, now time.Time) (*models.Reservation, error)
}
