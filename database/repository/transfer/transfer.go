// Package transfer persists PaymentTransfers and
// provides the atomic claim primitive the Payout Scheduler's sweep uses
// to safely disburse concurrently with retries.
package transfer

import (
	"context"
	"errors"
	"time"

	"consulta/models"
)

var ErrNotFound = errors.New("not found")

type Repository interface {
	Create(ctx context.Context, t models.PaymentTransfer) error
	Get(ctx context.Context, id models.TransferID) (*models.PaymentTransfer, error)
	GetByMeeting(ctx context.Context, meetingID models.MeetingID) (*models.PaymentTransfer, error)

	// ListEligible returns non-terminal transfers whose ScheduledAt is at
	// or before now, for the sweep to filter through Eligible().
	ListEligible(ctx context.Context, now time.Time) ([]models.PaymentTransfer, error)

	// ClaimForDisbursement atomically takes a lease (claimedUntil) on a
	// non-terminal transfer that has no live lease, so two sweep runs
	// never disburse the same transfer twice; returns (false, nil) if
	// another worker already holds the lease.
	ClaimForDisbursement(ctx context.Context, id models.TransferID, now time.Time, leaseFor time.Duration) (bool, error)

	MarkCompleted(ctx context.Context, id models.TransferID, providerTransferID string, at time.Time) error
	MarkFailed(ctx context.Context, id models.TransferID, errMsg string, at time.Time) error
	IncrementRetry(ctx context.Context, id models.TransferID, errMsg string, at time.Time) (int, error)
	MarkCancelled(ctx context.Context, id models.TransferID, at time.Time) (bool, error)
	Approve(ctx context.Context, id models.TransferID, at time.Time) (bool, error)
}
