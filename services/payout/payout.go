// Package payout implements the Payout Scheduler: ages, claims, and
// disburses PaymentTransfers to each Expert's connected Stripe account,
// subject to the per-country aging floor and a bounded retry policy.
package payout

import (
	"context"
	"fmt"
	"time"

	"consulta/apperr"
	"consulta/database/repository/transfer"
	"consulta/models"

	"github.com/stripe/stripe-go/v76"
	stripetransfer "github.com/stripe/stripe-go/v76/transfer"
	"go.uber.org/zap"
)

// maxRetries bounds provider retries: each failed sweep of a transfer
// records one retry, and once retryCount reaches maxRetries (the third
// failed sweep) the transfer is marked FAILED terminal rather than left
// for another sweep.
const maxRetries = 3

// claimLease bounds how long a sweep holds a transfer before another
// sweep run is allowed to retry it, in case this process dies mid-call.
const claimLease = 30 * time.Second

// backoffSchedule is the in-attempt exponential backoff before each
// retry within a single sweep call (1s, 2s, 4s).
var backoffSchedule = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// MeetingStateRecorder is the slice of the Meeting Ledger's store the
// Payout Scheduler writes disbursement progress back to.
type MeetingStateRecorder interface {
	SetTransferState(ctx context.Context, id models.MeetingID, state models.TransferState) error
}

// Scheduler is the Payout Scheduler.
type Scheduler struct {
	Transfers        transfer.Repository
	Meetings         MeetingStateRecorder // may be nil in tests
	PayoutDelayDays  map[string]int       // ISO-2 country -> days; "DEFAULT" is the fallback
	DefaultDelayDays int
	Log              *zap.Logger

	// CreateTransfer is the provider call seam; nil means Stripe. Tests
	// substitute a fake so sweeps run without a network.
	CreateTransfer func(ctx context.Context, t models.PaymentTransfer) (string, error)
}

// New wires a Scheduler.
func New(transfers transfer.Repository, meetings MeetingStateRecorder, payoutDelayDays map[string]int, defaultDelayDays int, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{Transfers: transfers, Meetings: meetings, PayoutDelayDays: payoutDelayDays, DefaultDelayDays: defaultDelayDays, Log: log}
}

func (s *Scheduler) delayDaysFor(country string) int {
	if d, ok := s.PayoutDelayDays[country]; ok {
		return d
	}
	return s.DefaultDelayDays
}

// CreateForMeeting creates the PENDING PaymentTransfer for a just-captured
// Meeting's net amount. The scheduled instant defaults to the
// session start (the safety delay is zero; the jurisdictional aging floor
// is the real gate, applied at sweep time). Idempotent on meetingID: a
// replayed confirm finds the existing transfer and does nothing.
func (s *Scheduler) CreateForMeeting(ctx context.Context, meetingID models.MeetingID, expertAccountID models.PaymentAccountID, grossAmountMinor, netAmountMinor int64, currency string, sessionStartAt, paymentCreatedAt, now time.Time, requiresApproval bool) error {
	if existing, err := s.Transfers.GetByMeeting(ctx, meetingID); err == nil && existing != nil {
		return nil
	} else if err != nil && err != transfer.ErrNotFound {
		return apperr.Wrap(apperr.Internal, "failed to check for existing transfer", err)
	}

	t := models.PaymentTransfer{
		ID:               models.TransferID(fmt.Sprintf("transfer-%s", meetingID)),
		MeetingID:        meetingID,
		ExpertAccountID:  expertAccountID,
		GrossAmountMinor: grossAmountMinor,
		NetAmountMinor:   netAmountMinor,
		Currency:         currency,
		PaymentCreatedAt: paymentCreatedAt,
		ScheduledAt:      sessionStartAt,
		Status:           models.TransferPending,
		RequiresApproval: requiresApproval,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.Transfers.Create(ctx, t); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to create payment transfer", err)
	}
	if s.Meetings != nil {
		if err := s.Meetings.SetTransferState(ctx, meetingID, models.TransferStateScheduled); err != nil {
			s.Log.Warn("failed to record scheduled transfer state", zap.String("meetingId", string(meetingID)), zap.Error(err))
		}
	}
	return nil
}

// SweepResult summarizes one sweep pass for observability.
type SweepResult struct {
	Disbursed int
	Failed    int
	Skipped   int
}

// Sweep claims every currently-eligible transfer and attempts
// disbursement, gated on the per-country aging floor. lookupCountry
// resolves the expert's country from their payout account id, since
// PaymentTransfer does not carry the country itself.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time, lookupCountry func(models.PaymentAccountID) string) (SweepResult, error) {
	candidates, err := s.Transfers.ListEligible(ctx, now)
	if err != nil {
		return SweepResult{}, apperr.Wrap(apperr.Internal, "failed to list eligible transfers", err)
	}

	var result SweepResult
	for _, t := range candidates {
		country := lookupCountry(t.ExpertAccountID)
		if !t.Eligible(now, s.delayDaysFor(country)) {
			result.Skipped++
			continue
		}

		claimed, err := s.Transfers.ClaimForDisbursement(ctx, t.ID, now, claimLease)
		if err != nil {
			return result, apperr.Wrap(apperr.Internal, "failed to claim transfer for disbursement", err)
		}
		if !claimed {
			result.Skipped++
			continue
		}

		if err := s.disburse(ctx, t, now); err != nil {
			result.Failed++
			s.Log.Warn("disbursement attempt failed", zap.String("transferId", string(t.ID)), zap.Error(err))
			continue
		}
		result.Disbursed++
	}
	return result, nil
}

func (s *Scheduler) disburse(ctx context.Context, t models.PaymentTransfer, now time.Time) error {
	create := s.CreateTransfer
	if create == nil {
		create = s.stripeCreateTransfer
	}

	var lastErr error
	for attempt := 0; attempt < len(backoffSchedule); attempt++ {
		providerID, err := create(ctx, t)
		if err == nil {
			if err := s.Transfers.MarkCompleted(ctx, t.ID, providerID, now); err != nil {
				return apperr.Wrap(apperr.Internal, "failed to record completed transfer", err)
			}
			if s.Meetings != nil {
				if err := s.Meetings.SetTransferState(ctx, t.MeetingID, models.TransferStatePaid); err != nil {
					s.Log.Warn("failed to record paid transfer state", zap.String("meetingId", string(t.MeetingID)), zap.Error(err))
				}
			}
			return nil
		}
		lastErr = err

		select {
		case <-time.After(backoffSchedule[attempt]):
		case <-ctx.Done():
			return apperr.Wrap(apperr.Deadline, "context done while retrying disbursement", ctx.Err())
		}
	}

	retryCount, err := s.Transfers.IncrementRetry(ctx, t.ID, lastErr.Error(), now)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to record disbursement retry", err)
	}
	if retryCount >= maxRetries {
		if err := s.Transfers.MarkFailed(ctx, t.ID, lastErr.Error(), now); err != nil {
			return apperr.Wrap(apperr.Internal, "failed to mark transfer failed", err)
		}
	}
	return lastErr
}

// stripeCreateTransfer carries a deterministic idempotency key,
// payout:<transferID>:<retryCount>, so a retried disbursement attempt
// against the same transfer at the same retry count never double-pays.
func (s *Scheduler) stripeCreateTransfer(ctx context.Context, t models.PaymentTransfer) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(t.NetAmountMinor),
		Currency:    stripe.String(t.Currency),
		Destination: stripe.String(string(t.ExpertAccountID)),
	}
	params.Params.IdempotencyKey = stripe.String(fmt.Sprintf("payout:%s:%d", t.ID, t.RetryCount))

	tr, err := stripetransfer.New(params)
	if err != nil {
		return "", apperr.Wrap(apperr.UpstreamUnavailable, "stripe transfer creation failed", err)
	}
	return tr.ID, nil
}

// Approve manually approves a transfer that requires approval, bypassing
// the aging floor but not the scheduledTransferInstant check.
func (s *Scheduler) Approve(ctx context.Context, id models.TransferID, now time.Time) error {
	ok, err := s.Transfers.Approve(ctx, id, now)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to approve transfer", err)
	}
	if !ok {
		return apperr.New(apperr.PreconditionFailed, "transfer is not awaiting approval")
	}
	return nil
}

// VoidIfNotDisbursed cancels a transfer for a meeting if it has not yet
// been disbursed; satisfies the meeting.TransferVoider contract the
// Meeting Ledger calls on cancellation.
func (s *Scheduler) VoidIfNotDisbursed(ctx context.Context, meetingID models.MeetingID, now time.Time) error {
	t, err := s.Transfers.GetByMeeting(ctx, meetingID)
	if err != nil {
		if err == transfer.ErrNotFound {
			return nil
		}
		return apperr.Wrap(apperr.Internal, "failed to look up transfer for meeting", err)
	}
	if t.Status.IsTerminal() {
		return nil
	}
	if _, err := s.Transfers.MarkCancelled(ctx, t.ID, now); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to cancel transfer", err)
	}
	if s.Meetings != nil {
		if err := s.Meetings.SetTransferState(ctx, meetingID, models.TransferStateVoided); err != nil {
			s.Log.Warn("failed to record voided transfer state", zap.String("meetingId", string(meetingID)), zap.Error(err))
		}
	}
	return nil
}
