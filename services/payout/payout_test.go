package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"consulta/database/repository/transfer"
	"consulta/models"

	"github.com/stretchr/testify/require"
)

func TestDelayDaysFor_FallsBackToDefault(t *testing.T) {
	s := New(nil, nil, map[string]int{"US": 2, "BR": 14}, 7, nil)

	require.Equal(t, 2, s.delayDaysFor("US"))
	require.Equal(t, 14, s.delayDaysFor("BR"))
	require.Equal(t, 7, s.delayDaysFor("unknown-country"))
}

func TestEligible_AgingFloorBlocksEarlyDisbursement(t *testing.T) {
	paymentCreatedAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	tr := models.PaymentTransfer{
		Status:           models.TransferPending,
		PaymentCreatedAt: paymentCreatedAt,
		ScheduledAt:      paymentCreatedAt,
	}

	almostAged := paymentCreatedAt.AddDate(0, 0, 6)
	require.False(t, tr.Eligible(almostAged, 7), "must not be eligible before the aging floor elapses")

	fullyAged := paymentCreatedAt.AddDate(0, 0, 7)
	require.True(t, tr.Eligible(fullyAged, 7), "must become eligible exactly at the aging floor")
}

func TestEligible_ApprovedBypassesAgingButNotSchedule(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	tr := models.PaymentTransfer{
		Status:           models.TransferApproved,
		RequiresApproval: true,
		PaymentCreatedAt: now,
		ScheduledAt:      now.Add(time.Hour), // still in the future
	}
	require.False(t, tr.Eligible(now, 30), "approval bypasses aging but never the scheduled instant")

	require.True(t, tr.Eligible(now.Add(2*time.Hour), 30), "once scheduledAt has passed, approval bypasses the 30-day aging floor")
}

func TestEligible_PendingNeverBypassesAging(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	tr := models.PaymentTransfer{
		Status:           models.TransferPending,
		RequiresApproval: true, // awaiting approval, not yet approved
		PaymentCreatedAt: now,
		ScheduledAt:      now,
	}
	require.False(t, tr.Eligible(now.Add(time.Hour), 30), "RequiresApproval alone does not bypass aging without status=APPROVED")
}

// A 10000-minor meeting at feeRate 0.15 in PT (7-day
// delay) is not disbursed on day 6, disburses 8500 on day 8 with a
// provider transfer id, and a repeated sweep is a no-op.
func TestSweep_AgingFloorThenDisbursesOnce(t *testing.T) {
	repo := transfer.NewInMemoryRepository()
	s := New(repo, nil, map[string]int{"PT": 7}, 7, nil)

	var providerCalls int
	s.CreateTransfer = func(ctx context.Context, tr models.PaymentTransfer) (string, error) {
		providerCalls++
		require.Equal(t, int64(8500), tr.NetAmountMinor)
		return "tr_stripe_1", nil
	}

	sessionStart := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	paymentCreated := time.Date(2025, 3, 3, 8, 30, 0, 0, time.UTC)
	require.NoError(t, s.CreateForMeeting(context.Background(), "meeting-1", "acct_1", 10000, 8500, "eur", sessionStart, paymentCreated, paymentCreated, false))

	created, err := repo.GetByMeeting(context.Background(), "meeting-1")
	require.NoError(t, err)
	require.Equal(t, models.TransferPending, created.Status)
	require.True(t, created.ScheduledAt.Equal(sessionStart))

	lookupPT := func(models.PaymentAccountID) string { return "PT" }

	day6 := paymentCreated.AddDate(0, 0, 6)
	result, err := s.Sweep(context.Background(), day6, lookupPT)
	require.NoError(t, err)
	require.Zero(t, result.Disbursed, "day-6 sweep must not beat the 7-day aging floor")
	require.Zero(t, providerCalls)

	day8 := paymentCreated.AddDate(0, 0, 8)
	result, err = s.Sweep(context.Background(), day8, lookupPT)
	require.NoError(t, err)
	require.Equal(t, 1, result.Disbursed)
	require.Equal(t, 1, providerCalls)

	done, err := repo.GetByMeeting(context.Background(), "meeting-1")
	require.NoError(t, err)
	require.Equal(t, models.TransferCompleted, done.Status)
	require.Equal(t, "tr_stripe_1", done.ProviderTransferID)

	result, err = s.Sweep(context.Background(), day8.Add(time.Hour), lookupPT)
	require.NoError(t, err)
	require.Zero(t, result.Disbursed, "repeated sweep over a COMPLETED transfer is a no-op")
	require.Equal(t, 1, providerCalls)
}

func TestCreateForMeeting_IdempotentOnMeetingID(t *testing.T) {
	repo := transfer.NewInMemoryRepository()
	s := New(repo, nil, nil, 7, nil)

	at := time.Date(2025, 3, 3, 8, 30, 0, 0, time.UTC)
	require.NoError(t, s.CreateForMeeting(context.Background(), "meeting-1", "acct_1", 10000, 8500, "eur", at, at, at, false))
	require.NoError(t, s.CreateForMeeting(context.Background(), "meeting-1", "acct_1", 10000, 8500, "eur", at, at, at, false))

	first, err := repo.GetByMeeting(context.Background(), "meeting-1")
	require.NoError(t, err)
	require.Equal(t, models.TransferPending, first.Status)
}

// disburse exhausts its in-attempt backoff, records the retry, and on
// the third failed sweep marks the transfer FAILED terminal.
func TestSweep_RetriesThenFailsTerminal(t *testing.T) {
	repo := transfer.NewInMemoryRepository()
	s := New(repo, nil, nil, 0, nil)
	s.CreateTransfer = func(ctx context.Context, tr models.PaymentTransfer) (string, error) {
		return "", errors.New("provider down")
	}

	saved := backoffSchedule
	backoffSchedule = []time.Duration{0, 0, 0}
	t.Cleanup(func() { backoffSchedule = saved })

	at := time.Date(2025, 3, 3, 8, 30, 0, 0, time.UTC)
	require.NoError(t, s.CreateForMeeting(context.Background(), "meeting-1", "acct_1", 10000, 8500, "eur", at, at, at, false))

	lookup := func(models.PaymentAccountID) string { return "DEFAULT" }
	for i := 1; i <= 3; i++ {
		// Let the previous sweep's claim lease lapse before retrying.
		result, err := s.Sweep(context.Background(), at.Add(time.Duration(i)*time.Minute), lookup)
		require.NoError(t, err)
		require.Equal(t, 1, result.Failed)
	}

	tr, err := repo.GetByMeeting(context.Background(), "meeting-1")
	require.NoError(t, err)
	require.Equal(t, models.TransferFailed, tr.Status)
	require.Equal(t, 3, tr.RetryCount)
	require.NotEmpty(t, tr.LastError)
}
