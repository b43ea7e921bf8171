package transfer

import (
	"context"
	"sync"
	"time"

	"consulta/models"
)

type InMemoryRepository struct {
	mu   sync.Mutex
	byID map[models.TransferID]models.PaymentTransfer
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{byID: make(map[models.TransferID]models.PaymentTransfer)}
}

func (r *InMemoryRepository) Create(ctx context.Context, t models.PaymentTransfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t
	return nil
}

func (r *InMemoryRepository) Get(ctx context.Context, id models.TransferID) (*models.PaymentTransfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (r *InMemoryRepository) GetByMeeting(ctx context.Context, meetingID models.MeetingID) (*models.PaymentTransfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if t.MeetingID == meetingID {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) ListEligible(ctx context.Context, now time.Time) ([]models.PaymentTransfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentTransfer
	for _, t := range r.byID {
		if (t.Status == models.TransferPending || t.Status == models.TransferApproved) && !t.ScheduledAt.After(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) ClaimForDisbursement(ctx context.Context, id models.TransferID, now time.Time, leaseFor time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	if t.Status != models.TransferPending && t.Status != models.TransferApproved {
		return false, nil
	}
	if !t.ClaimedUntil.IsZero() && t.ClaimedUntil.After(now) {
		return false, nil
	}
	t.ClaimedUntil = now.Add(leaseFor)
	r.byID[id] = t
	return true, nil
}

func (r *InMemoryRepository) MarkCompleted(ctx context.Context, id models.TransferID, providerTransferID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = models.TransferCompleted
	t.ProviderTransferID = providerTransferID
	t.UpdatedAt = at
	r.byID[id] = t
	return nil
}

func (r *InMemoryRepository) MarkFailed(ctx context.Context, id models.TransferID, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = models.TransferFailed
	t.LastError = errMsg
	t.UpdatedAt = at
	r.byID[id] = t
	return nil
}

func (r *InMemoryRepository) IncrementRetry(ctx context.Context, id models.TransferID, errMsg string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	t.RetryCount++
	t.LastError = errMsg
	t.UpdatedAt = at
	r.byID[id] = t
	return t.RetryCount, nil
}

func (r *InMemoryRepository) MarkCancelled(ctx context.Context, id models.TransferID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	if t.Status != models.TransferPending && t.Status != models.TransferApproved {
		return false, nil
	}
	t.Status = models.TransferCancelled
	t.UpdatedAt = at
	r.byID[id] = t
	return true, nil
}

func (r *InMemoryRepository) Approve(ctx context.Context, id models.TransferID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok || t.Status != models.TransferPending || !t.RequiresApproval {
		return false, nil
	}
	t.Status = models.TransferApproved
	t.UpdatedAt = at
	r.byID[id] = t
	return true, nil
}
