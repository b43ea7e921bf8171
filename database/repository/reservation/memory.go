package reservation

import (
	"context"
	"sync"
	"time"

	"consulta/models"
)

// InMemoryRepository is a test double; overlap checks and claims run
// under a single mutex so there is no real concurrency to race against,
// but the CAS semantics of the interface are preserved exactly.
type InMemoryRepository struct {
	mu   sync.Mutex
	byID map[models.ReservationID]models.Reservation
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{byID: make(map[models.ReservationID]models.Reservation)}
}

func (r *InMemoryRepository) Create(ctx context.Context, res models.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.ExpertID != res.ExpertID {
			continue
		}
		if existing.Status != models.ReservationHeld && existing.Status != models.ReservationConfirmed {
			continue
		}
		if existing.Overlaps(res.StartInstant, res.EndInstant) {
			return ErrOverlap
		}
	}
	r.byID[res.ID] = res
	return nil
}

func (r *InMemoryRepository) Get(ctx context.Context, id models.ReservationID) (*models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &res, nil
}

func (r *InMemoryRepository) TransitionStatus(ctx context.Context, id models.ReservationID, fromStatuses []models.ReservationStatus, to models.ReservationStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	if !containsStatus(fromStatuses, res.Status) {
		return false, nil
	}
	res.Status = to
	r.byID[id] = res
	return true, nil
}

func (r *InMemoryRepository) MarkPendingVoucher(ctx context.Context, id models.ReservationID, graceExpires time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok || res.Status != models.ReservationHeld {
		return false, nil
	}
	res.PendingVoucher = true
	res.VoucherGraceExpires = graceExpires
	r.byID[id] = res
	return true, nil
}

func (r *InMemoryRepository) GetBySessionID(ctx context.Context, sessionID models.SessionID) (*models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.byID {
		if res.PaymentSessionID == sessionID {
			return &res, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) SetPaymentSession(ctx context.Context, id models.ReservationID, sessionID models.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	res.PaymentSessionID = sessionID
	r.byID[id] = res
	return nil
}

func (r *InMemoryRepository) ConfirmWithPayment(ctx context.Context, id models.ReservationID, capturedPaymentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok || res.Status != models.ReservationHeld {
		return false, nil
	}
	res.Status = models.ReservationConfirmed
	res.CapturedPaymentID = capturedPaymentID
	r.byID[id] = res
	return true, nil
}

func (r *InMemoryRepository) ListOverlapping(ctx context.Context, expertID models.ExpertID, start, end time.Time) ([]models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Reservation
	for _, res := range r.byID {
		if res.ExpertID != expertID {
			continue
		}
		if res.Status != models.ReservationHeld && res.Status != models.ReservationConfirmed {
			continue
		}
		if res.Overlaps(start, end) {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) ClaimNextExpired(ctx context.Context, now time.Time) (*models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, res := range r.byID {
		if res.Status != models.ReservationHeld {
			continue
		}
		if !res.IsExpiredAt(now) {
			continue
		}
		before := res
		res.Status = models.ReservationExpired
		r.byID[id] = res
		return &before, nil
	}
	return nil, nil
}

func containsStatus(statuses []models.ReservationStatus, s models.ReservationStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
