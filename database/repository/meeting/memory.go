package meeting

import (
	"context"
	"sync"
	"time"

	"consulta/models"
)

type InMemoryRepository struct {
	mu   sync.Mutex
	byID map[models.MeetingID]models.Meeting
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{byID: make(map[models.MeetingID]models.Meeting)}
}

func (r *InMemoryRepository) Create(ctx context.Context, m models.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.IsCancelled() || existing.ExpertID != m.ExpertID {
			continue
		}
		if existing.StartInstant.Equal(m.StartInstant) {
			return ErrConflict
		}
	}
	r.byID[m.ID] = m
	return nil
}

func (r *InMemoryRepository) Get(ctx context.Context, id models.MeetingID) (*models.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (r *InMemoryRepository) GetByReservation(ctx context.Context, reservationID models.ReservationID) (*models.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.byID {
		if m.ReservationID == reservationID {
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) Cancel(ctx context.Context, id models.MeetingID, at time.Time, by models.CancelActor, reason string) (*models.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.IsCancelled() {
		return nil, ErrNotFound
	}
	m.CancelledAt = &at
	m.CancelledBy = by
	m.CancelReason = reason
	r.byID[id] = m
	return &m, nil
}

func (r *InMemoryRepository) SetTransferState(ctx context.Context, id models.MeetingID, state models.TransferState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	m.TransferState = state
	r.byID[id] = m
	return nil
}

func (r *InMemoryRepository) SetExternalCalendarEntry(ctx context.Context, id models.MeetingID, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	m.ExternalCalendarEntryID = externalID
	r.byID[id] = m
	return nil
}

func (r *InMemoryRepository) FindByExpert(ctx context.Context, expertID models.ExpertID, from, to time.Time) ([]models.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Meeting
	for _, m := range r.byID {
		if m.ExpertID == expertID && !m.StartInstant.Before(from) && m.StartInstant.Before(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) FindByGuest(ctx context.Context, guestID models.GuestID, from, to time.Time) ([]models.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Meeting
	for _, m := range r.byID {
		if m.GuestID == guestID && !m.StartInstant.Before(from) && m.StartInstant.Before(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) ListOverlapping(ctx context.Context, expertID models.ExpertID, start, end time.Time) ([]models.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Meeting
	for _, m := range r.byID {
		if m.ExpertID != expertID || m.IsCancelled() {
			continue
		}
		if m.Overlaps(start, end) {
			out = append(out, m)
		}
	}
	return out, nil
}
