package schedule

import (
	"context"
	"errors"
	"sync"

	"consulta/models"
)

// InMemoryRepository is a test double for Repository; no network, no
// ordering guarantees beyond a single mutex.
type InMemoryRepository struct {
	mu           sync.Mutex
	experts      map[models.ExpertID]models.Expert
	schedules    map[models.ExpertID]models.Schedule
	blockedDates map[models.ExpertID]map[string]bool
	events       map[models.EventID]models.Event
}

// NewInMemoryRepository returns an empty fake store.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		experts:      make(map[models.ExpertID]models.Expert),
		schedules:    make(map[models.ExpertID]models.Schedule),
		blockedDates: make(map[models.ExpertID]map[string]bool),
		events:       make(map[models.EventID]models.Event),
	}
}

func (r *InMemoryRepository) PutExpert(e models.Expert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.experts[e.ID] = e
}

func (r *InMemoryRepository) PutEvent(e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.ID] = e
}

func (r *InMemoryRepository) BlockDate(expertID models.ExpertID, localDate string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blockedDates[expertID] == nil {
		r.blockedDates[expertID] = make(map[string]bool)
	}
	r.blockedDates[expertID][localDate] = true
}

func (r *InMemoryRepository) GetExpert(ctx context.Context, id models.ExpertID) (*models.Expert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.experts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (r *InMemoryRepository) GetExpertByPayoutAccount(ctx context.Context, accountID models.PaymentAccountID) (*models.Expert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.experts {
		if e.PayoutAccountID == accountID {
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) LoadSchedule(ctx context.Context, expertID models.ExpertID) (*models.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[expertID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *InMemoryRepository) SaveSchedule(ctx context.Context, sched models.Schedule) error {
	if err := ValidateSchedule(sched); err != nil {
		return err
	}
	seen := make(map[int]bool)
	for _, w := range sched.Windows {
		seen[int(w.Weekday)] = true
	}
	if len(seen) == 0 || len(seen) > 7 {
		return errors.New("schedule must cover between 1 and 7 distinct weekdays")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[sched.ExpertID] = sched
	return nil
}

func (r *InMemoryRepository) LoadPolicy(ctx context.Context, expertID models.ExpertID) (models.BookingPolicy, error) {
	r.mu.Lock()
	e, ok := r.experts[expertID]
	r.mu.Unlock()
	if !ok || e.PolicyOverride == nil {
		return models.DefaultBookingPolicy, nil
	}
	return e.PolicyOverride.WithDefaults(), nil
}

func (r *InMemoryRepository) ListBlockedDates(ctx context.Context, expertID models.ExpertID, fromLocalDate, toLocalDate string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool)
	for d := range r.blockedDates[expertID] {
		if d >= fromLocalDate && d <= toLocalDate {
			out[d] = true
		}
	}
	return out, nil
}

func (r *InMemoryRepository) GetEvent(ctx context.Context, id models.EventID) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}
