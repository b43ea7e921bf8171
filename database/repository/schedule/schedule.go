// Package schedule implements the Schedule Store: persisted weekly
// availability and per-expert booking policy, plus the Expert and Event
// lookups the rest of the core needs to resolve a booking request.
package schedule

import (
	"context"
	"fmt"

	"consulta/models"
)

// ErrNotFound is returned when a lookup finds nothing.
var ErrNotFound = fmt.Errorf("not found")

// Repository is the Schedule Store contract, extended with the
// Expert/Event lookups every other component needs.
type Repository interface {
	GetExpert(ctx context.Context, id models.ExpertID) (*models.Expert, error)

	// GetExpertByPayoutAccount resolves the Expert that owns a payout
	// account id; used by the Payout Scheduler to look up the Expert's
	// country for the aging check without denormalizing Country onto
	// PaymentTransfer itself.
	GetExpertByPayoutAccount(ctx context.Context, accountID models.PaymentAccountID) (*models.Expert, error)

	// LoadSchedule returns ErrNotFound when the Expert has never saved one.
	LoadSchedule(ctx context.Context, expertID models.ExpertID) (*models.Schedule, error)
	// SaveSchedule enforces 1..7 distinct weekdays worth of windows,
	// per-window monotonicity (start < end), and no window longer than
	// 24h; violations are rejected before anything is persisted.
	SaveSchedule(ctx context.Context, sched models.Schedule) error

	// LoadPolicy always returns a fully-defaulted policy: if the Expert
	// has no override, models.DefaultBookingPolicy is returned verbatim.
	LoadPolicy(ctx context.Context, expertID models.ExpertID) (models.BookingPolicy, error)

	// ListBlockedDates returns the local dates (YYYY-MM-DD) blocked for
	// expertID within [fromLocalDate, toLocalDate] inclusive.
	ListBlockedDates(ctx context.Context, expertID models.ExpertID, fromLocalDate, toLocalDate string) (map[string]bool, error)

	GetEvent(ctx context.Context, id models.EventID) (*models.Event, error)
}

// ValidateSchedule enforces the Schedule Store's save-time constraints
//: each window's weekday in 0..6, startMinute < endMinute, and no
// window spans more than a full day.
func ValidateSchedule(sched models.Schedule) error {
	for _, w := range sched.Windows {
		if w.Weekday < 0 || w.Weekday > 6 {
			return fmt.Errorf("invalid weekday %d", w.Weekday)
		}
		if w.StartMinute < 0 || w.StartMinute >= 1440 {
			return fmt.Errorf("invalid startMinute %d", w.StartMinute)
		}
		if w.EndMinute <= w.StartMinute || w.EndMinute > 1440 {
			return fmt.Errorf("invalid window [%d,%d)", w.StartMinute, w.EndMinute)
		}
	}
	return nil
}
