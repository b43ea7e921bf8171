// Package jobs is the Job Runtime: an asynq-backed dispatch table
// for webhook-derived tasks plus a cron-cadence-driven scheduler for the
// Reservation sweep, the Transfer sweep, and reminder emission.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"consulta/apperr"
	"consulta/config"
	"consulta/models"
	"consulta/services/payment"
	"consulta/services/payout"
	"consulta/services/reservation"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
)

const (
	TypePaymentEvent  = "payment:event"
	TypeCalendarEvent = "calendar:identity"
)

// CalendarIdentityEvent carries an external calendar-identity provider's
// notification (e.g. a re-consent or disconnect webhook) that the
// Expert profile store needs applied; the update itself is delegated to
// ProfileUpdater since it lives outside this module's data model.
type CalendarIdentityEvent struct {
	ExpertID models.ExpertID `json:"expertId"`
	Status   string          `json:"status"`
}

// ProfileUpdater applies a calendar-identity change to an Expert's
// profile; the concrete implementation is external to the booking core.
type ProfileUpdater interface {
	ApplyCalendarIdentityChange(ctx context.Context, event CalendarIdentityEvent) error
}

// PaymentEventPayload is enqueued by the payment webhook handler; the
// worker replays it through the Payment Orchestrator's idempotent
// handleEvent, then applies whatever Effect it decides.
type PaymentEventPayload struct {
	Event payment.ProviderEvent `json:"event"`
}

// ReminderEmitter is the external notification hook the reminders
// cadence drives; actual delivery (push/email/SMS) lives outside this
// module's scope, matching the dispatch table's "reminder emitters" as a
// named trigger rather than a delivery system.
type ReminderEmitter interface {
	EmitUpcoming(ctx context.Context, now time.Time) error
}

// Runtime wires the asynq server/scheduler plus the domain services the
// Job Runtime drives on a cadence.
type Runtime struct {
	Payments     *payment.Orchestrator
	Reservations *reservation.Manager
	Payouts      *payout.Scheduler
	Reminders    ReminderEmitter
	Profiles     ProfileUpdater
	Idempotency  *redis.Client

	lookupCountry func(accountID models.PaymentAccountID) string
}

// NewRuntime wires a Runtime. lookupCountry resolves an Expert's country
// from their payout account id for the Payout Scheduler's aging check.
// reminders and profiles may be nil in deployments that have not wired
// those channels yet.
func NewRuntime(payments *payment.Orchestrator, reservations *reservation.Manager, payouts *payout.Scheduler, reminders ReminderEmitter, profiles ProfileUpdater, idempotency *redis.Client, lookupCountry func(accountID models.PaymentAccountID) string) *Runtime {
	return &Runtime{Payments: payments, Reservations: reservations, Payouts: payouts, Reminders: reminders, Profiles: profiles, Idempotency: idempotency, lookupCountry: lookupCountry}
}

// mux builds the asynq dispatch table.
func (rt *Runtime) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePaymentEvent, rt.handlePaymentEvent)
	mux.HandleFunc(TypeCalendarEvent, rt.handleCalendarIdentityEvent)
	return mux
}

// Run starts the asynq server processing enqueued tasks. It blocks
// until the server stops; call it from a goroutine if the caller has
// other work.
func (rt *Runtime) Run(redisOpt asynq.RedisConnOpt) error {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{"default": 1},
	})

	const maxAttempts = 5
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := srv.Run(rt.mux()); err != nil {
			lastErr = err
			log.Printf("[JobRuntime] attempt %d/%d failed to start worker: %v", attempt, maxAttempts, err)
			if attempt == maxAttempts {
				return fmt.Errorf("job runtime failed to start after %d attempts: %w", maxAttempts, lastErr)
			}
			time.Sleep(time.Duration(attempt*2) * time.Second)
			continue
		}
		return nil
	}
	return lastErr
}

func (rt *Runtime) handlePaymentEvent(ctx context.Context, task *asynq.Task) error {
	var p PaymentEventPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		log.Printf("[JobRuntime] invalid payment event payload: %v", err)
		return err
	}

	effect, err := rt.Payments.HandleEvent(ctx, p.Event)
	if err != nil {
		// Returning the error tells asynq to retry the task per its own
		// backoff, which is how provider errors get their bounded retries.
		log.Printf("[JobRuntime] payment event %s handling failed: %v", p.Event.ID, err)
		return err
	}

	return rt.applyEffect(ctx, p.Event, effect)
}

func (rt *Runtime) handleCalendarIdentityEvent(ctx context.Context, task *asynq.Task) error {
	var event CalendarIdentityEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		log.Printf("[JobRuntime] invalid calendar-identity event payload: %v", err)
		return err
	}
	if rt.Profiles == nil {
		return nil
	}
	if err := rt.Profiles.ApplyCalendarIdentityChange(ctx, event); err != nil {
		log.Printf("[JobRuntime] calendar-identity event for expert %s failed: %v", event.ExpertID, err)
		return err
	}
	return nil
}

func (rt *Runtime) applyEffect(ctx context.Context, event payment.ProviderEvent, effect payment.Effect) error {
	res, err := rt.Reservations.Reservations.GetBySessionID(ctx, event.SessionID)
	if err != nil {
		if effect == payment.EffectNoop {
			return nil
		}
		return fmt.Errorf("resolving reservation for session %s: %w", event.SessionID, err)
	}

	switch effect {
	case payment.EffectConfirmReservation:
		_, err := rt.Reservations.Confirm(ctx, res.ID, event.CapturedPaymentID, "", "", "", time.Now())
		if apperr.Is(err, apperr.Gone) || apperr.Is(err, apperr.Conflict) {
			// The reservation died before the capture landed (swept, or
			// confirmed under a different payment). Confirm has already
			// issued a refund for a dead reservation or a meeting-slot
			// conflict; a reservation confirmed under a different payment
			// gets no refund here. Redelivering the event cannot change
			// the outcome — acknowledge instead of retrying forever.
			log.Printf("[JobRuntime] captured payment for dead reservation %s: %v", res.ID, err)
			return nil
		}
		return err
	case payment.EffectMarkPendingVoucher:
		return rt.Reservations.MarkPendingVoucher(ctx, res.ID, time.Now())
	case payment.EffectAbortReservation:
		return rt.Reservations.Abort(ctx, res.ID, "payment event: "+event.Type)
	case payment.EffectNoop:
		return nil
	default:
		return nil
	}
}

// RunScheduler drives the sweepReservations, sweepTransfers, and
// reminder cadences from config.AppConfig.CronCadences on independent
// cron entries.
func (rt *Runtime) RunScheduler(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()

	cadences := config.AppConfig.CronCadences
	if _, err := c.AddFunc(cadences.SweepReservations, func() { rt.sweepReservations(ctx) }); err != nil {
		return nil, fmt.Errorf("scheduling sweepReservations: %w", err)
	}
	if _, err := c.AddFunc(cadences.SweepTransfers, func() { rt.sweepTransfers(ctx) }); err != nil {
		return nil, fmt.Errorf("scheduling sweepTransfers: %w", err)
	}
	if rt.Reminders != nil {
		if _, err := c.AddFunc(cadences.Reminders, func() { rt.emitReminders(ctx) }); err != nil {
			return nil, fmt.Errorf("scheduling reminders: %w", err)
		}
	}
	c.Start()
	return c, nil
}

func (rt *Runtime) emitReminders(ctx context.Context) {
	if err := rt.Reminders.EmitUpcoming(ctx, time.Now()); err != nil {
		log.Printf("[JobRuntime] reminder emission failed: %v", err)
	}
}

func (rt *Runtime) sweepReservations(ctx context.Context) {
	if _, err := rt.TriggerSweepReservations(ctx); err != nil {
		log.Printf("[JobRuntime] sweepReservations failed: %v", err)
	}
}

func (rt *Runtime) sweepTransfers(ctx context.Context) {
	result, err := rt.TriggerSweepTransfers(ctx)
	if err != nil {
		log.Printf("[JobRuntime] sweepTransfers failed: %v", err)
		return
	}
	log.Printf("[JobRuntime] sweepTransfers: disbursed=%d failed=%d skipped=%d", result.Disbursed, result.Failed, result.Skipped)
}

// TriggerSweepReservations drains every currently-due expired HELD
// reservation. Exported so the /internal/cron/sweep-reservations trigger
// can drive it synchronously, in addition to the cadence scheduler.
func (rt *Runtime) TriggerSweepReservations(ctx context.Context) (int, error) {
	var swept int
	for {
		ok, err := rt.Reservations.SweepExpired(ctx, time.Now())
		if err != nil {
			return swept, err
		}
		if !ok {
			return swept, nil
		}
		swept++
	}
}

// TriggerSweepTransfers runs one Payout Scheduler sweep pass. Exported for
// the /internal/cron/sweep-transfers trigger.
func (rt *Runtime) TriggerSweepTransfers(ctx context.Context) (payout.SweepResult, error) {
	return rt.Payouts.Sweep(ctx, time.Now(), rt.lookupCountry)
}

// TriggerReminders fires one reminder-emission pass. Exported for the
// /internal/cron/reminders trigger; a nil Reminders emitter is a no-op.
func (rt *Runtime) TriggerReminders(ctx context.Context) error {
	if rt.Reminders == nil {
		return nil
	}
	return rt.Reminders.EmitUpcoming(ctx, time.Now())
}
