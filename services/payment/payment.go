// Package payment implements the Payment Orchestrator: creates a
// payment session for a held Reservation, maps inbound provider events to
// internal effects, and computes platform fees. It never holds money
// itself. Stripe is the wired payment provider.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"consulta/apperr"
	"consulta/database/repository/reservation"
	"consulta/models"

	"github.com/go-redis/redis/v8"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/refund"
)

// Methods selects which payment rails createSession offers the guest.
type Methods struct {
	Card      bool
	BankDebit bool
	Voucher   bool
}

// Effect is the outcome handleEvent decides a provider event should have
// on the Reservation Manager.
type Effect string

const (
	EffectConfirmReservation Effect = "confirmReservation"
	EffectMarkPendingVoucher Effect = "markPendingVoucher"
	EffectAbortReservation   Effect = "abortReservation"
	EffectNoop               Effect = "noop"
)

// ProviderEvent is the internal shape a webhook handler decodes a Stripe
// event into before calling HandleEvent; HandleEvent itself is
// provider-agnostic.
type ProviderEvent struct {
	ID                string
	Type              string
	SessionID         models.SessionID
	AmountMinor       int64
	Currency          string
	CapturedPaymentID string
	Pending           bool
	Failed            bool
}

type sessionMeta struct {
	ReservationID models.ReservationID `json:"reservationId"`
	AmountMinor   int64                `json:"amountMinor"`
	Currency      string               `json:"currency"`
}

// Orchestrator is the Payment Orchestrator.
type Orchestrator struct {
	Reservations        reservation.Repository
	Cache               *redis.Client // session metadata, keyed by sessionId
	Idempotency         *redis.Client // provider event-id dedupe ledger
	FeeRate             float64
	SuccessURL          string
	CancelURL           string
	VoucherGraceMinutes int
}

// New wires an Orchestrator.
func New(reservations reservation.Repository, cache, idempotency *redis.Client, feeRate float64, successURL, cancelURL string, voucherGraceMinutes int) *Orchestrator {
	return &Orchestrator{
		Reservations:        reservations,
		Cache:               cache,
		Idempotency:         idempotency,
		FeeRate:             feeRate,
		SuccessURL:          successURL,
		CancelURL:           cancelURL,
		VoucherGraceMinutes: voucherGraceMinutes,
	}
}

// ComputeFee applies the platform fee policy in integer minor units:
// platformFee = floor(amount*feeRate), expertNet = amount-platformFee.
func ComputeFee(amountMinor int64, feeRate float64) (platformFee, expertNet int64) {
	platformFee = int64(math.Floor(float64(amountMinor) * feeRate))
	return platformFee, amountMinor - platformFee
}

// CreateSession opens a checkout session for a held Reservation,
// satisfying the PaymentSessionCreator contract the Reservation Manager
// depends on. The idempotency key is deterministic on
// (operation, reservationId) so a retried hold never double-charges.
func (o *Orchestrator) CreateSession(ctx context.Context, reservationID models.ReservationID, amountMinor int64, currency string) (models.SessionID, string, error) {
	return o.createSessionWithMethods(ctx, reservationID, amountMinor, currency, Methods{Card: true})
}

func (o *Orchestrator) createSessionWithMethods(ctx context.Context, reservationID models.ReservationID, amountMinor int64, currency string, methods Methods) (models.SessionID, string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(o.SuccessURL),
		CancelURL:          stripe.String(o.CancelURL),
		PaymentMethodTypes: stripe.StringSlice(paymentMethodTypes(methods)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(amountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("reservation %s", reservationID)),
				},
			},
		}},
		Metadata: map[string]string{"reservationId": string(reservationID)},
	}
	params.Params.IdempotencyKey = stripe.String(fmt.Sprintf("session:%s", reservationID))

	sess, err := session.New(params)
	if err != nil {
		return "", "", apperr.Wrap(apperr.UpstreamUnavailable, "stripe session creation failed", err)
	}

	sessionID := models.SessionID(sess.ID)
	meta := sessionMeta{ReservationID: reservationID, AmountMinor: amountMinor, Currency: currency}
	if err := o.saveSessionMeta(ctx, sessionID, meta); err != nil {
		return "", "", apperr.Wrap(apperr.Internal, "failed to cache session metadata", err)
	}
	return sessionID, sess.URL, nil
}

func paymentMethodTypes(m Methods) []string {
	var out []string
	if m.Card {
		out = append(out, "card")
	}
	if m.BankDebit {
		out = append(out, "us_bank_account")
	}
	if m.Voucher {
		out = append(out, "boleto")
	}
	if len(out) == 0 {
		out = append(out, "card")
	}
	return out
}

func (o *Orchestrator) saveSessionMeta(ctx context.Context, sessionID models.SessionID, meta sessionMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	// Retained at least as long as the longest possible reservation
	// lifetime (default hold TTL plus voucher grace), so a late webhook
	// can still resolve back to its reservation.
	ttl := time.Duration(o.VoucherGraceMinutes+60) * time.Minute
	return o.Cache.Set(ctx, sessionCacheKey(sessionID), data, ttl).Err()
}

func (o *Orchestrator) loadSessionMeta(ctx context.Context, sessionID models.SessionID) (*sessionMeta, error) {
	raw, err := o.Cache.Get(ctx, sessionCacheKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var meta sessionMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func sessionCacheKey(sessionID models.SessionID) string { return "paysession:" + string(sessionID) }

// Refund implements the refund signal the Reservation Manager issues
// when a captured payment must be returned (expired-on-confirm, meeting
// conflict). It is best-effort from the caller's perspective but itself
// propagates provider errors so the caller can retry via the Job Runtime.
func (o *Orchestrator) Refund(ctx context.Context, sessionID models.SessionID, reason string) error {
	meta, err := o.loadSessionMeta(ctx, sessionID)
	if err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, "failed to load session metadata for refund", err)
	}
	if meta == nil {
		// UnknownSession: nothing was ever charged under this id, or it
		// already aged out of the cache; nothing to refund.
		return nil
	}

	sess, err := session.Get(string(sessionID), nil)
	if err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, "failed to look up checkout session", err)
	}
	if sess.PaymentIntent == nil {
		return nil
	}

	params := &stripe.RefundParams{PaymentIntent: stripe.String(sess.PaymentIntent.ID)}
	params.Params.IdempotencyKey = stripe.String(fmt.Sprintf("refund:%s", sessionID))
	if _, err := refund.New(params); err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, "stripe refund failed", err)
	}
	return nil
}

// HandleEvent maps one provider event to
// an effect, idempotently. Replaying the same event.ID any number of
// times returns the same effect without repeating side effects;
// the decision itself is pure bookkeeping — applying the effect is the
// caller's (the Job Runtime's) job.
func (o *Orchestrator) HandleEvent(ctx context.Context, event ProviderEvent) (Effect, error) {
	if cached, err := o.dedupeLookup(ctx, event.ID); err != nil {
		return EffectNoop, apperr.Wrap(apperr.UpstreamUnavailable, "idempotency ledger unavailable", err)
	} else if cached != "" {
		return Effect(cached), nil
	}

	effect, err := o.decide(ctx, event)
	if err != nil {
		return EffectNoop, err
	}

	if err := o.dedupeRecord(ctx, event.ID, effect); err != nil {
		return EffectNoop, apperr.Wrap(apperr.UpstreamUnavailable, "failed to record idempotency ledger entry", err)
	}
	return effect, nil
}

func (o *Orchestrator) decide(ctx context.Context, event ProviderEvent) (Effect, error) {
	if event.Failed {
		return EffectAbortReservation, nil
	}

	meta, err := o.loadSessionMeta(ctx, event.SessionID)
	if err != nil {
		return EffectNoop, apperr.Wrap(apperr.UpstreamUnavailable, "failed to load session metadata", err)
	}
	if meta == nil {
		// UnknownSession: drop.
		return EffectNoop, nil
	}
	if event.AmountMinor != meta.AmountMinor {
		// MismatchedAmount: abort and alert.
		return EffectAbortReservation, nil
	}
	if event.Pending {
		return EffectMarkPendingVoucher, nil
	}
	return EffectConfirmReservation, nil
}

// dedupeWindow exceeds the 24h contract with the provider with margin
// for clock skew
// between redelivery attempts.
const dedupeWindow = 48 * time.Hour

func (o *Orchestrator) dedupeLookup(ctx context.Context, eventID string) (string, error) {
	val, err := o.Idempotency.Get(ctx, dedupeKey(eventID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (o *Orchestrator) dedupeRecord(ctx context.Context, eventID string, effect Effect) error {
	return o.Idempotency.Set(ctx, dedupeKey(eventID), string(effect), dedupeWindow).Err()
}

func dedupeKey(eventID string) string { return "idem:payment:" + eventID }
