package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"consulta/jobs"
	"consulta/models"
	"consulta/services/payment"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// AsynqClient enqueues Job Runtime tasks; injected by main.
var AsynqClient *asynq.Client

// SetAsynqClient wires the asynq client handlers use to enqueue work.
func SetAsynqClient(client *asynq.Client) {
	AsynqClient = client
}

// PaymentWebhookSignatureVerifier is passed to middleware.WebhookSignature
// for the /webhooks/payment route.
func PaymentWebhookSignatureVerifier(body []byte, header, key string) bool {
	_, err := webhook.ConstructEvent(body, header, key)
	return err == nil
}

// CalendarIdentityWebhookSignatureVerifier is passed to
// middleware.WebhookSignature for the /webhooks/calendar-identity route.
// Unlike Stripe's envelope scheme, this provider signs each delivery as
// an HS256 JWT whose bodySha256 claim binds the token to the exact
// payload; expiry is enforced by the JWT's own exp claim.
func CalendarIdentityWebhookSignatureVerifier(body []byte, header, key string) bool {
	token, err := jwt.Parse(header, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil || !token.Valid {
		return false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	digest, _ := claims["bodySha256"].(string)
	sum := sha256.Sum256(body)
	return digest == hex.EncodeToString(sum[:])
}

// PaymentWebhook implements the payment provider webhook surface:
// the envelope's signature has already been verified by
// middleware.WebhookSignature before this handler runs. It acknowledges
// (2xx) as soon as the event is durably enqueued, deferring the actual
// confirm/abort/markPendingVoucher side effect to the Job Runtime.
func PaymentWebhook(c *gin.Context) {
	var raw stripe.Event
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}

	event, ok := translateStripeEvent(raw)
	if !ok {
		// An event type this core does not act on; acknowledge so Stripe
		// stops retrying delivery.
		c.Status(http.StatusOK)
		return
	}

	payload, err := json.Marshal(jobs.PaymentEventPayload{Event: event})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to marshal payment event"})
		return
	}
	task := asynq.NewTask(jobs.TypePaymentEvent, payload)
	if _, err := AsynqClient.Enqueue(task, asynq.TaskID("payment:"+event.ID)); err != nil && err != asynq.ErrTaskIDConflict {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue payment event"})
		return
	}
	c.Status(http.StatusOK)
}

// translateStripeEvent maps a raw stripe.Event carrying a CheckoutSession
// into the provider-agnostic payment.ProviderEvent HandleEvent expects.
// ok is false for event types this core does not subscribe to.
func translateStripeEvent(raw stripe.Event) (payment.ProviderEvent, bool) {
	var sess struct {
		ID            string `json:"id"`
		AmountTotal   int64  `json:"amount_total"`
		Currency      string `json:"currency"`
		PaymentIntent string `json:"payment_intent"`
		PaymentStatus string `json:"payment_status"`
	}
	if err := json.Unmarshal(raw.Data.Raw, &sess); err != nil {
		return payment.ProviderEvent{}, false
	}

	event := payment.ProviderEvent{
		ID:                raw.ID,
		Type:              string(raw.Type),
		SessionID:         models.SessionID(sess.ID),
		AmountMinor:       sess.AmountTotal,
		Currency:          sess.Currency,
		CapturedPaymentID: sess.PaymentIntent,
	}

	switch raw.Type {
	case "checkout.session.completed":
		// A voucher-style async payment method leaves the session "unpaid"
		// at completion time; the actual capture arrives later as
		// checkout.session.async_payment_succeeded.
		event.Pending = sess.PaymentStatus != "paid"
	case "checkout.session.async_payment_succeeded":
		// fall through as a captured/confirm event
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		event.Failed = true
	default:
		return payment.ProviderEvent{}, false
	}
	return event, true
}

// CalendarIdentityWebhook implements the calendar-identity verification
// webhook surface: enqueues the identity change for the Job
// Runtime's ProfileUpdater dispatch, acknowledging immediately.
func CalendarIdentityWebhook(c *gin.Context) {
	var event jobs.CalendarIdentityEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to marshal calendar-identity event"})
		return
	}
	task := asynq.NewTask(jobs.TypeCalendarEvent, payload)
	if _, err := AsynqClient.Enqueue(task, asynq.TaskID("calendar-identity:"+uuid.New().String())); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue calendar-identity event"})
		return
	}
	c.Status(http.StatusOK)
}
