package routes

import (
	"consulta/handlers"
	"consulta/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterWebhookRoutes registers the signed inbound provider event
// surface: payment captures and calendar-identity notifications.
func RegisterWebhookRoutes(r *gin.Engine) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/payment",
			middleware.WebhookSignature("Stripe-Signature", handlers.PaymentWebhookSignatureVerifier),
			handlers.PaymentWebhook)
		webhooks.POST("/calendar-identity",
			middleware.WebhookSignature("X-Calendar-Signature", handlers.CalendarIdentityWebhookSignatureVerifier),
			handlers.CalendarIdentityWebhook)
	}
}
