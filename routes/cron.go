package routes

import (
	"consulta/handlers"
	"consulta/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterCronRoutes registers the internal scheduler-trigger surface
//, guarded by the shared-secret HMAC scheme rather than by a user
// session.
func RegisterCronRoutes(r *gin.Engine) {
	cron := r.Group("/internal/cron", middleware.CronHMACMiddleware())
	{
		cron.POST("/sweep-reservations", handlers.TriggerSweepReservations)
		cron.POST("/sweep-transfers", handlers.TriggerSweepTransfers)
		cron.POST("/reminders", handlers.TriggerReminders)
	}
}
