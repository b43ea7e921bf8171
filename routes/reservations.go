package routes

import (
	"consulta/handlers"

	"github.com/gin-gonic/gin"
)

// RegisterReservationRoutes registers the reservation hold/abort endpoints.
func RegisterReservationRoutes(r *gin.Engine) {
	reservations := r.Group("/api/reservations")
	{
		reservations.POST("", handlers.HoldReservation)
		reservations.POST("/:id/abort", handlers.AbortReservation)
	}
}
