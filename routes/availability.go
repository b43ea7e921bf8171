package routes

import (
	"consulta/handlers"

	"github.com/gin-gonic/gin"
)

// RegisterAvailabilityRoutes registers the availability lookup endpoint.
func RegisterAvailabilityRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/availability", handlers.GetAvailability)
	}
}
