package routes

import (
	"consulta/handlers"

	"github.com/gin-gonic/gin"
)

// RegisterMeetingRoutes registers the meeting listing/cancel endpoints.
func RegisterMeetingRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/meetings", handlers.ListMeetings)
		api.POST("/meetings/:id/cancel", handlers.CancelMeeting)
	}
}
