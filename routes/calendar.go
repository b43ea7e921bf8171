package routes

import (
	"consulta/handlers"

	"github.com/gin-gonic/gin"
)

// RegisterCalendarRoutes registers the calendar connect/callback
// endpoints for the OAuth authorization-code flow.
func RegisterCalendarRoutes(r *gin.Engine) {
	api := r.Group("/api/calendar")
	{
		api.GET("/connect", handlers.ConnectCalendar)
		api.GET("/oauth/callback", handlers.CalendarOAuthCallback)
	}
}
