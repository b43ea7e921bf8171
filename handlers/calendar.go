package handlers

import (
	"net/http"

	"consulta/calendar"
	"consulta/models"

	"github.com/gin-gonic/gin"
)

// CalendarGateway is injected by main; the connect/callback endpoints
// drive its authorization-code flow.
var CalendarGateway *calendar.Gateway

// SetCalendarGateway wires the Calendar Gateway for this package.
func SetCalendarGateway(gw *calendar.Gateway) {
	CalendarGateway = gw
}

// ConnectCalendar implements GET /api/calendar/connect?expertId: starts
// the authorization-code flow by redirecting the Expert to the
// provider's consent screen.
func ConnectCalendar(c *gin.Context) {
	expertID := models.ExpertID(c.Query("expertId"))
	if expertID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expertId is required"})
		return
	}
	url, err := CalendarGateway.AuthCodeURL(expertID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Redirect(http.StatusFound, url)
}

// CalendarOAuthCallback implements GET /api/calendar/oauth/callback:
// the provider redirects here with the authorization code; state carries
// the expert id the flow was started for. On success the Expert's
// refresh token is persisted and their booking page becomes renderable.
func CalendarOAuthCallback(c *gin.Context) {
	code := c.Query("code")
	expertID := models.ExpertID(c.Query("state"))
	if code == "" || expertID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and state are required"})
		return
	}
	if err := CalendarGateway.Exchange(c.Request.Context(), expertID, code); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "calendar connected"})
}
