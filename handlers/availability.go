package handlers

import (
	"net/http"
	"time"

	"consulta/apperr"
	"consulta/availability"
	"consulta/database/repository/schedule"
	"consulta/models"

	"github.com/gin-gonic/gin"
)

// AvailabilityEngine and Schedules are injected by main via SetAvailabilityDeps.
var (
	AvailabilityEngine *availability.Engine
	Schedules          schedule.Repository
)

// SetAvailabilityDeps wires the Availability Engine and the Schedule
// Store handle the availability handler needs for the timezone field.
func SetAvailabilityDeps(engine *availability.Engine, schedules schedule.Repository) {
	AvailabilityEngine = engine
	Schedules = schedules
}

// GetAvailability implements GET /availability?expertId&eventId.
func GetAvailability(c *gin.Context) {
	expertID := models.ExpertID(c.Query("expertId"))
	eventID := models.EventID(c.Query("eventId"))
	if expertID == "" || eventID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expertId and eventId are required"})
		return
	}

	expert, err := Schedules.GetExpert(c.Request.Context(), expertID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound"})
		return
	}

	candidates, err := AvailabilityEngine.Candidates(c.Request.Context(), expertID, eventID, time.Now())
	if err != nil {
		if apperr.Is(err, apperr.Unauthorized) {
			c.JSON(http.StatusOK, gin.H{"error": "CalendarNotConnected"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"error": "AvailabilityUnknown"})
		return
	}

	if len(candidates) == 0 {
		c.JSON(http.StatusOK, gin.H{"error": "NoSlots"})
		return
	}

	iso := make([]string, len(candidates))
	for i, t := range candidates {
		iso[i] = t.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, gin.H{"timezone": expert.HomeTimezone, "candidates": iso})
}
