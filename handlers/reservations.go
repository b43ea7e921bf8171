package handlers

import (
	"net/http"
	"time"

	"consulta/models"
	"consulta/services/reservation"

	"github.com/gin-gonic/gin"
)

// Reservations is the Reservation Manager, injected by main.
var Reservations *reservation.Manager

// SetReservationManager wires the Reservation Manager for this package.
func SetReservationManager(mgr *reservation.Manager) {
	Reservations = mgr
}

// HoldReservation implements POST /reservations.
func HoldReservation(c *gin.Context) {
	var input struct {
		EventID         models.EventID `json:"eventId"`
		StartInstant    time.Time      `json:"startInstant"`
		GuestIdentifier string         `json:"guestIdentifier"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}
	if input.EventID == "" || input.GuestIdentifier == "" || input.StartInstant.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "eventId, startInstant, and guestIdentifier are required"})
		return
	}

	result, err := Reservations.Hold(c.Request.Context(), input.EventID, input.StartInstant, models.GuestID(input.GuestIdentifier), time.Now())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reservationId":      result.Reservation.ID,
		"paymentRedirectUrl": result.RedirectURL,
		"expiresAt":          result.Reservation.ExpiresAt,
	})
}

// AbortReservation implements POST /reservations/:id/abort.
func AbortReservation(c *gin.Context) {
	id := models.ReservationID(c.Param("id"))
	if err := Reservations.Abort(c.Request.Context(), id, "aborted by guest"); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
