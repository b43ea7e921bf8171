package handlers

import (
	"net/http"
	"time"

	"consulta/models"
	"consulta/services/meeting"

	"github.com/gin-gonic/gin"
)

// MeetingLedger is the Meeting Ledger, injected by main.
var MeetingLedger *meeting.Ledger

// SetMeetingLedger wires the Meeting Ledger for this package.
func SetMeetingLedger(l *meeting.Ledger) {
	MeetingLedger = l
}

// ListMeetings implements GET /meetings?expertId|guestIdentifier&range.
// range is expressed as optional "from"/"to" RFC3339 query parameters;
// an omitted "from" defaults to one year before now and an omitted "to"
// to one year after now.
func ListMeetings(c *gin.Context) {
	from, to := defaultMeetingRange()
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}

	var meetings []models.Meeting
	var err error
	switch {
	case c.Query("expertId") != "":
		meetings, err = MeetingLedger.FindByExpert(c.Request.Context(), models.ExpertID(c.Query("expertId")), from, to)
	case c.Query("guestIdentifier") != "":
		meetings, err = MeetingLedger.FindByGuest(c.Request.Context(), models.GuestID(c.Query("guestIdentifier")), from, to)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "expertId or guestIdentifier is required"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meetings)
}

// CancelMeeting implements POST /meetings/:id/cancel.
func CancelMeeting(c *gin.Context) {
	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&input)

	id := models.MeetingID(c.Param("id"))
	if _, err := MeetingLedger.Cancel(c.Request.Context(), id, time.Now(), models.CancelledByGuest, input.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func defaultMeetingRange() (time.Time, time.Time) {
	now := time.Now()
	return now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0)
}
