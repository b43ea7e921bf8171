package handlers

import (
	"net/http"

	"consulta/jobs"

	"github.com/gin-gonic/gin"
)

// JobRuntime is the Job Runtime, injected by main; the /internal/cron/*
// triggers drive it synchronously in addition to its own cadence
// scheduler, so an external scheduler (or an operator) can force a sweep.
var JobRuntime *jobs.Runtime

// SetJobRuntime wires the Job Runtime for this package.
func SetJobRuntime(rt *jobs.Runtime) {
	JobRuntime = rt
}

// TriggerSweepReservations implements POST /internal/cron/sweep-reservations.
func TriggerSweepReservations(c *gin.Context) {
	swept, err := JobRuntime.TriggerSweepReservations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": swept})
}

// TriggerSweepTransfers implements POST /internal/cron/sweep-transfers.
// A non-zero failed count reports exit code 3 semantics in the
// response body rather than failing the HTTP call outright, since a
// partial sweep is still a successful invocation.
func TriggerSweepTransfers(c *gin.Context) {
	result, err := JobRuntime.TriggerSweepTransfers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"disbursed": result.Disbursed,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	})
}

// TriggerReminders implements POST /internal/cron/reminders.
func TriggerReminders(c *gin.Context) {
	if err := JobRuntime.TriggerReminders(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "details": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
