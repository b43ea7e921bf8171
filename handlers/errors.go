package handlers

import (
	"net/http"

	"consulta/apperr"

	"github.com/gin-gonic/gin"
)

// writeError maps an apperr.Kind to its HTTP status and writes
// a JSON error body. Errors that are not *apperr.Error (a bug in the
// caller's wiring, not an expected failure mode) fall back to 500.
func writeError(c *gin.Context, err error) {
	ae, ok := err.(*apperr.Error)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "details": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperr.Unauthorized:
		status = http.StatusUnauthorized
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.Gone:
		status = http.StatusGone
	case apperr.PreconditionFailed:
		status = http.StatusPreconditionFailed
	case apperr.UpstreamUnavailable:
		status = http.StatusServiceUnavailable
	case apperr.UpstreamRateLimited:
		status = http.StatusTooManyRequests
	case apperr.SignatureInvalid:
		status = http.StatusUnauthorized
	case apperr.Deadline:
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": string(ae.Kind), "details": ae.Message})
}
