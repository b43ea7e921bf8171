package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"consulta/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCronSkew = 10 * time.Minute

// CronHMACMiddleware authenticates scheduled triggers via a provider-style
// HMAC over "timestamp.signature" with a bounded skew tolerance.
// The header carries "<unixTimestamp>.<hexHMAC>".
func CronHMACMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("X-Cron-Signature")
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(strings.NewReader(string(body)))

		if !verifyTimestampedHMAC(header, body, config.AppConfig.CronSharedSecret) {
			zap.L().Warn("cron signature rejected", zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}

func verifyTimestampedHMAC(header string, body []byte, secret string) bool {
	parts := strings.SplitN(header, ".", 2)
	if len(parts) != 2 {
		return false
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return false
	}
	sent := time.Unix(ts, 0)
	if time.Since(sent).Abs() > maxCronSkew {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(parts[1])) == 1
}

// WebhookSignature verifies an inbound provider webhook against the
// current-or-next signing key, tolerating key rotation. verify is supplied
// by the caller because each provider's signature scheme differs (e.g.
// Stripe's stripe-signature header format); this just tries both keys.
// signatureHeader names the header the provider sends its signature in.
func WebhookSignature(signatureHeader string, verify func(body []byte, header string, key string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(strings.NewReader(string(body)))
		header := c.GetHeader(signatureHeader)

		keys := config.AppConfig.SigningKeys
		if verify(body, header, keys.Current) || (keys.Next != "" && verify(body, header, keys.Next)) {
			c.Next()
			return
		}
		zap.L().Warn("webhook signature invalid, terminal failure", zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	}
}
