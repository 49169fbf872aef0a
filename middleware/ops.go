package middleware

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ridelink/utils"
)

// APIKeyAuth validates the x-api-key header against the server's API_KEY
// env var. If API_KEY is not set, all requests pass through (dev mode).
func APIKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		serverKey := os.Getenv("API_KEY")
		if serverKey == "" {
			c.Next()
			return
		}

		if c.GetHeader("x-api-key") != serverKey {
			utils.RespondError(c, http.StatusUnauthorized, "Invalid API Key", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestID tags every request for tracing.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("RequestID", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// SecureHeaders sets the standard hardening headers.
func SecureHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// MaxBodySize caps the request body.
func MaxBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
