package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mogakjak-gateway/internal/observability"
)

const (
	requestIDContextKey = "request_id"
	RequestIDHeader     = "X-Request-ID"
)

// RequestID makes sure every request carries an id, echoed in the
// response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := RequestIDFrom(c)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// RequestIDFrom returns the request id, generating one on first use.
func RequestIDFrom(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}
