package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
)

const (
	// CorrelationIDHeader carries the request id in and out
	CorrelationIDHeader = "X-Request-ID"

	correlationIDKey    = "correlation_id"
	maxCorrelationIDLen = 128
)

// CorrelationID reuses the caller's request id, or mints one, and attaches it
// to the request context so ledger log lines and events can be joined
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" || len(id) > maxCorrelationIDLen {
			id = uuid.NewString()
		}

		c.Set(correlationIDKey, id)
		c.Request = c.Request.WithContext(logger.ContextWithRequestID(c.Request.Context(), id))
		c.Header(CorrelationIDHeader, id)

		c.Next()
	}
}

// GetCorrelationID returns the id set by CorrelationID
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(correlationIDKey)
}
