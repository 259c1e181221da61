package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"go.uber.org/zap"
)

// RequestLogger writes one line per request. Probe and scrape endpoints are
// only logged when they fail.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		if isProbe(c.Request.URL.Path) && status < 500 {
			return
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", c.Writer.Size()),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if userID, err := GetUserID(c); err == nil {
			fields = append(fields, zap.String("user_id", userID.String()))
		}

		log := logger.WithContext(c.Request.Context())
		switch {
		case len(c.Errors) > 0:
			log.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
		case status >= 500:
			log.Error("request failed", fields...)
		case status >= 400:
			log.Warn("request rejected", fields...)
		default:
			log.Info("request served", fields...)
		}
	}
}

func isProbe(path string) bool {
	return path == "/metrics" || path == "/healthz" || strings.HasPrefix(path, "/health/")
}
