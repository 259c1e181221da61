package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/richxcame/giftcard-ledger/pkg/config"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"go.uber.org/zap"
)

// InitSentry configures the Sentry client. Without a DSN reporting stays off
// and the returned flush is a no-op.
func InitSentry(cfg config.SentryConfig, serviceName, environment string) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      environment,
		ServerName:       serviceName,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return func() {}, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	logger.Info("Sentry error reporting enabled", zap.String("environment", environment))
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// SentryMiddleware attaches a Sentry hub to every request and reports panics
func SentryMiddleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// CaptureError reports err to the request hub if one is attached, otherwise
// to the global hub
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}

// CaptureGinError reports err using the hub sentrygin put on the context
func CaptureGinError(c *gin.Context, err error) {
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
		return
	}
	CaptureError(c.Request.Context(), err)
}
