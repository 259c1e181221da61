package resilience

import (
	"context"

	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"go.uber.org/zap"
)

// FallbackFunc decides the result of a call the breaker refused to make.
// err is gobreaker's rejection reason.
type FallbackFunc func(ctx context.Context, err error) (interface{}, error)

// NoopFallback reports the rejection as ErrCircuitOpen
func NoopFallback(context.Context, error) (interface{}, error) {
	return nil, ErrCircuitOpen
}

// GracefulDegradation logs which dependency is being skipped, against the
// request's correlation id, then reports ErrCircuitOpen
func GracefulDegradation(dependency string) FallbackFunc {
	return func(ctx context.Context, err error) (interface{}, error) {
		logger.WithContext(ctx).Warn("skipping degraded dependency",
			zap.String("dependency", dependency),
			zap.NamedError("reason", err),
		)
		return nil, ErrCircuitOpen
	}
}
