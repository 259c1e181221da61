package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker rejects a call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings tunes a circuit breaker
type Settings struct {
	Name string
	// Interval is the closed-state window after which failure counts reset
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold uint32
	// SuccessThreshold is the number of probes allowed while half-open
	SuccessThreshold uint32
}

// Operation is a call guarded by a breaker
type Operation func(ctx context.Context) (interface{}, error)

// CircuitBreaker wraps gobreaker with metrics, logging and a fallback
type CircuitBreaker struct {
	name     string
	cb       *gobreaker.CircuitBreaker
	fallback FallbackFunc
}

// NewCircuitBreaker creates a breaker. A nil fallback returns ErrCircuitOpen.
func NewCircuitBreaker(settings Settings, fallback FallbackFunc) *CircuitBreaker {
	name := nextBreakerName(settings.Name)
	if fallback == nil {
		fallback = NoopFallback
	}
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.SuccessThreshold,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// a caller giving up is not a fault of the dependency
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			recordBreakerState(name, from, to)
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	recordBreakerState(name, gobreaker.StateClosed, gobreaker.StateClosed)
	return &CircuitBreaker{name: name, cb: cb, fallback: fallback}
}

// Execute runs op through the breaker. When the breaker rejects the call
// the fallback decides the result.
func (b *CircuitBreaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		recordBreakerCall(b.name, outcomeRejected)
		return b.fallback(ctx, err)
	}
	if err != nil {
		recordBreakerCall(b.name, outcomeFailure)
	} else {
		recordBreakerCall(b.name, outcomeSuccess)
	}
	return result, err
}

// Name returns the breaker name used in metrics
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the current breaker state
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}
