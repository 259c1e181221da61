package eventbus

import (
	"context"

	"github.com/richxcame/giftcard-ledger/pkg/resilience"
)

// GuardedPublisher sends events through a circuit breaker so a failing
// broker is skipped until it recovers
type GuardedPublisher struct {
	next    Publisher
	breaker *resilience.CircuitBreaker
}

// WithBreaker wraps next with breaker
func WithBreaker(next Publisher, breaker *resilience.CircuitBreaker) *GuardedPublisher {
	return &GuardedPublisher{next: next, breaker: breaker}
}

func (g *GuardedPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	_, err := g.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, g.next.Publish(ctx, subject, payload)
	})
	return err
}

func (g *GuardedPublisher) Close() {
	g.next.Close()
}
