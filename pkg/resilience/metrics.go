package resilience

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeRejected = "rejected"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "giftcards_dependency_breaker_state",
		Help: "Breaker state per dependency: 0 closed, 0.5 half-open, 1 open",
	}, []string{"breaker"})

	breakerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "giftcards_dependency_breaker_calls_total",
		Help: "Calls through a dependency breaker by outcome",
	}, []string{"breaker", "outcome"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "giftcards_dependency_breaker_transitions_total",
		Help: "Dependency breaker state transitions",
	}, []string{"breaker", "from", "to"})

	anonymousBreakers atomic.Uint64
)

func nextBreakerName(base string) string {
	if base != "" {
		return base
	}
	return fmt.Sprintf("breaker-%d", anonymousBreakers.Add(1))
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 0.5
	case gobreaker.StateOpen:
		return 1
	}
	return -1
}

func recordBreakerState(name string, from, to gobreaker.State) {
	if from != to {
		breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	}
	breakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

func recordBreakerCall(name, outcome string) {
	breakerCalls.WithLabelValues(name, outcome).Inc()
}
