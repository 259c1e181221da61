package giftcards

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftcard_operations_total",
			Help: "Ledger operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	expiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "giftcard_expired_total",
			Help: "Cards moved to the expired status",
		},
	)

	redeemedCents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "giftcard_redeemed_cents_total",
			Help: "Total value redeemed, in cents",
		},
	)
)

func recordOutcome(operation string, result *Result, err error) {
	outcome := outcomeSuccess
	switch {
	case err != nil:
		outcome = outcomeError
	case result != nil && !result.Success:
		outcome = outcomeRejected
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
}
