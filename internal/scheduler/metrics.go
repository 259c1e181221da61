package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftcards_expiry_sweeps_total",
			Help: "Expiry sweeps run, by outcome",
		},
		[]string{"outcome"},
	)

	sweepExpired = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "giftcards_expiry_sweep_last_expired",
			Help: "Cards expired by the most recent successful sweep",
		},
	)

	sweepLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "giftcards_expiry_sweep_last_success_timestamp_seconds",
			Help: "Unix time of the most recent successful sweep",
		},
	)
)
