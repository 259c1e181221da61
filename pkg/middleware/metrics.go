package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const unmatchedRoute = "unmatched"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftcards_http_requests_total",
			Help: "HTTP requests handled, by route and status code",
		},
		[]string{"service", "method", "route", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "giftcards_http_request_duration_seconds",
			Help: "HTTP request latency, by route",
			// ledger calls wait on card locks, so the tail matters more than the median
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "route"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "giftcards_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		},
		[]string{"service"},
	)
)

// Metrics records request counts, latency and concurrency. The route label is
// the registered pattern so card codes never become label values.
func Metrics(serviceName string) gin.HandlerFunc {
	inFlight := httpRequestsInFlight.WithLabelValues(serviceName)
	return func(c *gin.Context) {
		inFlight.Inc()
		start := time.Now()

		c.Next()

		inFlight.Dec()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(serviceName, method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(serviceName, method, route).Observe(time.Since(start).Seconds())
	}
}
