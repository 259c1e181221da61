package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/timeout"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richxcame/giftcard-ledger/internal/giftcards"
	"github.com/richxcame/giftcard-ledger/internal/reporting"
	"github.com/richxcame/giftcard-ledger/internal/users"
	"github.com/richxcame/giftcard-ledger/pkg/common"
	"github.com/richxcame/giftcard-ledger/pkg/config"
	"github.com/richxcame/giftcard-ledger/pkg/middleware"
	"github.com/richxcame/giftcard-ledger/pkg/ratelimit"
	"github.com/richxcame/giftcard-ledger/pkg/tracing"
)

const (
	serviceName    = "giftcards"
	serviceVersion = "1.0.0"

	idempotencyTTL = 24 * time.Hour
)

// handlers groups the HTTP surfaces mounted on the router
type handlers struct {
	ledger  *giftcards.Handler
	reports *reporting.Handler
	users   *users.Handler
}

// guards protect the balance-changing routes. Both may be nil.
type guards struct {
	limiter     *ratelimit.Limiter
	idempotency middleware.IdempotencyStore
}

func newRouter(cfg *config.Config, h handlers, g guards, checks map[string]func() error) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Metrics(serviceName))
	router.Use(middleware.SecurityHeaders())
	router.Use(tracing.SentryMiddleware())
	router.Use(tracing.Middleware(serviceName))
	router.Use(cors.New(corsConfig(cfg.Server)))
	router.Use(middleware.MaxBodySize(cfg.Server.MaxBodyBytes))
	if cfg.Server.RequestTimeout > 0 {
		router.Use(requestTimeout(time.Duration(cfg.Server.RequestTimeout) * time.Second))
	}

	router.GET("/healthz", common.HealthCheck(serviceName, serviceVersion))
	router.GET("/health/live", common.HealthCheck(serviceName, serviceVersion))
	router.GET("/health/ready", common.HealthCheckWithDeps(serviceName, serviceVersion, checks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var mutationGuards []gin.HandlerFunc
	mutationGuards = append(mutationGuards, middleware.RateLimit(g.limiter))
	if g.idempotency != nil {
		mutationGuards = append(mutationGuards, middleware.Idempotency(g.idempotency, idempotencyTTL))
	}

	h.ledger.RegisterRoutes(router, cfg.JWT.Secret, mutationGuards...)
	h.reports.RegisterRoutes(router, cfg.JWT.Secret)
	h.users.RegisterRoutes(router, cfg.JWT.Secret)

	return router
}

func corsConfig(cfg config.ServerConfig) cors.Config {
	c := cors.DefaultConfig()
	c.AllowOrigins = cfg.CORSOriginList()
	if len(c.AllowOrigins) == 0 {
		c.AllowAllOrigins = true
	}
	c.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", middleware.IdempotencyKeyHeader, middleware.CorrelationIDHeader}
	c.ExposeHeaders = []string{middleware.CorrelationIDHeader, middleware.IdempotentReplayHeader}
	return c
}

func requestTimeout(d time.Duration) gin.HandlerFunc {
	return timeout.New(
		timeout.WithTimeout(d),
		timeout.WithResponse(func(c *gin.Context) {
			common.ErrorResponse(c, http.StatusGatewayTimeout, "request timed out")
		}),
	)
}
