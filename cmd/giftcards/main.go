package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/giftcard-ledger/internal/giftcards"
	"github.com/richxcame/giftcard-ledger/internal/reporting"
	"github.com/richxcame/giftcard-ledger/internal/scheduler"
	"github.com/richxcame/giftcard-ledger/internal/users"
	"github.com/richxcame/giftcard-ledger/pkg/config"
	"github.com/richxcame/giftcard-ledger/pkg/database"
	"github.com/richxcame/giftcard-ledger/pkg/eventbus"
	"github.com/richxcame/giftcard-ledger/pkg/health"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"github.com/richxcame/giftcard-ledger/pkg/ratelimit"
	"github.com/richxcame/giftcard-ledger/pkg/redis"
	"github.com/richxcame/giftcard-ledger/pkg/resilience"
	"github.com/richxcame/giftcard-ledger/pkg/secrets"
	"github.com/richxcame/giftcard-ledger/pkg/storage"
	"github.com/richxcame/giftcard-ledger/pkg/tracing"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("giftcards: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(serviceName)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Secrets.Provider != "" {
		manager, err := secrets.NewManager(ctx, cfg.Secrets)
		if err != nil {
			return fmt.Errorf("failed to create secrets manager: %w", err)
		}
		err = secrets.ApplyToConfig(ctx, manager, cfg)
		manager.Close()
		if err != nil {
			return fmt.Errorf("failed to resolve secrets: %w", err)
		}
		logger.Info("Secrets resolved", zap.String("provider", cfg.Secrets.Provider))
	}

	flushSentry, err := tracing.InitSentry(cfg.Sentry, serviceName, cfg.Server.Environment)
	if err != nil {
		logger.Warn("Sentry disabled", zap.Error(err))
	} else {
		defer flushSentry()
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, serviceName, cfg.Server.Environment)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				logger.Warn("Failed to flush traces", zap.Error(err))
			}
		}()
	}

	pool, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close(pool)
	logger.Info("Connected to PostgreSQL database")

	if cfg.Database.MigrateOnBoot {
		if err := database.MigrateUp(pool); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		logger.Info("Database migrations applied")
	}

	checks := map[string]health.Checker{
		"database": health.DatabaseChecker(database.StdDB(pool)),
	}

	var g guards
	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, rate limiting and idempotency disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		logger.Info("Connected to Redis")
		g.limiter = ratelimit.NewLimiter(redisClient.Client, cfg.RateLimit)
		g.idempotency = redisClient
		checks["redis"] = health.RedisChecker(redisClient.Client)
	}

	var events eventbus.Publisher = eventbus.NopPublisher{}
	if cfg.NATS.Enabled {
		bus, err := eventbus.Connect(cfg.NATS, serviceName)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		breaker := resilience.NewCircuitBreaker(
			resilience.BuildSettings("nats-publish", time.Minute, cfg.NATS.BreakerTimeout, cfg.NATS.BreakerFailures, 1),
			resilience.GracefulDegradation("nats"),
		)
		events = eventbus.WithBreaker(bus, breaker)
		checks["nats"] = health.NATSChecker(bus.Conn())
		logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	}
	defer events.Close()

	var exports storage.Storage
	if cfg.Storage.Enabled {
		s3, err := storage.NewS3Storage(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to configure export storage: %w", err)
		}
		exports = s3
	}

	userRepo := users.NewRepository(pool)
	ledgerRepo := giftcards.NewRepository(pool, giftcards.LockTimeout(cfg.Ledger))
	ledger := giftcards.NewService(ledgerRepo, userRepo, events, giftcards.PolicyFromConfig(cfg.Ledger))
	reports := reporting.NewService(ledgerRepo, reporting.NewRepository(pool), exports, cfg.Storage.ExportPrefix)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(cfg, handlers{
		ledger:  giftcards.NewHandler(ledger),
		reports: reporting.NewHandler(reports),
		users:   users.NewHandler(userRepo),
	}, g, health.Checks(checks))

	worker := scheduler.NewWorker(ledger, logger.Get(), cfg.Ledger.SweepInterval)
	go worker.Start(ctx)
	defer worker.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Gift card ledger starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
