package health

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Checker reports nil when a dependency is reachable
type Checker func() error

// CheckerConfig controls how long a single probe may take
type CheckerConfig struct {
	Timeout time.Duration
}

// DefaultCheckerConfig returns the default probe configuration
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{Timeout: 2 * time.Second}
}

// DatabaseChecker pings the ledger database
func DatabaseChecker(db *sql.DB) Checker {
	return DatabaseCheckerWithConfig(db, DefaultCheckerConfig())
}

// DatabaseCheckerWithConfig pings the ledger database with a custom timeout
func DatabaseCheckerWithConfig(db *sql.DB, cfg CheckerConfig) Checker {
	return func() error {
		if db == nil {
			return errors.New("database connection is nil")
		}
		ctx, cancel := probeContext(cfg)
		defer cancel()
		return db.PingContext(ctx)
	}
}

// RedisChecker pings the Redis instance backing rate limits and idempotency
func RedisChecker(client *redis.Client) Checker {
	return RedisCheckerWithConfig(client, DefaultCheckerConfig())
}

// RedisCheckerWithConfig pings Redis with a custom timeout
func RedisCheckerWithConfig(client *redis.Client, cfg CheckerConfig) Checker {
	return func() error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		ctx, cancel := probeContext(cfg)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}

// NATSChecker reports whether the event bus connection is usable
func NATSChecker(conn *nats.Conn) Checker {
	return func() error {
		if conn == nil {
			return errors.New("nats connection is nil")
		}
		if !conn.IsConnected() {
			return errors.New("nats status: " + conn.Status().String())
		}
		return nil
	}
}

// Checks converts named checkers to the map the health handler expects
func Checks(checkers map[string]Checker) map[string]func() error {
	out := make(map[string]func() error, len(checkers))
	for name, check := range checkers {
		if check != nil {
			out[name] = check
		}
	}
	return out
}

func probeContext(cfg CheckerConfig) (context.Context, context.CancelFunc) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCheckerConfig().Timeout
	}
	return context.WithTimeout(context.Background(), timeout)
}
