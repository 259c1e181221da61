package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the ledger reacts to
const (
	CodeUniqueViolation      = "23505"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
	CodeQueryCanceled        = "57014"
)

var retryableCodes = map[string]bool{
	CodeSerializationFailure: true,
	CodeDeadlockDetected:     true,
	CodeLockNotAvailable:     true,
	"53000":                  true, // insufficient_resources
	"53300":                  true, // too_many_connections
	"53400":                  true, // configuration_limit_exceeded
	"57P01":                  true, // admin_shutdown
	"57P02":                  true, // crash_shutdown
	"57P03":                  true, // cannot_connect_now
	"58000":                  true, // system_error
	"XX000":                  true, // internal_error
}

var retryableMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"timeout",
	"too many connections",
	"server closed",
	"temporary failure",
}

// PgErrorCode returns the SQLSTATE of err, or "" when err is not a server error
func PgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a unique constraint violation
func IsUniqueViolation(err error) bool {
	return PgErrorCode(err) == CodeUniqueViolation
}

// IsLockNotAvailable reports that lock_timeout expired while waiting for a row lock
func IsLockNotAvailable(err error) bool {
	return PgErrorCode(err) == CodeLockNotAvailable
}

// IsRetryable reports transient failures worth retrying
func IsRetryable(err error) bool {
	return isPostgresRetryable(err)
}

func isPostgresRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if code := PgErrorCode(err); code != "" {
		if retryableCodes[code] {
			return true
		}
		// class 08: connection_exception
		return strings.HasPrefix(code, "08")
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryableMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// WithRetry runs fn up to attempts times, backing off linearly between
// retryable failures
func WithRetry(ctx context.Context, attempts int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !isPostgresRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(i+1)):
		}
	}
	return err
}
