package db

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/unklstewy/eqmount/pkg/config"
)

// maxReconnectDelay caps the exponential backoff between attempts.
const maxReconnectDelay = 60 * time.Second

// newBackOff returns the retry policy shared by reconnects and retried
// operations: exponential from initialDelay, capped at maxReconnectDelay,
// at most maxRetries retries (0 = unlimited), stopped by ctx.
func newBackOff(ctx context.Context, initialDelay time.Duration, maxRetries int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialDelay
	exp.MaxInterval = maxReconnectDelay
	exp.MaxElapsedTime = 0

	var b backoff.BackOff = exp
	if maxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(maxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// ReconnectWithRetry connects to the database with exponential backoff.
//
// Parameters:
//   - ctx: stops retrying when done
//   - cfg: Database configuration
//   - maxRetries: Maximum number of retries after the first attempt (0 = infinite)
//   - initialDelay: Initial wait time between retries
//
// Returns: Connected database or the last error once retries are exhausted
func ReconnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int,
	initialDelay time.Duration, logger *zap.SugaredLogger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	attempt := 0
	connect := func() (*DB, error) {
		attempt++
		logger.Debugf("Database connection attempt %d", attempt)
		return Connect(cfg)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warnf("Database connection failed: %v (retry in %v)", err, wait)
	}

	db, err := backoff.RetryNotifyWithData(connect, newBackOff(ctx, initialDelay, maxRetries), notify)
	if err != nil {
		logger.Errorf("Failed to connect to database after %d attempts: %v", attempt, err)
		return nil, err
	}
	logger.Infof("Database connected after %d attempt(s)", attempt)
	return db, nil
}

// EnsureConnection checks that the connection is alive and reconnects if
// needed.
//
// Returns: Active database connection (either original or new) and error
func EnsureConnection(ctx context.Context, db *DB, cfg config.DatabaseConfig, logger *zap.SugaredLogger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if db == nil {
		logger.Warnf("Database connection is nil, reconnecting")
		return ReconnectWithRetry(ctx, cfg, 3, time.Second, logger)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		logger.Warnf("Database connection lost: %v, reconnecting", err)
		db.Close()
		return ReconnectWithRetry(ctx, cfg, 3, time.Second, logger)
	}
	return db, nil
}

// HealthCheck reports whether the database answers a trivial query.
func HealthCheck(ctx context.Context, db *DB) bool {
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return false
	}
	return result == 1
}

// WithRetry runs operation, retrying with backoff only while it fails with
// connection errors.
func WithRetry(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration) error {
	return backoff.Retry(func() error {
		err := operation()
		if err != nil && !IsConnectionError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, newBackOff(ctx, initialDelay, maxRetries))
}

var connErrors = []string{
	"connection refused",
	"broken pipe",
	"no connection",
	"connection reset",
	"eof",
	"timeout",
	"bad connection",
}

// IsConnectionError reports whether err looks like a lost connection rather
// than a failed statement.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range connErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
