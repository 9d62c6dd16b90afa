package db

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/unklstewy/eqmount/pkg/alignment"
	"github.com/unklstewy/eqmount/pkg/config"
)

// ErrNotConnected is returned when the recorder has no open connection.
var ErrNotConnected = errors.New("database not connected")

// Recorder persists alignment history for the mount controller. It
// implements controller.Recorder. The connection is replaced by Maintain
// when it is lost.
type Recorder struct {
	mu   sync.RWMutex
	conn *DB

	retries int
	delay   time.Duration
}

// NewRecorder creates a recorder writing through db. Writes that fail with
// connection errors are retried a few times.
func NewRecorder(db *DB) *Recorder {
	return &Recorder{
		conn:    db,
		retries: 2,
		delay:   100 * time.Millisecond,
	}
}

// DB returns the current connection.
func (r *Recorder) DB() *DB {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

func (r *Recorder) RecordSync(ctx context.Context, p alignment.SyncPoint) error {
	conn := r.DB()
	if conn == nil {
		return ErrNotConnected
	}
	syncs := NewSyncPointRepository(conn)
	return WithRetry(ctx, func() error { return syncs.Insert(ctx, p) }, r.retries, r.delay)
}

func (r *Recorder) RecordPolarEstimate(ctx context.Context, e alignment.PolarEstimate) error {
	conn := r.DB()
	if conn == nil {
		return ErrNotConnected
	}
	polar := NewPolarAlignmentRepository(conn)
	return WithRetry(ctx, func() error { return polar.Insert(ctx, e) }, r.retries, r.delay)
}

// Load returns the last two sync points, oldest first, and the latest polar
// estimate (nil when none is stored).
func (r *Recorder) Load(ctx context.Context) ([]alignment.SyncPoint, *alignment.PolarEstimate, error) {
	conn := r.DB()
	if conn == nil {
		return nil, nil, ErrNotConnected
	}

	points, err := NewSyncPointRepository(conn).Recent(ctx, 2)
	if err != nil {
		return nil, nil, err
	}
	est, ok, err := NewPolarAlignmentRepository(conn).Latest(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return oldestFirst(points), nil, nil
	}
	return oldestFirst(points), &est, nil
}

// Healthy reports whether the current connection answers queries.
func (r *Recorder) Healthy(ctx context.Context) bool {
	return HealthCheck(ctx, r.DB())
}

// Maintain checks the connection every interval and reconnects when it is
// lost, until ctx ends.
func (r *Recorder) Maintain(ctx context.Context, cfg config.DatabaseConfig, interval time.Duration, logger *zap.SugaredLogger) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current := r.DB()
		conn, err := EnsureConnection(ctx, current, cfg, logger)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warnf("Database unavailable: %v", err)
			}
			continue
		}
		if conn != current {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			logger.Infof("Database connection restored")
		}
	}
}

// Close closes the current connection.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

func oldestFirst(points []alignment.SyncPoint) []alignment.SyncPoint {
	out := make([]alignment.SyncPoint, 0, len(points))
	for i := len(points) - 1; i >= 0; i-- {
		out = append(out, points[i])
	}
	return out
}
