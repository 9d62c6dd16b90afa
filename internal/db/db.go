// Package db stores alignment history (sync points and polar alignment
// estimates) in PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"embed"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pkg/errors"

	"github.com/unklstewy/eqmount/pkg/config"
)

//go:embed schema.sql
var schemaSQL embed.FS

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB
	config config.DatabaseConfig
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	sqlDB, err := sql.Open(driver, cfg.ConnectionString())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{
		DB:     sqlDB,
		config: cfg,
	}, nil
}

// InitSchema creates the alignment tables if they do not exist.
// This should be called once at application startup.
func (db *DB) InitSchema(ctx context.Context) error {
	schemaBytes, err := schemaSQL.ReadFile("schema.sql")
	if err != nil {
		return errors.Wrap(err, "failed to read schema file")
	}

	if _, err := db.ExecContext(ctx, string(schemaBytes)); err != nil {
		return errors.Wrap(err, "failed to execute schema")
	}
	return nil
}

// CleanupOldData removes alignment history older than maxAge.
func (db *DB) CleanupOldData(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge)

	if _, err := db.ExecContext(ctx,
		`DELETE FROM polar_alignments WHERE estimated_at < $1`, cutoff,
	); err != nil {
		return errors.Wrap(err, "failed to delete old polar estimates")
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM sync_points WHERE synced_at < $1`, cutoff,
	); err != nil {
		return errors.Wrap(err, "failed to delete old sync points")
	}
	return nil
}

// Stats lists the keys returned by GetStats.
var Stats = []string{"sync_points", "polar_alignments"}

// GetStats returns row counts of the alignment tables.
func (db *DB) GetStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, len(Stats))
	for _, table := range Stats {
		var n int64
		// table names come from the fixed Stats list
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, errors.Wrapf(err, "count %s", table)
		}
		stats[table] = n
	}
	return stats, nil
}
