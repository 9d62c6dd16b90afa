package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/unklstewy/eqmount/pkg/alignment"
	"github.com/unklstewy/eqmount/pkg/coordinates"
)

// SyncPointRepository handles database operations for sync points.
type SyncPointRepository struct {
	db *DB
}

// NewSyncPointRepository creates a new sync point repository.
func NewSyncPointRepository(db *DB) *SyncPointRepository {
	return &SyncPointRepository{db: db}
}

// Insert stores a sync point. Inserting the same ID twice is a no-op.
func (r *SyncPointRepository) Insert(ctx context.Context, p alignment.SyncPoint) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_points (
			id, synced_at, lst_hours, target_ra, target_dec,
			telescope_ra, telescope_dec, pier_side, delta_ra, delta_dec,
			delta_ra_counts, delta_de_counts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		syncPointArgs(p)...,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert sync point %s", p.ID)
	}
	return nil
}

// Recent returns up to limit sync points, newest first.
func (r *SyncPointRepository) Recent(ctx context.Context, limit int) ([]alignment.SyncPoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, synced_at, lst_hours, target_ra, target_dec,
		        telescope_ra, telescope_dec, pier_side, delta_ra, delta_dec,
		        delta_ra_counts, delta_de_counts
		 FROM sync_points
		 ORDER BY synced_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query sync points")
	}
	defer rows.Close()

	var points []alignment.SyncPoint
	for rows.Next() {
		p, err := scanSyncPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, errors.Wrap(rows.Err(), "failed to read sync points")
}

func syncPointArgs(p alignment.SyncPoint) []interface{} {
	return []interface{}{
		p.ID, p.Time.UTC(), p.LST,
		p.Target.RightAscension, p.Target.Declination,
		p.Telescope.RightAscension, p.Telescope.Declination,
		p.PierSide.String(), p.DeltaRA, p.DeltaDE,
		p.DeltaRACounts, p.DeltaDECounts,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

var _ rowScanner = (*sql.Rows)(nil)

func scanSyncPoint(row rowScanner) (alignment.SyncPoint, error) {
	var p alignment.SyncPoint
	var pier string
	err := row.Scan(
		&p.ID, &p.Time, &p.LST,
		&p.Target.RightAscension, &p.Target.Declination,
		&p.Telescope.RightAscension, &p.Telescope.Declination,
		&pier, &p.DeltaRA, &p.DeltaDE,
		&p.DeltaRACounts, &p.DeltaDECounts,
	)
	if err != nil {
		return p, errors.Wrap(err, "failed to scan sync point")
	}
	p.PierSide = parsePierSide(pier)
	return p, nil
}

func parsePierSide(s string) coordinates.PierSide {
	switch s {
	case coordinates.PierEast.String():
		return coordinates.PierEast
	case coordinates.PierWest.String():
		return coordinates.PierWest
	default:
		return coordinates.PierUnknown
	}
}
