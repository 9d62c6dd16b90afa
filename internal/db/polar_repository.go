package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/unklstewy/eqmount/pkg/alignment"
)

// PolarAlignmentRepository handles database operations for polar alignment
// estimates.
type PolarAlignmentRepository struct {
	db *DB
}

// NewPolarAlignmentRepository creates a new polar alignment repository.
func NewPolarAlignmentRepository(db *DB) *PolarAlignmentRepository {
	return &PolarAlignmentRepository{db: db}
}

// Insert stores an estimate. Inserting the same ID twice is a no-op.
func (r *PolarAlignmentRepository) Insert(ctx context.Context, e alignment.PolarEstimate) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO polar_alignments (
			id, estimated_at, pole_hour_angle, pole_dec, altitude_deg, azimuth_deg,
			altitude_error, azimuth_error, sky_separation, mount_separation, consistent,
			back_projected_ra, back_projected_dec, first_sync_id, second_sync_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`,
		polarArgs(e)...,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert polar estimate %s", e.ID)
	}
	return nil
}

// Latest returns the newest estimate. ok is false when none is stored.
func (r *PolarAlignmentRepository) Latest(ctx context.Context) (e alignment.PolarEstimate, ok bool, err error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, estimated_at, pole_hour_angle, pole_dec, altitude_deg, azimuth_deg,
		        altitude_error, azimuth_error, sky_separation, mount_separation, consistent,
		        back_projected_ra, back_projected_dec, first_sync_id, second_sync_id
		 FROM polar_alignments
		 ORDER BY estimated_at DESC
		 LIMIT 1`,
	)
	err = row.Scan(
		&e.ID, &e.Time, &e.PoleHourAngle, &e.PoleDeclination, &e.Altitude, &e.Azimuth,
		&e.AltitudeError, &e.AzimuthError, &e.SkySeparation, &e.MountSeparation, &e.Consistent,
		&e.BackProjected.RightAscension, &e.BackProjected.Declination, &e.SyncIDs[0], &e.SyncIDs[1],
	)
	if err == sql.ErrNoRows {
		return e, false, nil
	}
	if err != nil {
		return e, false, errors.Wrap(err, "failed to query latest polar estimate")
	}
	return e, true, nil
}

func polarArgs(e alignment.PolarEstimate) []interface{} {
	return []interface{}{
		e.ID, e.Time.UTC(), e.PoleHourAngle, e.PoleDeclination, e.Altitude, e.Azimuth,
		e.AltitudeError, e.AzimuthError, e.SkySeparation, e.MountSeparation, e.Consistent,
		e.BackProjected.RightAscension, e.BackProjected.Declination, e.SyncIDs[0], e.SyncIDs[1],
	}
}
