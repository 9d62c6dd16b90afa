package alignment

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/golang/geo/s1"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/unklstewy/eqmount/pkg/coordinates"
	"github.com/unklstewy/eqmount/pkg/mount"
)

const (
	// minHourAngleGap below which two syncs count as sharing an hour angle
	minHourAngleGap = 1.0 / 3600.0

	// minCross is the smallest |a x b| accepted for a basis
	minCross = 1e-9
)

// PolarEstimate is the mount's true polar axis derived from two syncs.
type PolarEstimate struct {
	ID   uuid.UUID
	Time time.Time

	// PoleHourAngle (hours, LST - RA) and PoleDeclination (degrees) locate the
	// mount axis on the sky, for the pole visible from the observer
	PoleHourAngle   float64
	PoleDeclination float64

	// Altitude and Azimuth of the mount axis
	Altitude float64
	Azimuth  float64

	// AltitudeError and AzimuthError are the offsets from the celestial pole
	// in degrees. Positive means the axis points too high or too far east.
	AltitudeError float64
	AzimuthError  float64

	// SkySeparation and MountSeparation are the distances between the two
	// stars in each frame. A rigid misalignment keeps them equal.
	SkySeparation   float64
	MountSeparation float64
	Consistent      bool

	// BackProjected is where the mount would have to be commanded to put
	// the second star on target under this estimate
	BackProjected coordinates.EquatorialCoordinates

	SyncIDs [2]uuid.UUID
}

// Error returns the total pole offset in degrees.
func (p PolarEstimate) Error() float64 {
	return math.Hypot(p.AltitudeError, p.AzimuthError*math.Cos(p.Altitude*coordinates.DegreesToRadians))
}

// Estimator computes polar estimates and keeps the last good one.
type Estimator struct {
	latitude  float64
	tolerance s1.Angle
	logger    *zap.SugaredLogger

	last *PolarEstimate
}

// NewEstimator creates an estimator for an observer latitude. Separations
// differing by more than toleranceDeg mark an estimate inconsistent.
func NewEstimator(latitude, toleranceDeg float64, logger *zap.SugaredLogger) *Estimator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Estimator{
		latitude:  latitude,
		tolerance: s1.Angle(toleranceDeg) * s1.Degree,
		logger:    logger,
	}
}

// Last returns the most recent successful estimate.
func (e *Estimator) Last() (PolarEstimate, bool) {
	if e.last == nil {
		return PolarEstimate{}, false
	}
	return *e.last, true
}

// Restore makes est the last estimate, as if it had just been computed.
func (e *Estimator) Restore(est PolarEstimate) {
	e.last = &est
}

// frame is an orthonormal basis built from two star directions.
type frame struct {
	a, b, c r3.Vector
}

func newFrame(first, second r3.Vector) (frame, bool) {
	cross := first.Cross(second)
	if cross.Norm() < minCross {
		return frame{}, false
	}
	b := cross.Normalize()
	return frame{a: first, b: b, c: first.Cross(b)}, true
}

// toLocal expresses v in the basis.
func (f frame) toLocal(v r3.Vector) r3.Vector {
	return r3.Vector{X: f.a.Dot(v), Y: f.b.Dot(v), Z: f.c.Dot(v)}
}

// fromLocal maps basis coordinates back to the frame.
func (f frame) fromLocal(v r3.Vector) r3.Vector {
	return f.a.Mul(v.X).Add(f.b.Mul(v.Y)).Add(f.c.Mul(v.Z))
}

// hourAngleVector returns the Earth-fixed direction of an hour angle (LST -
// RA) and declination. Hour angle runs west, so it is negated to keep the
// frame right handed.
func hourAngleVector(ha, dec float64) r3.Vector {
	return coordinates.UnitVector(-ha, dec)
}

func vectorHourAngle(v r3.Vector) (float64, float64) {
	v = v.Normalize()
	lon := math.Atan2(v.Y, v.X) * coordinates.RadiansToDegrees / coordinates.HoursToDegrees
	dec := math.Asin(math.Max(-1, math.Min(1, v.Z))) * coordinates.RadiansToDegrees
	return coordinates.NormalizeHourAngle(-lon), dec
}

// Estimate solves for the mount's polar axis from two syncs, first then
// second. Each sync gives the star's true direction and the direction the
// misaligned mount reported; the rotation between the two frames carries
// the mount pole onto the sky.
//
// Returns ErrUndefinedGeometry when the stars share an hour angle in either
// frame or are collinear. The previous estimate is kept in that case.
func (e *Estimator) Estimate(first, second SyncPoint) (PolarEstimate, error) {
	skyHA1, skyHA2 := first.TargetHourAngle(), second.TargetHourAngle()
	mountHA1, mountHA2 := first.TelescopeHourAngle(), second.TelescopeHourAngle()

	if math.Abs(coordinates.NormalizeHourAngle(skyHA1-skyHA2)) < minHourAngleGap ||
		math.Abs(coordinates.NormalizeHourAngle(mountHA1-mountHA2)) < minHourAngleGap {
		e.logger.Warnf("Polar alignment skipped: both syncs at hour angle %.4fh", skyHA1)
		return PolarEstimate{}, errors.Wrap(mount.ErrUndefinedGeometry, "syncs share an hour angle")
	}

	sky1 := hourAngleVector(skyHA1, first.Target.Declination)
	sky2 := hourAngleVector(skyHA2, second.Target.Declination)
	mnt1 := hourAngleVector(mountHA1, first.Telescope.Declination)
	mnt2 := hourAngleVector(mountHA2, second.Telescope.Declination)

	skyFrame, ok1 := newFrame(sky1, sky2)
	mountFrame, ok2 := newFrame(mnt1, mnt2)
	if !ok1 || !ok2 {
		e.logger.Warnf("Polar alignment skipped: sync stars are collinear")
		return PolarEstimate{}, errors.Wrap(mount.ErrUndefinedGeometry, "sync stars are collinear")
	}

	skySep := sky1.Angle(sky2)
	mountSep := mnt1.Angle(mnt2)
	consistent := math.Abs(float64(skySep-mountSep)) <= float64(e.tolerance)
	if !consistent {
		e.logger.Warnf("Polar alignment inconsistent: separation %.4f° on sky, %.4f° on mount",
			skySep.Degrees(), mountSep.Degrees())
	}

	// The mount pole is the mount frame's +Z axis carried onto the sky.
	pole := skyFrame.fromLocal(mountFrame.toLocal(r3.Vector{Z: 1}))
	south := e.latitude < 0
	if south {
		pole = pole.Mul(-1)
	}
	poleHA, poleDec := vectorHourAngle(pole)
	horiz := coordinates.HourAngleToHorizontal(poleHA, poleDec, e.latitude)

	altErr := horiz.Altitude - math.Abs(e.latitude)
	azRef := 0.0
	if south {
		azRef = 180.0
	}
	azErr := coordinates.NormalizeDegrees(horiz.Azimuth-azRef+180.0) - 180.0

	// Second star's mount direction under the estimated rotation.
	back := mountFrame.fromLocal(skyFrame.toLocal(sky2))
	backHA, backDec := vectorHourAngle(back)

	est := PolarEstimate{
		ID:              uuid.New(),
		Time:            second.Time,
		PoleHourAngle:   poleHA,
		PoleDeclination: poleDec,
		Altitude:        horiz.Altitude,
		Azimuth:         horiz.Azimuth,
		AltitudeError:   altErr,
		AzimuthError:    azErr,
		SkySeparation:   skySep.Degrees(),
		MountSeparation: mountSep.Degrees(),
		Consistent:      consistent,
		BackProjected: coordinates.EquatorialCoordinates{
			RightAscension: coordinates.NormalizeRA(second.LST - backHA),
			Declination:    backDec,
		},
		SyncIDs: [2]uuid.UUID{first.ID, second.ID},
	}
	e.last = &est

	e.logger.Infof("Polar axis at alt %.4f° az %.4f° (error alt %+.4f° az %+.4f°)",
		est.Altitude, est.Azimuth, est.AltitudeError, est.AzimuthError)
	return est, nil
}
