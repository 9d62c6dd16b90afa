package alignment

import (
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/unklstewy/eqmount/pkg/coordinates"
	"github.com/unklstewy/eqmount/pkg/mount"
)

const latitude = 40.0

type rotation func(r3.Vector) r3.Vector

// rotY turns about the east-west axis: the pole moves toward the meridian.
func rotY(deg float64) rotation {
	a := deg * coordinates.DegreesToRadians
	return func(v r3.Vector) r3.Vector {
		return r3.Vector{
			X: v.X*math.Cos(a) + v.Z*math.Sin(a),
			Y: v.Y,
			Z: -v.X*math.Sin(a) + v.Z*math.Cos(a),
		}
	}
}

// rotX turns about the meridian axis: the pole moves east or west.
func rotX(deg float64) rotation {
	a := deg * coordinates.DegreesToRadians
	return func(v r3.Vector) r3.Vector {
		return r3.Vector{
			X: v.X,
			Y: v.Y*math.Cos(a) - v.Z*math.Sin(a),
			Z: v.Y*math.Sin(a) + v.Z*math.Cos(a),
		}
	}
}

// observe builds the sync a misaligned mount reports for a star. toMount
// maps true directions into the mount frame.
func observe(at time.Time, lst float64, star coordinates.EquatorialCoordinates, toMount rotation) SyncPoint {
	ha := coordinates.NormalizeHourAngle(lst - star.RightAscension)
	mountHA, mountDec := vectorHourAngle(toMount(hourAngleVector(ha, star.Declination)))
	return SyncPoint{
		ID:     uuid.New(),
		Time:   at,
		LST:    lst,
		Target: star,
		Telescope: coordinates.EquatorialCoordinates{
			RightAscension: coordinates.NormalizeRA(lst - mountHA),
			Declination:    mountDec,
		},
	}
}

func starPair(toMount rotation) (SyncPoint, SyncPoint) {
	t0 := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	s1 := observe(t0, 10.0, coordinates.EquatorialCoordinates{RightAscension: 11.0, Declination: 20.0}, toMount)
	s2 := observe(t0.Add(30*time.Minute), 10.5, coordinates.EquatorialCoordinates{RightAscension: 6.5, Declination: 55.0}, toMount)
	return s1, s2
}

func TestEstimateAlignedMount(t *testing.T) {
	e := NewEstimator(latitude, 0.01, zaptest.NewLogger(t).Sugar())
	s1, s2 := starPair(func(v r3.Vector) r3.Vector { return v })

	est, err := e.Estimate(s1, s2)
	require.NoError(t, err)

	assert.InDelta(t, 90.0, est.PoleDeclination, 1e-6)
	assert.InDelta(t, 0.0, est.AltitudeError, 1e-6)
	assert.InDelta(t, 0.0, est.AzimuthError, 1e-4)
	assert.True(t, est.Consistent)
	assert.InDelta(t, est.SkySeparation, est.MountSeparation, 1e-9)
}

func TestEstimateAltitudeError(t *testing.T) {
	e := NewEstimator(latitude, 0.01, nil)
	// Pole tilted one degree toward the zenith: the mount frame is the sky
	// frame turned back by the same amount
	s1, s2 := starPair(rotY(-1.0))

	est, err := e.Estimate(s1, s2)
	require.NoError(t, err)

	assert.InDelta(t, 89.0, est.PoleDeclination, 1e-6)
	assert.InDelta(t, 0.0, est.PoleHourAngle, 1e-6)
	assert.InDelta(t, 1.0, est.AltitudeError, 1e-6)
	assert.InDelta(t, 0.0, est.AzimuthError, 1e-6)
	assert.InDelta(t, 1.0, est.Error(), 1e-6)
}

func TestEstimateAzimuthError(t *testing.T) {
	e := NewEstimator(latitude, 0.01, nil)
	// Pole moved one degree east of the meridian (hour angle -6h)
	s1, s2 := starPair(rotX(1.0))

	est, err := e.Estimate(s1, s2)
	require.NoError(t, err)

	assert.InDelta(t, 89.0, est.PoleDeclination, 1e-6)
	assert.InDelta(t, -6.0, est.PoleHourAngle, 1e-6)
	assert.InDelta(t, 1.0/math.Cos(latitude*coordinates.DegreesToRadians), est.AzimuthError, 1e-3)
	assert.InDelta(t, 0.0, est.AltitudeError, 0.01)
}

func TestEstimateSouthernHemisphere(t *testing.T) {
	e := NewEstimator(-30.0, 0.01, nil)
	s1, s2 := starPair(func(v r3.Vector) r3.Vector { return v })

	est, err := e.Estimate(s1, s2)
	require.NoError(t, err)

	assert.InDelta(t, -90.0, est.PoleDeclination, 1e-6)
	assert.InDelta(t, 30.0, est.Altitude, 1e-6)
	assert.InDelta(t, 0.0, est.AltitudeError, 1e-6)
	assert.InDelta(t, 0.0, est.AzimuthError, 1e-4)
}

func TestEstimateBackProjection(t *testing.T) {
	e := NewEstimator(latitude, 0.01, nil)
	s1, s2 := starPair(rotY(-0.5))

	est, err := e.Estimate(s1, s2)
	require.NoError(t, err)

	sep := coordinates.AngularSeparationArcsec(est.BackProjected, s2.Telescope)
	assert.Less(t, sep, 0.01, "a rigid misalignment projects back onto the reported position")
}

func TestEstimateInconsistentSyncs(t *testing.T) {
	e := NewEstimator(latitude, 0.01, nil)
	s1, s2 := starPair(rotY(-1.0))
	s2.Telescope.Declination += 1.0

	est, err := e.Estimate(s1, s2)
	require.NoError(t, err)
	assert.False(t, est.Consistent)
	assert.Greater(t, coordinates.AngularSeparationArcsec(est.BackProjected, s2.Telescope), 60.0)
}

func TestEstimateSameHourAngleKeepsPrevious(t *testing.T) {
	e := NewEstimator(latitude, 0.01, nil)
	s1, s2 := starPair(rotY(-1.0))
	prev, err := e.Estimate(s1, s2)
	require.NoError(t, err)

	// Same hour angle, different declination
	a := observe(s1.Time, 8.0, coordinates.EquatorialCoordinates{RightAscension: 7.0, Declination: 10.0}, rotY(-2.0))
	b := observe(s1.Time.Add(time.Hour), 9.0, coordinates.EquatorialCoordinates{RightAscension: 8.0, Declination: 60.0}, rotY(-2.0))

	_, err = e.Estimate(a, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mount.ErrUndefinedGeometry))
	assert.Equal(t, mount.KindUndefinedGeometry, mount.KindOf(err))

	last, ok := e.Last()
	require.True(t, ok)
	assert.Equal(t, prev.ID, last.ID)
	assert.InDelta(t, prev.AltitudeError, last.AltitudeError, 1e-12)
}

func TestEstimateSameStarUndefined(t *testing.T) {
	e := NewEstimator(latitude, 0.01, nil)
	s1, _ := starPair(rotY(-1.0))
	s2 := s1
	s2.LST += 1.0
	s2.Target.Declination = -s1.Target.Declination
	s2.Telescope.Declination = -s1.Telescope.Declination
	s2.Target.RightAscension = coordinates.NormalizeRA(s1.Target.RightAscension + 13.0)
	s2.Telescope.RightAscension = coordinates.NormalizeRA(s1.Telescope.RightAscension + 13.0)

	// Antipodal stars are collinear
	_, err := e.Estimate(s1, s2)
	assert.Equal(t, mount.KindUndefinedGeometry, mount.KindOf(err))
	_, ok := e.Last()
	assert.False(t, ok)
}

func TestNewSyncPoint(t *testing.T) {
	ra := coordinates.EncoderAxisState{Position: 500000, Zero: 500000, Total: 1000000}
	de := coordinates.EncoderAxisState{Position: 500000, Zero: 500000, Total: 1000000}
	pose := coordinates.EncodersToEquatorial(ra, de, 12.0, coordinates.North)
	target := coordinates.EquatorialCoordinates{RightAscension: 17.9, Declination: 0.5}
	at := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)

	p := NewSyncPoint(at, 12.0, target, pose, ra, de, coordinates.North)

	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, coordinates.PierWest, p.PierSide)
	assert.InDelta(t, 0.1, p.DeltaRA, 1e-9)
	assert.InDelta(t, -0.5, p.DeltaDE, 1e-9)
	// 0.1h is 1/240 of a turn, 0.5° is 1/720
	assert.InDelta(t, -4167, p.DeltaRACounts, 1)
	assert.InDelta(t, -1389, p.DeltaDECounts, 1)
	assert.InDelta(t, -5.9, p.TargetHourAngle(), 1e-9)
	assert.InDelta(t, -6.0, p.TelescopeHourAngle(), 1e-9)
}

func TestHistory(t *testing.T) {
	var h History
	assert.Equal(t, 0, h.Len())
	_, _, ok := h.Pair()
	assert.False(t, ok)

	h.Push(SyncPoint{LST: 1})
	assert.Equal(t, 1, h.Len())
	_, _, ok = h.Pair()
	assert.False(t, ok)

	h.Push(SyncPoint{LST: 2})
	h.Push(SyncPoint{LST: 3})
	prev, cur, ok := h.Pair()
	require.True(t, ok)
	assert.Equal(t, 2.0, prev.LST)
	assert.Equal(t, 3.0, cur.LST)

	h.Clear()
	assert.Equal(t, 0, h.Len())
}

func TestStrategies(t *testing.T) {
	target := coordinates.EquatorialCoordinates{RightAscension: 23.95, Declination: 89.8}
	sync := SyncPoint{DeltaRA: 0.1, DeltaDE: 0.5}

	t.Run("none", func(t *testing.T) {
		s, err := NewStrategy("", nil, nil)
		require.NoError(t, err)
		require.NoError(t, s.Sync(sync))
		got, err := s.SkyToTelescope(target, 0)
		require.NoError(t, err)
		assert.Equal(t, target, got)
	})

	t.Run("standard", func(t *testing.T) {
		s, err := NewStrategy("Standard", nil, nil)
		require.NoError(t, err)
		require.NoError(t, s.Sync(sync))

		got, err := s.SkyToTelescope(target, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.05, got.RightAscension, 1e-9)
		assert.Equal(t, 90.0, got.Declination, "clamped at the pole")

		back, err := s.TelescopeToSky(coordinates.EquatorialCoordinates{RightAscension: 0.05, Declination: 10}, 0)
		require.NoError(t, err)
		assert.InDelta(t, 23.95, back.RightAscension, 1e-9)
		assert.InDelta(t, 9.5, back.Declination, 1e-9)

		s.Reset()
		got, _ = s.SkyToTelescope(target, 0)
		assert.Equal(t, target, got)
	})

	t.Run("plugin", func(t *testing.T) {
		model := NewNearestPointModel(2)
		s, err := NewStrategy("plugin", model, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)

		// No points: the model fails and the raw target is used
		got, err := s.SkyToTelescope(target, 0)
		require.NoError(t, err)
		assert.Equal(t, target, got)

		near := SyncPoint{Target: coordinates.EquatorialCoordinates{RightAscension: 5, Declination: 10}, DeltaRA: 0.2}
		far := SyncPoint{Target: coordinates.EquatorialCoordinates{RightAscension: 17, Declination: -10}, DeltaRA: -0.3}
		require.NoError(t, s.Sync(near))
		require.NoError(t, s.Sync(far))

		got, err = s.SkyToTelescope(coordinates.EquatorialCoordinates{RightAscension: 5.5, Declination: 12}, 0)
		require.NoError(t, err)
		assert.InDelta(t, 5.7, got.RightAscension, 1e-9)

		require.NoError(t, s.Sync(SyncPoint{DeltaRA: 1}))
		assert.Equal(t, 2, model.Len())

		s.Reset()
		assert.Equal(t, 0, model.Len())
	})

	t.Run("plugin without model", func(t *testing.T) {
		_, err := NewStrategy("plugin", nil, nil)
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewStrategy("bogus", nil, nil)
		assert.Error(t, err)
	})
}
