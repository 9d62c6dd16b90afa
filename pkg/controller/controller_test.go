package controller

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/unklstewy/eqmount/pkg/alignment"
	"github.com/unklstewy/eqmount/pkg/autohome"
	"github.com/unklstewy/eqmount/pkg/coordinates"
	"github.com/unklstewy/eqmount/pkg/guide"
	"github.com/unklstewy/eqmount/pkg/mount"
	"github.com/unklstewy/eqmount/pkg/slew"
	"github.com/unklstewy/eqmount/pkg/tracking"
)

const poll = 250 * time.Millisecond

type fakeMetrics struct {
	mu        sync.Mutex
	ticks     int
	started   int
	completed []string
	rejected  []string
	pulses    []string
	aborts    int
	failures  []string
	polar     int
}

func (m *fakeMetrics) ObserveTick(time.Duration, error) { m.mu.Lock(); m.ticks++; m.mu.Unlock() }
func (m *fakeMetrics) GotoStarted()                     { m.mu.Lock(); m.started++; m.mu.Unlock() }
func (m *fakeMetrics) GotoCompleted(outcome string, _ int) {
	m.mu.Lock()
	m.completed = append(m.completed, outcome)
	m.mu.Unlock()
}
func (m *fakeMetrics) GotoRejected(reason string) {
	m.mu.Lock()
	m.rejected = append(m.rejected, reason)
	m.mu.Unlock()
}
func (m *fakeMetrics) GuidePulse(_, path string) {
	m.mu.Lock()
	m.pulses = append(m.pulses, path)
	m.mu.Unlock()
}
func (m *fakeMetrics) AutoHomePhase(int) {}
func (m *fakeMetrics) Abort()            { m.mu.Lock(); m.aborts++; m.mu.Unlock() }
func (m *fakeMetrics) Failure(kind string) {
	m.mu.Lock()
	m.failures = append(m.failures, kind)
	m.mu.Unlock()
}
func (m *fakeMetrics) PolarEstimate(float64, float64) { m.mu.Lock(); m.polar++; m.mu.Unlock() }
func (m *fakeMetrics) SetPose(float64, float64, bool) {}

func (m *fakeMetrics) tickCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

type fakeRecorder struct {
	syncs []alignment.SyncPoint
	polar []alignment.PolarEstimate
}

func (r *fakeRecorder) RecordSync(_ context.Context, p alignment.SyncPoint) error {
	r.syncs = append(r.syncs, p)
	return nil
}

func (r *fakeRecorder) RecordPolarEstimate(_ context.Context, e alignment.PolarEstimate) error {
	r.polar = append(r.polar, e)
	return nil
}

type harness struct {
	sim      *mount.Simulator
	ctl      *Controller
	clk      *clock.Mock
	metrics  *fakeMetrics
	recorder *fakeRecorder
	lst      float64
	geo      mount.SimulatorOptions
}

func newHarness(t *testing.T, configure func(*mount.SimulatorOptions, *Options)) *harness {
	t.Helper()
	h := &harness{
		clk:      clock.NewMock(),
		metrics:  &fakeMetrics{},
		recorder: &fakeRecorder{},
		lst:      10.0,
	}

	simOpts := mount.DefaultSimulatorOptions()
	simOpts.SlewSpeed = 8.0
	simOpts.Clock = h.clk

	opts := DefaultOptions()
	opts.Observer = coordinates.Observer{Location: coordinates.Geographic{Latitude: 40, Longitude: 0}}
	opts.Clock = h.clk
	opts.LST = func(time.Time) float64 { return h.lst }
	opts.Logger = zaptest.NewLogger(t).Sugar()
	opts.Metrics = h.metrics
	opts.Recorder = h.recorder
	opts.AutoHome.SeekSpeed = 7200
	opts.AutoHome.Settle = 500 * time.Millisecond
	opts.PollPeriod = poll

	if configure != nil {
		configure(&simOpts, &opts)
	}

	h.geo = simOpts
	h.sim = mount.NewSimulator(simOpts)
	h.ctl = New(h.sim, opts)
	return h
}

func (h *harness) init(t *testing.T) *harness {
	t.Helper()
	require.NoError(t, h.ctl.Init())
	return h
}

// step advances the simulation by one poll period and ticks.
func (h *harness) step(t *testing.T) error {
	t.Helper()
	h.sim.Step(poll)
	h.clk.Add(poll)
	return h.ctl.Tick()
}

// target returns the sky position the given encoder offsets from zero/home
// point at under the harness LST.
func (h *harness) target(raDegrees, decDegrees float64) coordinates.EquatorialCoordinates {
	ra := coordinates.EncoderAxisState{Zero: h.geo.RA.Zero, Total: h.geo.RA.Total}
	de := coordinates.EncoderAxisState{Zero: h.geo.DE.Zero, Total: h.geo.DE.Total}
	ra.Position = ra.Zero + ra.DegreesToCounts(raDegrees)
	de.Position = de.Zero + de.DegreesToCounts(decDegrees)
	return coordinates.EncodersToEquatorial(ra, de, h.lst, coordinates.North).Equatorial()
}

func (h *harness) assertStopped(t *testing.T) {
	t.Helper()
	for _, axis := range mount.Axes {
		running, err := h.sim.IsRunning(axis)
		require.NoError(t, err)
		assert.False(t, running, "%s axis still running", axis)
	}
}

func TestInit(t *testing.T) {
	h := newHarness(t, nil).init(t)
	st := h.ctl.Status()

	assert.Equal(t, h.geo.RA.Total, st.RA.Total)
	assert.Equal(t, h.geo.DE.Home, st.DE.Home)
	assert.Equal(t, coordinates.PierWest, st.Pose.PierSide)
	assert.InDelta(t, 75.0, st.Pose.Declination, 1e-6)
	assert.Equal(t, coordinates.North, h.ctl.Hemisphere())
	assert.False(t, st.Flags.Tracking)
}

func TestInitTransportFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.sim.FailOn("EncoderTotal", errors.New("port closed"))

	err := h.ctl.Init()
	assert.Equal(t, mount.KindTransport, mount.KindOf(err))

	err = h.ctl.Goto(h.target(10, 60), coordinates.PierUnknown)
	assert.Equal(t, mount.KindPrecondition, mount.KindOf(err))
}

func TestGotoConvergesAndResumesTracking(t *testing.T) {
	h := newHarness(t, func(s *mount.SimulatorOptions, _ *Options) { s.InstantSlew = true }).init(t)
	require.NoError(t, h.ctl.StartTracking(tracking.Sidereal))
	h.sim.ClearCalls()

	target := h.target(10, 60)
	require.NoError(t, h.ctl.Goto(target, coordinates.PierUnknown))
	assert.True(t, h.ctl.Status().Flags.Slewing)
	assert.False(t, h.ctl.Status().Flags.Tracking)

	require.NoError(t, h.ctl.Tick())

	st := h.ctl.Status()
	assert.False(t, st.Flags.Slewing)
	assert.True(t, st.Flags.Tracking, "tracking resumes after the goto")
	assert.LessOrEqual(t, coordinates.AngularSeparationArcsec(target, st.Pose.Equatorial()), 5.0)

	req, outcome, ok := h.ctl.LastGoto()
	require.True(t, ok)
	assert.Equal(t, slew.Converged, outcome)
	assert.Equal(t, 0, req.Iterations)
	assert.Len(t, h.sim.SlewCalls(), 1)
	assert.Equal(t, []string{"converged"}, h.metrics.completed)

	calls := h.sim.TrackingCalls()
	require.NotEmpty(t, calls)
	assert.InDelta(t, tracking.SiderealRate, calls[len(calls)-1].Rate, 1e-9)
}

func TestGotoWithoutPriorTrackingStaysIdle(t *testing.T) {
	h := newHarness(t, nil).init(t)

	require.NoError(t, h.ctl.Goto(h.target(-20, 45), coordinates.PierUnknown))
	for i := 0; i < 100 && h.ctl.Status().Flags.Slewing; i++ {
		require.NoError(t, h.step(t))
	}

	st := h.ctl.Status()
	assert.False(t, st.Flags.Slewing)
	assert.False(t, st.Flags.Tracking)
	assert.Empty(t, h.sim.TrackingCalls())
}

func TestGotoOutsideLimitsAborts(t *testing.T) {
	h := newHarness(t, func(s *mount.SimulatorOptions, o *Options) {
		o.Limits = &slew.Limits{East: s.RA.Zero - 1000, West: s.RA.Zero + 1000}
	}).init(t)
	require.NoError(t, h.ctl.StartTracking(tracking.Sidereal))
	h.sim.ClearCalls()

	err := h.ctl.Goto(h.target(10, 60), coordinates.PierUnknown)

	require.Error(t, err)
	assert.Equal(t, mount.KindLimitViolation, mount.KindOf(err))
	assert.Empty(t, h.sim.SlewCalls())
	assert.Contains(t, h.sim.StopCalls(), mount.AxisRA)
	assert.Contains(t, h.sim.StopCalls(), mount.AxisDE)
	h.assertStopped(t)

	st := h.ctl.Status()
	assert.False(t, st.Flags.Slewing)
	assert.False(t, st.Flags.Tracking)
	assert.Equal(t, []string{"limit_violation"}, h.metrics.rejected)

	req, _, ok := h.ctl.LastGoto()
	require.True(t, ok)
	assert.True(t, req.OutsideLimits)
}

func TestGotoAppliesAlignment(t *testing.T) {
	h := newHarness(t, func(s *mount.SimulatorOptions, o *Options) {
		s.InstantSlew = true
		o.Strategy = &alignment.StandardSync{}
	}).init(t)

	// The mount reads 0.01h east of where it really points
	pose := h.ctl.Status().Pose
	truth := coordinates.EquatorialCoordinates{RightAscension: pose.RightAscension - 0.01, Declination: pose.Declination}
	_, err := h.ctl.Sync(truth)
	require.NoError(t, err)

	target := h.target(10, 60)
	require.NoError(t, h.ctl.Goto(target, coordinates.PierUnknown))
	require.NoError(t, h.ctl.Tick())

	st := h.ctl.Status()
	assert.InDelta(t, coordinates.NormalizeRA(target.RightAscension+0.01), st.Pose.RightAscension, 1e-4)
	assert.InDelta(t, target.RightAscension, st.Sky.RightAscension, 1e-4)

	req, _, _ := h.ctl.LastGoto()
	assert.InDelta(t, target.RightAscension, req.Requested.RightAscension, 1e-9)
}

func TestOperationPreconditions(t *testing.T) {
	h := newHarness(t, nil)
	target := h.target(10, 60)

	assert.Equal(t, mount.KindPrecondition, mount.KindOf(h.ctl.Tick()), "tick before init")
	h.init(t)

	require.NoError(t, h.ctl.Goto(target, coordinates.PierUnknown))
	for name, err := range map[string]error{
		"second goto":      h.ctl.Goto(target, coordinates.PierUnknown),
		"autohome in goto": h.ctl.StartAutoHome(),
		"park in goto":     h.ctl.Park(),
		"tracking in goto": h.ctl.StartTracking(tracking.Sidereal),
	} {
		assert.Equal(t, mount.KindPrecondition, mount.KindOf(err), name)
	}
	_, err := h.ctl.Sync(target)
	assert.Equal(t, mount.KindPrecondition, mount.KindOf(err), "sync in goto")
	_, err = h.ctl.GuidePulse(guide.North, time.Second)
	assert.Equal(t, mount.KindPrecondition, mount.KindOf(err), "guide in goto")

	require.NoError(t, h.ctl.Abort())
	err = h.ctl.Goto(coordinates.EquatorialCoordinates{RightAscension: 1, Declination: 95}, coordinates.PierUnknown)
	assert.Equal(t, mount.KindPrecondition, mount.KindOf(err), "declination out of range")

	_, err = h.ctl.GuidePulse(guide.North, time.Second)
	assert.Equal(t, mount.KindPrecondition, mount.KindOf(err), "guide while not tracking")
}

func TestParkAndUnpark(t *testing.T) {
	h := newHarness(t, nil).init(t)
	require.NoError(t, h.ctl.StartTracking(tracking.Sidereal))

	require.NoError(t, h.ctl.Park())
	st := h.ctl.Status()
	assert.True(t, st.Flags.Parking)
	assert.False(t, st.Flags.Tracking)
	assert.Equal(t, mount.KindPrecondition, mount.KindOf(h.ctl.Unpark()))

	for i := 0; i < 200 && !h.ctl.Status().Flags.Parked; i++ {
		require.NoError(t, h.step(t))
	}
	st = h.ctl.Status()
	require.True(t, st.Flags.Parked)
	assert.False(t, st.Flags.Parking)
	assert.Equal(t, h.geo.RA.Home, st.RA.Position)
	assert.Equal(t, h.geo.DE.Home, st.DE.Position)

	err := h.ctl.Goto(h.target(10, 60), coordinates.PierUnknown)
	assert.Equal(t, mount.KindPrecondition, mount.KindOf(err))
	assert.Equal(t, mount.KindPrecondition, mount.KindOf(h.ctl.StartAutoHome()))

	require.NoError(t, h.ctl.Unpark())
	assert.False(t, h.ctl.Status().Flags.Parked)
	require.NoError(t, h.ctl.Goto(h.target(10, 60), coordinates.PierUnknown))
}

func TestParkAlreadyThere(t *testing.T) {
	h := newHarness(t, func(s *mount.SimulatorOptions, o *Options) {
		o.Park = &ParkPosition{RA: s.RA.Start, DE: s.DE.Start}
	}).init(t)

	require.NoError(t, h.ctl.Park())
	assert.True(t, h.ctl.Status().Flags.Parked)
	assert.Empty(t, h.sim.SlewCalls())
}

func TestAutoHomeThroughController(t *testing.T) {
	h := newHarness(t, nil).init(t)
	require.NoError(t, h.ctl.StartAutoHome())
	assert.True(t, h.ctl.Status().Flags.Homing)

	for i := 0; i < 5000 && h.ctl.Status().Flags.Homing; i++ {
		require.NoError(t, h.step(t))
	}

	st := h.ctl.Status()
	assert.False(t, st.Flags.Homing)
	assert.True(t, st.Flags.Homed)
	assert.Equal(t, h.geo.RA.Home, st.RA.Position)
	assert.Equal(t, h.geo.DE.Home, st.DE.Position)
	h.assertStopped(t)
}

func TestAbortFromEveryState(t *testing.T) {
	setups := map[string]func(t *testing.T, h *harness){
		"idle": func(t *testing.T, h *harness) {},
		"tracking": func(t *testing.T, h *harness) {
			require.NoError(t, h.ctl.StartTracking(tracking.Lunar))
		},
		"slewing": func(t *testing.T, h *harness) {
			require.NoError(t, h.ctl.Goto(h.target(30, 20), coordinates.PierUnknown))
			require.NoError(t, h.step(t))
		},
		"parking": func(t *testing.T, h *harness) {
			require.NoError(t, h.ctl.Park())
		},
		"guide pulse pending": func(t *testing.T, h *harness) {
			require.NoError(t, h.ctl.StartTracking(tracking.Sidereal))
			state, err := h.ctl.GuidePulse(guide.West, 2*time.Second)
			require.NoError(t, err)
			require.Equal(t, guide.PulseBusy, state)
		},
	}
	for phase := autohome.Phase1; phase <= autohome.Phase6; phase++ {
		target := phase
		setups["homing "+target.String()] = func(t *testing.T, h *harness) {
			require.NoError(t, h.ctl.StartAutoHome())
			for i := 0; i < 5000 && h.ctl.Status().Flags.HomePhase != target; i++ {
				require.NoError(t, h.step(t))
			}
			require.Equal(t, target, h.ctl.Status().Flags.HomePhase)
			require.NoError(t, h.step(t))
		}
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil).init(t)
			setup(t, h)

			require.NoError(t, h.ctl.Abort())
			h.assertStopped(t)

			trackingCalls := len(h.sim.TrackingCalls())
			h.clk.Add(5 * time.Second)
			require.NoError(t, h.step(t))

			st := h.ctl.Status()
			assert.False(t, st.Flags.Slewing)
			assert.False(t, st.Flags.Tracking)
			assert.False(t, st.Flags.Parking)
			assert.False(t, st.Flags.Homing)
			assert.Equal(t, autohome.Idle, st.Flags.HomePhase)
			assert.Equal(t, guide.PulseIdle, st.Flags.GuideRA)
			assert.Equal(t, guide.PulseIdle, st.Flags.GuideDE)
			assert.Len(t, h.sim.TrackingCalls(), trackingCalls, "nothing restarts after abort")
			h.assertStopped(t)
		})
	}
}

func TestTransportFailureAbortsGoto(t *testing.T) {
	h := newHarness(t, nil).init(t)
	require.NoError(t, h.ctl.Goto(h.target(30, 20), coordinates.PierUnknown))

	h.sim.FailOn("IsRunning", errors.New("no reply"))
	err := h.step(t)

	require.Error(t, err)
	assert.Equal(t, mount.KindTransport, mount.KindOf(err))
	assert.Equal(t, []string{"transport"}, h.metrics.failures)

	h.sim.FailOn("IsRunning", nil)
	st := h.ctl.Status()
	assert.False(t, st.Flags.Slewing)
	assert.Error(t, st.LastError)
	h.assertStopped(t)
}

func TestGuidePulseThroughController(t *testing.T) {
	h := newHarness(t, nil).init(t)
	require.NoError(t, h.ctl.StartTracking(tracking.Sidereal))

	state, err := h.ctl.GuidePulse(guide.South, time.Second)
	require.NoError(t, err)
	assert.Equal(t, guide.PulseBusy, state)
	assert.Equal(t, guide.PulseBusy, h.ctl.Status().Flags.GuideDE)

	_, err = h.ctl.GuidePulse(guide.North, time.Second)
	assert.Equal(t, mount.KindPrecondition, mount.KindOf(err))

	h.clk.Add(time.Second)
	require.Eventually(t, func() bool {
		return h.ctl.Status().Flags.GuideDE == guide.PulseIdle
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"async"}, h.metrics.pulses)
}

func TestGuidePulseInline(t *testing.T) {
	h := newHarness(t, func(_ *mount.SimulatorOptions, o *Options) {
		o.Clock = clock.New()
	}).init(t)
	require.NoError(t, h.ctl.StartTracking(tracking.Sidereal))

	state, err := h.ctl.GuidePulse(guide.East, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, guide.PulseIdle, state)
	assert.Equal(t, []string{"sync"}, h.metrics.pulses)
	assert.InDelta(t, tracking.SiderealRate, h.sim.TrackingRate(mount.AxisRA), 1e-6)
}

func TestSyncAndPolarEstimate(t *testing.T) {
	h := newHarness(t, nil).init(t)

	pose := h.ctl.Status().Pose
	first, err := h.ctl.Sync(coordinates.EquatorialCoordinates{
		RightAscension: pose.RightAscension + 0.002,
		Declination:    pose.Declination - 0.05,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.ctl.Status().Syncs)
	_, ok := h.ctl.PolarEstimate()
	assert.False(t, ok)

	// Second star elsewhere on the sky, an hour later
	h.lst = 11.0
	h.sim.Place(mount.AxisRA, h.geo.RA.Zero+h.geo.RA.Total/12)
	h.sim.Place(mount.AxisDE, h.geo.DE.Zero+h.geo.DE.Total/12)
	require.NoError(t, h.ctl.Tick())
	pose = h.ctl.Status().Pose
	second, err := h.ctl.Sync(coordinates.EquatorialCoordinates{
		RightAscension: pose.RightAscension + 0.003,
		Declination:    pose.Declination + 0.04,
	})
	require.NoError(t, err)

	est, ok := h.ctl.PolarEstimate()
	require.True(t, ok)
	assert.Equal(t, [2]uuid.UUID{first.ID, second.ID}, est.SyncIDs)
	require.NotNil(t, h.ctl.Status().Polar)
	assert.Len(t, h.recorder.syncs, 2)
	assert.Len(t, h.recorder.polar, 1)

	// Same star at the same sidereal time shares the hour angle: skipped
	_, err = h.ctl.Sync(second.Target)
	require.NoError(t, err)
	again, ok := h.ctl.PolarEstimate()
	require.True(t, ok)
	assert.Equal(t, est.ID, again.ID)
	assert.Len(t, h.recorder.syncs, 3)
	assert.Len(t, h.recorder.polar, 1)

	syncs := h.ctl.Syncs()
	require.Len(t, syncs, 2)
	assert.Equal(t, second.ID, syncs[0].ID)
}

func TestRestoreSeedsHistory(t *testing.T) {
	h := newHarness(t, nil).init(t)

	points := []alignment.SyncPoint{{ID: uuid.New()}, {ID: uuid.New()}, {ID: uuid.New()}}
	stored := alignment.PolarEstimate{ID: uuid.New(), AltitudeError: 0.2, SyncIDs: [2]uuid.UUID{points[1].ID, points[2].ID}}
	h.ctl.Restore(points, &stored)

	syncs := h.ctl.Syncs()
	require.Len(t, syncs, 2)
	assert.Equal(t, points[1].ID, syncs[0].ID)
	assert.Equal(t, points[2].ID, syncs[1].ID)

	est, ok := h.ctl.PolarEstimate()
	require.True(t, ok)
	assert.Equal(t, stored.ID, est.ID)

	st := h.ctl.Status()
	assert.Equal(t, 2, st.Syncs)
	require.NotNil(t, st.Polar)
	assert.Empty(t, h.recorder.syncs)
	assert.Empty(t, h.recorder.polar)

	h.ctl.Restore(nil, nil)
	assert.Empty(t, h.ctl.Syncs())
}

func TestTrackingStopsBelowHorizon(t *testing.T) {
	h := newHarness(t, nil).init(t)

	// Hour angle 0, Dec -60 from latitude 40 is 10 degrees below the horizon
	h.sim.Place(mount.AxisRA, h.geo.RA.Zero+h.geo.RA.Total/4)
	h.sim.Place(mount.AxisDE, h.geo.DE.Zero-h.geo.DE.Total/6)
	require.NoError(t, h.ctl.StartTracking(tracking.Sidereal))

	require.NoError(t, h.ctl.Tick())

	st := h.ctl.Status()
	assert.Equal(t, tracking.HorizonCrossing, st.Meridian)
	assert.False(t, st.Flags.Tracking)
	assert.Less(t, st.Horizontal.Altitude, 0.0)
	h.assertStopped(t)
}

func TestSetCustomRatesRestartsCustomTracking(t *testing.T) {
	h := newHarness(t, nil).init(t)
	require.NoError(t, h.ctl.StartTracking(tracking.Custom))
	h.sim.ClearCalls()

	require.NoError(t, h.ctl.SetCustomRates(10, 2))

	assert.InDelta(t, 10.0, h.sim.TrackingRate(mount.AxisRA), 1e-6)
	assert.InDelta(t, 2.0, h.sim.TrackingRate(mount.AxisDE), 1e-6)
	assert.Equal(t, tracking.Custom, h.ctl.Status().Flags.TrackingKind)
}

func TestSetCustomRatesDuringGuidePulse(t *testing.T) {
	h := newHarness(t, nil).init(t)
	require.NoError(t, h.ctl.SetCustomRates(10, 2))
	require.NoError(t, h.ctl.StartTracking(tracking.Custom))

	state, err := h.ctl.GuidePulse(guide.West, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, guide.PulseBusy, state)

	require.NoError(t, h.ctl.SetCustomRates(12, 3))
	assert.InDelta(t, 12.0, h.sim.TrackingRate(mount.AxisRA), 1e-6)
	assert.InDelta(t, 3.0, h.sim.TrackingRate(mount.AxisDE), 1e-6)
	assert.Equal(t, guide.PulseIdle, h.ctl.Status().Flags.GuideRA)

	// The dropped pulse must not restore the old rate when its timer is due
	h.clk.Add(3 * time.Second)
	assert.Never(t, func() bool {
		return math.Abs(h.sim.TrackingRate(mount.AxisRA)-12.0) > 1e-6
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestAbortAutoHomeWhileTracking(t *testing.T) {
	h := newHarness(t, nil).init(t)
	require.NoError(t, h.ctl.StartTracking(tracking.Sidereal))
	h.sim.ClearCalls()

	require.NoError(t, h.ctl.AbortAutoHome())
	require.NoError(t, h.step(t))

	st := h.ctl.Status()
	assert.True(t, st.Flags.Tracking)
	assert.True(t, st.Flags.RARunning)
	assert.Empty(t, h.sim.StopCalls())

	state, err := h.ctl.GuidePulse(guide.West, time.Second)
	require.NoError(t, err)
	assert.Equal(t, guide.PulseBusy, state)
}

func TestAbortAutoHomeDuringHoming(t *testing.T) {
	h := newHarness(t, nil).init(t)
	require.NoError(t, h.ctl.StartTracking(tracking.Sidereal))
	require.NoError(t, h.ctl.StartAutoHome())
	for i := 0; i < 5000 && h.ctl.Status().Flags.HomePhase != autohome.Phase2; i++ {
		require.NoError(t, h.step(t))
	}
	require.False(t, h.sim.AuxEncodersEnabled())

	require.NoError(t, h.ctl.AbortAutoHome())
	h.assertStopped(t)
	assert.True(t, h.sim.AuxEncodersEnabled())

	st := h.ctl.Status()
	assert.False(t, st.Flags.Homing)
	assert.False(t, st.Flags.Tracking)

	_, err := h.ctl.GuidePulse(guide.West, time.Second)
	assert.Equal(t, mount.KindPrecondition, mount.KindOf(err))
}

func TestRunTicksUntilCancelled(t *testing.T) {
	h := newHarness(t, func(_ *mount.SimulatorOptions, o *Options) {
		o.Clock = clock.New()
		o.PollPeriod = 10 * time.Millisecond
	}).init(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := h.ctl.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, h.metrics.tickCount(), 5)
}

func TestRefreshStatus(t *testing.T) {
	h := newHarness(t, nil).init(t)
	h.clk.Add(time.Minute)

	st, err := h.ctl.RefreshStatus()
	require.NoError(t, err)
	assert.Equal(t, h.clk.Now(), st.Time)
	assert.Equal(t, 10.0, st.LST)
}
