// Package controller ties the motion components together around a single
// MotionState owned by one Controller. A periodic Tick refreshes the pose
// and advances whichever operation is active.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/unklstewy/eqmount/pkg/alignment"
	"github.com/unklstewy/eqmount/pkg/autohome"
	"github.com/unklstewy/eqmount/pkg/coordinates"
	"github.com/unklstewy/eqmount/pkg/guide"
	"github.com/unklstewy/eqmount/pkg/mount"
	"github.com/unklstewy/eqmount/pkg/slew"
	"github.com/unklstewy/eqmount/pkg/tracking"
)

// ParkPosition is a pair of encoder counts.
type ParkPosition struct {
	RA int64
	DE int64
}

// Options configures a Controller.
type Options struct {
	Observer coordinates.Observer

	// Clock is the time source; nil means the wall clock
	Clock clock.Clock

	// LST returns the local sidereal time in hours; nil computes it from
	// the observer longitude
	LST func(time.Time) float64

	Logger   *zap.SugaredLogger
	Metrics  Metrics
	Recorder Recorder

	// Strategy adjusts goto targets; nil means no alignment
	Strategy alignment.Strategy

	Tracking       tracking.Settings
	TrackingLimits tracking.TrackingLimits
	Goto           slew.Config
	Guide          guide.Config
	AutoHome       autohome.Config

	// Limits overrides the travel limits derived from the home position
	Limits *slew.Limits

	// Park overrides the park position; nil parks at home
	Park *ParkPosition

	PollPeriod time.Duration

	// PolarTolerance is the separation mismatch (degrees) above which a
	// polar estimate is reported inconsistent
	PolarTolerance float64

	RecordTimeout time.Duration
}

// DefaultOptions returns options with the standard component settings.
func DefaultOptions() Options {
	return Options{
		TrackingLimits: tracking.DefaultTrackingLimits(),
		Goto:           slew.DefaultConfig(),
		Guide:          guide.DefaultConfig(),
		AutoHome:       autohome.DefaultConfig(),
		PollPeriod:     250 * time.Millisecond,
		PolarTolerance: 0.05,
		RecordTimeout:  5 * time.Second,
	}
}

// MotionState is every piece of mutable mount state. Only the owning
// Controller touches it, always under its lock.
type MotionState struct {
	Initialized bool

	// RA and DE hold the encoder geometry read at init and the position
	// read by the last tick
	RA coordinates.EncoderAxisState
	DE coordinates.EncoderAxisState

	Limits slew.Limits
	ParkAt ParkPosition

	Snapshot mount.Snapshot
	Tracking tracking.State
	Meridian tracking.MeridianEvent

	Goto        *slew.Request
	LastGoto    *slew.Request
	LastOutcome slew.Outcome

	Parked  bool
	Parking bool

	Home  autohome.State
	Homed bool

	Guide guide.State

	Syncs alignment.History
	Polar *alignment.PolarEstimate

	LastError error
}

// Controller owns the mount and its MotionState.
type Controller struct {
	mu sync.Mutex

	mount      mount.Mount
	opts       Options
	clock      clock.Clock
	hemisphere coordinates.Hemisphere
	logger     *zap.SugaredLogger
	metrics    Metrics
	strategy   alignment.Strategy

	tracker   *tracking.Controller
	slewer    *slew.Controller
	homer     *autohome.Machine
	guider    *guide.Controller
	estimator *alignment.Estimator

	state MotionState
}

// New creates a controller for the mount. Call Init before anything else.
func New(m mount.Mount, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Strategy == nil {
		opts.Strategy = alignment.None{}
	}
	if opts.LST == nil {
		lon := opts.Observer.Location.Longitude
		opts.LST = func(t time.Time) float64 {
			return coordinates.CalculateLocalSiderealTime(lon, t)
		}
	}
	if opts.PollPeriod <= 0 {
		opts.PollPeriod = DefaultOptions().PollPeriod
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = DefaultOptions().RecordTimeout
	}

	guarded := mount.Guarded(m)
	h := opts.Observer.Hemisphere()
	opts.Tracking.Hemisphere = h
	logger := opts.Logger

	c := &Controller{
		mount:      guarded,
		opts:       opts,
		clock:      opts.Clock,
		hemisphere: h,
		logger:     logger,
		metrics:    opts.Metrics,
		strategy:   opts.Strategy,
		estimator:  alignment.NewEstimator(opts.Observer.Location.Latitude, opts.PolarTolerance, logger.Named("polar")),
	}
	c.tracker = tracking.NewController(guarded, opts.Tracking, logger.Named("tracking"))
	c.slewer = slew.NewController(guarded, opts.Goto, logger.Named("goto"))
	c.homer = autohome.NewMachine(guarded, opts.AutoHome, logger.Named("autohome"))
	c.guider = guide.NewController(guarded, c.tracker, opts.Clock, opts.Guide, c.dispatch, logger.Named("guide"))
	return c
}

// dispatch runs a scheduled completion under the controller lock.
func (c *Controller) dispatch(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// Hemisphere returns the hemisphere the controller runs in.
func (c *Controller) Hemisphere() coordinates.Hemisphere {
	return c.hemisphere
}

// PollPeriod returns the configured tick period.
func (c *Controller) PollPeriod() time.Duration {
	return c.opts.PollPeriod
}

// Init reads the encoder geometry, derives limits and the park position
// and takes the first snapshot.
func (c *Controller) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ra, err := mount.ReadGeometry(c.mount, mount.AxisRA)
	if err != nil {
		return errors.Wrap(err, "read RA geometry")
	}
	de, err := mount.ReadGeometry(c.mount, mount.AxisDE)
	if err != nil {
		return errors.Wrap(err, "read DE geometry")
	}
	c.state.RA, c.state.DE = ra, de

	if c.opts.Limits != nil {
		c.state.Limits = *c.opts.Limits
	} else {
		c.state.Limits = slew.DefaultLimits(ra, c.hemisphere, c.opts.Goto.LimitMarginDegrees)
	}
	c.state.ParkAt = ParkPosition{RA: ra.Home, DE: de.Home}
	if c.opts.Park != nil {
		c.state.ParkAt = *c.opts.Park
	}

	if _, err := c.refreshLocked(); err != nil {
		return errors.Wrap(err, "initial status")
	}
	c.state.Initialized = true

	c.logger.Infof("Mount ready: %s hemisphere, RA %d counts/rev, DE %d counts/rev, limits [%d, %d]",
		c.hemisphere, ra.Total, de.Total, c.state.Limits.East, c.state.Limits.West)
	return nil
}

// refreshLocked reads a new snapshot and stores it.
func (c *Controller) refreshLocked() (mount.Snapshot, error) {
	now := c.clock.Now()
	snap, err := mount.ReadSnapshot(c.mount, c.state.RA, c.state.DE, c.opts.LST(now), c.hemisphere, now)
	if err != nil {
		return snap, err
	}
	c.state.Snapshot = snap
	c.state.RA.Position = snap.RA.Encoder.Position
	c.state.DE.Position = snap.DE.Encoder.Position
	return snap, nil
}

// checkIdleLocked rejects operations that need the mount free of any other
// motion operation.
func (c *Controller) checkIdleLocked(op string) error {
	switch {
	case !c.state.Initialized:
		return mount.Precondition("%s: mount not initialized", op)
	case c.state.Parked:
		return mount.Precondition("%s: mount is parked", op)
	case c.state.Parking:
		return mount.Precondition("%s: mount is parking", op)
	case c.state.Goto != nil:
		return mount.Precondition("%s: goto in progress", op)
	case c.state.Home.Active():
		return mount.Precondition("%s: auto home in progress", op)
	}
	return nil
}

// failLocked aborts after an operation failed and returns the combined error.
func (c *Controller) failLocked(err error) error {
	kind := mount.KindOf(err)
	c.metrics.Failure(kind.String())
	c.logger.Warnf("Aborting after %s failure: %v", kind, err)
	c.state.LastError = err
	return multierr.Append(err, c.abortLocked())
}

// abortLocked stops both axes and resets every state machine.
func (c *Controller) abortLocked() error {
	c.guider.Cancel(&c.state.Guide)
	if req := c.state.Goto; req != nil {
		req.InProgress = false
		req.Complete = true
		c.state.LastGoto = req
		c.state.LastOutcome = slew.Idle
		c.state.Goto = nil
	}
	err := c.homer.Abort(&c.state.Home)
	c.state.Parking = false
	c.metrics.Abort()
	return multierr.Append(err, c.tracker.Halt(&c.state.Tracking))
}

// Abort stops both axes and returns every operation to idle. It is safe to
// call in any state.
func (c *Controller) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Infof("Abort")
	return c.abortLocked()
}

// Goto starts a slew to the target. pier forces the pier side unless it is
// PierUnknown. A target outside the travel limits aborts all motion and
// returns an ErrLimitViolation error.
func (c *Controller) Goto(target coordinates.EquatorialCoordinates, pier coordinates.PierSide) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIdleLocked("goto"); err != nil {
		c.metrics.GotoRejected(mount.KindPrecondition.String())
		return err
	}
	if target.Declination < -90 || target.Declination > 90 {
		c.metrics.GotoRejected(mount.KindPrecondition.String())
		return mount.Precondition("goto: declination %.4f out of range", target.Declination)
	}

	snap, err := c.refreshLocked()
	if err != nil {
		return c.failLocked(errors.Wrap(err, "goto"))
	}
	adjusted, err := c.strategy.SkyToTelescope(target, snap.LST)
	if err != nil {
		return errors.Wrap(err, "goto alignment")
	}

	req := slew.NewRequest(adjusted, pier, c.state.Limits)
	req.Requested = coordinates.EquatorialCoordinates{
		RightAscension: coordinates.NormalizeRA(target.RightAscension),
		Declination:    target.Declination,
	}

	c.guider.Cancel(&c.state.Guide)
	if err := c.tracker.Stop(&c.state.Tracking); err != nil {
		return c.failLocked(errors.Wrap(err, "goto"))
	}

	if err := c.slewer.Start(req, snap); err != nil {
		c.state.LastGoto = req
		if mount.KindOf(err) == mount.KindLimitViolation {
			c.metrics.GotoRejected(mount.KindLimitViolation.String())
			return multierr.Append(err, c.abortLocked())
		}
		return c.failLocked(err)
	}

	c.state.Goto = req
	c.metrics.GotoStarted()
	return nil
}

// completeGotoLocked ends the active goto and resumes prior tracking.
func (c *Controller) completeGotoLocked(outcome slew.Outcome) error {
	req := c.state.Goto
	c.state.Goto = nil
	c.state.LastGoto = req
	c.state.LastOutcome = outcome
	c.metrics.GotoCompleted(outcome.String(), req.Iterations)

	resumed, err := c.tracker.Resume(&c.state.Tracking)
	if err != nil {
		return errors.Wrap(err, "resume tracking after goto")
	}
	if resumed {
		c.logger.Infof("Tracking resumed after goto %s", req.ID)
	}
	return nil
}

// Sync records that the mount is really pointing at target. With two syncs
// retained a polar estimate is attempted; a degenerate pair keeps the
// previous estimate.
func (c *Controller) Sync(target coordinates.EquatorialCoordinates) (alignment.SyncPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIdleLocked("sync"); err != nil {
		return alignment.SyncPoint{}, err
	}
	snap, err := c.refreshLocked()
	if err != nil {
		return alignment.SyncPoint{}, c.failLocked(errors.Wrap(err, "sync"))
	}

	target.RightAscension = coordinates.NormalizeRA(target.RightAscension)
	point := alignment.NewSyncPoint(snap.Time, snap.LST, target, snap.Pose, snap.RA.Encoder, snap.DE.Encoder, c.hemisphere)
	if err := c.strategy.Sync(point); err != nil {
		return point, errors.Wrap(err, "sync")
	}
	c.state.Syncs.Push(point)
	c.logger.Infof("Sync %s: delta RA %.5fh, delta Dec %.5f°, counts (%d, %d)",
		point.ID, point.DeltaRA, point.DeltaDE, point.DeltaRACounts, point.DeltaDECounts)
	c.record(func(ctx context.Context, r Recorder) error { return r.RecordSync(ctx, point) })

	if prev, cur, ok := c.state.Syncs.Pair(); ok {
		est, err := c.estimator.Estimate(prev, cur)
		if err == nil {
			c.state.Polar = &est
			c.metrics.PolarEstimate(est.AltitudeError, est.AzimuthError)
			c.record(func(ctx context.Context, r Recorder) error { return r.RecordPolarEstimate(ctx, est) })
		}
	}
	return point, nil
}

func (c *Controller) record(fn func(context.Context, Recorder) error) {
	if c.opts.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RecordTimeout)
	defer cancel()
	if err := fn(ctx, c.opts.Recorder); err != nil {
		c.logger.Warnf("Failed to record alignment data: %v", err)
	}
}

// StartTracking starts tracking at the given rate.
func (c *Controller) StartTracking(kind tracking.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIdleLocked("start tracking"); err != nil {
		return err
	}
	c.guider.Cancel(&c.state.Guide)
	if err := c.tracker.Start(&c.state.Tracking, kind); err != nil {
		return c.failLocked(err)
	}
	return nil
}

// StopTracking stops both axes and forgets the tracking state.
func (c *Controller) StopTracking() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.guider.Cancel(&c.state.Guide)
	if err := c.tracker.Halt(&c.state.Tracking); err != nil {
		return c.failLocked(err)
	}
	return nil
}

// SetCustomRates sets the custom tracking rates in arcseconds per second.
// Active custom tracking is restarted with the new rates, dropping any
// pending guide pulse.
func (c *Controller) SetCustomRates(ra, de float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tracker.SetCustomRates(ra, de)
	if c.state.Tracking.Tracking && c.state.Tracking.Spec.Kind == tracking.Custom {
		c.guider.Cancel(&c.state.Guide)
		if err := c.tracker.Start(&c.state.Tracking, tracking.Custom); err != nil {
			return c.failLocked(err)
		}
	}
	return nil
}

// Park slews to the park position. Tracking stops and is not resumed.
func (c *Controller) Park() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIdleLocked("park"); err != nil {
		return err
	}
	snap, err := c.refreshLocked()
	if err != nil {
		return c.failLocked(errors.Wrap(err, "park"))
	}

	c.guider.Cancel(&c.state.Guide)
	if err := c.tracker.Halt(&c.state.Tracking); err != nil {
		return c.failLocked(errors.Wrap(err, "park"))
	}

	dRA := c.state.ParkAt.RA - snap.RA.Encoder.Position
	dDE := c.state.ParkAt.DE - snap.DE.Encoder.Position
	if dRA == 0 && dDE == 0 {
		c.state.Parked = true
		c.logger.Infof("Mount parked")
		return nil
	}
	if err := c.mount.SlewTo(dRA, dDE); err != nil {
		return c.failLocked(errors.Wrap(err, "park"))
	}
	c.state.Parking = true
	c.logger.Infof("Parking at (%d, %d)", c.state.ParkAt.RA, c.state.ParkAt.DE)
	return nil
}

// Unpark clears the parked flag.
func (c *Controller) Unpark() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Parking {
		return mount.Precondition("unpark: mount is still parking")
	}
	if c.state.Parked {
		c.state.Parked = false
		c.logger.Infof("Mount unparked")
	}
	return nil
}

// StartAutoHome begins the homing procedure. Tracking stops.
func (c *Controller) StartAutoHome() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIdleLocked("auto home"); err != nil {
		return err
	}
	c.guider.Cancel(&c.state.Guide)
	if err := c.tracker.Halt(&c.state.Tracking); err != nil {
		return c.failLocked(errors.Wrap(err, "auto home"))
	}
	c.state.Homed = false
	c.homer.Start(&c.state.Home, c.clock.Now())
	c.metrics.AutoHomePhase(int(c.state.Home.Phase))
	c.logger.Infof("Auto home started")
	return nil
}

// AbortAutoHome stops homing and both axes. Without homing in progress it
// does nothing.
func (c *Controller) AbortAutoHome() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Home.Active() {
		return nil
	}
	err := c.homer.Abort(&c.state.Home)
	c.metrics.AutoHomePhase(int(autohome.Idle))
	return err
}

// GuidePulse shifts one axis by the guide rate for d. Short pulses complete
// before returning (PulseIdle); longer ones finish in the background
// (PulseBusy).
func (c *Controller) GuidePulse(dir guide.Direction, d time.Duration) (guide.PulseState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Initialized {
		return guide.PulseIdle, mount.Precondition("guide pulse: mount not initialized")
	}
	if c.state.Goto != nil || c.state.Home.Active() || c.state.Parked || c.state.Parking {
		return guide.PulseIdle, mount.Precondition("guide pulse: mount is not tracking")
	}

	state, err := c.guider.Pulse(&c.state.Guide, &c.state.Tracking, dir, d)
	if err != nil {
		if mount.KindOf(err) == mount.KindTransport {
			return guide.PulseIdle, c.failLocked(err)
		}
		return state, err
	}

	path := "async"
	if state == guide.PulseIdle {
		path = "sync"
	}
	c.metrics.GuidePulse(dir.String(), path)
	return state, nil
}

// PolarEstimate returns the latest polar alignment estimate.
func (c *Controller) PolarEstimate() (alignment.PolarEstimate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimator.Last()
}

// Syncs returns the retained sync points, oldest first.
func (c *Controller) Syncs() []alignment.SyncPoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []alignment.SyncPoint
	if p := c.state.Syncs.Previous; p != nil {
		out = append(out, *p)
	}
	if p := c.state.Syncs.Current; p != nil {
		out = append(out, *p)
	}
	return out
}

// Restore seeds the sync history (oldest first, the last two kept) and the
// polar estimate from a previous session.
func (c *Controller) Restore(points []alignment.SyncPoint, polar *alignment.PolarEstimate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Syncs.Clear()
	for _, p := range points {
		c.state.Syncs.Push(p)
	}
	if polar != nil {
		est := *polar
		c.state.Polar = &est
		c.estimator.Restore(est)
		c.metrics.PolarEstimate(est.AltitudeError, est.AzimuthError)
	}
	c.logger.Infof("Restored %d sync points, polar estimate %v", c.state.Syncs.Len(), polar != nil)
}

// LastGoto returns a copy of the most recent finished or rejected goto.
func (c *Controller) LastGoto() (slew.Request, slew.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.LastGoto == nil {
		return slew.Request{}, slew.Idle, false
	}
	return *c.state.LastGoto, c.state.LastOutcome, true
}
