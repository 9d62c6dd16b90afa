package controller

import (
	"github.com/pkg/errors"

	"github.com/unklstewy/eqmount/pkg/autohome"
	"github.com/unklstewy/eqmount/pkg/mount"
	"github.com/unklstewy/eqmount/pkg/slew"
	"github.com/unklstewy/eqmount/pkg/tracking"
)

// Tick refreshes the mount status and advances the active goto, park or
// homing operation. A failure aborts all motion.
func (c *Controller) Tick() error {
	start := c.clock.Now()

	c.mu.Lock()
	err := c.tickLocked()
	c.mu.Unlock()

	c.metrics.ObserveTick(c.clock.Since(start), err)
	return err
}

// RefreshStatus runs one tick and returns the resulting status.
func (c *Controller) RefreshStatus() (Status, error) {
	err := c.Tick()
	return c.Status(), err
}

func (c *Controller) tickLocked() error {
	if !c.state.Initialized {
		return mount.Precondition("tick: mount not initialized")
	}

	snap, err := c.refreshLocked()
	if err != nil {
		return c.failLocked(errors.Wrap(err, "refresh status"))
	}

	if req := c.state.Goto; req != nil {
		outcome, err := c.slewer.Tick(req, snap)
		if err != nil {
			return c.failLocked(err)
		}
		if outcome == slew.Converged || outcome == slew.Exhausted {
			if err := c.completeGotoLocked(outcome); err != nil {
				return c.failLocked(err)
			}
		}
	}

	if c.state.Parking && snap.Stopped() {
		c.state.Parking = false
		c.state.Parked = true
		c.logger.Infof("Mount parked")
	}

	if c.state.Home.Active() {
		before := c.state.Home.Phase
		if err := c.homer.Tick(&c.state.Home, snap); err != nil {
			c.metrics.AutoHomePhase(int(autohome.Idle))
			return c.failLocked(err)
		}
		if after := c.state.Home.Phase; after != before {
			c.metrics.AutoHomePhase(int(after))
			if after == autohome.Idle {
				c.state.Homed = true
				c.logger.Infof("Auto home complete")
			}
		}
	}

	c.checkMeridianLocked(snap)
	c.metrics.SetPose(snap.Pose.RightAscension, snap.Pose.Declination, c.state.Tracking.Tracking)
	return nil
}

// checkMeridianLocked stops tracking that runs below the horizon limit and
// reports a required meridian flip once.
func (c *Controller) checkMeridianLocked(snap mount.Snapshot) {
	if !c.state.Tracking.Tracking {
		c.state.Meridian = tracking.NoMeridianEvent
		return
	}

	event, msg := tracking.CheckMeridianEvent(snap.Pose, c.opts.Observer.Location.Latitude, c.opts.TrackingLimits)
	if event != c.state.Meridian && event != tracking.NoMeridianEvent {
		c.logger.Warnf("%s. %s", msg, tracking.RecommendTrackingStrategy(event))
	}
	c.state.Meridian = event

	if tracking.ShouldStopTracking(event) {
		c.guider.Cancel(&c.state.Guide)
		if err := c.tracker.Halt(&c.state.Tracking); err != nil {
			c.logger.Warnf("Failed to stop tracking: %v", err)
		}
	}
}
