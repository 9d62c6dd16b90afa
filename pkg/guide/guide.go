// Package guide issues timed guide-rate pulses on top of the tracking rate.
package guide

import (
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/unklstewy/eqmount/pkg/mount"
	"github.com/unklstewy/eqmount/pkg/tracking"
)

// Direction of a guide pulse.
type Direction int

const (
	North Direction = iota
	South
	East
	West
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case South:
		return "south"
	case East:
		return "east"
	case West:
		return "west"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection parses a direction name or its initial letter.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "n", "north":
		return North, nil
	case "s", "south":
		return South, nil
	case "e", "east":
		return East, nil
	case "w", "west":
		return West, nil
	default:
		return North, errors.Errorf("unknown guide direction %q", s)
	}
}

// Axis returns the axis the direction moves.
func (d Direction) Axis() mount.Axis {
	if d == East || d == West {
		return mount.AxisRA
	}
	return mount.AxisDE
}

// PulseState is the state of one axis' guide pulse.
type PulseState int

const (
	PulseIdle PulseState = iota
	PulseBusy
)

// String returns the pulse state name.
func (p PulseState) String() string {
	if p == PulseBusy {
		return "busy"
	}
	return "idle"
}

// Config holds the guide pulse parameters.
type Config struct {
	// MinPulse rejects shorter pulses
	MinPulse time.Duration

	// SyncThreshold is the duration below which pulses are timed inline
	SyncThreshold time.Duration

	// RateRA and RateDE are the guide rates as a fraction of sidereal
	RateRA float64
	RateDE float64
}

// DefaultConfig returns the standard guide parameters.
func DefaultConfig() Config {
	return Config{
		MinPulse:      10 * time.Millisecond,
		SyncThreshold: 200 * time.Millisecond,
		RateRA:        0.5,
		RateDE:        0.5,
	}
}

// AxisPulse is the pulse bookkeeping of one axis.
type AxisPulse struct {
	State     PulseState
	Direction Direction
	Duration  time.Duration
	Started   time.Time

	task        *Task
	restorePPEC bool
}

// State holds both axes' pulses.
type State struct {
	RA AxisPulse
	DE AxisPulse
}

// Axis returns the pulse state of an axis.
func (s *State) Axis(axis mount.Axis) *AxisPulse {
	if axis == mount.AxisDE {
		return &s.DE
	}
	return &s.RA
}

// Busy reports whether any pulse is pending.
func (s *State) Busy() bool {
	return s.RA.State == PulseBusy || s.DE.State == PulseBusy
}

// Controller issues guide pulses.
type Controller struct {
	mount    mount.Mount
	tracker  *tracking.Controller
	clock    clock.Clock
	cfg      Config
	dispatch func(func())
	logger   *zap.SugaredLogger
}

// NewController creates a guide pulse controller.
//
// dispatch runs the completion of asynchronous pulses; the owner of the
// pulse state uses it to take its lock. A nil dispatch calls the function
// directly.
func NewController(m mount.Mount, tracker *tracking.Controller, clk clock.Clock, cfg Config,
	dispatch func(func()), logger *zap.SugaredLogger) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Controller{
		mount:    m,
		tracker:  tracker,
		clock:    clk,
		cfg:      cfg,
		dispatch: dispatch,
		logger:   logger,
	}
}

// Config returns the guide parameters.
func (c *Controller) Config() Config {
	return c.cfg
}

// ShiftedRate returns the rate an axis runs at during a pulse.
func (c *Controller) ShiftedRate(tr *tracking.State, dir Direction) float64 {
	axis := dir.Axis()
	base := c.tracker.TrackingRate(tr, axis)

	if axis == mount.AxisRA {
		shift := c.cfg.RateRA * tracking.SiderealRate
		if dir == East {
			shift = -shift
		}
		if tr.Spec.InvertRA {
			shift = -shift
		}
		return base + shift
	}

	shift := c.cfg.RateDE * tracking.SiderealRate
	if dir == South {
		shift = -shift
	}
	if tr.Spec.InvertDE {
		shift = -shift
	}
	return base + shift
}

// Pulse shifts the axis rate for d and then restores the tracking rate.
//
// Pulses shorter than the sync threshold are timed inline and return
// PulseIdle once the rate is restored. Longer pulses return PulseBusy and
// complete through a scheduled callback.
func (c *Controller) Pulse(st *State, tr *tracking.State, dir Direction, d time.Duration) (PulseState, error) {
	axis := dir.Axis()
	p := st.Axis(axis)

	switch {
	case !tr.Tracking:
		return PulseIdle, mount.Precondition("guide pulse %s: mount is not tracking", dir)
	case d < c.cfg.MinPulse:
		return PulseIdle, mount.Precondition("guide pulse %s: %s below minimum %s", dir, d, c.cfg.MinPulse)
	case p.State == PulseBusy:
		return PulseBusy, mount.Precondition("guide pulse %s: %s axis busy", dir, axis)
	}

	start := c.clock.Now()
	*p = AxisPulse{Direction: dir, Duration: d, Started: start}

	if axis == mount.AxisRA {
		if ppec, ok := c.mount.(mount.PPEC); ok && ppec.PPECEnabled() {
			if err := ppec.SetPPEC(false); err != nil {
				return PulseIdle, errors.Wrap(err, "disable PPEC for guide pulse")
			}
			p.restorePPEC = true
		}
	}

	if err := c.tracker.ApplyRate(axis, c.ShiftedRate(tr, dir)); err != nil {
		return PulseIdle, multierr.Append(errors.Wrapf(err, "guide pulse %s", dir), c.restore(p, tr, axis))
	}

	if d < c.cfg.SyncThreshold {
		if remaining := d - c.clock.Since(start); remaining > 0 {
			c.clock.Sleep(remaining)
		}
		if err := c.restore(p, tr, axis); err != nil {
			return PulseIdle, errors.Wrapf(err, "end guide pulse %s", dir)
		}
		c.logger.Debugf("Guide pulse %s %s done inline", dir, d)
		return PulseIdle, nil
	}

	p.State = PulseBusy
	p.task = schedule(c.clock, d, func(task *Task) {
		c.dispatch(func() {
			if !task.claim() || p.task != task {
				return
			}
			p.task = nil
			if err := c.restore(p, tr, axis); err != nil {
				c.logger.Warnf("Guide pulse %s end failed: %v", dir, err)
				return
			}
			c.logger.Debugf("Guide pulse %s %s done", dir, d)
		})
	})
	return PulseBusy, nil
}

// restore puts the axis back to the unshifted tracking rate and marks the pulse idle.
func (c *Controller) restore(p *AxisPulse, tr *tracking.State, axis mount.Axis) error {
	p.State = PulseIdle

	var err error
	if tr.Tracking {
		err = c.tracker.ApplyRate(axis, c.tracker.TrackingRate(tr, axis))
	}
	if p.restorePPEC {
		p.restorePPEC = false
		if ppec, ok := c.mount.(mount.PPEC); ok {
			err = multierr.Append(err, ppec.SetPPEC(true))
		}
	}
	return err
}

// Cancel drops every pending pulse without restoring rates. Used on abort
// and whenever tracking is stopped.
func (c *Controller) Cancel(st *State) {
	for _, axis := range mount.Axes {
		p := st.Axis(axis)
		if p.task != nil {
			p.task.Cancel()
			p.task = nil
		}
		if p.restorePPEC {
			if ppec, ok := c.mount.(mount.PPEC); ok {
				if err := ppec.SetPPEC(true); err != nil {
					c.logger.Warnf("Re-enable PPEC after cancelled pulse: %v", err)
				}
			}
			p.restorePPEC = false
		}
		p.State = PulseIdle
	}
}
