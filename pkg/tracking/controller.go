package tracking

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/unklstewy/eqmount/pkg/mount"
)

// State is the logical tracking state of the mount.
type State struct {
	// Tracking is true while continuous-rate commands are in effect
	Tracking bool

	// Spec holds the unshifted rates last applied
	Spec RateSpec

	// Resume is set when an operation stopped tracking that should be
	// restarted once the operation completes
	Resume     bool
	ResumeKind Kind
}

// Controller issues tracking commands to the mount.
type Controller struct {
	mount    mount.Mount
	settings Settings
	logger   *zap.SugaredLogger
}

// NewController creates a tracking controller.
func NewController(m mount.Mount, settings Settings, logger *zap.SugaredLogger) *Controller {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Controller{
		mount:    m,
		settings: settings,
		logger:   logger,
	}
}

// Settings returns the current rate settings.
func (c *Controller) Settings() Settings {
	return c.settings
}

// SetCustomRates sets the rates used by Custom tracking.
// Takes effect on the next Start.
func (c *Controller) SetCustomRates(ra, de float64) {
	c.settings.CustomRA = ra
	c.settings.CustomDE = de
}

// SetReverseDEC switches the DEC reversal preference.
func (c *Controller) SetReverseDEC(reverse bool) {
	c.settings.ReverseDEC = reverse
}

// Start computes both axis rates for kind and issues them.
func (c *Controller) Start(st *State, kind Kind) error {
	spec := Spec(kind, c.settings)
	for _, axis := range mount.Axes {
		if err := c.ApplyRate(axis, spec.Rate(axis)); err != nil {
			st.Tracking = false
			return errors.Wrapf(err, "start %s tracking", kind)
		}
	}

	st.Tracking = true
	st.Spec = spec
	st.Resume = false
	c.logger.Infof("Tracking %s: RA %.4f\"/s, DE %.4f\"/s", kind, spec.RA, spec.DE)
	return nil
}

// ApplyRate runs one axis at a signed rate. A zero rate stops the axis.
func (c *Controller) ApplyRate(axis mount.Axis, rate float64) error {
	if rate == 0 {
		return c.mount.Stop(axis)
	}
	return c.mount.StartTracking(axis, rate)
}

// Stop stops both axes. Active tracking is remembered for Resume.
func (c *Controller) Stop(st *State) error {
	if st.Tracking {
		st.Resume = true
		st.ResumeKind = st.Spec.Kind
		c.logger.Debugf("Tracking %s suspended", st.Spec.Kind)
	}
	st.Tracking = false
	return c.stopAxes()
}

// Halt stops both axes and forgets any tracking to resume.
func (c *Controller) Halt(st *State) error {
	st.Tracking = false
	st.Resume = false
	return c.stopAxes()
}

// Resume restarts remembered tracking. It reports whether tracking was pending.
func (c *Controller) Resume(st *State) (bool, error) {
	if !st.Resume {
		return false, nil
	}
	kind := st.ResumeKind
	st.Resume = false
	return true, c.Start(st, kind)
}

// TrackingRate returns the unshifted rate applied to the axis, or 0 when not tracking.
func (c *Controller) TrackingRate(st *State, axis mount.Axis) float64 {
	if !st.Tracking {
		return 0
	}
	return st.Spec.Rate(axis)
}

func (c *Controller) stopAxes() error {
	var err error
	for _, axis := range mount.Axes {
		err = multierr.Append(err, c.mount.Stop(axis))
	}
	return err
}
