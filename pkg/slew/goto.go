// Package slew implements goto: converting a target RA/Dec into encoder
// counts, checking travel limits and converging on the target by
// repeated relative slews.
package slew

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/unklstewy/eqmount/pkg/coordinates"
	"github.com/unklstewy/eqmount/pkg/mount"
	"github.com/unklstewy/eqmount/pkg/tracking"
)

// Config holds the goto convergence parameters.
type Config struct {
	// ResolutionArcsec is the pointing error at which a goto is complete
	ResolutionArcsec float64

	// MaxIterations caps the corrective slews after the first one
	MaxIterations int

	// LimitMarginDegrees is the RA travel either side of home used when no
	// explicit limits are configured
	LimitMarginDegrees float64
}

// DefaultConfig returns the standard goto parameters.
func DefaultConfig() Config {
	return Config{
		ResolutionArcsec:   5.0,
		MaxIterations:      5,
		LimitMarginDegrees: 100.0,
	}
}

// Outcome is the result of one goto tick.
type Outcome int

const (
	// Idle means no goto is active
	Idle Outcome = iota
	// Pending means the axes are still moving
	Pending
	// Corrected means another relative slew was issued
	Corrected
	// Converged means the pose is within resolution of the target
	Converged
	// Exhausted means the iteration cap was reached; the goto is complete
	// on a best effort basis
	Exhausted
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Corrected:
		return "corrected"
	case Converged:
		return "converged"
	case Exhausted:
		return "exhausted"
	default:
		return "idle"
	}
}

// Request is one goto. It lives from Start until completion or abort.
type Request struct {
	ID uuid.UUID

	// Requested is the target as asked for, Target after alignment adjustment
	Requested coordinates.EquatorialCoordinates
	Target    coordinates.EquatorialCoordinates

	// ForcedPier overrides pier side selection unless PierUnknown
	ForcedPier coordinates.PierSide
	PierSide   coordinates.PierSide

	Limits Limits

	TargetRA  int64
	TargetDE  int64
	CurrentRA int64
	CurrentDE int64

	Iterations      int
	LastErrorArcsec float64

	InProgress    bool
	Complete      bool
	OutsideLimits bool
	Exhausted     bool

	Started time.Time
}

// NewRequest creates a goto request for the target.
func NewRequest(target coordinates.EquatorialCoordinates, forced coordinates.PierSide, limits Limits) *Request {
	target.RightAscension = coordinates.NormalizeRA(target.RightAscension)
	return &Request{
		ID:         uuid.New(),
		Requested:  target,
		Target:     target,
		ForcedPier: forced,
		Limits:     limits,
	}
}

// Controller runs goto requests against the mount.
type Controller struct {
	mount  mount.Mount
	cfg    Config
	logger *zap.SugaredLogger
}

// NewController creates a goto controller.
func NewController(m mount.Mount, cfg Config, logger *zap.SugaredLogger) *Controller {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.MaxIterations < 0 {
		cfg.MaxIterations = 0
	}
	return &Controller{mount: m, cfg: cfg, logger: logger}
}

// Config returns the goto parameters.
func (c *Controller) Config() Config {
	return c.cfg
}

// Start chooses the pier side, computes target counts, checks limits and
// issues the first relative slew.
//
// A target outside the limits returns an ErrLimitViolation error and no
// motion is commanded; the caller is expected to abort the mount.
func (c *Controller) Start(req *Request, snap mount.Snapshot) error {
	req.Started = snap.Time
	req.PierSide = req.ForcedPier
	if req.PierSide == coordinates.PierUnknown {
		req.PierSide = tracking.ChoosePierSide(req.Target.RightAscension, snap.LST)
	}

	req.CurrentRA = snap.RA.Encoder.Position
	req.CurrentDE = snap.DE.Encoder.Position
	req.TargetRA, req.TargetDE = coordinates.EquatorialToEncoders(req.Target, req.PierSide, snap.LST,
		snap.RA.Encoder, snap.DE.Encoder, snap.Hemisphere)

	if err := req.Limits.Check(req.TargetRA, req.TargetDE); err != nil {
		req.OutsideLimits = true
		req.Complete = true
		c.logger.Warnf("Goto %s to RA %.4fh Dec %.4f° rejected: %v", req.ID, req.Target.RightAscension,
			req.Target.Declination, err)
		return err
	}

	c.logger.Infof("Goto %s to RA %.4fh Dec %.4f° pier %s: counts (%d, %d) -> (%d, %d)",
		req.ID, req.Target.RightAscension, req.Target.Declination, req.PierSide,
		req.CurrentRA, req.CurrentDE, req.TargetRA, req.TargetDE)

	if err := c.mount.SlewTo(req.TargetRA-req.CurrentRA, req.TargetDE-req.CurrentDE); err != nil {
		return errors.Wrap(err, "start goto slew")
	}
	req.InProgress = true
	return nil
}

// Tick advances an active goto with the state read this tick.
func (c *Controller) Tick(req *Request, snap mount.Snapshot) (Outcome, error) {
	if req == nil || !req.InProgress {
		return Idle, nil
	}
	if !snap.Stopped() {
		return Pending, nil
	}

	req.CurrentRA = snap.RA.Encoder.Position
	req.CurrentDE = snap.DE.Encoder.Position
	req.LastErrorArcsec = coordinates.AngularSeparationArcsec(req.Target, snap.Pose.Equatorial())

	if req.LastErrorArcsec <= c.cfg.ResolutionArcsec {
		c.finish(req)
		c.logger.Infof("Goto %s complete after %d corrections, error %.2f\"", req.ID, req.Iterations, req.LastErrorArcsec)
		return Converged, nil
	}
	if req.Iterations >= c.cfg.MaxIterations {
		c.finish(req)
		req.Exhausted = true
		c.logger.Warnf("Goto %s did not converge after %d corrections, error %.2f\" above %.2f\"",
			req.ID, req.Iterations, req.LastErrorArcsec, c.cfg.ResolutionArcsec)
		return Exhausted, nil
	}

	req.TargetRA, req.TargetDE = coordinates.EquatorialToEncoders(req.Target, req.PierSide, snap.LST,
		snap.RA.Encoder, snap.DE.Encoder, snap.Hemisphere)
	dRA := req.TargetRA - req.CurrentRA
	dDE := req.TargetDE - req.CurrentDE
	if dRA == 0 && dDE == 0 {
		// Nearest counts reached; the residual is below one count
		c.finish(req)
		req.Exhausted = true
		c.logger.Warnf("Goto %s stopped on the nearest counts after %d corrections, error %.2f\" above %.2f\"",
			req.ID, req.Iterations, req.LastErrorArcsec, c.cfg.ResolutionArcsec)
		return Exhausted, nil
	}

	req.Iterations++
	c.logger.Debugf("Goto %s correction %d: error %.2f\", slew (%d, %d)", req.ID, req.Iterations,
		req.LastErrorArcsec, dRA, dDE)
	if err := c.mount.SlewTo(dRA, dDE); err != nil {
		return Pending, errors.Wrapf(err, "goto correction %d", req.Iterations)
	}
	return Corrected, nil
}

func (c *Controller) finish(req *Request) {
	req.InProgress = false
	req.Complete = true
}
