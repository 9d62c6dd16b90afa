// Package mount defines the motor-controller collaborator the motion core
// drives, the per-tick snapshot read from it and a simulated mount.
package mount

import (
	"time"

	"github.com/unklstewy/eqmount/pkg/coordinates"
)

// Axis identifies a mount axis.
type Axis int

const (
	// AxisRA is the right ascension (polar) axis
	AxisRA Axis = iota
	// AxisDE is the declination axis
	AxisDE
	// AxisBoth tags commands that move both axes at once
	AxisBoth
)

// Axes lists the two physical axes in command order.
var Axes = [2]Axis{AxisRA, AxisDE}

// String returns the axis name.
func (a Axis) String() string {
	switch a {
	case AxisRA:
		return "ra"
	case AxisDE:
		return "de"
	default:
		return "both"
	}
}

// IndexSideMark is the index register value read after a reset while the
// axis sits below its index mark. Above the mark the register reads 0.
const IndexSideMark int64 = 0xFFFFFF

// Mount is the motor-controller collaborator.
//
// Motion commands are fire-and-forget: callers poll IsRunning instead of
// waiting for completion. Every call may fail with a transport error.
type Mount interface {
	// Encoder returns the current signed encoder count of the axis
	Encoder(axis Axis) (int64, error)

	// EncoderZero returns the count at which the axis angle is zero
	EncoderZero(axis Axis) (int64, error)

	// EncoderTotal returns the counts per axis revolution
	EncoderTotal(axis Axis) (int64, error)

	// EncoderHome returns the canonical home count of the axis
	EncoderHome(axis Axis) (int64, error)

	// SetEncoder overwrites the axis position register
	SetEncoder(axis Axis, count int64) error

	// SlewTo starts a relative move of both axes by the given counts
	SlewTo(deltaRA, deltaDE int64) error

	// AbsSlewTo starts an absolute move of both axes, approaching each
	// target moving in the given direction
	AbsSlewTo(ra, de int64, raUp, deUp bool) error

	// Stop halts the axis
	Stop(axis Axis) error

	// StartTracking runs the axis continuously at the given rate in
	// arcseconds per second. Positive rates increase the encoder count.
	StartTracking(axis Axis, arcsecPerSec float64) error

	// IsRunning reports whether the axis is moving
	IsRunning(axis Axis) (bool, error)

	// ReadIndexer triggers a read of the index register
	ReadIndexer(axis Axis) error

	// LastIndexer returns the value cached by the last ReadIndexer
	LastIndexer(axis Axis) int64

	// ResetIndexer re-arms the index register
	ResetIndexer(axis Axis) error
}

// PPEC is implemented by mounts with permanent periodic error correction on RA.
type PPEC interface {
	PPECEnabled() bool
	SetPPEC(enabled bool) error
}

// AuxEncoders is implemented by mounts with auxiliary (dual) encoders.
type AuxEncoders interface {
	SetAuxEncoders(enabled bool) error
}

// AxisStatus is the state of one axis read during a tick.
type AxisStatus struct {
	Encoder coordinates.EncoderAxisState
	Running bool
}

// Snapshot is everything read from the mount during one tick.
// It is immutable once built.
type Snapshot struct {
	RA         AxisStatus
	DE         AxisStatus
	LST        float64
	Hemisphere coordinates.Hemisphere
	Pose       coordinates.MountPose
	Time       time.Time
}

// Axis returns the status of the given axis.
func (s Snapshot) Axis(axis Axis) AxisStatus {
	if axis == AxisDE {
		return s.DE
	}
	return s.RA
}

// Stopped reports whether neither axis is running.
func (s Snapshot) Stopped() bool {
	return !s.RA.Running && !s.DE.Running
}

// ReadGeometry reads the static encoder geometry and current count of an axis.
func ReadGeometry(m Mount, axis Axis) (coordinates.EncoderAxisState, error) {
	var st coordinates.EncoderAxisState
	var err error

	if st.Zero, err = m.EncoderZero(axis); err != nil {
		return st, transport("EncoderZero", axis, err)
	}
	if st.Total, err = m.EncoderTotal(axis); err != nil {
		return st, transport("EncoderTotal", axis, err)
	}
	if st.Home, err = m.EncoderHome(axis); err != nil {
		return st, transport("EncoderHome", axis, err)
	}
	if st.Position, err = m.Encoder(axis); err != nil {
		return st, transport("Encoder", axis, err)
	}
	if st.Total <= 0 {
		return st, &TransportError{Op: "EncoderTotal", Axis: axis, Err: errInvalidTotal}
	}
	return st, nil
}

// ReadSnapshot refreshes the encoder positions and running flags of both
// axes and derives the pose. ra and de carry the geometry read at init.
func ReadSnapshot(m Mount, ra, de coordinates.EncoderAxisState, lst float64,
	h coordinates.Hemisphere, now time.Time) (Snapshot, error) {
	snap := Snapshot{LST: lst, Hemisphere: h, Time: now}
	snap.RA.Encoder = ra
	snap.DE.Encoder = de

	for _, axis := range Axes {
		status := &snap.RA
		if axis == AxisDE {
			status = &snap.DE
		}

		pos, err := m.Encoder(axis)
		if err != nil {
			return snap, transport("Encoder", axis, err)
		}
		running, err := m.IsRunning(axis)
		if err != nil {
			return snap, transport("IsRunning", axis, err)
		}
		status.Encoder.Position = pos
		status.Running = running
	}

	snap.Pose = coordinates.EncodersToEquatorial(snap.RA.Encoder, snap.DE.Encoder, lst, h)
	return snap, nil
}
