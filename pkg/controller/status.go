package controller

import (
	"time"

	"github.com/unklstewy/eqmount/pkg/alignment"
	"github.com/unklstewy/eqmount/pkg/autohome"
	"github.com/unklstewy/eqmount/pkg/coordinates"
	"github.com/unklstewy/eqmount/pkg/guide"
	"github.com/unklstewy/eqmount/pkg/tracking"
)

// MotionFlags summarizes what the mount is doing.
type MotionFlags struct {
	RARunning bool
	DERunning bool

	// Slewing is true while a goto is active
	Slewing bool

	Tracking     bool
	TrackingKind tracking.Kind

	Parked  bool
	Parking bool

	Homing    bool
	HomePhase autohome.Phase
	Homed     bool

	GuideRA guide.PulseState
	GuideDE guide.PulseState
}

// Status is the view of the mount after the last tick.
type Status struct {
	Time time.Time
	LST  float64

	// Pose is derived from the encoders
	Pose coordinates.MountPose

	// Sky is Pose corrected by the alignment strategy
	Sky        coordinates.EquatorialCoordinates
	Horizontal coordinates.HorizontalCoordinates

	RA coordinates.EncoderAxisState
	DE coordinates.EncoderAxisState

	Flags    MotionFlags
	Meridian tracking.MeridianEvent

	Syncs int
	Polar *alignment.PolarEstimate

	LastError error
}

// Status returns the status from the last tick without touching the mount.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := &c.state
	snap := st.Snapshot

	sky, err := c.strategy.TelescopeToSky(snap.Pose.Equatorial(), snap.LST)
	if err != nil {
		sky = snap.Pose.Equatorial()
	}

	status := Status{
		Time:       snap.Time,
		LST:        snap.LST,
		Pose:       snap.Pose,
		Sky:        sky,
		Horizontal: coordinates.HourAngleToHorizontal(snap.LST-sky.RightAscension, sky.Declination, c.opts.Observer.Location.Latitude),
		RA:         st.RA,
		DE:         st.DE,
		Flags: MotionFlags{
			RARunning:    snap.RA.Running,
			DERunning:    snap.DE.Running,
			Slewing:      st.Goto != nil,
			Tracking:     st.Tracking.Tracking,
			TrackingKind: st.Tracking.Spec.Kind,
			Parked:       st.Parked,
			Parking:      st.Parking,
			Homing:       st.Home.Active(),
			HomePhase:    st.Home.Phase,
			Homed:        st.Homed,
			GuideRA:      st.Guide.RA.State,
			GuideDE:      st.Guide.DE.State,
		},
		Meridian:  st.Meridian,
		Syncs:     st.Syncs.Len(),
		LastError: st.LastError,
	}
	if st.Polar != nil {
		polar := *st.Polar
		status.Polar = &polar
	}
	return status
}
