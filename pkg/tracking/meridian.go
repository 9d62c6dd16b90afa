package tracking

import (
	"math"

	"github.com/unklstewy/eqmount/pkg/coordinates"
)

// MeridianEvent describes what happens when tracking crosses the meridian.
type MeridianEvent int

const (
	// NoMeridianEvent means tracking can continue normally
	NoMeridianEvent MeridianEvent = iota

	// MeridianFlipRequired means the tube has tracked past the meridian on
	// the wrong side of the pier and must be flipped
	MeridianFlipRequired

	// HorizonCrossing means the target went below the minimum altitude
	// Tracking must stop
	HorizonCrossing
)

// String returns the event name.
func (e MeridianEvent) String() string {
	switch e {
	case MeridianFlipRequired:
		return "meridian_flip_required"
	case HorizonCrossing:
		return "horizon_crossing"
	default:
		return "none"
	}
}

// TrackingLimits defines the safe tracking limits for an equatorial mount.
type TrackingLimits struct {
	// MinAltitude is the minimum altitude in degrees.
	// Below this tracking is stopped
	MinAltitude float64

	// MeridianFlipHourAngle is how far past the meridian (hours) the mount may
	// track on the wrong pier side before a flip is required
	MeridianFlipHourAngle float64
}

// DefaultTrackingLimits returns conservative tracking limits suitable for most mounts.
func DefaultTrackingLimits() TrackingLimits {
	return TrackingLimits{
		MinAltitude:           0.0,  // horizon
		MeridianFlipHourAngle: 0.25, // 15 minutes past the meridian
	}
}

// TargetHourAngle returns the hour angle of a target as RA minus LST,
// normalized to [-12, 12).
func TargetHourAngle(ra, lst float64) float64 {
	return coordinates.NormalizeHourAngle(ra - lst)
}

// ChoosePierSide picks the pier side for a goto target.
// A negative hour angle puts the tube on the east side, otherwise west.
func ChoosePierSide(ra, lst float64) coordinates.PierSide {
	if TargetHourAngle(ra, lst) < 0 {
		return coordinates.PierEast
	}
	return coordinates.PierWest
}

// CheckMeridianEvent determines whether tracking at the given pose runs
// into the horizon or past the meridian on the wrong pier side.
//
// Parameters:
//   - pose: Current mount pose
//   - latitude: Observer latitude in degrees
//   - limits: Tracking limits for this mount
//
// Returns: MeridianEvent type and a recommendation string
func CheckMeridianEvent(pose coordinates.MountPose, latitude float64, limits TrackingLimits) (MeridianEvent, string) {
	// HourAngleToHorizontal expects LST - RA
	horiz := coordinates.HourAngleToHorizontal(-pose.HourAngle, pose.Declination, latitude)
	if horiz.Altitude < limits.MinAltitude {
		return HorizonCrossing, "Target is below minimum altitude - tracking not possible"
	}

	if pose.PierSide == coordinates.PierUnknown {
		return NoMeridianEvent, "Tracking OK"
	}

	ha := pose.HourAngle
	wanted := coordinates.PierWest
	if ha < 0 {
		wanted = coordinates.PierEast
	}
	if wanted != pose.PierSide && math.Abs(ha) > limits.MeridianFlipHourAngle && math.Abs(ha) < 6.0 {
		return MeridianFlipRequired, "Hour angle limit exceeded - meridian flip required (pier on " + pose.PierSide.String() + " side)"
	}

	return NoMeridianEvent, "Tracking OK"
}

// RecommendTrackingStrategy provides recommendations for a meridian event.
func RecommendTrackingStrategy(event MeridianEvent) string {
	switch event {
	case NoMeridianEvent:
		return "Continue tracking normally"

	case MeridianFlipRequired:
		return "Issue a goto to the current target to flip the pier side, then tracking resumes."

	case HorizonCrossing:
		return "Target below horizon - tracking stopped. Wait for target to rise above minimum altitude."

	default:
		return "Unknown tracking condition"
	}
}

// ShouldStopTracking reports whether the event requires tracking to stop.
func ShouldStopTracking(event MeridianEvent) bool {
	return event == HorizonCrossing
}
