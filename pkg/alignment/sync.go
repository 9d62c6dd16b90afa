// Package alignment records sync observations, maps sky coordinates to
// mount coordinates through a selectable strategy and estimates polar-axis
// misalignment from two syncs.
package alignment

import (
	"time"

	"github.com/google/uuid"

	"github.com/unklstewy/eqmount/pkg/coordinates"
)

// SyncPoint is one sync observation: where the mount believed it pointed
// (Telescope) when the user declared it was really on Target.
type SyncPoint struct {
	ID   uuid.UUID
	Time time.Time

	// LST at the time of the sync, in hours
	LST float64

	// Target is the commanded (true sky) position
	Target coordinates.EquatorialCoordinates

	// Telescope is the position derived from the encoders
	Telescope coordinates.EquatorialCoordinates

	PierSide coordinates.PierSide

	// DeltaRA is Telescope minus Target RA in hours [-12, 12)
	DeltaRA float64

	// DeltaDE is Telescope minus Target Dec in degrees
	DeltaDE float64

	// DeltaRACounts and DeltaDECounts are the encoder offsets between the
	// current position and the counts Target maps to on the same pier
	DeltaRACounts int64
	DeltaDECounts int64
}

// NewSyncPoint builds a sync point from the current pose and encoder state.
func NewSyncPoint(at time.Time, lst float64, target coordinates.EquatorialCoordinates,
	pose coordinates.MountPose, ra, de coordinates.EncoderAxisState, h coordinates.Hemisphere) SyncPoint {
	raCount, deCount := coordinates.EquatorialToEncoders(target, pose.PierSide, lst, ra, de, h)

	return SyncPoint{
		ID:            uuid.New(),
		Time:          at,
		LST:           lst,
		Target:        target,
		Telescope:     pose.Equatorial(),
		PierSide:      pose.PierSide,
		DeltaRA:       coordinates.NormalizeHourAngle(pose.RightAscension - target.RightAscension),
		DeltaDE:       pose.Declination - target.Declination,
		DeltaRACounts: ra.Position - raCount,
		DeltaDECounts: de.Position - deCount,
	}
}

// TargetHourAngle returns the hour angle (LST - RA) of the true position.
func (s SyncPoint) TargetHourAngle() float64 {
	return coordinates.NormalizeHourAngle(s.LST - s.Target.RightAscension)
}

// TelescopeHourAngle returns the hour angle (LST - RA) the mount reported.
func (s SyncPoint) TelescopeHourAngle() float64 {
	return coordinates.NormalizeHourAngle(s.LST - s.Telescope.RightAscension)
}

// History keeps the two most recent sync points.
type History struct {
	Current  *SyncPoint
	Previous *SyncPoint
}

// Push records a new sync point, dropping the oldest.
func (h *History) Push(p SyncPoint) {
	h.Previous = h.Current
	h.Current = &p
}

// Pair returns the previous and current points when both exist.
func (h *History) Pair() (SyncPoint, SyncPoint, bool) {
	if h.Current == nil || h.Previous == nil {
		return SyncPoint{}, SyncPoint{}, false
	}
	return *h.Previous, *h.Current, true
}

// Len returns the number of retained points.
func (h *History) Len() int {
	switch {
	case h.Previous != nil:
		return 2
	case h.Current != nil:
		return 1
	default:
		return 0
	}
}

// Clear forgets both points.
func (h *History) Clear() {
	h.Current = nil
	h.Previous = nil
}
