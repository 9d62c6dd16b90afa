package coordinates

import (
	"math"
)

// Hemisphere identifies which celestial pole the mount's polar axis points at.
type Hemisphere int

const (
	// North is the northern hemisphere (polar axis toward the north celestial pole)
	North Hemisphere = iota
	// South is the southern hemisphere (polar axis toward the south celestial pole)
	South
)

// String returns the hemisphere name.
func (h Hemisphere) String() string {
	if h == South {
		return "south"
	}
	return "north"
}

// PierSide is the side of the pier the optical tube sits on.
type PierSide int

const (
	// PierUnknown means the pier side has not been determined
	PierUnknown PierSide = iota
	// PierEast means the tube is on the east side (mount has passed over the pole)
	PierEast
	// PierWest means the tube is on the west side (normal position)
	PierWest
)

// String returns the pier side name.
func (p PierSide) String() string {
	switch p {
	case PierEast:
		return "east"
	case PierWest:
		return "west"
	default:
		return "unknown"
	}
}

// EncoderAxisState is the raw encoder state of one mount axis.
type EncoderAxisState struct {
	// Position is the current signed encoder count
	Position int64

	// Zero is the reference count at which the axis angle is zero
	Zero int64

	// Home is the count the axis is set to after a successful auto-home
	Home int64

	// Total is the number of counts in one full revolution of the axis
	Total int64
}

// CountsPerDegree returns how many encoder counts make up one degree of axis rotation.
func (s EncoderAxisState) CountsPerDegree() float64 {
	return float64(s.Total) / 360.0
}

// DegreesToCounts converts an axis angle in degrees to the nearest whole number of counts.
func (s EncoderAxisState) DegreesToCounts(deg float64) int64 {
	return int64(math.Round(deg * s.CountsPerDegree()))
}

// ArcsecToCounts converts an axis angle in arcseconds to (fractional) counts.
func (s EncoderAxisState) ArcsecToCounts(arcsec float64) float64 {
	return arcsec / ArcsecondsPerDegree * s.CountsPerDegree()
}

// MountPose is the celestial pose derived from both axis encoders.
type MountPose struct {
	// RightAscension in decimal hours [0, 24)
	RightAscension float64

	// Declination in decimal degrees [-90, 90]
	Declination float64

	// HourAngle is RA minus LST in decimal hours [-12, 12)
	HourAngle float64

	// PierSide the tube currently sits on
	PierSide PierSide
}

// Equatorial returns the RA/Dec part of the pose.
func (p MountPose) Equatorial() EquatorialCoordinates {
	return EquatorialCoordinates{
		RightAscension: p.RightAscension,
		Declination:    p.Declination,
	}
}

// EncoderToHourAngle converts an RA-axis encoder count to the axis hour angle.
//
// The signed distance from zero is scaled to 24 hours and subtracted from a
// 6 hour phase, so sidereal tracking raises the count in the northern
// hemisphere. The southern hemisphere adds the distance instead.
//
// Returns: hours in [0, 24)
func EncoderToHourAngle(count, zero, total int64, h Hemisphere) float64 {
	x := float64(count-zero) / float64(total) * 24.0
	if h == South {
		return NormalizeRA(6.0 + x)
	}
	return NormalizeRA(6.0 - x)
}

// HourAngleToEncoder is the inverse of EncoderToHourAngle.
// The result lies within half a revolution of zero.
func HourAngleToEncoder(hours float64, zero, total int64, h Hemisphere) int64 {
	var shift float64
	if h == South {
		shift = NormalizeHourAngle(hours - 6.0)
	} else {
		shift = NormalizeHourAngle(6.0 - hours)
	}
	return zero + int64(math.Round(shift/24.0*float64(total)))
}

// EncoderToDeclinationDegrees converts a DEC-axis encoder count to the axis
// angle in degrees, mirrored for the southern hemisphere.
//
// Returns: degrees in [0, 360)
func EncoderToDeclinationDegrees(count, zero, total int64, h Hemisphere) float64 {
	d := float64(count-zero) / float64(total) * 360.0
	if h == South {
		d = -d
	}
	return NormalizeDegrees(d)
}

// DeclinationDegreesToEncoder is the inverse of EncoderToDeclinationDegrees.
// The result lies within half a revolution of zero.
func DeclinationDegreesToEncoder(deg float64, zero, total int64, h Hemisphere) int64 {
	if h == South {
		deg = -deg
	}
	s := NormalizeDegrees(deg)
	if s >= 180.0 {
		s -= 360.0
	}
	return zero + int64(math.Round(s/360.0*float64(total)))
}

// EncodersToEquatorial derives the mount pose from both axis encoders.
//
// In the northern hemisphere the tube is on the east side of the pier when
// the DEC axis angle lies in (90, 270], i.e. past the pole. The southern
// hemisphere uses the mirrored range. Passing the pole adds a 12 hour
// correction to RA.
func EncodersToEquatorial(ra, de EncoderAxisState, lst float64, h Hemisphere) MountPose {
	haAxis := EncoderToHourAngle(ra.Position, ra.Zero, ra.Total, h)
	deAxis := EncoderToDeclinationDegrees(de.Position, de.Zero, de.Total, h)

	raHours := haAxis + lst
	pier := PierWest
	overPole := deAxis > 90.0 && deAxis <= 270.0
	if h == South {
		if !overPole {
			raHours += 12.0
			pier = PierEast
		}
	} else if overPole {
		raHours -= 12.0
		pier = PierEast
	}

	raHours = NormalizeRA(raHours)
	return MountPose{
		RightAscension: raHours,
		Declination:    NormalizeDeclination(deAxis),
		HourAngle:      NormalizeHourAngle(raHours - lst),
		PierSide:       pier,
	}
}

// EquatorialToEncoders computes the encoder counts that put the tube at the
// given RA/Dec on the requested pier side. PierUnknown is treated as west.
func EquatorialToEncoders(target EquatorialCoordinates, pier PierSide, lst float64,
	ra, de EncoderAxisState, h Hemisphere) (int64, int64) {
	haAxis := target.RightAscension - lst
	if pier == PierEast {
		haAxis += 12.0
	}
	haAxis = NormalizeRA(haAxis)

	dec := target.Declination
	var deAxis float64
	switch {
	case h == North && pier == PierEast:
		deAxis = 180.0 - dec
	case h == North:
		deAxis = dec
	case pier == PierEast:
		deAxis = dec
	default:
		deAxis = 180.0 - dec
	}

	raCount := HourAngleToEncoder(haAxis, ra.Zero, ra.Total, h)
	deCount := DeclinationDegreesToEncoder(deAxis, de.Zero, de.Total, h)
	return raCount, deCount
}
