package coordinates

import (
	"math"

	"github.com/golang/geo/r3"
)

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// HoursToDegrees converts hours of right ascension / hour angle to degrees
	HoursToDegrees = 15.0

	// ArcsecondsPerDegree is the number of arcseconds in one degree
	ArcsecondsPerDegree = 3600.0
)

// Geographic represents a position on Earth's surface.
// Uses the WGS84 coordinate system (same as GPS).
type Geographic struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64

	// Altitude in meters above mean sea level (MSL)
	Altitude float64
}

// HorizontalCoordinates represents a position in the local horizontal coordinate system.
// Also known as Alt/Az (Altitude-Azimuth) coordinates.
type HorizontalCoordinates struct {
	// Altitude (elevation) in degrees above the horizon
	// 0 = horizon, 90 = zenith (straight up)
	Altitude float64

	// Azimuth in degrees from north (0-360)
	// 0/360 = North, 90 = East, 180 = South, 270 = West
	Azimuth float64
}

// EquatorialCoordinates represents a position in the equatorial coordinate system.
type EquatorialCoordinates struct {
	// RightAscension (RA) in decimal hours (0-24)
	RightAscension float64

	// Declination (Dec) in decimal degrees (-90 to +90)
	Declination float64
}

// Observer represents the geographic location of the observer/telescope.
type Observer struct {
	// Location is the observer's position on Earth
	Location Geographic

	// Timezone is the IANA timezone name (e.g., "America/New_York")
	Timezone string
}

// Hemisphere returns the hemisphere the observer is located in.
// The equator counts as north.
func (o Observer) Hemisphere() Hemisphere {
	if o.Location.Latitude < 0 {
		return South
	}
	return North
}

// ToHorizontalDegrees converts radians to HorizontalCoordinates in degrees.
func ToHorizontalDegrees(altRad, azRad float64) HorizontalCoordinates {
	return HorizontalCoordinates{
		Altitude: altRad * RadiansToDegrees,
		Azimuth:  azRad * RadiansToDegrees,
	}
}

// NormalizeAzimuth ensures azimuth is in the range [0, 360).
func NormalizeAzimuth(azimuth float64) float64 {
	return NormalizeDegrees(azimuth)
}

// NormalizeDegrees ensures an angle is in the range [0, 360).
func NormalizeDegrees(deg float64) float64 {
	d := math.Mod(deg, 360.0)
	if d < 0 {
		d += 360.0
	}
	if d >= 360.0 {
		d -= 360.0
	}
	return d
}

// NormalizeRA ensures right ascension is in the range [0, 24).
func NormalizeRA(ra float64) float64 {
	raHours := math.Mod(ra, 24.0)
	if raHours < 0 {
		raHours += 24.0
	}
	if raHours >= 24.0 {
		raHours -= 24.0
	}
	return raHours
}

// NormalizeHourAngle ensures an hour angle is in the range [-12, 12).
func NormalizeHourAngle(ha float64) float64 {
	h := NormalizeRA(ha + 12.0)
	return h - 12.0
}

// NormalizeDeclination folds an axis angle in [0, 360) onto a declination
// in [-90, 90]. Angles past the pole (90, 270] are mirrored back.
func NormalizeDeclination(deg float64) float64 {
	d := NormalizeDegrees(deg)
	switch {
	case d <= 90.0:
		return d
	case d <= 270.0:
		return 180.0 - d
	default:
		return d - 360.0
	}
}

// UnitVector returns the unit vector for a longitude-like angle (hours) and
// latitude-like angle (degrees) on the celestial sphere.
func UnitVector(hours, degrees float64) r3.Vector {
	lon := hours * HoursToDegrees * DegreesToRadians
	lat := degrees * DegreesToRadians
	return r3.Vector{
		X: math.Cos(lat) * math.Cos(lon),
		Y: math.Cos(lat) * math.Sin(lon),
		Z: math.Sin(lat),
	}
}

// AngularSeparation returns the great-circle distance between two equatorial
// positions in degrees.
func AngularSeparation(a, b EquatorialCoordinates) float64 {
	va := UnitVector(a.RightAscension, a.Declination)
	vb := UnitVector(b.RightAscension, b.Declination)
	return va.Angle(vb).Degrees()
}

// AngularSeparationArcsec returns the great-circle distance between two
// equatorial positions in arcseconds.
func AngularSeparationArcsec(a, b EquatorialCoordinates) float64 {
	return AngularSeparation(a, b) * ArcsecondsPerDegree
}
