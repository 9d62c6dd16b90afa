package coordinates

import (
	"math"
	"time"
)

// EquatorialToHorizontal converts equatorial coordinates (RA/Dec) to
// horizontal coordinates (alt/az) for a given observer and time.
func EquatorialToHorizontal(equatorial EquatorialCoordinates, observer Observer, timestamp time.Time) HorizontalCoordinates {
	lst := CalculateLocalSiderealTime(observer.Location.Longitude, timestamp)

	// HA = LST - RA
	ha := lst - equatorial.RightAscension
	return HourAngleToHorizontal(ha, equatorial.Declination, observer.Location.Latitude)
}

// HourAngleToHorizontal converts an astronomical hour angle (LST - RA, in
// hours) and declination (degrees) to horizontal coordinates at the given
// latitude.
//
// The azimuth is computed without tan(dec) so positions at the celestial
// poles stay finite.
func HourAngleToHorizontal(haHours, decDeg, latDeg float64) HorizontalCoordinates {
	haRad := haHours * HoursToDegrees * DegreesToRadians
	decRad := decDeg * DegreesToRadians
	latRad := latDeg * DegreesToRadians

	// alt = asin(sin(dec)·sin(lat) + cos(dec)·cos(lat)·cos(HA))
	sinAlt := math.Sin(decRad)*math.Sin(latRad) +
		math.Cos(decRad)*math.Cos(latRad)*math.Cos(haRad)
	altRad := math.Asin(math.Max(-1, math.Min(1, sinAlt)))

	// az = atan2(-cos(dec)·sin(HA), sin(dec)·cos(lat) - cos(dec)·cos(HA)·sin(lat))
	azRad := math.Atan2(
		-math.Cos(decRad)*math.Sin(haRad),
		math.Sin(decRad)*math.Cos(latRad)-math.Cos(decRad)*math.Cos(haRad)*math.Sin(latRad),
	)

	horiz := ToHorizontalDegrees(altRad, azRad)
	horiz.Azimuth = NormalizeAzimuth(horiz.Azimuth)

	return horiz
}

// Julian date of the Unix epoch and of J2000.0.
const (
	unixEpochJD = 2440587.5
	j2000JD     = 2451545.0
)

// CalculateLocalSiderealTime returns the right ascension on the observer's
// meridian, in hours [0, 24), for a longitude in degrees east.
func CalculateLocalSiderealTime(longitudeDeg float64, utcTime time.Time) float64 {
	d := timeToJulianDate(utcTime) - j2000JD
	gmst := 18.697374558 + 24.06570982441908*d
	return NormalizeRA(gmst + longitudeDeg/HoursToDegrees)
}

// timeToJulianDate counts days from the Unix epoch, so sub-second precision
// survives at the mount's poll period.
func timeToJulianDate(t time.Time) float64 {
	return unixEpochJD + float64(t.UnixNano())/(86400*1e9)
}
