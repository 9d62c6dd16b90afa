// Package tracking drives continuous RA/DEC tracking of an equatorial mount
// and holds the pier side and meridian rules tracking depends on.
package tracking

import (
	"fmt"
	"strings"

	"github.com/unklstewy/eqmount/pkg/coordinates"
	"github.com/unklstewy/eqmount/pkg/mount"
)

// Tracking rates in arcseconds per second.
const (
	// SiderealRate counters Earth's rotation
	SiderealRate = 15.041067

	// LunarRate follows the Moon's mean motion
	LunarRate = 14.685

	// SolarRate follows the Sun's mean motion
	SolarRate = 15.0
)

// Kind selects a tracking rate.
type Kind int

const (
	Sidereal Kind = iota
	Lunar
	Solar
	Custom
)

// String returns the rate kind name.
func (k Kind) String() string {
	switch k {
	case Sidereal:
		return "sidereal"
	case Lunar:
		return "lunar"
	case Solar:
		return "solar"
	case Custom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a rate kind name (case insensitive).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sidereal", "":
		return Sidereal, nil
	case "lunar":
		return Lunar, nil
	case "solar":
		return Solar, nil
	case "custom":
		return Custom, nil
	default:
		return Sidereal, fmt.Errorf("unknown tracking rate %q", s)
	}
}

// Settings holds the inputs rate selection depends on.
type Settings struct {
	Hemisphere coordinates.Hemisphere

	// ReverseDEC flips the DEC direction, e.g. for a mount with a reversed motor
	ReverseDEC bool

	// CustomRA and CustomDE are the user rates (arcsec/s) used for Custom
	CustomRA float64
	CustomDE float64
}

// InvertRA reports whether RA rates are sign flipped.
func (s Settings) InvertRA() bool {
	return s.Hemisphere == coordinates.South
}

// InvertDE reports whether DEC rates are sign flipped.
func (s Settings) InvertDE() bool {
	return (s.Hemisphere == coordinates.South) != s.ReverseDEC
}

// RateSpec is the pair of signed rates issued for one tracking kind.
type RateSpec struct {
	Kind     Kind
	RA       float64
	DE       float64
	InvertRA bool
	InvertDE bool
}

// Rate returns the signed rate for the axis.
func (r RateSpec) Rate(axis mount.Axis) float64 {
	if axis == mount.AxisDE {
		return r.DE
	}
	return r.RA
}

// RateFor returns the signed rate (arcsec/s) for one axis.
// Only Custom tracking moves the DEC axis.
func RateFor(kind Kind, axis mount.Axis, s Settings) float64 {
	var rate float64
	switch {
	case kind == Custom && axis == mount.AxisDE:
		rate = s.CustomDE
	case kind == Custom:
		rate = s.CustomRA
	case axis == mount.AxisDE:
		return 0
	case kind == Lunar:
		rate = LunarRate
	case kind == Solar:
		rate = SolarRate
	default:
		rate = SiderealRate
	}

	if axis == mount.AxisDE {
		if s.InvertDE() {
			rate = -rate
		}
		return rate
	}
	if s.InvertRA() {
		rate = -rate
	}
	return rate
}

// Spec computes both axis rates for a kind.
func Spec(kind Kind, s Settings) RateSpec {
	return RateSpec{
		Kind:     kind,
		RA:       RateFor(kind, mount.AxisRA, s),
		DE:       RateFor(kind, mount.AxisDE, s),
		InvertRA: s.InvertRA(),
		InvertDE: s.InvertDE(),
	}
}
