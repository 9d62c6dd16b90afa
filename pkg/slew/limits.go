package slew

import (
	"github.com/unklstewy/eqmount/pkg/coordinates"
	"github.com/unklstewy/eqmount/pkg/mount"
)

// Limits are the encoder travel bounds a goto target must respect.
type Limits struct {
	// East and West bound the RA axis count
	East int64
	West int64

	// DELow and DEHigh bound the DEC axis count when CheckDE is set
	DELow   int64
	DEHigh  int64
	CheckDE bool
}

// DefaultLimits derives RA bounds from the home count plus or minus a safety
// margin. The two hemispheres use independent constants: in the north the
// west bound lies above home, in the south below it.
func DefaultLimits(ra coordinates.EncoderAxisState, h coordinates.Hemisphere, marginDeg float64) Limits {
	m := ra.DegreesToCounts(marginDeg)
	if h == coordinates.South {
		return Limits{East: ra.Home + m, West: ra.Home - m}
	}
	return Limits{East: ra.Home - m, West: ra.Home + m}
}

// Check returns an ErrLimitViolation error when either count is out of bounds.
func (l Limits) Check(raCount, deCount int64) error {
	lo, hi := l.East, l.West
	if lo > hi {
		lo, hi = hi, lo
	}
	if raCount < lo || raCount > hi {
		return mount.LimitViolation("RA target %d outside [%d, %d]", raCount, lo, hi)
	}

	if l.CheckDE {
		lo, hi = l.DELow, l.DEHigh
		if lo > hi {
			lo, hi = hi, lo
		}
		if deCount < lo || deCount > hi {
			return mount.LimitViolation("DE target %d outside [%d, %d]", deCount, lo, hi)
		}
	}
	return nil
}
