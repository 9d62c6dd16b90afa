package coordinates

import (
	"math"
	"testing"
)

// TestEncodersToEquatorialScenario checks the documented reference pose:
// an axis at its zero reference reads 6h of hour angle.
func TestEncodersToEquatorialScenario(t *testing.T) {
	ra := EncoderAxisState{Position: 500000, Zero: 500000, Total: 1000000}
	de := EncoderAxisState{Position: 500000, Zero: 500000, Total: 1000000}

	pose := EncodersToEquatorial(ra, de, 12.0, North)

	if math.Abs(pose.RightAscension-18.0) > 1e-9 {
		t.Errorf("Expected RA 18.0h, got %.6f", pose.RightAscension)
	}
	if math.Abs(pose.Declination) > 1e-9 {
		t.Errorf("Expected Dec 0, got %.6f", pose.Declination)
	}
	if pose.PierSide != PierWest {
		t.Errorf("Expected pier side west, got %s", pose.PierSide)
	}
	if math.Abs(pose.HourAngle-6.0) > 1e-9 {
		t.Errorf("Expected HA 6.0h, got %.6f", pose.HourAngle)
	}
}

// TestHourAngleRoundTrip checks encoder -> hour angle -> encoder stays within one count.
func TestHourAngleRoundTrip(t *testing.T) {
	geometries := []struct {
		name  string
		zero  int64
		total int64
	}{
		{"EQ mount 1M counts", 500000, 1000000},
		{"Zero at origin", 0, 1000000},
		{"Odd total", 8388608, 12960000},
		{"Small total", 100, 4096},
	}

	for _, g := range geometries {
		for _, h := range []Hemisphere{North, South} {
			t.Run(g.name+" "+h.String(), func(t *testing.T) {
				half := g.total / 2
				step := g.total / 997
				if step == 0 {
					step = 1
				}
				for c := g.zero - half; c < g.zero+half; c += step {
					ha := EncoderToHourAngle(c, g.zero, g.total, h)
					if ha < 0 || ha >= 24.0 {
						t.Fatalf("Hour angle out of range for count %d: %f", c, ha)
					}
					back := HourAngleToEncoder(ha, g.zero, g.total, h)
					if d := back - c; d > 1 || d < -1 {
						t.Fatalf("Round trip of %d gave %d (ha %.9f)", c, back, ha)
					}
				}
			})
		}
	}
}

// TestDeclinationRoundTrip checks encoder -> axis degrees -> encoder stays within one count.
func TestDeclinationRoundTrip(t *testing.T) {
	const zero, total = int64(500000), int64(1000000)

	for _, h := range []Hemisphere{North, South} {
		t.Run(h.String(), func(t *testing.T) {
			for c := zero - total/2; c < zero+total/2; c += 1237 {
				deg := EncoderToDeclinationDegrees(c, zero, total, h)
				if deg < 0 || deg >= 360.0 {
					t.Fatalf("Axis angle out of range for count %d: %f", c, deg)
				}
				back := DeclinationDegreesToEncoder(deg, zero, total, h)
				if d := back - c; d > 1 || d < -1 {
					t.Fatalf("Round trip of %d gave %d (deg %.9f)", c, back, deg)
				}
			}
		})
	}
}

// TestEquatorialEncoderRoundTrip converts RA/Dec to counts on each pier side and back.
func TestEquatorialEncoderRoundTrip(t *testing.T) {
	ra := EncoderAxisState{Zero: 0, Total: 1000000}
	de := EncoderAxisState{Zero: 0, Total: 1000000}
	const lst = 7.25

	targets := []EquatorialCoordinates{
		{RightAscension: 5.5, Declination: 22.0},
		{RightAscension: 10.0, Declination: -45.0},
		{RightAscension: 23.9, Declination: 0.0},
		{RightAscension: 0.1, Declination: 75.0},
		{RightAscension: 14.3, Declination: -80.0},
	}

	for _, h := range []Hemisphere{North, South} {
		for _, pier := range []PierSide{PierEast, PierWest} {
			for _, target := range targets {
				raCount, deCount := EquatorialToEncoders(target, pier, lst, ra, de, h)

				ra.Position = raCount
				de.Position = deCount
				pose := EncodersToEquatorial(ra, de, lst, h)

				if pose.PierSide != pier {
					t.Errorf("%s/%s %+v: expected pier %s, got %s", h, pier, target, pier, pose.PierSide)
				}
				if sep := AngularSeparationArcsec(target, pose.Equatorial()); sep > 5.0 {
					t.Errorf("%s/%s %+v: round trip off by %.2f arcsec (got %+v)", h, pier, target, sep, pose)
				}
			}
		}
	}
}

// TestPierSideIdempotent checks repeated conversions with the same inputs agree.
func TestPierSideIdempotent(t *testing.T) {
	ra := EncoderAxisState{Position: 123456, Zero: 0, Total: 1000000}

	for _, h := range []Hemisphere{North, South} {
		for deg := 0.0; deg < 360.0; deg += 7.5 {
			de := EncoderAxisState{Position: DeclinationDegreesToEncoder(deg, 0, 1000000, h), Zero: 0, Total: 1000000}

			first := EncodersToEquatorial(ra, de, 3.0, h)
			for i := 0; i < 3; i++ {
				again := EncodersToEquatorial(ra, de, 3.0, h)
				if again != first {
					t.Fatalf("%s deg %.1f: pose changed between calls: %+v vs %+v", h, deg, first, again)
				}
			}
		}
	}
}

// TestPierSideByHemisphere checks the over-the-pole range flips the pier side.
func TestPierSideByHemisphere(t *testing.T) {
	tests := []struct {
		name   string
		axis   float64
		h      Hemisphere
		want   PierSide
		wantRA float64
	}{
		{"North normal", 30.0, North, PierWest, 18.0},
		{"North over pole", 150.0, North, PierEast, 6.0},
		{"North boundary 270", 270.0, North, PierEast, 6.0},
		{"North just past 270", 271.0, North, PierWest, 18.0},
		{"South normal", 150.0, South, PierWest, 18.0},
		{"South mirrored", 30.0, South, PierEast, 6.0},
	}

	ra := EncoderAxisState{Position: 0, Zero: 0, Total: 1000000}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := EncoderAxisState{Position: DeclinationDegreesToEncoder(tt.axis, 0, 1000000, tt.h), Total: 1000000}
			pose := EncodersToEquatorial(ra, de, 12.0, tt.h)

			if pose.PierSide != tt.want {
				t.Errorf("Expected pier %s, got %s", tt.want, pose.PierSide)
			}
			if math.Abs(pose.RightAscension-tt.wantRA) > 1e-6 {
				t.Errorf("Expected RA %.1f, got %.6f", tt.wantRA, pose.RightAscension)
			}
			if pose.Declination < -90.0 || pose.Declination > 90.0 {
				t.Errorf("Declination out of range: %f", pose.Declination)
			}
		})
	}
}

// TestNormalizeHelpers tests the hour angle and declination folding helpers
func TestNormalizeHelpers(t *testing.T) {
	haTests := []struct {
		input, want float64
	}{
		{0.0, 0.0},
		{11.5, 11.5},
		{12.0, -12.0},
		{-12.0, -12.0},
		{13.0, -11.0},
		{-13.0, 11.0},
		{36.0, -12.0},
	}
	for _, tt := range haTests {
		if got := NormalizeHourAngle(tt.input); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeHourAngle(%.1f) = %.4f, want %.4f", tt.input, got, tt.want)
		}
	}

	for in, want := range map[float64]float64{24: 0, 25: 1, -1: 23, -12: 12, 48: 0, 23.99: 23.99} {
		if got := NormalizeRA(in); math.Abs(got-want) > 1e-9 {
			t.Errorf("NormalizeRA(%.2f) = %.4f, want %.4f", in, got, want)
		}
	}

	decTests := []struct {
		input, want float64
	}{
		{0.0, 0.0},
		{45.0, 45.0},
		{90.0, 90.0},
		{135.0, 45.0},
		{180.0, 0.0},
		{270.0, -90.0},
		{300.0, -60.0},
		{-30.0, -30.0},
	}
	for _, tt := range decTests {
		if got := NormalizeDeclination(tt.input); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeDeclination(%.1f) = %.4f, want %.4f", tt.input, got, tt.want)
		}
	}
}

// TestAngularSeparation tests great-circle distances between equatorial points
func TestAngularSeparation(t *testing.T) {
	tests := []struct {
		name string
		a, b EquatorialCoordinates
		want float64
	}{
		{"Same point", EquatorialCoordinates{5, 20}, EquatorialCoordinates{5, 20}, 0},
		{"One hour on equator", EquatorialCoordinates{0, 0}, EquatorialCoordinates{1, 0}, 15},
		{"Pole to equator", EquatorialCoordinates{3, 90}, EquatorialCoordinates{17, 0}, 90},
		{"Across RA wrap", EquatorialCoordinates{23.5, 0}, EquatorialCoordinates{0.5, 0}, 15},
		{"Opposite points", EquatorialCoordinates{0, 30}, EquatorialCoordinates{12, -30}, 180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AngularSeparation(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("AngularSeparation = %.6f, want %.6f", got, tt.want)
			}
		})
	}
}
