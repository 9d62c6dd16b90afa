package mount

// Guarded wraps a Mount so every failing call returns a *TransportError.
// The result also implements PPEC and AuxEncoders; when the wrapped mount
// lacks a capability those calls are no-ops.
func Guarded(m Mount) *GuardedMount {
	if g, ok := m.(*GuardedMount); ok {
		return g
	}
	return &GuardedMount{m: m}
}

// GuardedMount is the wrapper returned by Guarded.
type GuardedMount struct {
	m Mount
}

// Unwrap returns the wrapped mount.
func (g *GuardedMount) Unwrap() Mount { return g.m }

func (g *GuardedMount) Encoder(axis Axis) (int64, error) {
	v, err := g.m.Encoder(axis)
	return v, transport("Encoder", axis, err)
}

func (g *GuardedMount) EncoderZero(axis Axis) (int64, error) {
	v, err := g.m.EncoderZero(axis)
	return v, transport("EncoderZero", axis, err)
}

func (g *GuardedMount) EncoderTotal(axis Axis) (int64, error) {
	v, err := g.m.EncoderTotal(axis)
	return v, transport("EncoderTotal", axis, err)
}

func (g *GuardedMount) EncoderHome(axis Axis) (int64, error) {
	v, err := g.m.EncoderHome(axis)
	return v, transport("EncoderHome", axis, err)
}

func (g *GuardedMount) SetEncoder(axis Axis, count int64) error {
	return transport("SetEncoder", axis, g.m.SetEncoder(axis, count))
}

func (g *GuardedMount) SlewTo(deltaRA, deltaDE int64) error {
	return transport("SlewTo", AxisBoth, g.m.SlewTo(deltaRA, deltaDE))
}

func (g *GuardedMount) AbsSlewTo(ra, de int64, raUp, deUp bool) error {
	return transport("AbsSlewTo", AxisBoth, g.m.AbsSlewTo(ra, de, raUp, deUp))
}

func (g *GuardedMount) Stop(axis Axis) error {
	return transport("Stop", axis, g.m.Stop(axis))
}

func (g *GuardedMount) StartTracking(axis Axis, arcsecPerSec float64) error {
	return transport("StartTracking", axis, g.m.StartTracking(axis, arcsecPerSec))
}

func (g *GuardedMount) IsRunning(axis Axis) (bool, error) {
	v, err := g.m.IsRunning(axis)
	return v, transport("IsRunning", axis, err)
}

func (g *GuardedMount) ReadIndexer(axis Axis) error {
	return transport("ReadIndexer", axis, g.m.ReadIndexer(axis))
}

func (g *GuardedMount) LastIndexer(axis Axis) int64 {
	return g.m.LastIndexer(axis)
}

func (g *GuardedMount) ResetIndexer(axis Axis) error {
	return transport("ResetIndexer", axis, g.m.ResetIndexer(axis))
}

// PPECEnabled reports whether periodic error correction is running.
func (g *GuardedMount) PPECEnabled() bool {
	if p, ok := g.m.(PPEC); ok {
		return p.PPECEnabled()
	}
	return false
}

// SetPPEC switches periodic error correction.
func (g *GuardedMount) SetPPEC(enabled bool) error {
	if p, ok := g.m.(PPEC); ok {
		return transport("SetPPEC", AxisRA, p.SetPPEC(enabled))
	}
	return nil
}

// SetAuxEncoders switches the auxiliary encoders.
func (g *GuardedMount) SetAuxEncoders(enabled bool) error {
	if a, ok := g.m.(AuxEncoders); ok {
		return transport("SetAuxEncoders", AxisBoth, a.SetAuxEncoders(enabled))
	}
	return nil
}
