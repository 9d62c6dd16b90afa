package alignment

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/unklstewy/eqmount/pkg/coordinates"
)

// Strategy names accepted by NewStrategy.
const (
	StrategyNone     = "none"
	StrategyStandard = "standard"
	StrategyPlugin   = "plugin"
)

// Strategy maps between true sky coordinates and the coordinates the mount
// must be commanded to. It is fed every sync point.
type Strategy interface {
	Name() string

	// Sync adds an observation to the model
	Sync(p SyncPoint) error

	// SkyToTelescope returns the mount coordinates to command for target
	SkyToTelescope(target coordinates.EquatorialCoordinates, lst float64) (coordinates.EquatorialCoordinates, error)

	// TelescopeToSky corrects a mount position back to the sky
	TelescopeToSky(pos coordinates.EquatorialCoordinates, lst float64) (coordinates.EquatorialCoordinates, error)

	// Reset forgets every observation
	Reset()
}

// Model is an external pointing model driven by the Plugin strategy.
type Model interface {
	AddPoint(p SyncPoint) error
	SkyToTelescope(target coordinates.EquatorialCoordinates, lst float64) (coordinates.EquatorialCoordinates, error)
	TelescopeToSky(pos coordinates.EquatorialCoordinates, lst float64) (coordinates.EquatorialCoordinates, error)
	Clear()
}

// NewStrategy returns the strategy registered under name. The plugin
// strategy requires a model.
func NewStrategy(name string, model Model, logger *zap.SugaredLogger) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyNone:
		return None{}, nil
	case StrategyStandard:
		return &StandardSync{}, nil
	case StrategyPlugin:
		if model == nil {
			return nil, errors.New("plugin alignment needs a model")
		}
		return NewPlugin(model, logger), nil
	default:
		return nil, errors.Errorf("unknown alignment strategy %q", name)
	}
}

// None passes coordinates through unchanged.
type None struct{}

func (None) Name() string { return StrategyNone }

func (None) Sync(SyncPoint) error { return nil }

func (None) SkyToTelescope(target coordinates.EquatorialCoordinates, _ float64) (coordinates.EquatorialCoordinates, error) {
	return target, nil
}

func (None) TelescopeToSky(pos coordinates.EquatorialCoordinates, _ float64) (coordinates.EquatorialCoordinates, error) {
	return pos, nil
}

func (None) Reset() {}

// StandardSync applies the constant RA/Dec offset of the latest sync.
type StandardSync struct {
	deltaRA float64
	deltaDE float64
	synced  bool
}

func (s *StandardSync) Name() string { return StrategyStandard }

func (s *StandardSync) Sync(p SyncPoint) error {
	s.deltaRA = p.DeltaRA
	s.deltaDE = p.DeltaDE
	s.synced = true
	return nil
}

// Offset returns the applied offset in hours and degrees.
func (s *StandardSync) Offset() (float64, float64, bool) {
	return s.deltaRA, s.deltaDE, s.synced
}

func (s *StandardSync) SkyToTelescope(target coordinates.EquatorialCoordinates, _ float64) (coordinates.EquatorialCoordinates, error) {
	return shift(target, s.deltaRA, s.deltaDE), nil
}

func (s *StandardSync) TelescopeToSky(pos coordinates.EquatorialCoordinates, _ float64) (coordinates.EquatorialCoordinates, error) {
	return shift(pos, -s.deltaRA, -s.deltaDE), nil
}

func (s *StandardSync) Reset() {
	*s = StandardSync{}
}

func shift(eq coordinates.EquatorialCoordinates, dRA, dDE float64) coordinates.EquatorialCoordinates {
	return coordinates.EquatorialCoordinates{
		RightAscension: coordinates.NormalizeRA(eq.RightAscension + dRA),
		Declination:    math.Max(-90, math.Min(90, eq.Declination+dDE)),
	}
}

// Plugin delegates to an external model. Model failures fall back to the
// unmodified coordinates.
type Plugin struct {
	model  Model
	logger *zap.SugaredLogger
}

// NewPlugin wraps a pointing model.
func NewPlugin(model Model, logger *zap.SugaredLogger) *Plugin {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Plugin{model: model, logger: logger}
}

func (p *Plugin) Name() string { return StrategyPlugin }

func (p *Plugin) Sync(point SyncPoint) error {
	return errors.Wrap(p.model.AddPoint(point), "alignment model")
}

func (p *Plugin) SkyToTelescope(target coordinates.EquatorialCoordinates, lst float64) (coordinates.EquatorialCoordinates, error) {
	out, err := p.model.SkyToTelescope(target, lst)
	if err != nil {
		p.logger.Warnf("Alignment model failed, using raw target: %v", err)
		return target, nil
	}
	return out, nil
}

func (p *Plugin) TelescopeToSky(pos coordinates.EquatorialCoordinates, lst float64) (coordinates.EquatorialCoordinates, error) {
	out, err := p.model.TelescopeToSky(pos, lst)
	if err != nil {
		p.logger.Warnf("Alignment model failed, using raw position: %v", err)
		return pos, nil
	}
	return out, nil
}

func (p *Plugin) Reset() { p.model.Clear() }

// NearestPointModel is a simple pointing model that applies the offset of
// the sync point nearest to the requested position.
type NearestPointModel struct {
	points []SyncPoint
	max    int
}

// NewNearestPointModel keeps at most max points (oldest dropped first).
func NewNearestPointModel(max int) *NearestPointModel {
	if max <= 0 {
		max = 1
	}
	return &NearestPointModel{max: max}
}

// AddPoint stores a sync point.
func (m *NearestPointModel) AddPoint(p SyncPoint) error {
	m.points = append(m.points, p)
	if len(m.points) > m.max {
		m.points = m.points[len(m.points)-m.max:]
	}
	return nil
}

// Len returns the number of stored points.
func (m *NearestPointModel) Len() int { return len(m.points) }

func (m *NearestPointModel) SkyToTelescope(target coordinates.EquatorialCoordinates, _ float64) (coordinates.EquatorialCoordinates, error) {
	p, err := m.nearest(target, func(s SyncPoint) coordinates.EquatorialCoordinates { return s.Target })
	if err != nil {
		return target, err
	}
	return shift(target, p.DeltaRA, p.DeltaDE), nil
}

func (m *NearestPointModel) TelescopeToSky(pos coordinates.EquatorialCoordinates, _ float64) (coordinates.EquatorialCoordinates, error) {
	p, err := m.nearest(pos, func(s SyncPoint) coordinates.EquatorialCoordinates { return s.Telescope })
	if err != nil {
		return pos, err
	}
	return shift(pos, -p.DeltaRA, -p.DeltaDE), nil
}

// Clear drops every point.
func (m *NearestPointModel) Clear() { m.points = nil }

func (m *NearestPointModel) nearest(pos coordinates.EquatorialCoordinates,
	key func(SyncPoint) coordinates.EquatorialCoordinates) (SyncPoint, error) {
	if len(m.points) == 0 {
		return SyncPoint{}, errors.New("no sync points")
	}
	best, bestSep := m.points[0], math.Inf(1)
	for _, p := range m.points {
		if sep := coordinates.AngularSeparation(pos, key(p)); sep < bestSep {
			best, bestSep = p, sep
		}
	}
	return best, nil
}
