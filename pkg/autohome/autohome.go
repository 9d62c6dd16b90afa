// Package autohome locates the home position of both mount axes using the
// hardware index sensors.
//
// The procedure runs in six phases, each entered only once both axes have
// stopped:
//
//  1. Disable auxiliary encoders, reset and read both index registers to
//     learn which side of its index mark each axis sits on, then slew a few
//     degrees further away from home.
//  2. Re-read the index registers. An axis whose register changed crossed
//     its mark while moving away, so it slews away again.
//  3. Axes whose register changed seek back toward home at low speed until
//     the register changes again, settle briefly and stop. Their away
//     direction is reversed.
//  4. All axes seek toward home at low speed and stop the moment the index
//     fires, recording the latched position as the home index.
//  5. Both axes back off a fixed distance from the home index.
//  6. Both axes approach the home index with an absolute slew, after which
//     their position registers are set to the canonical home counts.
//
// Abort is the only transition that does not move forward.
package autohome

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/unklstewy/eqmount/pkg/mount"
)

// Phase is the stage of the homing procedure.
type Phase int

const (
	Idle Phase = iota
	Phase1
	Phase2
	Phase3
	Phase4
	Phase5
	Phase6
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Phase1:
		return "phase1"
	case Phase2:
		return "phase2"
	case Phase3:
		return "phase3"
	case Phase4:
		return "phase4"
	case Phase5:
		return "phase5"
	case Phase6:
		return "phase6"
	default:
		return "idle"
	}
}

// Config holds the homing parameters.
type Config struct {
	// SearchDegrees is the away slew of phases 1 and 2
	SearchDegrees float64

	// ClearDegrees is the back-off distance of phase 5
	ClearDegrees float64

	// SeekSpeed is the low speed of phases 3 and 4 in arcseconds per second
	SeekSpeed float64

	// Settle is how long an axis keeps moving after its index fired in phase 3
	Settle time.Duration

	// PollPeriod is the tick period, used to turn Settle into ticks
	PollPeriod time.Duration

	// SeekTimeout aborts phases 3 and 4 when the index never fires
	SeekTimeout time.Duration
}

// DefaultConfig returns the standard homing parameters.
func DefaultConfig() Config {
	return Config{
		SearchDegrees: 5.0,
		ClearDegrees:  10.0,
		SeekSpeed:     1800.0, // 0.5 degrees per second
		Settle:        time.Second,
		PollPeriod:    250 * time.Millisecond,
		SeekTimeout:   15 * time.Minute,
	}
}

// SettleTicks returns the number of ticks the phase 3 settle window lasts.
func (c Config) SettleTicks() int {
	if c.PollPeriod <= 0 || c.Settle <= 0 {
		return 0
	}
	return int(math.Ceil(float64(c.Settle) / float64(c.PollPeriod)))
}

// AxisProgress is the per-axis homing bookkeeping.
type AxisProgress struct {
	// Up is true when moving away from home increases the index reading
	Up bool

	Phase1Index int64
	Changed     bool

	Seeking    bool
	Detected   bool
	WaitTicks  int
	IndexStart int64

	HomeIndex int64
	Homed     bool
}

func (p AxisProgress) awaySign() int64 {
	if p.Up {
		return 1
	}
	return -1
}

// State is the homing state owned by the mount controller.
type State struct {
	Phase Phase
	RA    AxisProgress
	DE    AxisProgress

	// Commanded is set once the current phase issued its motion
	Commanded bool

	PhaseStarted time.Time
}

// Active reports whether homing is in progress.
func (s *State) Active() bool {
	return s.Phase != Idle
}

func (s *State) axis(a mount.Axis) *AxisProgress {
	if a == mount.AxisDE {
		return &s.DE
	}
	return &s.RA
}

// Machine drives the homing procedure against the mount.
type Machine struct {
	mount  mount.Mount
	cfg    Config
	logger *zap.SugaredLogger
}

// NewMachine creates a homing state machine.
func NewMachine(m mount.Mount, cfg Config, logger *zap.SugaredLogger) *Machine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Machine{mount: m, cfg: cfg, logger: logger}
}

// Start resets st and enters phase 1. Motion starts on the next tick with
// both axes stopped.
func (m *Machine) Start(st *State, now time.Time) {
	*st = State{}
	m.enter(st, Phase1, now)
}

// Abort stops both axes, turns the auxiliary encoders back on and returns
// st to Idle. It does nothing when homing is not running.
func (m *Machine) Abort(st *State) error {
	if !st.Active() {
		return nil
	}
	*st = State{}

	var err error
	for _, axis := range mount.Axes {
		err = multierr.Append(err, m.mount.Stop(axis))
	}
	if aux, ok := m.mount.(mount.AuxEncoders); ok {
		err = multierr.Append(err, aux.SetAuxEncoders(true))
	}
	m.logger.Warnf("Auto home aborted")
	return err
}

// Tick advances homing with the state read this tick. Phase transitions
// happen only when snap shows both axes stopped.
func (m *Machine) Tick(st *State, snap mount.Snapshot) error {
	if !st.Active() {
		return nil
	}

	if (st.Phase == Phase3 || st.Phase == Phase4) && m.cfg.SeekTimeout > 0 &&
		snap.Time.Sub(st.PhaseStarted) > m.cfg.SeekTimeout {
		phase := st.Phase
		return multierr.Append(
			errors.Errorf("auto home %s: index not found within %s", phase, m.cfg.SeekTimeout),
			m.Abort(st))
	}

	var err error
	switch st.Phase {
	case Phase1:
		err = m.phase1(st, snap)
	case Phase2:
		err = m.phase2(st, snap)
	case Phase3:
		err = m.phase3(st, snap)
	case Phase4:
		err = m.phase4(st, snap)
	case Phase5:
		err = m.phase5(st, snap)
	case Phase6:
		err = m.phase6(st, snap)
	}
	if err != nil {
		return errors.Wrapf(err, "auto home %s", st.Phase)
	}
	return nil
}

func (m *Machine) enter(st *State, phase Phase, now time.Time) {
	st.Phase = phase
	st.Commanded = false
	st.PhaseStarted = now
	m.logger.Debugf("Auto home entering %s", phase)
}

func (m *Machine) searchCounts(snap mount.Snapshot, axis mount.Axis, degrees float64) int64 {
	return snap.Axis(axis).Encoder.DegreesToCounts(degrees)
}

func (m *Machine) readIndex(axis mount.Axis) (int64, error) {
	if err := m.mount.ReadIndexer(axis); err != nil {
		return 0, err
	}
	return m.mount.LastIndexer(axis), nil
}

func (m *Machine) resetAndRead(axis mount.Axis) (int64, error) {
	if err := m.mount.ResetIndexer(axis); err != nil {
		return 0, err
	}
	return m.readIndex(axis)
}

func (m *Machine) phase1(st *State, snap mount.Snapshot) error {
	if !snap.Stopped() {
		return nil
	}
	if st.Commanded {
		m.enter(st, Phase2, snap.Time)
		return nil
	}

	if aux, ok := m.mount.(mount.AuxEncoders); ok {
		if err := aux.SetAuxEncoders(false); err != nil {
			return err
		}
	}

	var deltas [2]int64
	for i, axis := range mount.Axes {
		p := st.axis(axis)
		v, err := m.resetAndRead(axis)
		if err != nil {
			return err
		}
		p.Phase1Index = v
		p.Up = v == 0
		deltas[i] = p.awaySign() * m.searchCounts(snap, axis, m.cfg.SearchDegrees)
	}

	if err := m.mount.SlewTo(deltas[0], deltas[1]); err != nil {
		return err
	}
	st.Commanded = true
	m.logger.Infof("Auto home phase 1: RA up=%t DE up=%t", st.RA.Up, st.DE.Up)
	return nil
}

func (m *Machine) phase2(st *State, snap mount.Snapshot) error {
	if !snap.Stopped() {
		return nil
	}
	if st.Commanded {
		m.enter(st, Phase3, snap.Time)
		return nil
	}

	var deltas [2]int64
	for i, axis := range mount.Axes {
		p := st.axis(axis)
		v, err := m.readIndex(axis)
		if err != nil {
			return err
		}
		p.Changed = v != p.Phase1Index
		if p.Changed {
			deltas[i] = p.awaySign() * m.searchCounts(snap, axis, m.cfg.SearchDegrees)
		}
	}

	if deltas[0] == 0 && deltas[1] == 0 {
		m.enter(st, Phase3, snap.Time)
		return nil
	}
	if err := m.mount.SlewTo(deltas[0], deltas[1]); err != nil {
		return err
	}
	st.Commanded = true
	m.logger.Infof("Auto home phase 2: index changed RA=%t DE=%t, searching further", st.RA.Changed, st.DE.Changed)
	return nil
}

func (m *Machine) seekRate(p *AxisProgress) float64 {
	// Toward home is opposite to the away direction
	return -float64(p.awaySign()) * m.cfg.SeekSpeed
}

func (m *Machine) phase3(st *State, snap mount.Snapshot) error {
	if !st.Commanded {
		if !snap.Stopped() {
			return nil
		}
		for _, axis := range mount.Axes {
			p := st.axis(axis)
			if !p.Changed {
				continue
			}
			v, err := m.resetAndRead(axis)
			if err != nil {
				return err
			}
			p.IndexStart = v
			if err := m.mount.StartTracking(axis, m.seekRate(p)); err != nil {
				return err
			}
			p.Seeking = true
		}
		st.Commanded = true
		return nil
	}

	for _, axis := range mount.Axes {
		p := st.axis(axis)
		if !p.Seeking {
			continue
		}
		if !p.Detected {
			v, err := m.readIndex(axis)
			if err != nil {
				return err
			}
			if v != p.IndexStart {
				p.Detected = true
				p.WaitTicks = m.cfg.SettleTicks()
			}
		}
		if p.Detected {
			if p.WaitTicks > 0 {
				p.WaitTicks--
				continue
			}
			if err := m.mount.Stop(axis); err != nil {
				return err
			}
			p.Seeking = false
			p.Detected = false
			p.Up = !p.Up
			m.logger.Debugf("Auto home phase 3: %s index passed, away direction up=%t", axis, p.Up)
		}
	}

	if !st.RA.Seeking && !st.DE.Seeking && snap.Stopped() {
		m.enter(st, Phase4, snap.Time)
	}
	return nil
}

func (m *Machine) phase4(st *State, snap mount.Snapshot) error {
	if !st.Commanded {
		if !snap.Stopped() {
			return nil
		}
		for _, axis := range mount.Axes {
			p := st.axis(axis)
			v, err := m.resetAndRead(axis)
			if err != nil {
				return err
			}
			p.IndexStart = v
			if err := m.mount.StartTracking(axis, m.seekRate(p)); err != nil {
				return err
			}
			p.Seeking = true
		}
		st.Commanded = true
		return nil
	}

	for _, axis := range mount.Axes {
		p := st.axis(axis)
		if !p.Seeking {
			continue
		}
		v, err := m.readIndex(axis)
		if err != nil {
			return err
		}
		if v != p.IndexStart && v != 0 {
			if err := m.mount.Stop(axis); err != nil {
				return err
			}
			p.Seeking = false
			p.HomeIndex = v
			m.logger.Infof("Auto home phase 4: %s home index at %d", axis, v)
		}
	}

	if !st.RA.Seeking && !st.DE.Seeking && snap.Stopped() {
		m.enter(st, Phase5, snap.Time)
	}
	return nil
}

func (m *Machine) phase5(st *State, snap mount.Snapshot) error {
	if !snap.Stopped() {
		return nil
	}
	if st.Commanded {
		m.enter(st, Phase6, snap.Time)
		return nil
	}

	var deltas [2]int64
	for i, axis := range mount.Axes {
		p := st.axis(axis)
		target := p.HomeIndex + p.awaySign()*m.searchCounts(snap, axis, m.cfg.ClearDegrees)
		deltas[i] = target - snap.Axis(axis).Encoder.Position
	}
	if err := m.mount.SlewTo(deltas[0], deltas[1]); err != nil {
		return err
	}
	st.Commanded = true
	return nil
}

func (m *Machine) phase6(st *State, snap mount.Snapshot) error {
	if !snap.Stopped() {
		return nil
	}
	if !st.Commanded {
		// Approach moving toward home, i.e. against the away direction
		if err := m.mount.AbsSlewTo(st.RA.HomeIndex, st.DE.HomeIndex, !st.RA.Up, !st.DE.Up); err != nil {
			return err
		}
		st.Commanded = true
		return nil
	}

	for _, axis := range mount.Axes {
		if err := m.mount.SetEncoder(axis, snap.Axis(axis).Encoder.Home); err != nil {
			return err
		}
		st.axis(axis).Homed = true
	}
	if aux, ok := m.mount.(mount.AuxEncoders); ok {
		if err := aux.SetAuxEncoders(true); err != nil {
			return err
		}
	}

	m.logger.Infof("Auto home complete: RA index %d, DE index %d", st.RA.HomeIndex, st.DE.HomeIndex)
	m.enter(st, Idle, snap.Time)
	return nil
}
