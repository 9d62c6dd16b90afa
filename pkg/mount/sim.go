package mount

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// AxisGeometry describes one simulated axis. All counts are in the encoder
// frame the simulator starts in.
type AxisGeometry struct {
	Zero  int64
	Total int64
	Home  int64
	Start int64

	// IndexMark is where the index sensor fires
	IndexMark int64

	// IndexSkew widens the region just above the mark that a reset still
	// reports as below it, the way a sensor with hysteresis does
	IndexSkew int64
}

// SimulatorOptions configures a Simulator.
type SimulatorOptions struct {
	RA AxisGeometry
	DE AxisGeometry

	// SlewSpeed in degrees per second
	SlewSpeed float64

	// InstantSlew completes every slew inside the command call
	InstantSlew bool

	// SlewScale is the fraction of each relative slew actually travelled.
	// Values other than 1 model a mount that needs goto iterations.
	SlewScale float64

	// PPEC starts with periodic error correction enabled
	PPEC bool

	Clock clock.Clock
}

// DefaultSimulatorOptions returns a simulated mount with typical geometry:
// 9024000 counts per revolution, zero at 0x800000, the DEC home on the pole
// and both axes parked a little away from their index marks.
func DefaultSimulatorOptions() SimulatorOptions {
	const zero, total = int64(0x800000), int64(9024000)
	deHome := zero + total/4

	return SimulatorOptions{
		RA: AxisGeometry{
			Zero:      zero,
			Total:     total,
			Home:      zero,
			Start:     zero + total/18,
			IndexMark: zero,
		},
		DE: AxisGeometry{
			Zero:      zero,
			Total:     total,
			Home:      deHome,
			Start:     deHome - total/24,
			IndexMark: deHome,
		},
		SlewSpeed: 4.0,
		SlewScale: 1.0,
		Clock:     clock.New(),
	}
}

// SlewCall records a SlewTo command.
type SlewCall struct {
	DeltaRA int64
	DeltaDE int64
}

// AbsSlewCall records an AbsSlewTo command.
type AbsSlewCall struct {
	RA   int64
	DE   int64
	RAUp bool
	DEUp bool
}

// TrackingCall records a StartTracking command.
type TrackingCall struct {
	Axis Axis
	Rate float64
}

type simAxis struct {
	geo AxisGeometry

	phys   float64 // physical position in start-frame counts
	offset float64 // encoder reading = phys + offset

	running bool
	slewing bool
	target  float64 // physical
	rate    float64 // counts per second while tracking

	indexArmed bool
	indexReg   int64
	indexLast  int64
}

func (a *simAxis) reading() int64 {
	return int64(math.Round(a.phys + a.offset))
}

func (a *simAxis) countsPerArcsec() float64 {
	return float64(a.geo.Total) / 360.0 / 3600.0
}

// moveTo advances the physical position and latches the index register
// when the mark is crossed.
func (a *simAxis) moveTo(p float64) {
	mark := float64(a.geo.IndexMark)
	if a.indexArmed && (a.phys < mark) != (p < mark) {
		a.indexReg = int64(math.Round(mark + a.offset))
		a.indexArmed = false
	}
	a.phys = p
}

// Simulator is an in-memory Mount. Motion advances only through Step or Run.
type Simulator struct {
	mu   sync.Mutex
	opts SimulatorOptions
	axes [2]*simAxis

	ppec bool
	aux  bool

	faults map[string]error

	slewCalls     []SlewCall
	absSlewCalls  []AbsSlewCall
	trackingCalls []TrackingCall
	stopCalls     []Axis
}

// NewSimulator creates a simulated mount.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.SlewScale == 0 {
		opts.SlewScale = 1.0
	}
	if opts.SlewSpeed <= 0 {
		opts.SlewSpeed = 4.0
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	s := &Simulator{
		opts:   opts,
		ppec:   opts.PPEC,
		aux:    true,
		faults: make(map[string]error),
	}
	for i, geo := range []AxisGeometry{opts.RA, opts.DE} {
		s.axes[i] = &simAxis{geo: geo, phys: float64(geo.Start)}
	}
	return s
}

func (s *Simulator) axis(a Axis) *simAxis {
	if a == AxisDE {
		return s.axes[1]
	}
	return s.axes[0]
}

// FailOn makes every later call of op (a Mount method name) return err.
// A nil err clears the fault.
func (s *Simulator) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *Simulator) fault(op string) error {
	return s.faults[op]
}

func (s *Simulator) Encoder(axis Axis) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Encoder"); err != nil {
		return 0, err
	}
	return s.axis(axis).reading(), nil
}

func (s *Simulator) EncoderZero(axis Axis) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("EncoderZero"); err != nil {
		return 0, err
	}
	return s.axis(axis).geo.Zero, nil
}

func (s *Simulator) EncoderTotal(axis Axis) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("EncoderTotal"); err != nil {
		return 0, err
	}
	return s.axis(axis).geo.Total, nil
}

func (s *Simulator) EncoderHome(axis Axis) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("EncoderHome"); err != nil {
		return 0, err
	}
	return s.axis(axis).geo.Home, nil
}

func (s *Simulator) SetEncoder(axis Axis, count int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SetEncoder"); err != nil {
		return err
	}
	a := s.axis(axis)
	a.offset = float64(count) - a.phys
	return nil
}

func (s *Simulator) SlewTo(deltaRA, deltaDE int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SlewTo"); err != nil {
		return err
	}
	s.slewCalls = append(s.slewCalls, SlewCall{DeltaRA: deltaRA, DeltaDE: deltaDE})

	for i, d := range []int64{deltaRA, deltaDE} {
		a := s.axes[i]
		if d == 0 {
			continue
		}
		s.startSlew(a, a.phys+float64(d)*s.opts.SlewScale)
	}
	return nil
}

func (s *Simulator) AbsSlewTo(ra, de int64, raUp, deUp bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("AbsSlewTo"); err != nil {
		return err
	}
	s.absSlewCalls = append(s.absSlewCalls, AbsSlewCall{RA: ra, DE: de, RAUp: raUp, DEUp: deUp})

	for i, target := range []int64{ra, de} {
		a := s.axes[i]
		s.startSlew(a, float64(target)-a.offset)
	}
	return nil
}

func (s *Simulator) startSlew(a *simAxis, target float64) {
	a.rate = 0
	if s.opts.InstantSlew {
		a.moveTo(target)
		a.running = false
		a.slewing = false
		return
	}
	a.target = target
	a.slewing = true
	a.running = true
}

func (s *Simulator) Stop(axis Axis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Stop"); err != nil {
		return err
	}
	s.stopCalls = append(s.stopCalls, axis)
	a := s.axis(axis)
	a.running = false
	a.slewing = false
	a.rate = 0
	return nil
}

func (s *Simulator) StartTracking(axis Axis, arcsecPerSec float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("StartTracking"); err != nil {
		return err
	}
	s.trackingCalls = append(s.trackingCalls, TrackingCall{Axis: axis, Rate: arcsecPerSec})
	a := s.axis(axis)
	a.slewing = false
	a.rate = arcsecPerSec * a.countsPerArcsec()
	a.running = arcsecPerSec != 0
	return nil
}

func (s *Simulator) IsRunning(axis Axis) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("IsRunning"); err != nil {
		return false, err
	}
	return s.axis(axis).running, nil
}

func (s *Simulator) ReadIndexer(axis Axis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ReadIndexer"); err != nil {
		return err
	}
	a := s.axis(axis)
	a.indexLast = a.indexReg
	return nil
}

func (s *Simulator) LastIndexer(axis Axis) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.axis(axis).indexLast
}

func (s *Simulator) ResetIndexer(axis Axis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ResetIndexer"); err != nil {
		return err
	}
	a := s.axis(axis)
	a.indexArmed = true
	if a.phys > float64(a.geo.IndexMark+a.geo.IndexSkew) {
		a.indexReg = 0
	} else {
		a.indexReg = IndexSideMark
	}
	return nil
}

// PPECEnabled reports whether periodic error correction is on.
func (s *Simulator) PPECEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ppec
}

// SetPPEC switches periodic error correction.
func (s *Simulator) SetPPEC(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SetPPEC"); err != nil {
		return err
	}
	s.ppec = enabled
	return nil
}

// SetAuxEncoders switches the auxiliary encoders.
func (s *Simulator) SetAuxEncoders(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SetAuxEncoders"); err != nil {
		return err
	}
	s.aux = enabled
	return nil
}

// AuxEncodersEnabled reports whether the auxiliary encoders are on.
func (s *Simulator) AuxEncodersEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aux
}

// Step advances the simulated motion by dt.
func (s *Simulator) Step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := dt.Seconds()
	for _, a := range s.axes {
		switch {
		case a.slewing:
			step := s.opts.SlewSpeed * float64(a.geo.Total) / 360.0 * sec
			diff := a.target - a.phys
			if math.Abs(diff) <= step {
				a.moveTo(a.target)
				a.slewing = false
				a.running = false
			} else {
				a.moveTo(a.phys + math.Copysign(step, diff))
			}
		case a.running:
			a.moveTo(a.phys + a.rate*sec)
		}
	}
}

// Run steps the simulation every period until ctx is done.
func (s *Simulator) Run(ctx context.Context, period time.Duration) error {
	ticker := s.opts.Clock.Ticker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Step(period)
		}
	}
}

// Place moves an axis so its encoder reads count, without recording a command.
func (s *Simulator) Place(axis Axis, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.axis(axis)
	a.phys = float64(count) - a.offset
}

// PhysicalPosition returns the axis position in the simulator's start frame.
func (s *Simulator) PhysicalPosition(axis Axis) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(math.Round(s.axis(axis).phys))
}

// TrackingRate returns the rate in arcseconds per second the axis is running at.
func (s *Simulator) TrackingRate(axis Axis) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.axis(axis)
	return a.rate / a.countsPerArcsec()
}

// SlewCalls returns the recorded SlewTo commands.
func (s *Simulator) SlewCalls() []SlewCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SlewCall(nil), s.slewCalls...)
}

// AbsSlewCalls returns the recorded AbsSlewTo commands.
func (s *Simulator) AbsSlewCalls() []AbsSlewCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AbsSlewCall(nil), s.absSlewCalls...)
}

// TrackingCalls returns the recorded StartTracking commands.
func (s *Simulator) TrackingCalls() []TrackingCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TrackingCall(nil), s.trackingCalls...)
}

// StopCalls returns the axes Stop was called for, in order.
func (s *Simulator) StopCalls() []Axis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Axis(nil), s.stopCalls...)
}

// ClearCalls forgets all recorded commands.
func (s *Simulator) ClearCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slewCalls = nil
	s.absSlewCalls = nil
	s.trackingCalls = nil
	s.stopCalls = nil
}
