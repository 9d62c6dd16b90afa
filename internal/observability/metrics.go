// Package observability exposes controller telemetry as Prometheus metrics.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MountCollector bundles the Prometheus metrics of one mount controller. It
// implements controller.Metrics; a nil collector records nothing.
type MountCollector struct {
	gatherer prometheus.Gatherer

	TickDuration prometheus.Histogram
	TickErrors   prometheus.Counter

	GotosStarted   prometheus.Counter
	GotoResults    *prometheus.CounterVec
	GotoIterations prometheus.Histogram
	GotoRejections *prometheus.CounterVec

	GuidePulses   *prometheus.CounterVec
	AutoHome      prometheus.Gauge
	Aborts        prometheus.Counter
	Failures      *prometheus.CounterVec
	PolarError    *prometheus.GaugeVec
	PointingRA    prometheus.Gauge
	PointingDec   prometheus.Gauge
	TrackingState prometheus.Gauge
}

// NewMountCollector registers mount metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewMountCollector(reg prometheus.Registerer) (*MountCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &MountCollector{gatherer: gatherer}
	var err error

	if c.TickDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eqmount_tick_duration_seconds",
		Help:    "Time spent in one controller tick.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}), "eqmount_tick_duration_seconds"); err != nil {
		return nil, err
	}
	if c.TickErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eqmount_tick_errors_total",
		Help: "Ticks that ended in an error and aborted motion.",
	}), "eqmount_tick_errors_total"); err != nil {
		return nil, err
	}
	if c.GotosStarted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eqmount_gotos_started_total",
		Help: "Goto requests accepted and started.",
	}), "eqmount_gotos_started_total"); err != nil {
		return nil, err
	}
	if c.GotoResults, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eqmount_goto_results_total",
		Help: "Finished gotos, labeled by outcome (converged or exhausted).",
	}, []string{"outcome"}), "eqmount_goto_results_total"); err != nil {
		return nil, err
	}
	if c.GotoIterations, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eqmount_goto_iterations",
		Help:    "Corrective slews needed by finished gotos.",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
	}), "eqmount_goto_iterations"); err != nil {
		return nil, err
	}
	if c.GotoRejections, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eqmount_goto_rejections_total",
		Help: "Rejected goto requests, labeled by error kind.",
	}, []string{"reason"}), "eqmount_goto_rejections_total"); err != nil {
		return nil, err
	}
	if c.GuidePulses, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eqmount_guide_pulses_total",
		Help: "Accepted guide pulses, labeled by direction and completion path (sync or async).",
	}, []string{"direction", "path"}), "eqmount_guide_pulses_total"); err != nil {
		return nil, err
	}
	if c.AutoHome, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eqmount_autohome_phase",
		Help: "Current auto home phase, 0 when idle.",
	}), "eqmount_autohome_phase"); err != nil {
		return nil, err
	}
	if c.Aborts, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eqmount_aborts_total",
		Help: "Aborts of all motion, requested or after a failure.",
	}), "eqmount_aborts_total"); err != nil {
		return nil, err
	}
	if c.Failures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eqmount_failures_total",
		Help: "Operation failures that aborted motion, labeled by error kind.",
	}, []string{"kind"}), "eqmount_failures_total"); err != nil {
		return nil, err
	}
	if c.PolarError, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eqmount_polar_error_degrees",
		Help: "Latest polar alignment error, labeled by axis (altitude or azimuth).",
	}, []string{"axis"}), "eqmount_polar_error_degrees"); err != nil {
		return nil, err
	}
	if c.PointingRA, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eqmount_pointing_ra_hours",
		Help: "Right ascension the encoders point at.",
	}), "eqmount_pointing_ra_hours"); err != nil {
		return nil, err
	}
	if c.PointingDec, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eqmount_pointing_dec_degrees",
		Help: "Declination the encoders point at.",
	}), "eqmount_pointing_dec_degrees"); err != nil {
		return nil, err
	}
	if c.TrackingState, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eqmount_tracking",
		Help: "1 while tracking, 0 otherwise.",
	}), "eqmount_tracking"); err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *MountCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records the duration of a tick and whether it failed.
func (c *MountCollector) ObserveTick(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
	if err != nil {
		c.TickErrors.Inc()
	}
}

func (c *MountCollector) GotoStarted() {
	if c == nil {
		return
	}
	c.GotosStarted.Inc()
}

func (c *MountCollector) GotoCompleted(outcome string, iterations int) {
	if c == nil {
		return
	}
	c.GotoResults.WithLabelValues(outcome).Inc()
	c.GotoIterations.Observe(float64(iterations))
}

func (c *MountCollector) GotoRejected(reason string) {
	if c == nil {
		return
	}
	c.GotoRejections.WithLabelValues(reason).Inc()
}

func (c *MountCollector) GuidePulse(direction, path string) {
	if c == nil {
		return
	}
	c.GuidePulses.WithLabelValues(direction, path).Inc()
}

func (c *MountCollector) AutoHomePhase(phase int) {
	if c == nil {
		return
	}
	c.AutoHome.Set(float64(phase))
}

func (c *MountCollector) Abort() {
	if c == nil {
		return
	}
	c.Aborts.Inc()
}

func (c *MountCollector) Failure(kind string) {
	if c == nil {
		return
	}
	c.Failures.WithLabelValues(kind).Inc()
}

func (c *MountCollector) PolarEstimate(altitudeError, azimuthError float64) {
	if c == nil {
		return
	}
	c.PolarError.WithLabelValues("altitude").Set(altitudeError)
	c.PolarError.WithLabelValues("azimuth").Set(azimuthError)
}

// SetPose updates the pointing gauges.
func (c *MountCollector) SetPose(raHours, decDegrees float64, tracking bool) {
	if c == nil {
		return
	}
	c.PointingRA.Set(raHours)
	c.PointingDec.Set(decDegrees)
	if tracking {
		c.TrackingState.Set(1)
	} else {
		c.TrackingState.Set(0)
	}
}

// register adds a collector to reg, returning the already registered one
// when an identical metric exists.
func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}
