package controller

import (
	"context"
	"time"

	"github.com/unklstewy/eqmount/pkg/alignment"
)

// Metrics receives controller telemetry. internal/observability provides the
// Prometheus implementation.
type Metrics interface {
	ObserveTick(d time.Duration, err error)
	GotoStarted()
	GotoCompleted(outcome string, iterations int)
	GotoRejected(reason string)
	GuidePulse(direction, path string)
	AutoHomePhase(phase int)
	Abort()
	Failure(kind string)
	PolarEstimate(altitudeError, azimuthError float64)
	SetPose(raHours, decDegrees float64, tracking bool)
}

// Recorder persists sync history.
type Recorder interface {
	RecordSync(ctx context.Context, p alignment.SyncPoint) error
	RecordPolarEstimate(ctx context.Context, e alignment.PolarEstimate) error
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(time.Duration, error) {}
func (nopMetrics) GotoStarted() {}
func (nopMetrics) GotoCompleted(string, int) {}
func (nopMetrics) GotoRejected(string) {}
func (nopMetrics) GuidePulse(string, string) {}
func (nopMetrics) AutoHomePhase(int) {}
func (nopMetrics) Abort() {}
func (nopMetrics) Failure(string) {}
func (nopMetrics) PolarEstimate(float64, float64) {}
func (nopMetrics) SetPose(float64, float64, bool) {}
