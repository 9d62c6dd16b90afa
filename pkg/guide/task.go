package guide

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Task is a cancellable one-shot callback.
//
// The owner serializes Cancel and the callback body (the controller runs
// both under its lock), so the cancelled flag needs no locking of its own.
type Task struct {
	timer     *clock.Timer
	cancelled bool
	fired     bool
}

func schedule(clk clock.Clock, d time.Duration, fn func(*Task)) *Task {
	t := &Task{}
	t.timer = clk.AfterFunc(d, func() { fn(t) })
	return t
}

// Cancel stops the task. It is a no-op once the task fired.
func (t *Task) Cancel() {
	if t == nil || t.fired {
		return
	}
	t.cancelled = true
	t.timer.Stop()
}

// claim marks the task as run. It returns false when the task was cancelled.
func (t *Task) claim() bool {
	if t.cancelled || t.fired {
		return false
	}
	t.fired = true
	return true
}
