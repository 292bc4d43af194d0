package timer

import "time"

// Handle represents a scheduled callback that can be cancelled.
type Handle interface {
	// Stop cancels the callback. It returns false if the callback has
	// already fired or was already stopped. A callback that is mid-fire
	// when Stop is called is not interrupted.
	Stop() bool
}

// Scheduler schedules delayed callbacks. The supervisor and liveness
// monitor take a Scheduler so tests can substitute a deterministic
// implementation.
type Scheduler interface {
	// AfterFunc runs fn after delay d on an unspecified goroutine.
	AfterFunc(d time.Duration, fn func()) Handle
}

// realScheduler schedules on the runtime timer heap via time.AfterFunc.
type realScheduler struct{}

// NewScheduler returns the default real-time scheduler.
func NewScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Handle {
	return realHandle{t: time.AfterFunc(d, fn)}
}

type realHandle struct {
	t *time.Timer
}

func (h realHandle) Stop() bool {
	return h.t.Stop()
}

// Compile-time interface satisfaction checks.
var (
	_ Scheduler = realScheduler{}
	_ Handle    = realHandle{}
)
