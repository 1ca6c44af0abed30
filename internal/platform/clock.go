// Package platform provides the clock and core-count primitives the
// runtime consumes. Everything else in the runtime reads physical time only
// through Clock, so tests can substitute a virtual clock.
package platform

import (
	"context"
	"runtime"
	"time"
)

// Clock is a source of physical time in nanoseconds.
type Clock interface {
	// Now returns the current physical time.
	Now() int64

	// SleepUntil blocks until Now() >= t. It returns early with false when
	// wake fires or ctx is done, and true when t was reached.
	SleepUntil(ctx context.Context, t int64, wake <-chan struct{}) bool
}

// SystemClock reads the wall clock. Instants are Unix nanoseconds; waits
// use the monotonic clock through time.Timer.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() int64 {
	return time.Now().UnixNano()
}

// SleepUntil implements Clock.
func (c SystemClock) SleepUntil(ctx context.Context, t int64, wake <-chan struct{}) bool {
	d := time.Duration(t - c.Now())
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-wake:
		return false
	case <-ctx.Done():
		return false
	}
}

// AvailableCores returns the number of CPUs usable by the process.
func AvailableCores() int {
	return runtime.GOMAXPROCS(0)
}
