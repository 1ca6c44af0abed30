package sched

import (
	"context"
	"math"

	"golang.org/x/sync/semaphore"
)

// countingSemaphore is a counting semaphore that starts with no permits.
//
// semaphore.Weighted counts permits held rather than available, so it is
// created with the maximum weight and fully drained: each Release then
// makes permits available and each Acquire takes one back.
type countingSemaphore struct {
	w *semaphore.Weighted
}

func newCountingSemaphore() *countingSemaphore {
	w := semaphore.NewWeighted(math.MaxInt64)
	if !w.TryAcquire(math.MaxInt64) {
		panic("sched: fresh semaphore could not be drained")
	}
	return &countingSemaphore{w: w}
}

// Acquire blocks until a permit is available and takes it.
func (s *countingSemaphore) Acquire() {
	// Background never cancels, so Acquire cannot fail.
	_ = s.w.Acquire(context.Background(), 1)
}

// Release makes n permits available.
func (s *countingSemaphore) Release(n int) {
	if n > 0 {
		s.w.Release(int64(n))
	}
}
