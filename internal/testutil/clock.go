package testutil

import (
	"context"
	"sync"
)

// VirtualClock is a platform.Clock whose time only moves when told to.
//
// SleepUntil jumps straight to the requested instant instead of blocking,
// so a program runs as fast as it can while every physical timestamp stays
// deterministic. Reaction bodies call Advance to simulate execution time.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type VirtualClock struct {
	mu  sync.Mutex
	now int64
}

// NewVirtualClock creates a clock reading start.
func NewVirtualClock(start int64) *VirtualClock {
	return &VirtualClock{now: start}
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
// Negative values are ignored; the clock never runs backwards.
func (c *VirtualClock) Advance(d int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now += d
	}
	return c.now
}

// Set moves the clock to t if t is later than the current time.
func (c *VirtualClock) Set(t int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.now {
		c.now = t
	}
}

// SleepUntil implements platform.Clock. A pending wake signal or a done
// context interrupts the sleep; otherwise the clock jumps to t.
func (c *VirtualClock) SleepUntil(ctx context.Context, t int64, wake <-chan struct{}) bool {
	select {
	case <-wake:
		return false
	case <-ctx.Done():
		return false
	default:
	}
	c.Set(t)
	return true
}
