package testutil

import (
	"context"
	"sync"
)

// ManualClock is a platform.Clock whose SleepUntil blocks until Advance
// moves time far enough. Use it where a goroutine must stay asleep until
// the test decides otherwise; VirtualClock would jump ahead instead.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now int64
	// changed is closed and replaced on every Advance.
	changed chan struct{}
}

// NewManualClock creates a clock reading start.
func NewManualClock(start int64) *ManualClock {
	return &ManualClock{now: start, changed: make(chan struct{})}
}

// Now returns the current time.
func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, wakes every sleeper, and returns
// the new time. Negative values are ignored.
func (c *ManualClock) Advance(d int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now += d
		close(c.changed)
		c.changed = make(chan struct{})
	}
	return c.now
}

// SleepUntil implements platform.Clock.
func (c *ManualClock) SleepUntil(ctx context.Context, t int64, wake <-chan struct{}) bool {
	for {
		c.mu.Lock()
		if c.now >= t {
			c.mu.Unlock()
			return true
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-wake:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
