package engine

import (
	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/sched"
	"github.com/roach88/tagflow/internal/tag"
)

var _ sched.StaticHost = (*Environment)(nil)

// SleepUntil implements sched.StaticHost. It returns early once the run is
// cancelled or halted.
func (e *Environment) SleepUntil(t int64) {
	if e.fast {
		return
	}
	for e.clock.Now() < t {
		if !e.clock.SleepUntil(e.ctx, t, e.halt) {
			return
		}
	}
}

// AdvanceReactor implements sched.StaticHost. It moves the reactor's local
// tag to t, clears its ports, and raises the environment's current tag to
// the latest reactor tag.
func (e *Environment) AdvanceReactor(reactor string, t tag.Tag) {
	if e.ctx.Err() != nil {
		e.RequestStop()
	}
	p, ok := e.reactorTags[reactor]
	if !ok {
		return
	}
	if prev := *p.Load(); t.Before(prev) {
		ir.FatalAt(ir.ErrCodeTagRegression, t, "reactor %s would move back from %s", reactor, prev)
	}
	p.Store(&t)
	for _, port := range e.reactorPorts[reactor] {
		port.Reset()
	}

	e.mu.Lock()
	if t.After(e.current) {
		e.setCurrent(t)
	}
	e.mu.Unlock()
}
