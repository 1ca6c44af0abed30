package sched

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tagflow/internal/ir"
)

// scriptHost triggers a fixed list of reactions at each tag and stops once
// the script is exhausted. With loop set it repeats the last tag forever.
type scriptHost struct {
	mu   sync.Mutex
	s    Scheduler
	tags [][]*ir.Reaction
	next int
	loop bool

	advances atomic.Int32
	now      atomic.Int64
}

func (h *scriptHost) AdvanceTag() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.next >= len(h.tags) {
		if !h.loop || len(h.tags) == 0 {
			return true
		}
		h.next = len(h.tags) - 1
	}
	for _, r := range h.tags[h.next] {
		h.s.TriggerReaction(r, -1)
	}
	h.next++
	h.advances.Add(1)
	return false
}

func (h *scriptHost) Now() int64 { return h.now.Load() }

// runPool drives s with the given number of workers until every worker
// sees nil, returning the first fatal error.
func runPool(s Scheduler, workers int, body func(worker int, r *ir.Reaction)) error {
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() (err error) {
			defer func() {
				if err = ir.RecoverFatal(recover(), err); err != nil {
					s.SignalStop()
				}
			}()
			for {
				r := s.GetReadyReaction(w)
				if r == nil {
					return nil
				}
				body(w, r)
				s.DoneWithReaction(w, r)
			}
		})
	}
	return g.Wait()
}

func reaction(name string, level uint16, mask uint64) *ir.Reaction {
	return &ir.Reaction{Name: name, Reactor: name, Level: level, ChainMask: mask, Body: func(ir.Context) {}}
}

// fatalCode runs f and returns the code of the RuntimeError it panics
// with, or "" if it returns normally.
func fatalCode(f func()) (code ir.RuntimeErrorCode) {
	defer func() {
		if err := ir.RecoverFatal(recover(), nil); err != nil {
			code = err.(*ir.RuntimeError).Code
		}
	}()
	f()
	return ""
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// orderLog records reaction names in execution order.
type orderLog struct {
	mu    sync.Mutex
	names []string
}

func (l *orderLog) add(name string) {
	l.mu.Lock()
	l.names = append(l.names, name)
	l.mu.Unlock()
}

func (l *orderLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}
