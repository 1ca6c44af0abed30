package sched

import (
	"sync"

	"github.com/roach88/tagflow/internal/ir"
)

// lstAlphaDiv is the inverse of the smoothing factor of the execution time
// estimate: est += (elapsed - est) / lstAlphaDiv.
const lstAlphaDiv = 4

// lstScheduler orders reactions within a level by least slack, where
// slack is the deadline minus the estimated execution time.
type lstScheduler struct {
	*priorityScheduler

	host   Host
	starts []int64

	mu        sync.Mutex
	estimates map[*ir.Reaction]int64
}

func newLST(host Host, p Params) *lstScheduler {
	s := &lstScheduler{
		host:      host,
		starts:    make([]int64, p.Workers),
		estimates: make(map[*ir.Reaction]int64),
	}
	s.priorityScheduler = newPriorityScheduler(host, p, s.key)
	s.onDispatch = s.dispatched
	s.onDone = s.finished
	return s
}

func (s *lstScheduler) key(r *ir.Reaction) uint64 {
	if !r.HasDeadline() {
		return PriorityKey(r.Level, int64(lowMask))
	}
	return PriorityKey(r.Level, r.Deadline-s.Estimate(r))
}

// Estimate returns the current execution time estimate of r, 0 if it has
// never run.
func (s *lstScheduler) Estimate(r *ir.Reaction) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimates[r]
}

func (s *lstScheduler) dispatched(worker int, r *ir.Reaction) {
	s.starts[worker] = s.host.Now()
}

func (s *lstScheduler) finished(worker int, r *ir.Reaction) {
	elapsed := s.host.Now() - s.starts[worker]
	if elapsed < 0 {
		elapsed = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, seen := s.estimates[r]
	if !seen {
		s.estimates[r] = elapsed
		return
	}
	s.estimates[r] = old + (elapsed-old)/lstAlphaDiv
}
