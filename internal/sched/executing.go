package sched

import (
	"sync"

	"github.com/roach88/tagflow/internal/ir"
)

// ExecutingSet tracks the reactions currently handed to workers and checks
// every dispatch against them.
//
// Dispatching a reaction while one with a lower level and an overlapping
// chain mask is still executing would break level precedence; it means
// the scheduler is broken, so it is fatal.
type ExecutingSet struct {
	mu      sync.Mutex
	running map[*ir.Reaction]int
}

// NewExecutingSet returns an empty set.
func NewExecutingSet() *ExecutingSet {
	return &ExecutingSet{running: make(map[*ir.Reaction]int)}
}

// Add records that worker started r.
func (s *ExecutingSet) Add(worker int, r *ir.Reaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.running[r]; dup {
		ir.Fatal(ir.ErrCodeDoubleQueue, r.Name, "reaction dispatched twice")
	}
	for other := range s.running {
		if other.Level < r.Level && other.Overlaps(r) {
			ir.Fatal(ir.ErrCodeLevelOverflow, r.Name,
				"dispatched at level %d while %s (level %d) is still executing", r.Level, other.Name, other.Level)
		}
	}
	s.running[r] = worker
}

// Remove records that r finished.
func (s *ExecutingSet) Remove(r *ir.Reaction) {
	s.mu.Lock()
	delete(s.running, r)
	s.mu.Unlock()
}

// Len returns the number of executing reactions.
func (s *ExecutingSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// RequireIdle is called from the idle barrier, where every worker has
// returned its reaction. Anything still recorded as executing there is
// fatal.
func (s *ExecutingSet) RequireIdle() {
	if n := s.Len(); n > 0 {
		ir.Fatal(ir.ErrCodeLevelOverflow, "", "%d reaction(s) still executing with every worker idle", n)
	}
}
