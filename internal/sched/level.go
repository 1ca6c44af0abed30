package sched

import (
	"sync/atomic"

	"github.com/roach88/tagflow/internal/ir"
)

// levelScheduler is the default non-preemptive policy.
//
// Ready reactions live in one fixed-size array per level. An atomic index
// per level supports lock-free insertion and removal. Workers only pop from
// the current level; when it is empty they park on the idle barrier, whose
// last arrival makes the next non-empty level current or advances the tag.
//
// Correctness relies on a triggered reaction always sitting at a strictly
// higher level than the reaction that triggered it, so the current level
// never receives insertions while workers drain it.
type levelScheduler struct {
	levels  [][]*ir.Reaction
	indexes []atomic.Int64

	// current is the level workers pop from, or -1 between distributions.
	current atomic.Int32
	// next is the first level distribute examines. Only the distributing
	// worker touches it.
	next int

	barrier   *idleBarrier
	executing *ExecutingSet
}

func newLevelScheduler(host Host, p Params) *levelScheduler {
	s := &levelScheduler{
		levels:    make([][]*ir.Reaction, len(p.ReactionsPerLevel)),
		indexes:   make([]atomic.Int64, len(p.ReactionsPerLevel)),
		barrier:   newIdleBarrier(host, p.Workers, p.Tracer),
		executing: NewExecutingSet(),
	}
	for l, n := range p.ReactionsPerLevel {
		s.levels[l] = make([]*ir.Reaction, n)
	}
	if len(s.levels) == 0 {
		s.current.Store(-1)
	}
	return s
}

// GetReadyReaction implements Scheduler.
func (s *levelScheduler) GetReadyReaction(worker int) *ir.Reaction {
	for !s.barrier.stopped() {
		if cur := s.current.Load(); cur >= 0 {
			if idx := s.indexes[cur].Add(-1); idx >= 0 {
				r := s.levels[cur][idx]
				s.levels[cur][idx] = nil
				r.MarkRunning()
				s.executing.Add(worker, r)
				return r
			}
		}
		s.barrier.wait(worker, s.distribute)
	}
	return nil
}

// DoneWithReaction implements Scheduler.
func (s *levelScheduler) DoneWithReaction(worker int, r *ir.Reaction) {
	r.MarkDone()
	s.executing.Remove(r)
}

// TriggerReaction implements Scheduler.
func (s *levelScheduler) TriggerReaction(r *ir.Reaction, worker int) {
	if !r.TryQueue() {
		return
	}
	l := int(r.Level)
	if l >= len(s.levels) {
		ir.Fatal(ir.ErrCodeLevelOverflow, r.Name, "level %d exceeds the %d levels of the program", l, len(s.levels))
	}
	idx := s.indexes[l].Add(1) - 1
	if int(idx) >= len(s.levels[l]) {
		ir.Fatal(ir.ErrCodeLevelOverflow, r.Name, "level %d holds at most %d reactions", l, len(s.levels[l]))
	}
	s.levels[l][idx] = r
}

// SignalStop implements Scheduler.
func (s *levelScheduler) SignalStop() {
	s.barrier.signalStop()
}

// distribute retires the current level and makes the next non-empty level
// current, returning how many reactions it holds. It returns 0 and rewinds
// to level 0 once every level of the tag is exhausted.
func (s *levelScheduler) distribute() int {
	s.executing.RequireIdle()
	if cur := s.current.Load(); cur >= 0 {
		// Workers that found the level empty left the index negative.
		s.indexes[cur].Store(0)
		s.current.Store(-1)
	}
	for s.next < len(s.levels) {
		l := s.next
		s.next++
		if n := s.indexes[l].Load(); n > 0 {
			s.current.Store(int32(l))
			return int(n)
		}
	}
	s.next = 0
	return 0
}
