package sched

import (
	"sync"
	"sync/atomic"

	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// staticScheduler is a cyclic executive. Each worker runs its own
// instruction sequence and scheduling is program counter advancement:
// GetReadyReaction interprets instructions until one yields a reaction
// (EXE, or EIT on a triggered reaction) or the worker stops.
//
// Cross-worker ordering comes from shared counters (ADDI/WU) and the SAC
// barrier at the end of each hyperperiod; the event queue and tag
// advancement are not used.
type staticScheduler struct {
	host   StaticHost
	tracer trace.Tracer
	prog   *StaticProgram

	// pc is indexed by worker; each worker only touches its own slot.
	pc       []int
	counters []atomic.Uint64
	// base is the logical offset of the current hyperperiod from the start.
	base atomic.Int64

	mu         sync.Mutex
	cond       *sync.Cond
	arrived    int
	generation uint64
	stop       atomic.Bool

	executing *ExecutingSet
}

func newStaticScheduler(host StaticHost, p Params) (*staticScheduler, error) {
	if err := p.Static.Validate(p.Workers); err != nil {
		return nil, err
	}
	s := &staticScheduler{
		host:      host,
		tracer:    p.Tracer,
		prog:      p.Static,
		pc:        make([]int, p.Workers),
		counters:  make([]atomic.Uint64, p.Static.Counters),
		executing: NewExecutingSet(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// GetReadyReaction implements Scheduler.
func (s *staticScheduler) GetReadyReaction(worker int) *ir.Reaction {
	seq := s.prog.Workers[worker]
	for !s.stop.Load() {
		pc := s.pc[worker]
		if pc < 0 || pc >= len(seq) {
			ir.Fatal(ir.ErrCodeInvalidInstruction, "", "worker %d ran off its program at pc %d", worker, pc)
		}
		s.pc[worker] = pc + 1

		switch in := seq[pc].(type) {
		case ADV:
			s.host.AdvanceReactor(in.Reactor, tag.New(s.host.StartTime()+s.base.Load()+in.Offset, 0))
		case EXE:
			in.Reaction.TryQueue()
			return s.dispatch(worker, in.Reaction)
		case EIT:
			if in.Reaction.Status() == ir.Queued {
				return s.dispatch(worker, in.Reaction)
			}
		case DU:
			s.host.SleepUntil(s.host.StartTime() + s.base.Load() + in.Offset)
		case WU:
			s.waitUntil(worker, in.Counter, in.Value)
		case ADDI:
			s.increment(in.Counter, in.Value, in.Locked)
		case BIT:
			if s.stopReached() {
				s.pc[worker] = in.Target
			}
		case JMP:
			s.pc[worker] = in.Target
		case SAC:
			s.syncAdvanceClear(worker)
		case STP:
			return nil
		default:
			ir.Fatal(ir.ErrCodeInvalidInstruction, "", "unknown instruction %T", in)
		}
	}
	return nil
}

// DoneWithReaction implements Scheduler.
func (s *staticScheduler) DoneWithReaction(worker int, r *ir.Reaction) {
	r.MarkDone()
	s.executing.Remove(r)
}

// TriggerReaction implements Scheduler. Triggered reactions are picked up
// by EIT instructions.
func (s *staticScheduler) TriggerReaction(r *ir.Reaction, worker int) {
	r.TryQueue()
}

// SignalStop implements Scheduler.
func (s *staticScheduler) SignalStop() {
	if s.stop.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// Base returns the logical offset of the current hyperperiod.
func (s *staticScheduler) Base() int64 {
	return s.base.Load()
}

func (s *staticScheduler) dispatch(worker int, r *ir.Reaction) *ir.Reaction {
	r.MarkRunning()
	s.executing.Add(worker, r)
	return r
}

func (s *staticScheduler) stopReached() bool {
	at := tag.New(s.host.StartTime()+s.base.Load(), 0)
	return tag.Compare(at, s.host.StopTag()) >= 0
}

func (s *staticScheduler) increment(counter int, v uint64, locked bool) {
	if locked {
		s.mu.Lock()
		s.counters[counter].Add(v)
		s.cond.Broadcast()
		s.mu.Unlock()
		return
	}
	s.counters[counter].Add(v)
	// Take the lock only to publish the wakeup; waiters re-check under it.
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *staticScheduler) waitUntil(worker int, counter int, v uint64) {
	if s.counters[counter].Load() >= v {
		return
	}
	s.record(trace.WorkerWaitStarts, worker)
	s.mu.Lock()
	for s.counters[counter].Load() < v && !s.stop.Load() {
		s.cond.Wait()
	}
	s.mu.Unlock()
	s.record(trace.WorkerWaitEnds, worker)
}

func (s *staticScheduler) syncAdvanceClear(worker int) {
	s.record(trace.WorkerWaitStarts, worker)
	defer s.record(trace.WorkerWaitEnds, worker)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.arrived++
	if s.arrived == len(s.pc) {
		s.arrived = 0
		s.base.Add(s.prog.Hyperperiod)
		for i := range s.counters {
			s.counters[i].Store(0)
		}
		s.generation++
		s.cond.Broadcast()
		return
	}
	gen := s.generation
	for gen == s.generation && !s.stop.Load() {
		s.cond.Wait()
	}
}

func (s *staticScheduler) record(kind trace.Kind, worker int) {
	s.tracer.Record(trace.Record{Kind: kind, Worker: worker, Tag: tag.NeverTag, Physical: s.host.Now()})
}
