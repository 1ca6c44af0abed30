package sched

import (
	"container/heap"
	"sync"

	"github.com/roach88/tagflow/internal/ir"
)

const (
	levelShift = 48
	// lowMask bounds the deadline or slack packed under the level.
	lowMask = uint64(1)<<levelShift - 1
)

// PriorityKey packs a level into the high 16 bits and low, clamped to
// [0, 2^48-1], into the remaining bits. Smaller keys run first.
func PriorityKey(level uint16, low int64) uint64 {
	var l uint64
	switch {
	case low <= 0:
		l = 0
	case uint64(low) > lowMask:
		l = lowMask
	default:
		l = uint64(low)
	}
	return uint64(level)<<levelShift | l
}

// readyItem is a queued reaction with its priority key. seq breaks ties in
// insertion order.
type readyItem struct {
	r   *ir.Reaction
	key uint64
	seq uint64
}

type readyHeap []readyItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key < h[j].key
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(readyItem)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = readyItem{}
	*h = old[:n-1]
	return item
}

// priorityScheduler is the level-barrier policy with a single mutex-guarded
// ready heap instead of per-level arrays. Within a level the heap order
// decides which reaction goes first. Because admission is a heap pop under
// the lock, a reaction may be inserted into the current level while
// workers are draining it.
type priorityScheduler struct {
	key func(r *ir.Reaction) uint64
	// onDispatch and onDone observe reactions entering and leaving a
	// worker; both may be nil.
	onDispatch func(worker int, r *ir.Reaction)
	onDone     func(worker int, r *ir.Reaction)

	mu      sync.Mutex
	ready   readyHeap
	seq     uint64
	current int
	// perLevel counts queued reactions per level.
	perLevel map[uint16]int

	barrier   *idleBarrier
	executing *ExecutingSet
}

func newPriorityScheduler(host Host, p Params, key func(r *ir.Reaction) uint64) *priorityScheduler {
	return &priorityScheduler{
		key:       key,
		current:   0,
		perLevel:  make(map[uint16]int),
		barrier:   newIdleBarrier(host, p.Workers, p.Tracer),
		executing: NewExecutingSet(),
	}
}

// GetReadyReaction implements Scheduler.
func (s *priorityScheduler) GetReadyReaction(worker int) *ir.Reaction {
	for !s.barrier.stopped() {
		if r := s.pop(); r != nil {
			r.MarkRunning()
			s.executing.Add(worker, r)
			if s.onDispatch != nil {
				s.onDispatch(worker, r)
			}
			return r
		}
		s.barrier.wait(worker, s.distribute)
	}
	return nil
}

// DoneWithReaction implements Scheduler.
func (s *priorityScheduler) DoneWithReaction(worker int, r *ir.Reaction) {
	if s.onDone != nil {
		s.onDone(worker, r)
	}
	r.MarkDone()
	s.executing.Remove(r)
}

// TriggerReaction implements Scheduler.
func (s *priorityScheduler) TriggerReaction(r *ir.Reaction, worker int) {
	if !r.TryQueue() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	heap.Push(&s.ready, readyItem{r: r, key: s.key(r), seq: s.seq})
	s.perLevel[r.Level]++
}

// SignalStop implements Scheduler.
func (s *priorityScheduler) SignalStop() {
	s.barrier.signalStop()
}

// pop removes the head of the heap if it belongs to the current level.
func (s *priorityScheduler) pop() *ir.Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready.Len() == 0 || int(s.ready[0].r.Level) != s.current {
		return nil
	}
	item := heap.Pop(&s.ready).(readyItem)
	s.perLevel[item.r.Level]--
	return item.r
}

// distribute makes the level at the head of the heap current and returns
// how many reactions are queued on it, or 0 when the heap is empty.
func (s *priorityScheduler) distribute() int {
	s.executing.RequireIdle()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready.Len() == 0 {
		s.current = 0
		return 0
	}
	lvl := s.ready[0].r.Level
	s.current = int(lvl)
	return s.perLevel[lvl]
}
