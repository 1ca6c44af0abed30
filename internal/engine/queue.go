package engine

import (
	"container/heap"

	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/tag"
)

// event is a pending activation of a trigger.
//
// Events are keyed by time only. The microstep is deduced when the event's
// time becomes current: an event whose time equals the current tag's time
// fires one microstep later, any other at microstep 0.
type event struct {
	time    int64
	trigger *ir.Trigger
	// token holds one reference on behalf of the event, or is nil.
	token  *ir.Token
	handle int64
	seq    int64

	// next is a pile-up: an event for the same trigger at the same time,
	// which fires one microstep after this one.
	next *event

	// index is the heap position, -1 once removed.
	index int
}

// release drops the token references held by e and its pile-up chain.
func (e *event) release() {
	for ; e != nil; e = e.next {
		if e.token != nil {
			e.token.Release()
			e.token = nil
		}
	}
}

type pendingKey struct {
	trigger *ir.Trigger
	time    int64
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*event)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	// Nil out the slot so the heap does not retain the trigger and token.
	old[n-1] = nil
	ev.index = -1
	*h = old[:n-1]
	return ev
}

// eventQueue is the time-ordered queue of pending events.
//
// It is a binary min-heap on (time, seq), with each event tracking its
// heap position so that an arbitrary event can be removed in O(log n).
// At most one queued event exists per (trigger, time); further events for
// the same pair chain behind it.
//
// Not safe for concurrent use: the environment mutex guards it.
type eventQueue struct {
	h        eventHeap
	pending  map[pendingKey]*event
	byHandle map[int64]*event
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		h:        make(eventHeap, 0, 64),
		pending:  make(map[pendingKey]*event),
		byHandle: make(map[int64]*event),
	}
}

// Insert queues ev. If an event for the same trigger and time is already
// queued, ev is appended to its pile-up chain instead and false is
// returned.
func (q *eventQueue) Insert(ev *event) bool {
	q.byHandle[ev.handle] = ev
	key := pendingKey{ev.trigger, ev.time}
	if head, ok := q.pending[key]; ok {
		last := head
		for last.next != nil {
			last = last.next
		}
		last.next = ev
		ev.index = -1
		return false
	}
	q.pending[key] = ev
	heap.Push(&q.h, ev)
	return true
}

// Peek returns the earliest event without removing it, or nil.
func (q *eventQueue) Peek() *event {
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0]
}

// Pop removes and returns the earliest event, or nil. Its pile-up chain
// stays attached; the caller re-inserts it.
func (q *eventQueue) Pop() *event {
	if len(q.h) == 0 {
		return nil
	}
	ev := heap.Pop(&q.h).(*event)
	delete(q.pending, pendingKey{ev.trigger, ev.time})
	delete(q.byHandle, ev.handle)
	return ev
}

// Remove takes a queued event out of the queue, whether it sits in the
// heap or in a pile-up chain. A removed heap event's chain is promoted into
// its place.
func (q *eventQueue) Remove(ev *event) bool {
	key := pendingKey{ev.trigger, ev.time}
	head, ok := q.pending[key]
	if !ok {
		return false
	}
	if head != ev {
		for prev := head; prev.next != nil; prev = prev.next {
			if prev.next == ev {
				prev.next = ev.next
				ev.next = nil
				delete(q.byHandle, ev.handle)
				return true
			}
		}
		return false
	}
	heap.Remove(&q.h, ev.index)
	delete(q.pending, key)
	delete(q.byHandle, ev.handle)
	if next := ev.next; next != nil {
		ev.next = nil
		q.Insert(next)
	}
	return true
}

// Handle returns the queued event with the given handle, or nil.
func (q *eventQueue) Handle(handle int64) *event {
	return q.byHandle[handle]
}

// Find returns the queued event for trigger at time, or nil.
func (q *eventQueue) Find(trigger *ir.Trigger, time int64) *event {
	return q.pending[pendingKey{trigger, time}]
}

// Len returns the number of queued events, not counting pile-ups.
func (q *eventQueue) Len() int {
	return len(q.h)
}

// Drain empties the queue and returns every event, pile-ups included, in
// queue order.
func (q *eventQueue) Drain() []*event {
	var out []*event
	for ev := q.Pop(); ev != nil; ev = q.Pop() {
		for e := ev; e != nil; e = e.next {
			out = append(out, e)
		}
	}
	clear(q.byHandle)
	return out
}

// deduceTag returns the tag at which an event at time fires, given the
// current tag.
func deduceTag(current tag.Tag, time int64) tag.Tag {
	if time == current.Time {
		return tag.Delay(current, 0)
	}
	return tag.New(time, 0)
}
