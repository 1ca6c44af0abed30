package federation

import (
	"container/heap"

	"github.com/roach88/tagflow/internal/tag"
)

// Record is one message known to be in flight towards this environment.
type Record struct {
	Tag tag.Tag

	// raised is set when a barrier was raised on behalf of the record.
	raised bool
}

// recordHeap orders records by time only. Records at the same time are
// not ordered by microstep, so scans over the head compare full tags.
type recordHeap []*Record

func (h recordHeap) Len() int           { return len(h) }
func (h recordHeap) Less(i, j int) bool { return h[i].Tag.Time < h[j].Tag.Time }
func (h recordHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *recordHeap) Push(x any) { *h = append(*h, x.(*Record)) }

func (h *recordHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}

// InTransit tracks the tags of messages that have been sent to this
// environment but not yet delivered.
//
// Records live in a main heap. Scans that must look past the head move
// records into a transfer heap and then hand them back, swapping the two
// heaps when the main one was drained.
//
// Not safe for concurrent use; Gate guards it.
type InTransit struct {
	main     recordHeap
	transfer recordHeap
}

// NewInTransit returns an empty record queue.
func NewInTransit() *InTransit {
	return &InTransit{
		main:     make(recordHeap, 0, 10),
		transfer: make(recordHeap, 0, 10),
	}
}

// Add records a message in flight at t.
func (q *InTransit) Add(t tag.Tag) *Record {
	r := &Record{Tag: t}
	heap.Push(&q.main, r)
	return r
}

// ClearUpTo removes every record with a tag at or before t and returns
// them.
func (q *InTransit) ClearUpTo(t tag.Tag) []*Record {
	var removed []*Record
	for len(q.main) > 0 && q.main[0].Tag.Time <= t.Time {
		r := heap.Pop(&q.main).(*Record)
		if tag.Compare(r.Tag, t) <= 0 {
			removed = append(removed, r)
			continue
		}
		// Same time, later microstep: keep it.
		heap.Push(&q.transfer, r)
	}
	q.refill()
	return removed
}

// MinPending returns the earliest recorded tag, or tag.ForeverTag when
// nothing is in flight.
func (q *InTransit) MinPending() tag.Tag {
	earliest := tag.ForeverTag
	for len(q.main) > 0 {
		head := q.main[0]
		if head.Tag.Time > earliest.Time {
			break
		}
		earliest = tag.Min(earliest, head.Tag)
		heap.Push(&q.transfer, heap.Pop(&q.main))
	}
	q.refill()
	return earliest
}

// Len returns the number of records in flight.
func (q *InTransit) Len() int {
	return len(q.main) + len(q.transfer)
}

// refill empties the transfer heap into the main heap.
func (q *InTransit) refill() {
	if len(q.transfer) == 0 {
		return
	}
	if len(q.main) == 0 {
		q.swap()
		return
	}
	for len(q.transfer) > 0 {
		heap.Push(&q.main, heap.Pop(&q.transfer))
	}
}

// swap exchanges the main and transfer heaps. Both are valid heaps, so no
// re-heapify is needed.
func (q *InTransit) swap() {
	q.main, q.transfer = q.transfer, q.main
}
