package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/tag"
)

func newTestEvent(tr *ir.Trigger, time, seq int64) *event {
	return &event{time: time, trigger: tr, handle: seq, seq: seq}
}

func TestEventQueue_OrderByTimeThenSeq(t *testing.T) {
	a := &ir.Trigger{Name: "a"}
	b := &ir.Trigger{Name: "b"}
	q := newEventQueue()

	q.Insert(newTestEvent(a, 30, 1))
	q.Insert(newTestEvent(b, 10, 2))
	q.Insert(newTestEvent(a, 10, 3))
	q.Insert(newTestEvent(b, 20, 4))

	var seqs []int64
	for ev := q.Pop(); ev != nil; ev = q.Pop() {
		seqs = append(seqs, ev.seq)
	}
	assert.Equal(t, []int64{2, 3, 4, 1}, seqs)
	assert.Nil(t, q.Peek())
}

func TestEventQueue_PileUp(t *testing.T) {
	a := &ir.Trigger{Name: "a"}
	q := newEventQueue()

	first := newTestEvent(a, 10, 1)
	second := newTestEvent(a, 10, 2)
	assert.True(t, q.Insert(first))
	assert.False(t, q.Insert(second), "same trigger and time chains")
	assert.Equal(t, 1, q.Len())
	assert.Same(t, first, q.Find(a, 10))
	assert.Same(t, second, q.Handle(2))

	ev := q.Pop()
	require.Same(t, first, ev)
	assert.Same(t, second, ev.next)
	assert.Nil(t, q.Find(a, 10))
}

func TestEventQueue_Remove(t *testing.T) {
	a := &ir.Trigger{Name: "a"}
	b := &ir.Trigger{Name: "b"}
	q := newEventQueue()

	head := newTestEvent(a, 10, 1)
	chained := newTestEvent(a, 10, 2)
	other := newTestEvent(b, 5, 3)
	q.Insert(head)
	q.Insert(chained)
	q.Insert(other)

	require.True(t, q.Remove(head))
	assert.Nil(t, q.Handle(1))
	assert.Same(t, chained, q.Find(a, 10), "chain promoted")
	assert.GreaterOrEqual(t, chained.index, 0)

	assert.False(t, q.Remove(head), "already removed")

	require.True(t, q.Remove(other))
	assert.Same(t, chained, q.Pop())
	assert.Nil(t, q.Pop())
}

func TestEventQueue_RemoveChained(t *testing.T) {
	a := &ir.Trigger{Name: "a"}
	q := newEventQueue()

	e1 := newTestEvent(a, 10, 1)
	e2 := newTestEvent(a, 10, 2)
	e3 := newTestEvent(a, 10, 3)
	q.Insert(e1)
	q.Insert(e2)
	q.Insert(e3)

	require.True(t, q.Remove(e2))
	assert.Nil(t, q.Handle(2))
	assert.Same(t, e3, e1.next)
	assert.Equal(t, 1, q.Len())
}

func TestEventQueue_DrainReleasesTokens(t *testing.T) {
	a := &ir.Trigger{Name: "a"}
	q := newEventQueue()

	freed := 0
	for i := int64(1); i <= 3; i++ {
		ev := newTestEvent(a, 10*(i%2), i)
		ev.token = ir.NewToken(i)
		ev.token.OnFree = func(any) { freed++ }
		q.Insert(ev)
	}

	drained := q.Drain()
	assert.Len(t, drained, 3)
	for _, ev := range drained {
		ev.release()
	}
	assert.Equal(t, 3, freed)
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Handle(1))
}

func TestDeduceTag(t *testing.T) {
	tests := []struct {
		name    string
		current tag.Tag
		time    int64
		want    tag.Tag
	}{
		{"same time next microstep", tag.New(100, 0), 100, tag.New(100, 1)},
		{"same time later microstep", tag.New(100, 4), 100, tag.New(100, 5)},
		{"later time", tag.New(100, 3), 150, tag.New(150, 0)},
		{"before start", tag.NeverTag, 0, tag.New(0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deduceTag(tt.current, tt.time))
		})
	}
}
