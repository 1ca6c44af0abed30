package federation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tagflow/internal/tag"
)

type fakeBarrier struct {
	mu      sync.Mutex
	current tag.Tag
	raised  []tag.Tag
	lowered int
}

func (b *fakeBarrier) RaiseBarrier(t tag.Tag) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.current.Before(t) {
		return false
	}
	b.raised = append(b.raised, t)
	return true
}

func (b *fakeBarrier) LowerBarrier() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lowered++
}

func quietGate(opts ...GateOption) *Gate {
	return NewGate(append([]GateOption{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)...)
}

func TestGate_GrantsWhenNothingInFlight(t *testing.T) {
	g := quietGate()
	want := tag.New(100, 0)
	assert.Equal(t, want, g.NextEventTag(context.Background(), want))
}

func TestGate_BlocksUntilDelivered(t *testing.T) {
	g := quietGate()
	require.True(t, g.Expect(tag.New(50, 0)))

	granted := make(chan tag.Tag, 1)
	go func() {
		granted <- g.NextEventTag(context.Background(), tag.New(100, 0))
	}()

	select {
	case got := <-granted:
		t.Fatalf("granted %s with a message in flight", got)
	case <-time.After(20 * time.Millisecond):
	}

	g.Deliver(tag.New(50, 0))

	select {
	case got := <-granted:
		assert.Equal(t, tag.New(100, 0), got)
	case <-time.After(time.Second):
		t.Fatal("grant not released by delivery")
	}
	assert.Equal(t, 0, g.Pending())
}

func TestGate_GrantsBeforeMessage(t *testing.T) {
	g := quietGate()
	require.True(t, g.Expect(tag.New(50, 0)))

	got := g.NextEventTag(context.Background(), tag.New(49, 7))
	assert.Equal(t, tag.New(49, 7), got)
}

func TestGate_CancelledReturnsSafeTag(t *testing.T) {
	g := quietGate()
	require.True(t, g.Expect(tag.New(50, 2)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, tag.New(50, 1), g.NextEventTag(ctx, tag.New(60, 0)))

	g2 := quietGate()
	require.True(t, g2.Expect(tag.New(50, 0)))
	assert.Equal(t, tag.New(49, tag.MaxMicrostep), g2.NextEventTag(ctx, tag.New(60, 0)))
}

func TestGate_LateMessage(t *testing.T) {
	g := quietGate()
	g.NextEventTag(context.Background(), tag.New(100, 0))

	assert.False(t, g.Expect(tag.New(80, 0)))
	assert.False(t, g.Expect(tag.New(100, 0)))
	assert.True(t, g.Expect(tag.New(100, 1)))
	assert.Equal(t, 2, g.Late())
	assert.Equal(t, 1, g.Pending())
}

func TestGate_Barrier(t *testing.T) {
	b := &fakeBarrier{current: tag.New(10, 0)}
	g := quietGate(WithBarrier(b))

	require.True(t, g.Expect(tag.New(20, 0)))
	require.True(t, g.Expect(tag.New(30, 0)))
	assert.Equal(t, []tag.Tag{tag.New(20, 0), tag.New(30, 0)}, b.raised)

	g.Deliver(tag.New(25, 0))
	assert.Equal(t, 1, b.lowered)
	g.Deliver(tag.New(30, 0))
	assert.Equal(t, 2, b.lowered)
}

func TestGate_BarrierNotRaisedIsNotLowered(t *testing.T) {
	b := &fakeBarrier{current: tag.New(40, 0)}
	g := quietGate()
	g.Attach(b)

	// The environment is already past 30, so the barrier is refused, but
	// the grant has not been given yet so the record is kept.
	require.True(t, g.Expect(tag.New(30, 0)))
	assert.Empty(t, b.raised)

	g.Deliver(tag.New(30, 0))
	assert.Zero(t, b.lowered)
}

func TestGate_LogicalTagComplete(t *testing.T) {
	g := quietGate()
	assert.Equal(t, tag.NeverTag, g.Completed())
	g.LogicalTagComplete(tag.New(5, 1))
	assert.Equal(t, tag.New(5, 1), g.Completed())
}
