package federation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/tagflow/internal/tag"
)

// Barrier is the part of an environment a Gate holds back while messages
// are in flight. engine.Environment implements it.
type Barrier interface {
	RaiseBarrier(t tag.Tag) bool
	LowerBarrier()
}

// Gate grants tags to an environment only when no in-flight message could
// still arrive at or before them. It implements engine.Coordinator.
//
// Senders call Expect before a message leaves and Deliver once the
// receiving side has scheduled it. When attached to a Barrier, each
// expected message also raises a barrier at its tag, lowered on delivery.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Gate struct {
	log *slog.Logger

	mu        sync.Mutex
	pending   *InTransit
	barrier   Barrier
	granted   tag.Tag
	completed tag.Tag
	late      int
	// changed is closed and replaced whenever pending shrinks.
	changed chan struct{}
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		g.log = l
	}
}

// WithBarrier raises barriers on b for expected messages.
func WithBarrier(b Barrier) GateOption {
	return func(g *Gate) {
		g.barrier = b
	}
}

// NewGate creates a gate with nothing in flight.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{
		log:       slog.Default(),
		pending:   NewInTransit(),
		granted:   tag.NeverTag,
		completed: tag.NeverTag,
		changed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Attach sets the barrier after construction, for environments that are
// created with the gate as their coordinator.
func (g *Gate) Attach(b Barrier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.barrier = b
}

// Expect records a message in flight at t. It returns false when t has
// already been granted, in which case the message is late and will be
// seen at a later tag than the one it carries.
func (g *Gate) Expect(t tag.Tag) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.granted.Before(t) {
		g.late++
		g.log.Warn("message tag already granted",
			"tag", t.String(),
			"granted", g.granted.String(),
		)
		return false
	}
	r := g.pending.Add(t)
	if g.barrier != nil {
		r.raised = g.barrier.RaiseBarrier(t)
	}
	return true
}

// Deliver clears every record at or before t and releases their barriers.
func (g *Gate) Deliver(t tag.Tag) {
	g.mu.Lock()
	removed := g.pending.ClearUpTo(t)
	b := g.barrier
	if len(removed) > 0 {
		close(g.changed)
		g.changed = make(chan struct{})
	}
	g.mu.Unlock()

	if b == nil {
		return
	}
	for _, r := range removed {
		if r.raised {
			b.LowerBarrier()
		}
	}
}

// NextEventTag implements engine.Coordinator. It grants t once every
// recorded message is later than t. If ctx is done first it returns the
// latest tag that is still safe, which may be earlier than t.
func (g *Gate) NextEventTag(ctx context.Context, t tag.Tag) tag.Tag {
	for {
		g.mu.Lock()
		earliest := g.pending.MinPending()
		if t.Before(earliest) {
			if g.granted.Before(t) {
				g.granted = t
			}
			g.mu.Unlock()
			return t
		}
		changed := g.changed
		g.mu.Unlock()

		g.log.Debug("tag grant waiting for message",
			"tag", t.String(),
			"pending", earliest.String(),
		)
		select {
		case <-changed:
		case <-ctx.Done():
			return predecessor(earliest)
		}
	}
}

// LogicalTagComplete implements engine.Coordinator.
func (g *Gate) LogicalTagComplete(t tag.Tag) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed = t
}

// Completed returns the last tag reported complete.
func (g *Gate) Completed() tag.Tag {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.completed
}

// Pending returns the number of messages in flight.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending.Len()
}

// Late returns how many messages were expected after their tag had
// already been granted.
func (g *Gate) Late() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.late
}

// predecessor returns the greatest tag before t.
func predecessor(t tag.Tag) tag.Tag {
	switch {
	case t.IsNever():
		return t
	case t.Microstep > 0:
		return tag.New(t.Time, t.Microstep-1)
	default:
		return tag.New(t.Time-1, tag.MaxMicrostep)
	}
}
