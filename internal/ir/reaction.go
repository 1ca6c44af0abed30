package ir

import (
	"sync/atomic"

	"github.com/roach88/tagflow/internal/tag"
)

// Status is the scheduling state of a reaction.
type Status int32

const (
	// Inactive reactions are waiting to be triggered.
	Inactive Status = iota
	// Queued reactions have been triggered at the current tag and wait in a
	// ready structure.
	Queued
	// Running reactions have been handed to a worker.
	Running
)

func (s Status) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Queued:
		return "queued"
	case Running:
		return "running"
	}
	return "unknown"
}

// Body is the code of a reaction or deadline handler.
type Body func(ctx Context)

// Context is the view of the runtime a reaction body gets while executing.
type Context interface {
	// Tag returns the logical tag the reaction executes at.
	Tag() tag.Tag
	// Elapsed returns the logical time since the start of execution.
	Elapsed() int64
	// PhysicalElapsed returns the physical time since the start of execution.
	PhysicalElapsed() int64
	// Set writes v to an output port, marking it present for the rest of
	// the tag and triggering downstream reactions.
	Set(p *Port, v any)
	// Schedule schedules an action extraDelay after its minimum delay and
	// returns a handle, or 0 when the event was dropped.
	Schedule(a *Trigger, extraDelay int64, v any) int64
	// RequestStop asks the runtime to stop at the next microstep.
	RequestStop()
	// Worker returns the id of the worker executing the reaction.
	Worker() int
}

// Reaction is a node of the static precedence graph. Everything except the
// status is fixed before execution starts.
type Reaction struct {
	// Name is unique within a program, e.g. "Sensor.sample".
	Name string
	// Reactor owns the reaction. Reactions of one reactor are totally
	// ordered by their declaration order.
	Reactor string
	// Index is the position in Program.Reactions.
	Index int

	// Level is the longest chain of predecessors in the precedence graph.
	Level uint16
	// ChainMask approximates the set of chains passing through the
	// reaction. Disjoint masks imply no precedence relation.
	ChainMask uint64
	// Deadline is a relative physical-time budget; 0 means none.
	Deadline int64

	Body            Body
	DeadlineHandler Body

	// Triggers activate the reaction. Sources are read without triggering.
	Triggers []*Trigger
	Sources  []*Port
	// Effects are ports the reaction may set; Schedules are actions it may
	// schedule.
	Effects   []*Port
	Schedules []*Trigger

	status atomic.Int32
}

// Status returns the current status.
func (r *Reaction) Status() Status {
	return Status(r.status.Load())
}

// CompareAndSwap atomically moves the reaction from one status to another
// and reports whether it did.
func (r *Reaction) CompareAndSwap(from, to Status) bool {
	return r.status.CompareAndSwap(int32(from), int32(to))
}

// TryQueue moves the reaction from Inactive to Queued. A reaction that is
// already queued or running is left alone and false is returned.
func (r *Reaction) TryQueue() bool {
	return r.CompareAndSwap(Inactive, Queued)
}

// MarkRunning moves a queued reaction to Running. Any other status is a
// fatal inconsistency.
func (r *Reaction) MarkRunning() {
	if !r.CompareAndSwap(Queued, Running) {
		Fatal(ErrCodeStatusViolation, r.Name, "dispatching reaction in status %s", r.Status())
	}
}

// MarkDone moves a running reaction back to Inactive. Any other status is
// a fatal inconsistency.
func (r *Reaction) MarkDone() {
	if !r.CompareAndSwap(Running, Inactive) {
		Fatal(ErrCodeStatusViolation, r.Name, "finishing reaction in status %s", r.Status())
	}
}

// ResetStatus forces the reaction to Inactive. Only for use when no
// worker is running.
func (r *Reaction) ResetStatus() {
	r.status.Store(int32(Inactive))
}

// HasDeadline reports whether the reaction carries a deadline.
func (r *Reaction) HasDeadline() bool {
	return r.Deadline > 0
}

// Overlaps reports whether the chain masks of r and o intersect.
func (r *Reaction) Overlaps(o *Reaction) bool {
	return r.ChainMask&o.ChainMask != 0
}

func (r *Reaction) String() string {
	return r.Name
}
