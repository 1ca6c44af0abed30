// Package trace defines the records the runtime emits while executing and
// the Tracer hook that receives them. The runtime has no knowledge of how
// records are stored; see internal/store for the SQLite sink.
package trace

import (
	"fmt"
	"sync"

	"github.com/roach88/tagflow/internal/tag"
)

// Kind identifies a trace record.
type Kind int

const (
	ReactionStarts Kind = iota + 1
	ReactionEnds
	DeadlineMissed
	SchedulerAdvancingTimeStarts
	SchedulerAdvancingTimeEnds
	WorkerWaitStarts
	WorkerWaitEnds
	ScheduleCalled
	WatchdogExpired
)

var kindNames = map[Kind]string{
	ReactionStarts:               "reaction_starts",
	ReactionEnds:                 "reaction_ends",
	DeadlineMissed:               "deadline_missed",
	SchedulerAdvancingTimeStarts: "scheduler_advancing_time_starts",
	SchedulerAdvancingTimeEnds:   "scheduler_advancing_time_ends",
	WorkerWaitStarts:             "worker_wait_starts",
	WorkerWaitEnds:               "worker_wait_ends",
	ScheduleCalled:               "schedule_called",
	WatchdogExpired:              "watchdog_expired",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown trace kind %q", s)
}

// Record is one timestamped trace event.
type Record struct {
	Kind Kind
	// Worker is the worker id, or -1 outside the pool.
	Worker int
	// Subject names the reaction or trigger involved, if any.
	Subject string
	// Tag is the logical tag, relative to the start time.
	Tag tag.Tag
	// Physical is the physical time, relative to the start time.
	Physical int64
}

// Tracer receives trace records. Implementations must be safe for
// concurrent use; Record is called from every worker.
type Tracer interface {
	Record(r Record)
}

// Nop discards every record.
type Nop struct{}

// Record implements Tracer.
func (Nop) Record(Record) {}

// Recorder keeps every record in memory, in arrival order.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record implements Tracer.
func (r *Recorder) Record(rec Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// Records returns a copy of the recorded events.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Filter returns the records of the given kind.
func (r *Recorder) Filter(kind Kind) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// Tags returns, per subject, the tags at which records of kind occurred.
func (r *Recorder) Tags(kind Kind) map[string][]tag.Tag {
	out := make(map[string][]tag.Tag)
	for _, rec := range r.Filter(kind) {
		out[rec.Subject] = append(out[rec.Subject], rec.Tag)
	}
	return out
}

// Multi fans records out to several tracers.
type Multi []Tracer

// Record implements Tracer.
func (m Multi) Record(rec Record) {
	for _, t := range m {
		t.Record(rec)
	}
}
