package harness

import (
	"github.com/roach88/tagflow/internal/store"
	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	Pass bool

	// RunID identifies the run in the store.
	RunID string

	// StopTag is the last committed tag relative to the start time, or
	// tag.NeverTag when the program never ran.
	StopTag tag.Tag

	// Records is the trace as persisted, in sequence order.
	Records []store.StoredRecord

	// Err is the build or run error, if any. It fails the scenario unless
	// it matches expect_error.
	Err error

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult(runID string) *Result {
	return &Result{
		Pass:    true,
		RunID:   runID,
		StopTag: tag.NeverTag,
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Filter returns the records of kind, optionally restricted to subject.
func (r *Result) Filter(kind trace.Kind, subject string) []store.StoredRecord {
	var out []store.StoredRecord
	for _, rec := range r.Records {
		if rec.Kind != kind {
			continue
		}
		if subject != "" && rec.Subject != subject {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Executions returns the tags at which reaction started, in trace order.
func (r *Result) Executions(reaction string) []tag.Tag {
	var out []tag.Tag
	for _, rec := range r.Filter(trace.ReactionStarts, reaction) {
		out = append(out, rec.Tag)
	}
	return out
}
