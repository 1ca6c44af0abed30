package sched

import "github.com/roach88/tagflow/internal/ir"

// newGEDF orders reactions within a level by earliest deadline. Reactions
// without a deadline run after those with one.
func newGEDF(host Host, p Params) *priorityScheduler {
	return newPriorityScheduler(host, p, gedfKey)
}

func gedfKey(r *ir.Reaction) uint64 {
	if !r.HasDeadline() {
		return PriorityKey(r.Level, int64(lowMask))
	}
	return PriorityKey(r.Level, r.Deadline)
}
