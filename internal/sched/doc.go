// Package sched implements the scheduling policies that hand ready
// reactions to the worker pool.
//
// Three policies share the level barrier: reactions of level L run only
// after every queued reaction of lower levels at the same tag has
// finished, and the last worker to go idle on a level makes the next one
// current or asks the host to advance the tag.
//
//   - np keeps one lock-free array per level.
//   - gedf orders each level by earliest deadline.
//   - lst orders each level by least slack, using a running estimate of
//     each reaction's execution time.
//
// The static policy does not use the barrier. It interprets per-worker
// instruction programs produced ahead of time (see Instruction) and relies
// on counters and a hyperperiod barrier for ordering.
//
// Scheduler inconsistencies are fatal: they panic with an *ir.RuntimeError
// that the worker pool recovers.
package sched
