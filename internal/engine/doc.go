// Package engine implements the tagflow execution environment.
//
// An Environment runs a compiled ir.Program on a pool of workers. It owns
// logical time: the current tag, the stop tag and the queue of pending
// timer and action events.
//
// ARCHITECTURE:
//
// Tag Loop:
// Workers pull ready reactions from a sched.Scheduler. When a tag is
// exhausted, the last idle worker calls AdvanceTag, which
// 1. Reports the completed tag to the coordinator, if any
// 2. Waits for a coordinator grant, lowered barriers and physical time
// 3. Commits the earliest pending tag and triggers its reactions
//
// Events are queued by time only; the microstep is deduced when the time
// becomes current. An event at the current time fires one microstep later.
//
// Stopping:
// The stop tag only ever moves earlier. RequestStop, context cancellation,
// an exhausted TagQuota and an empty queue without keepalive all lower it.
// Shutdown reactions run at the stop tag, which is the last tag committed.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Every queued event is stamped with the next Sequence value. Events at
// the same time fire in insertion order. Physical time is read only
// through platform.Clock.
//
// Fatal Errors:
// Scheduler inconsistencies panic with *ir.RuntimeError. Workers recover
// them, stop the pool and Run returns the error.
package engine
