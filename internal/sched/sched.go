package sched

import (
	"fmt"

	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// Kind selects a scheduling policy.
type Kind string

const (
	// KindNP is the level-barrier scheduler with per-level arrays.
	KindNP Kind = "np"
	// KindGEDF is global earliest-deadline-first within a level.
	KindGEDF Kind = "gedf"
	// KindLST is least-slack-time first within a level.
	KindLST Kind = "lst"
	// KindStatic runs precompiled per-worker instruction programs.
	KindStatic Kind = "static"
)

// Kinds lists every policy.
var Kinds = []Kind{KindNP, KindGEDF, KindLST, KindStatic}

// ParseKind parses a policy name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown scheduler %q: must be one of %v", s, Kinds)
}

// Scheduler hands ready reactions to workers.
//
// Every policy honours the same contract, so the rest of the runtime is
// unaware of which one is active:
//   - GetReadyReaction blocks until a reaction is ready for the worker, or
//     returns nil once execution must stop.
//   - DoneWithReaction is called exactly once per reaction returned by
//     GetReadyReaction; finishing a reaction that is not running is fatal.
//   - TriggerReaction queues a reaction for the current tag. Triggering a
//     reaction that is already queued or running is a silent no-op, so a
//     reaction runs at most once per tag.
type Scheduler interface {
	GetReadyReaction(worker int) *ir.Reaction
	DoneWithReaction(worker int, r *ir.Reaction)
	TriggerReaction(r *ir.Reaction, worker int)

	// SignalStop makes every current and future GetReadyReaction call
	// return nil. Safe to call more than once.
	SignalStop()
}

// Host is the environment as seen by a scheduler.
type Host interface {
	// AdvanceTag commits the next tag and triggers its reactions through
	// TriggerReaction. It is called by exactly one worker at a time, while
	// all others are idle. It returns true when execution must stop.
	AdvanceTag() bool

	// Now returns the current physical time.
	Now() int64
}

// StaticHost is the additional surface the static scheduler needs.
type StaticHost interface {
	Host

	// StartTime returns the physical and logical start time.
	StartTime() int64
	// StopTag returns the current stop tag.
	StopTag() tag.Tag
	// SleepUntil blocks until physical time t, or until stop is requested.
	SleepUntil(t int64)
	// AdvanceReactor moves a reactor's local tag and resets its outputs.
	AdvanceReactor(reactor string, t tag.Tag)
}

// Params configures a scheduler.
type Params struct {
	// Workers is the size of the worker pool.
	Workers int
	// ReactionsPerLevel bounds how many reactions may be ready at once on
	// each level.
	ReactionsPerLevel []int
	// Tracer receives worker wait records. Defaults to trace.Nop.
	Tracer trace.Tracer

	// Static configures KindStatic.
	Static *StaticProgram
}

// New creates a scheduler of the given kind.
func New(kind Kind, host Host, p Params) (Scheduler, error) {
	if p.Workers < 1 {
		return nil, fmt.Errorf("scheduler needs at least one worker, got %d", p.Workers)
	}
	if p.Tracer == nil {
		p.Tracer = trace.Nop{}
	}

	switch kind {
	case KindNP:
		return newLevelScheduler(host, p), nil
	case KindGEDF:
		return newGEDF(host, p), nil
	case KindLST:
		return newLST(host, p), nil
	case KindStatic:
		sh, ok := host.(StaticHost)
		if !ok {
			return nil, fmt.Errorf("static scheduler needs a StaticHost, got %T", host)
		}
		return newStaticScheduler(sh, p)
	default:
		return nil, fmt.Errorf("unknown scheduler %q", kind)
	}
}
