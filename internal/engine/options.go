package engine

import (
	"log/slog"

	"github.com/roach88/tagflow/internal/platform"
	"github.com/roach88/tagflow/internal/sched"
	"github.com/roach88/tagflow/internal/trace"
)

// Option configures an Environment.
type Option func(*Environment)

// WithWorkers sets the size of the worker pool.
//
// Default: platform.AvailableCores().
func WithWorkers(n int) Option {
	return func(e *Environment) {
		e.workers = n
	}
}

// WithScheduler selects the scheduling policy.
//
// Default: sched.KindNP.
func WithScheduler(kind sched.Kind) Option {
	return func(e *Environment) {
		e.kind = kind
	}
}

// WithStaticProgram supplies the instruction programs of the static
// scheduler and selects it.
func WithStaticProgram(p *sched.StaticProgram) Option {
	return func(e *Environment) {
		e.kind = sched.KindStatic
		e.static = p
	}
}

// WithTimeout stops execution at start + d logical time.
func WithTimeout(d int64) Option {
	return func(e *Environment) {
		e.timeout = d
		e.hasTimeout = true
	}
}

// WithKeepalive keeps the environment waiting for physical actions when
// the event queue runs empty, instead of stopping.
func WithKeepalive(on bool) Option {
	return func(e *Environment) {
		e.keepalive = on
	}
}

// WithFast skips waiting for physical time to reach each tag.
func WithFast(on bool) Option {
	return func(e *Environment) {
		e.fast = on
	}
}

// WithClock sets the source of physical time.
//
// Default: platform.SystemClock.
func WithClock(c platform.Clock) Option {
	return func(e *Environment) {
		e.clock = c
	}
}

// WithTracer receives trace records, with tags and physical times
// relative to the start time.
func WithTracer(t trace.Tracer) Option {
	return func(e *Environment) {
		e.tracer = t
	}
}

// WithCoordinator plugs in a federation collaborator that grants tags
// before they are committed.
func WithCoordinator(c Coordinator) Option {
	return func(e *Environment) {
		e.coord = c
	}
}

// WithRunIDGenerator sets the source of run identifiers.
//
// Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Environment) {
		e.runIDs = g
	}
}

// WithStartTime fixes the start time instead of reading the clock when Run
// is called.
func WithStartTime(t int64) Option {
	return func(e *Environment) {
		e.startTime = t
		e.hasStartTime = true
	}
}

// WithMaxTags bounds the number of committed tags; see TagQuota.
func WithMaxTags(n int) Option {
	return func(e *Environment) {
		e.quota = NewTagQuota(n)
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Environment) {
		e.log = l
	}
}

// WithRunID fixes the identifier of the run.
func WithRunID(id string) Option {
	return func(e *Environment) {
		e.runIDs = NewFixedGenerator(id)
	}
}
