package compiler

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/roach88/tagflow/internal/ir"
)

// WorkFunc simulates the execution time of a reaction body.
type WorkFunc func(ctx ir.Context, d int64)

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	work WorkFunc
}

// WithWork replaces how simulated work is spent. The default sleeps for
// the work duration; tests advance a virtual clock instead.
func WithWork(f WorkFunc) BuildOption {
	return func(c *buildConfig) {
		c.work = f
	}
}

func sleepWork(_ ir.Context, d int64) {
	time.Sleep(time.Duration(d))
}

// Build compiles a validated spec into an executable program.
//
// Every reaction gets a synthetic body: it spends its work, sets each
// effect port to the number of times the reaction has run, schedules each
// effect action with the reaction's delay, and requests a stop if asked
// to. A reaction with a deadline gets a handler that emits the same
// effects without the work.
//
// Levels and chain masks are assigned from the precedence graph; a
// causality cycle is reported as a CAUSALITY_CYCLE runtime error.
func Build(spec *ir.ProgramSpec, opts ...BuildOption) (*ir.Program, error) {
	cfg := buildConfig{work: sleepWork}
	for _, opt := range opts {
		opt(&cfg)
	}

	if verrs := Validate(spec); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, v := range verrs {
			errs[i] = v
		}
		return nil, fmt.Errorf("invalid program %q: %w", spec.Name, errors.Join(errs...))
	}

	b := &builder{
		prog:     &ir.Program{Name: spec.Name},
		triggers: make(map[string]*ir.Trigger),
		ports:    make(map[string]*ir.Port),
		cfg:      cfg,
	}
	for _, rs := range spec.Reactors {
		if err := b.declare(rs); err != nil {
			return nil, err
		}
	}
	for _, rs := range spec.Reactors {
		for _, reaction := range rs.Reactions {
			b.reaction(rs.Name, reaction)
		}
	}
	for _, c := range spec.Connections {
		from, to := b.ports[c.From], b.ports[c.To]
		from.Downstream = append(from.Downstream, to)
	}

	if err := AssignLevels(b.prog); err != nil {
		return nil, err
	}
	AssignChainMasks(b.prog)
	if err := b.prog.Validate(); err != nil {
		return nil, err
	}
	return b.prog, nil
}

type builder struct {
	prog     *ir.Program
	triggers map[string]*ir.Trigger
	ports    map[string]*ir.Port
	cfg      buildConfig
}

func (b *builder) declare(rs ir.ReactorSpec) error {
	for _, name := range rs.Inputs {
		b.port(rs.Name, name)
	}
	for _, name := range rs.Outputs {
		b.port(rs.Name, name)
	}
	for _, t := range rs.Timers {
		b.trigger(&ir.Trigger{
			Name:    rs.Name + "." + t.Name,
			Reactor: rs.Name,
			Kind:    ir.KindTimer,
			Offset:  t.Offset.Nanos(),
			Period:  t.Period.Nanos(),
		})
	}
	for _, a := range rs.Actions {
		policy, err := ir.ParseSpacingPolicy(a.Policy)
		if err != nil {
			return fmt.Errorf("action %s.%s: %w", rs.Name, a.Name, err)
		}
		kind := ir.KindLogicalAction
		if a.Physical {
			kind = ir.KindPhysicalAction
		}
		b.trigger(&ir.Trigger{
			Name:       rs.Name + "." + a.Name,
			Reactor:    rs.Name,
			Kind:       kind,
			Offset:     a.MinDelay.Nanos(),
			MinSpacing: a.MinSpacing.Nanos(),
			Policy:     policy,
		})
	}
	return nil
}

func (b *builder) port(reactor, name string) {
	p := &ir.Port{Name: reactor + "." + name, Reactor: reactor}
	b.ports[p.Name] = p
	b.prog.Ports = append(b.prog.Ports, p)
}

func (b *builder) trigger(t *ir.Trigger) {
	b.triggers[t.Name] = t
	b.prog.Triggers = append(b.prog.Triggers, t)
}

// builtin returns the startup or shutdown trigger of a reactor, creating
// it on first use.
func (b *builder) builtin(reactor, name string) *ir.Trigger {
	full := reactor + "." + name
	if t, ok := b.triggers[full]; ok {
		return t
	}
	kind := ir.KindStartup
	if name == TriggerShutdown {
		kind = ir.KindShutdown
	}
	t := &ir.Trigger{Name: full, Reactor: reactor, Kind: kind}
	b.trigger(t)
	return t
}

func (b *builder) reaction(reactor string, rs ir.ReactionSpec) {
	r := &ir.Reaction{
		Name:     reactor + "." + rs.Name,
		Reactor:  reactor,
		Index:    len(b.prog.Reactions),
		Deadline: rs.Deadline.Nanos(),
	}
	for _, name := range rs.Triggers {
		if name == TriggerStartup || name == TriggerShutdown {
			t := b.builtin(reactor, name)
			t.Reactions = append(t.Reactions, r)
			r.Triggers = append(r.Triggers, t)
			continue
		}
		full := reactor + "." + name
		if t, ok := b.triggers[full]; ok {
			t.Reactions = append(t.Reactions, r)
			r.Triggers = append(r.Triggers, t)
			continue
		}
		p := b.ports[full]
		p.Reactions = append(p.Reactions, r)
		r.Sources = append(r.Sources, p)
	}
	for _, name := range rs.Sources {
		p := b.ports[reactor+"."+name]
		p.Readers = append(p.Readers, r)
		r.Sources = append(r.Sources, p)
	}
	for _, name := range rs.Effects {
		full := reactor + "." + name
		if a, ok := b.triggers[full]; ok {
			r.Schedules = append(r.Schedules, a)
			continue
		}
		r.Effects = append(r.Effects, b.ports[full])
	}

	var runs atomic.Int64
	emit := func(ctx ir.Context, n int64) {
		for _, p := range r.Effects {
			ctx.Set(p, n)
		}
		for _, a := range r.Schedules {
			ctx.Schedule(a, rs.Delay.Nanos(), n)
		}
		if rs.Stop {
			ctx.RequestStop()
		}
	}
	work := rs.Work.Nanos()
	r.Body = func(ctx ir.Context) {
		n := runs.Add(1)
		if work > 0 {
			b.cfg.work(ctx, work)
		}
		emit(ctx, n)
	}
	if r.Deadline > 0 {
		r.DeadlineHandler = func(ctx ir.Context) {
			emit(ctx, runs.Add(1))
		}
	}
	b.prog.Reactions = append(b.prog.Reactions, r)
}
