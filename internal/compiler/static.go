package compiler

import (
	"fmt"
	"math"
	"slices"

	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/sched"
)

// MaxStaticSteps bounds the number of distinct timer instants in one
// hyperperiod.
const MaxStaticSteps = 10_000

// StaticSchedule compiles a timer-driven program into a cyclic executive
// for the given number of workers.
//
// The hyperperiod is the least common multiple of the timer periods. Each
// instant at which a timer fires within it becomes a step: worker 0
// advances the tags of the reactors involved, sleeps until the instant and
// releases the step; the reactions of the step are spread round-robin in
// level order, each waiting for its predecessors on other workers through
// per-worker completion counters. Reactions of fired timers are executed
// unconditionally; reactions reachable through ports only if triggered.
//
// Actions, startup and shutdown triggers have no static counterpart and
// are rejected, as are one-shot timers and offsets of a period or more.
func StaticSchedule(p *ir.Program, workers int) (*sched.StaticProgram, error) {
	if workers < 1 {
		return nil, fmt.Errorf("static schedule: need at least one worker, got %d", workers)
	}
	timers, err := staticTimers(p)
	if err != nil {
		return nil, err
	}

	hyper := int64(1)
	for _, t := range timers {
		var ok bool
		if hyper, ok = lcm(hyper, t.Period); !ok {
			return nil, fmt.Errorf("static schedule: hyperperiod of %s overflows", p.Name)
		}
	}
	instants, err := fireInstants(timers, hyper)
	if err != nil {
		return nil, err
	}

	reach := reachability(p)
	g := &staticGen{
		prog:    p,
		workers: workers,
		seqs:    make([][]sched.Instruction, workers),
		counts:  make([]uint64, workers),
		reach:   reach,
	}
	for w := range g.seqs {
		// Placeholder for the BIT patched below.
		g.seqs[w] = []sched.Instruction{nil}
	}
	for s, at := range instants {
		g.step(s, at, firing(timers, at))
	}
	for w := range g.seqs {
		seq := append(g.seqs[w], sched.SAC{}, sched.JMP{Target: 0}, sched.STP{})
		seq[0] = sched.BIT{Target: len(seq) - 1}
		g.seqs[w] = seq
	}

	sp := &sched.StaticProgram{
		Workers:     g.seqs,
		Counters:    workers + 1,
		Hyperperiod: hyper,
	}
	if err := sp.Validate(workers); err != nil {
		return nil, err
	}
	return sp, nil
}

func staticTimers(p *ir.Program) ([]*ir.Trigger, error) {
	var timers []*ir.Trigger
	for _, t := range p.Triggers {
		switch t.Kind {
		case ir.KindTimer:
			if t.Period <= 0 {
				return nil, fmt.Errorf("static schedule: timer %s must be periodic", t.Name)
			}
			if t.Offset >= t.Period {
				return nil, fmt.Errorf("static schedule: timer %s offset %d is not below its period %d", t.Name, t.Offset, t.Period)
			}
			timers = append(timers, t)
		default:
			return nil, fmt.Errorf("static schedule: %s trigger %s is not supported", t.Kind, t.Name)
		}
	}
	if len(timers) == 0 {
		return nil, fmt.Errorf("static schedule: program %s has no timers", p.Name)
	}
	return timers, nil
}

func fireInstants(timers []*ir.Trigger, hyper int64) ([]int64, error) {
	seen := make(map[int64]bool)
	var out []int64
	for _, t := range timers {
		for at := t.Offset; at < hyper; at += t.Period {
			if !seen[at] {
				seen[at] = true
				out = append(out, at)
				if len(out) > MaxStaticSteps {
					return nil, fmt.Errorf("static schedule: more than %d steps per hyperperiod of %d", MaxStaticSteps, hyper)
				}
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

func firing(timers []*ir.Trigger, at int64) []*ir.Trigger {
	var out []*ir.Trigger
	for _, t := range timers {
		if at >= t.Offset && (at-t.Offset)%t.Period == 0 {
			out = append(out, t)
		}
	}
	return out
}

// reachability returns, per reaction, the set of reactions reachable from
// it in the precedence graph.
func reachability(p *ir.Program) [][]bool {
	graph := buildPrecedenceGraph(p)
	reach := make([][]bool, len(graph))
	for i := range graph {
		seen := make([]bool, len(graph))
		stack := slices.Clone(graph[i])
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[n] {
				continue
			}
			seen[n] = true
			stack = append(stack, graph[n]...)
		}
		reach[i] = seen
	}
	return reach
}

// staticGen accumulates worker sequences step by step.
type staticGen struct {
	prog    *ir.Program
	workers int
	seqs    [][]sched.Instruction
	// counts is the number of reaction slots each worker has completed
	// since the start of the hyperperiod.
	counts []uint64
	reach  [][]bool
}

type slot struct {
	reaction *ir.Reaction
	worker   int
	// done is the worker's counter value once this slot has completed.
	done uint64
}

func (g *staticGen) step(s int, at int64, fired []*ir.Trigger) {
	unconditional := make(map[*ir.Reaction]bool)
	for _, t := range fired {
		for _, r := range t.Reactions {
			unconditional[r] = true
		}
	}
	included := make(map[*ir.Reaction]bool)
	var frontier []*ir.Port
	for r := range unconditional {
		included[r] = true
		frontier = append(frontier, r.Effects...)
	}
	for len(frontier) > 0 {
		port := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		frontier = append(frontier, port.Downstream...)
		for _, r := range port.Reactions {
			if !included[r] {
				included[r] = true
				frontier = append(frontier, r.Effects...)
			}
		}
	}

	var order []*ir.Reaction
	for _, r := range g.prog.ReactionsByLevel() {
		if included[r] {
			order = append(order, r)
		}
	}

	// Worker 0 waits for the previous step, advances the reactors and
	// releases the step once physical time reaches it.
	lead := &g.seqs[0]
	if s > 0 {
		for w := 1; w < g.workers; w++ {
			if g.counts[w] > 0 {
				*lead = append(*lead, sched.WU{Counter: w, Value: g.counts[w]})
			}
		}
	}
	var reactors []string
	for _, r := range order {
		if !slices.Contains(reactors, r.Reactor) {
			reactors = append(reactors, r.Reactor)
		}
	}
	slices.Sort(reactors)
	for _, name := range reactors {
		*lead = append(*lead, sched.ADV{Reactor: name, Offset: at})
	}
	stepCounter := g.workers
	*lead = append(*lead,
		sched.DU{Offset: at},
		sched.ADDI{Counter: stepCounter, Value: 1, Locked: true},
	)

	released := make([]bool, g.workers)
	released[0] = true
	var slots []slot
	for i, r := range order {
		w := i % g.workers
		seq := &g.seqs[w]
		if !released[w] {
			*seq = append(*seq, sched.WU{Counter: stepCounter, Value: uint64(s + 1)})
			released[w] = true
		}

		waits := make(map[int]uint64)
		for _, prev := range slots {
			if prev.worker != w && g.reach[prev.reaction.Index][r.Index] {
				waits[prev.worker] = max(waits[prev.worker], prev.done)
			}
		}
		for ow := 0; ow < g.workers; ow++ {
			if v, ok := waits[ow]; ok {
				*seq = append(*seq, sched.WU{Counter: ow, Value: v})
			}
		}

		if unconditional[r] {
			*seq = append(*seq, sched.EXE{Reaction: r})
		} else {
			*seq = append(*seq, sched.EIT{Reaction: r})
		}
		*seq = append(*seq, sched.ADDI{Counter: w, Value: 1})
		g.counts[w]++
		slots = append(slots, slot{reaction: r, worker: w, done: g.counts[w]})
	}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// lcm reports false on overflow.
func lcm(a, b int64) (int64, bool) {
	q := a / gcd(a, b)
	if q > math.MaxInt64/b {
		return 0, false
	}
	return q * b, true
}
