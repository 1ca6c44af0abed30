package ir

import (
	"fmt"
	"sort"
)

// Program is a compiled set of reactions, triggers and ports with levels
// and chain masks assigned.
type Program struct {
	Name      string
	Reactions []*Reaction
	Triggers  []*Trigger
	Ports     []*Port
}

// Reaction looks up a reaction by name.
func (p *Program) Reaction(name string) *Reaction {
	for _, r := range p.Reactions {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Trigger looks up a trigger by name.
func (p *Program) Trigger(name string) *Trigger {
	for _, t := range p.Triggers {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Port looks up a port by name.
func (p *Program) Port(name string) *Port {
	for _, port := range p.Ports {
		if port.Name == name {
			return port
		}
	}
	return nil
}

// TriggersOf returns the triggers of the given kind in declaration order.
func (p *Program) TriggersOf(kind TriggerKind) []*Trigger {
	var out []*Trigger
	for _, t := range p.Triggers {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// MaxLevel returns the highest level of any reaction, or -1 for an empty
// program.
func (p *Program) MaxLevel() int {
	max := -1
	for _, r := range p.Reactions {
		if int(r.Level) > max {
			max = int(r.Level)
		}
	}
	return max
}

// ReactionsPerLevel returns, per level, the number of reactions that may be
// ready at the same time. This sizes the per-level ready arrays.
func (p *Program) ReactionsPerLevel() []int {
	counts := make([]int, p.MaxLevel()+1)
	for _, r := range p.Reactions {
		counts[r.Level]++
	}
	return counts
}

// ReactionsByLevel returns the reactions sorted by level, then index.
func (p *Program) ReactionsByLevel() []*Reaction {
	out := make([]*Reaction, len(p.Reactions))
	copy(out, p.Reactions)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// Reset returns every reaction, trigger and port to its initial state so
// the program can run again.
func (p *Program) Reset() {
	for _, r := range p.Reactions {
		r.ResetStatus()
	}
	for _, t := range p.Triggers {
		t.ResetRuntime()
	}
	for _, port := range p.Ports {
		port.Reset()
	}
}

// Validate checks the structural invariants the schedulers rely on:
// unique names, bodies present, indices consistent, and every precedence
// edge pointing to a strictly higher level with an overlapping chain mask.
func (p *Program) Validate() error {
	seen := make(map[string]bool, len(p.Reactions))
	for i, r := range p.Reactions {
		if r.Name == "" {
			return invalidProgram("reaction %d has no name", i)
		}
		if seen[r.Name] {
			return invalidProgram("duplicate reaction %q", r.Name)
		}
		seen[r.Name] = true
		if r.Index != i {
			return invalidProgram("reaction %q has index %d, want %d", r.Name, r.Index, i)
		}
		if r.Body == nil {
			return invalidProgram("reaction %q has no body", r.Name)
		}
		if r.Deadline < 0 {
			return invalidProgram("reaction %q has negative deadline", r.Name)
		}
	}

	for _, t := range p.Triggers {
		if t.Period < 0 || t.Offset < 0 || t.MinSpacing < 0 {
			return invalidProgram("trigger %q has a negative interval", t.Name)
		}
		if t.Kind != KindTimer && t.Period != 0 {
			return invalidProgram("trigger %q is not a timer but has a period", t.Name)
		}
	}

	for _, r := range p.Reactions {
		for _, d := range p.Successors(r) {
			if d.Level <= r.Level {
				return invalidProgram("reaction %q (level %d) precedes %q (level %d)", r.Name, r.Level, d.Name, d.Level)
			}
			if !r.Overlaps(d) {
				return invalidProgram("reaction %q and its successor %q have disjoint chain masks", r.Name, d.Name)
			}
		}
	}
	return nil
}

// Successors returns the reactions that must run after r at the same tag:
// reactions triggered through its effect ports and the next reaction of
// the same reactor. The result may contain duplicates.
func (p *Program) Successors(r *Reaction) []*Reaction {
	var out []*Reaction
	for _, e := range r.Effects {
		out = appendPortReactions(out, e)
	}
	for _, o := range p.Reactions[r.Index+1:] {
		if o.Reactor == r.Reactor {
			out = append(out, o)
			break
		}
	}
	return out
}

func appendPortReactions(out []*Reaction, p *Port) []*Reaction {
	out = append(out, p.Reactions...)
	out = append(out, p.Readers...)
	for _, d := range p.Downstream {
		out = appendPortReactions(out, d)
	}
	return out
}

func invalidProgram(format string, args ...any) error {
	return &RuntimeError{
		Code:    ErrCodeInvalidProgram,
		Message: fmt.Sprintf(format, args...),
	}
}
