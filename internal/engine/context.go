package engine

import (
	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/sched"
	"github.com/roach88/tagflow/internal/tag"
)

// reactionContext is the ir.Context of one reaction execution.
type reactionContext struct {
	env      *Environment
	reaction *ir.Reaction
	worker   int
	tag      tag.Tag
}

var _ ir.Context = (*reactionContext)(nil)

func (c *reactionContext) Tag() tag.Tag { return c.tag }

func (c *reactionContext) Elapsed() int64 { return c.tag.Time - c.env.start }

func (c *reactionContext) PhysicalElapsed() int64 { return c.env.clock.Now() - c.env.start }

func (c *reactionContext) Worker() int { return c.worker }

func (c *reactionContext) RequestStop() { c.env.RequestStop() }

func (c *reactionContext) Set(p *ir.Port, v any) {
	c.env.setPort(p, v, c.worker)
}

func (c *reactionContext) Schedule(a *ir.Trigger, extra int64, v any) int64 {
	return c.env.schedule(a, extra, v, c.worker)
}

// setPort writes v to p and its connected ports and triggers the reactions
// of each. Ports written in the dynamic modes are reset when the tag
// advances; in static mode the reactor's next ADV resets them.
func (e *Environment) setPort(p *ir.Port, v any, worker int) {
	marked := p.Write(v, nil)
	if e.kind != sched.KindStatic {
		e.portsMu.Lock()
		e.setPorts = append(e.setPorts, marked...)
		e.portsMu.Unlock()
	}
	for _, m := range marked {
		for _, r := range m.Reactions {
			e.sched.TriggerReaction(r, worker)
		}
	}
}

// reactionTag returns the tag r executes at.
func (e *Environment) reactionTag(r *ir.Reaction) tag.Tag {
	if e.kind == sched.KindStatic {
		if p, ok := e.reactorTags[r.Reactor]; ok {
			return *p.Load()
		}
	}
	return *e.now.Load()
}
