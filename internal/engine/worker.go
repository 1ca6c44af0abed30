package engine

import (
	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/trace"
)

// worker runs reactions handed out by the scheduler until it returns nil.
// A fatal error stops every other worker and is returned.
func (e *Environment) worker(id int) (err error) {
	defer func() {
		if err = ir.RecoverFatal(recover(), err); err != nil {
			e.sched.SignalStop()
			e.haltAll()
			e.mu.Lock()
			e.cond.Broadcast()
			e.mu.Unlock()
		}
	}()

	for {
		r := e.sched.GetReadyReaction(id)
		if r == nil {
			return nil
		}
		e.execute(id, r)
		e.sched.DoneWithReaction(id, r)
	}
}

// execute runs one reaction body, or its deadline handler when the
// physical lag behind the reaction's tag exceeds the deadline.
func (e *Environment) execute(worker int, r *ir.Reaction) {
	at := e.reactionTag(r)
	ctx := &reactionContext{env: e, reaction: r, worker: worker, tag: at}

	body := r.Body
	if r.HasDeadline() {
		if lag := e.clock.Now() - at.Time; lag > r.Deadline {
			e.tracer.Record(trace.Record{
				Kind:     trace.DeadlineMissed,
				Worker:   worker,
				Subject:  r.Name,
				Tag:      at,
				Physical: e.clock.Now(),
			})
			e.warn.Warn("deadline:"+r.Name, "deadline missed",
				"run_id", e.runID,
				"reaction", r.Name,
				"tag", at.Elapsed(e.start).String(),
				"lag", lag,
				"deadline", r.Deadline,
			)
			if r.DeadlineHandler != nil {
				body = r.DeadlineHandler
			}
		}
	}

	e.tracer.Record(trace.Record{
		Kind:     trace.ReactionStarts,
		Worker:   worker,
		Subject:  r.Name,
		Tag:      at,
		Physical: e.clock.Now(),
	})
	if body != nil {
		body(ctx)
	}
	e.tracer.Record(trace.Record{
		Kind:     trace.ReactionEnds,
		Worker:   worker,
		Subject:  r.Name,
		Tag:      at,
		Physical: e.clock.Now(),
	})
}
