package engine

import (
	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// AdvanceTag implements sched.Host. It is called by the last idle worker
// while every other worker is parked, so no reaction is running.
//
// It reports the completed tag, then waits until the next tag may be
// committed: a coordinator grant, no barrier covering it, and physical
// time caught up with it. Committing triggers the reactions of every
// event at that tag. It returns true once the stop tag has been
// processed.
func (e *Environment) AdvanceTag() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recordAdvance(trace.SchedulerAdvancingTimeStarts)
	defer e.recordAdvance(trace.SchedulerAdvancingTimeEnds)

	if e.coord != nil {
		completed := e.current
		e.mu.Unlock()
		e.coord.LogicalTagComplete(completed)
		e.mu.Lock()
	}

	if !e.current.Before(e.stop) {
		return true
	}

	e.commit(e.nextTag())
	return false
}

// nextTag blocks until the next tag can be committed and returns it.
// mu must be held; it is released while waiting.
func (e *Environment) nextTag() tag.Tag {
	for {
		if e.ctx.Err() != nil {
			e.lowerStop(tag.Delay(e.current, 0))
		}

		target := e.peekTag()
		if target.IsForever() {
			// Keepalive with nothing queued: wait for a physical action or a
			// stop request.
			e.mu.Unlock()
			select {
			case <-e.wake:
			case <-e.ctx.Done():
			case <-e.halt:
			}
			e.mu.Lock()
			continue
		}

		// A cancelled run commits its stop tag without a grant.
		if e.coord != nil && e.ctx.Err() == nil {
			e.mu.Unlock()
			granted := e.coord.NextEventTag(e.ctx, target)
			e.mu.Lock()
			if e.ctx.Err() != nil || granted.Before(target) || e.peekTag() != target {
				continue
			}
		}

		// Barriers hold back a live run only; a cancelled or halted run
		// commits its stop tag regardless.
		if e.barriers > 0 && !target.Before(e.horizon) && !e.stopping() {
			e.log.Debug("tag advance blocked by barrier",
				"run_id", e.runID,
				"target", target.Elapsed(e.start).String(),
				"horizon", e.horizon.Elapsed(e.start).String(),
			)
			e.cond.Wait()
			continue
		}

		if !e.fast && target.Time > e.clock.Now() {
			e.mu.Unlock()
			reached := e.clock.SleepUntil(e.ctx, target.Time, e.wake)
			e.mu.Lock()
			if !reached {
				// Interrupted by a new event or a stop request.
				continue
			}
		}
		return target
	}
}

// stopping reports whether the run was cancelled or halted by a fatal
// error.
func (e *Environment) stopping() bool {
	if e.ctx.Err() != nil {
		return true
	}
	select {
	case <-e.halt:
		return true
	default:
		return false
	}
}

// peekTag returns the earliest tag that could be committed next: the tag
// of the head event or the stop tag, whichever is earlier. An empty queue
// without keepalive converges the stop tag to the next microstep. mu must
// be held.
func (e *Environment) peekTag() tag.Tag {
	head := e.queue.Peek()
	if head == nil {
		if !e.keepalive {
			e.lowerStop(tag.Delay(e.current, 0))
		}
		return e.stop
	}
	return tag.Min(deduceTag(e.current, head.time), e.stop)
}

// commit makes target the current tag and triggers the reactions of every
// event at it. mu must be held.
func (e *Environment) commit(target tag.Tag) {
	prev := e.current
	if target.Before(prev) {
		ir.FatalAt(ir.ErrCodeTagRegression, target, "commit would move time back from %s", prev)
	}
	if target.After(e.stop) {
		ir.FatalAt(ir.ErrCodeAdvancePastStop, target, "commit past stop tag %s", e.stop)
	}

	e.resetTag()
	e.setCurrent(target)

	var piled []*event
	fired := 0
	for ev := e.queue.Peek(); ev != nil && deduceTag(prev, ev.time) == target; ev = e.queue.Peek() {
		e.queue.Pop()
		if ev.next != nil {
			piled = append(piled, ev.next)
			ev.next = nil
		}
		e.fire(ev)
		fired++
	}
	// Pile-ups fire one microstep later.
	for _, ev := range piled {
		e.queue.Insert(ev)
	}

	if err := e.quota.Check(e.runID); err != nil {
		e.log.Error("tag quota overrun", "run_id", e.runID, "error", err)
	}
	if e.quota.Exhausted() && e.lowerStop(target) {
		e.log.Warn("tag quota reached, stopping",
			"run_id", e.runID,
			"tags", e.quota.Current(),
			"limit", e.quota.MaxTags(),
		)
	}

	if target == e.stop {
		for _, t := range e.shutdown {
			e.activate(t, nil)
		}
	}

	e.log.Debug("tag committed",
		"run_id", e.runID,
		"tag", target.Elapsed(e.start).String(),
		"events", fired,
	)
}

// fire turns a popped event into reaction activations and reschedules
// periodic timers.
func (e *Environment) fire(ev *event) {
	t := ev.trigger
	if t.Kind == ir.KindTimer && t.Period > 0 {
		if next := saturatingAdd(ev.time, t.Period); !e.beyondStop(next) && next != tag.Forever {
			e.push(t, next, nil)
		}
	}
	tok := ev.token
	ev.token = nil
	e.activate(t, tok)
}

// activate marks t present at the current tag, taking ownership of tok,
// and triggers its reactions.
func (e *Environment) activate(t *ir.Trigger, tok *ir.Token) {
	if t.Token != nil {
		t.Token.Release()
	}
	t.Token = tok
	t.Present = true
	e.present = append(e.present, t)
	for _, r := range t.Reactions {
		e.sched.TriggerReaction(r, -1)
	}
}

// resetTag clears everything that is only valid for one tag: present
// triggers, their tokens, and ports set by reactions.
func (e *Environment) resetTag() {
	for _, t := range e.present {
		t.Present = false
		if t.Token != nil {
			t.Token.Release()
			t.Token = nil
		}
	}
	e.present = e.present[:0]

	e.portsMu.Lock()
	for _, p := range e.setPorts {
		p.Reset()
	}
	e.setPorts = e.setPorts[:0]
	e.portsMu.Unlock()
}

func (e *Environment) recordAdvance(kind trace.Kind) {
	e.tracer.Record(trace.Record{
		Kind:     kind,
		Worker:   -1,
		Tag:      e.current,
		Physical: e.clock.Now(),
	})
}
