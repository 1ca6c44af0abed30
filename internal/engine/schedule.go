package engine

import (
	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/sched"
	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// Schedule schedules action a to fire extra after its minimum delay,
// carrying v, and returns a handle for Cancel. It returns 0 when the event
// was not queued: dropped by the spacing policy, past the stop tag, or
// the environment is not running.
//
// Logical actions are timed from the current tag; physical actions from
// the current physical time, and they interrupt the wait for physical time
// so that they are seen promptly. A negative extra delay counts as 0.
//
// Safe for concurrent use.
func (e *Environment) Schedule(a *ir.Trigger, extra int64, v any) int64 {
	return e.schedule(a, extra, v, -1)
}

// Cancel removes a pending event by handle. It returns false when the
// event has already fired or was never queued.
func (e *Environment) Cancel(handle int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev := e.queue.Handle(handle)
	if ev == nil {
		return false
	}
	if !e.queue.Remove(ev) {
		return false
	}
	ev.release()
	return true
}

func (e *Environment) schedule(a *ir.Trigger, extra int64, v any, worker int) int64 {
	var tok *ir.Token
	if v != nil {
		tok = ir.NewToken(v)
	}

	e.mu.Lock()
	handle, at, err := e.scheduleLocked(a, extra, tok)
	e.mu.Unlock()

	if err != nil {
		if tok != nil {
			tok.Release()
		}
		switch err.Reason {
		case reasonDropped, reasonBeyondStop:
			e.log.Debug("schedule discarded", "run_id", e.runID, "trigger", a.Name, "reason", err.Reason)
		default:
			e.warn.Warn("schedule:"+a.Name, "schedule rejected",
				"run_id", e.runID,
				"trigger", a.Name,
				"reason", err.Reason,
			)
		}
		return 0
	}

	e.tracer.Record(trace.Record{
		Kind:     trace.ScheduleCalled,
		Worker:   worker,
		Subject:  a.Name,
		Tag:      at,
		Physical: e.clock.Now(),
	})
	if a.Kind == ir.KindPhysicalAction {
		e.signal()
	}
	return handle
}

const (
	reasonNotAction  = "not an action"
	reasonNotRunning = "environment not running"
	reasonAfterStop  = "after stop"
	reasonStatic     = "not supported by the static scheduler"
	reasonDropped    = "dropped by min spacing"
	reasonBeyondStop = "beyond stop tag"
)

// scheduleLocked computes the event time and queues the event. It returns
// the handle and the tag the event is expected to fire at. mu must be
// held.
func (e *Environment) scheduleLocked(a *ir.Trigger, extra int64, tok *ir.Token) (int64, tag.Tag, *ScheduleError) {
	reject := func(reason string) (int64, tag.Tag, *ScheduleError) {
		return 0, tag.NeverTag, &ScheduleError{Trigger: a.Name, Reason: reason}
	}

	switch {
	case !a.IsAction():
		return reject(reasonNotAction)
	case e.current.IsNever():
		return reject(reasonNotRunning)
	case e.finished || e.current.After(e.stop):
		return reject(reasonAfterStop)
	case e.kind == sched.KindStatic:
		return reject(reasonStatic)
	}

	if extra < 0 {
		extra = 0
	}
	delay := saturatingAdd(a.Offset, extra)

	var at int64
	if a.Kind == ir.KindPhysicalAction {
		at = saturatingAdd(e.clock.Now(), delay)
		if at < e.current.Time {
			at = e.current.Time
		}
	} else {
		at = saturatingAdd(e.current.Time, delay)
	}

	if a.MinSpacing > 0 && !a.LastTag.IsNever() {
		if earliest := saturatingAdd(a.LastTag.Time, a.MinSpacing); at < earliest {
			switch a.Policy {
			case ir.SpacingDrop:
				return reject(reasonDropped)
			case ir.SpacingReplace:
				if prev := e.queue.Find(a, a.LastTag.Time); prev != nil {
					last := prev
					for last.next != nil {
						last = last.next
					}
					if last.token != nil {
						last.token.Release()
					}
					last.token = tok
					return last.handle, deduceTag(e.current, last.time), nil
				}
				at = earliest
			default:
				at = earliest
			}
		}
	}

	fires := deduceTag(e.current, at)
	if fires.After(e.stop) {
		return reject(reasonBeyondStop)
	}

	ev := e.push(a, at, tok)
	a.LastTag = fires
	return ev.handle, fires, nil
}
