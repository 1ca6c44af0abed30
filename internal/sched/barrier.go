package sched

import (
	"sync/atomic"

	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// idleBarrier parks workers that ran out of work on the current level.
//
// Workers count themselves idle with an atomic add. Every worker but the
// last blocks on the semaphore. The last one runs distribute, which makes
// the next batch of work current and returns its size, or 0 when the tag
// is exhausted. On 0 the tag is advanced and distribution retried. The
// last worker then wakes only as many peers as there is work for.
type idleBarrier struct {
	host    Host
	tracer  trace.Tracer
	workers int

	idle atomic.Int32
	sem  *countingSemaphore
	stop atomic.Bool
}

func newIdleBarrier(host Host, workers int, tracer trace.Tracer) *idleBarrier {
	return &idleBarrier{
		host:    host,
		tracer:  tracer,
		workers: workers,
		sem:     newCountingSemaphore(),
	}
}

// wait blocks the calling worker until there may be work for it.
func (b *idleBarrier) wait(worker int, distribute func() int) {
	b.record(trace.WorkerWaitStarts, worker)
	defer b.record(trace.WorkerWaitEnds, worker)

	if int(b.idle.Add(1)) < b.workers {
		b.sem.Acquire()
		return
	}

	for !b.stop.Load() {
		if n := distribute(); n > 0 {
			b.notify(n)
			return
		}
		if b.host.AdvanceTag() {
			b.signalStop()
			return
		}
	}
}

// notify hands n units of work out. The caller, the last idle worker, is
// one of the workers woken.
func (b *idleBarrier) notify(n int) {
	k := min(n, b.workers)
	b.idle.Add(-int32(k))
	b.sem.Release(k - 1)
}

func (b *idleBarrier) signalStop() {
	if b.stop.CompareAndSwap(false, true) {
		b.sem.Release(b.workers - 1)
	}
}

func (b *idleBarrier) stopped() bool {
	return b.stop.Load()
}

func (b *idleBarrier) record(kind trace.Kind, worker int) {
	b.tracer.Record(trace.Record{Kind: kind, Worker: worker, Tag: tag.NeverTag, Physical: b.host.Now()})
}
