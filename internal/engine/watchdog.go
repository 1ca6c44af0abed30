package engine

import (
	"sync"
	"sync/atomic"

	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// Watchdog calls a handler when physical time passes an expiration that
// reactions keep pushing forward. A reaction arms it with Start; if it is
// not restarted or stopped before physical time reaches the current tag
// plus its timeout, the handler runs.
//
// The handler runs on the watchdog's own goroutine with no environment
// lock held. It typically schedules a physical action so the expiry is
// seen as an event at a later tag.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Watchdog struct {
	env     *Environment
	name    string
	timeout int64
	handler func()

	mu         sync.Mutex
	expiration int64
	active     bool
	closed     bool
	// wake interrupts the sleep when the expiration changes. Buffered, size 1.
	wake chan struct{}

	expirations atomic.Int64
}

// NewWatchdog creates a stopped watchdog with the given timeout. Watchdogs
// still running when Run returns are stopped.
func (e *Environment) NewWatchdog(name string, timeout int64, handler func()) *Watchdog {
	w := &Watchdog{
		env:        e,
		name:       name,
		timeout:    timeout,
		handler:    handler,
		expiration: tag.Never,
		wake:       make(chan struct{}, 1),
	}
	e.wdMu.Lock()
	e.watchdogs = append(e.watchdogs, w)
	e.wdMu.Unlock()
	return w
}

// Name returns the watchdog's name.
func (w *Watchdog) Name() string { return w.name }

// Start arms the watchdog to expire at the current tag's time plus the
// timeout plus additional. Restarting a running watchdog moves its
// expiration. It is a no-op outside Run.
func (w *Watchdog) Start(additional int64) {
	if !w.env.started.Load() {
		return
	}
	now := w.env.CurrentTag()
	if now.IsNever() {
		return
	}
	expiration := saturatingAdd(saturatingAdd(now.Time, w.timeout), max(additional, 0))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.expiration = expiration
	if w.active {
		w.interrupt()
		return
	}
	w.active = true
	w.env.wdWG.Add(1)
	go w.run()
}

// Stop disarms the watchdog without running the handler.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return
	}
	w.expiration = tag.Never
	w.interrupt()
}

// Active reports whether the watchdog is armed.
func (w *Watchdog) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Expirations returns how many times the handler has run.
func (w *Watchdog) Expirations() int64 {
	return w.expirations.Load()
}

// interrupt wakes the sleeping goroutine. mu must be held.
func (w *Watchdog) interrupt() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Watchdog) run() {
	defer w.env.wdWG.Done()
	e := w.env
	for {
		w.mu.Lock()
		expiration := w.expiration
		switch {
		case expiration == tag.Never || e.ctx.Err() != nil:
			w.active = false
			w.mu.Unlock()
			return
		case e.clock.Now() >= expiration:
			w.active = false
			w.expiration = tag.Never
			w.mu.Unlock()
			w.expire(expiration)
			return
		}
		w.mu.Unlock()

		e.clock.SleepUntil(e.ctx, expiration, w.wake)
	}
}

func (w *Watchdog) expire(expiration int64) {
	e := w.env
	w.expirations.Add(1)
	e.tracer.Record(trace.Record{
		Kind:     trace.WatchdogExpired,
		Worker:   -1,
		Subject:  w.name,
		Tag:      e.CurrentTag(),
		Physical: e.clock.Now(),
	})
	e.log.Debug("watchdog expired",
		"run_id", e.runID,
		"watchdog", w.name,
		"expiration", expiration-e.start,
	)
	if w.handler != nil {
		w.handler()
	}
}

// stopWatchdogs disarms every watchdog and waits for their goroutines.
func (e *Environment) stopWatchdogs() {
	e.wdMu.Lock()
	watchdogs := append([]*Watchdog(nil), e.watchdogs...)
	e.wdMu.Unlock()

	for _, w := range watchdogs {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		w.Stop()
	}
	e.wdWG.Wait()
}
