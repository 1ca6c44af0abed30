package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/platform"
	"github.com/roach88/tagflow/internal/sched"
	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// Coordinator is the federation collaborator consulted while advancing
// tags. Both methods are called without the environment mutex held.
type Coordinator interface {
	// NextEventTag asks permission to commit t and blocks until a tag is
	// granted. A grant earlier than t makes the environment re-examine its
	// event queue before asking again.
	NextEventTag(ctx context.Context, t tag.Tag) tag.Tag

	// LogicalTagComplete is called once per committed tag, after every
	// reaction of the tag has finished.
	LogicalTagComplete(t tag.Tag)
}

// Environment executes one program: it owns the current and stop tags,
// the event queue, the scheduler and the worker pool.
//
// Thread-safety model:
//   - Run: called once.
//   - Schedule, RequestStop, RaiseBarrier, LowerBarrier, Cancel and the
//     Watchdog methods: safe from any goroutine, including reaction bodies.
//   - The event queue, the tags and the trigger runtime fields are only
//     touched with mu held. Reaction status and per-level counters are
//     atomic and live in the scheduler.
type Environment struct {
	prog   *ir.Program
	log    *slog.Logger
	clock  platform.Clock
	tracer trace.Tracer
	coord  Coordinator
	runIDs RunIDGenerator
	quota  *TagQuota
	warn   *warnLimiter

	workers      int
	kind         sched.Kind
	static       *sched.StaticProgram
	timeout      int64
	hasTimeout   bool
	keepalive    bool
	fast         bool
	startTime    int64
	hasStartTime bool

	started  atomic.Bool
	runID    string
	start    int64
	ctx      context.Context
	sched    sched.Scheduler
	seq      *Sequence
	halt     chan struct{}
	haltOnce sync.Once

	mu   sync.Mutex
	cond *sync.Cond
	// wake interrupts waits for physical time. Buffered, size 1.
	wake     chan struct{}
	current  tag.Tag
	stop     tag.Tag
	finished bool
	queue    *eventQueue
	present  []*ir.Trigger
	shutdown []*ir.Trigger
	barriers int
	horizon  tag.Tag

	// now mirrors current for lock-free reads from reaction bodies.
	now atomic.Pointer[tag.Tag]

	portsMu  sync.Mutex
	setPorts []*ir.Port

	// Static scheduling keeps one tag per reactor.
	reactorTags  map[string]*atomic.Pointer[tag.Tag]
	reactorPorts map[string][]*ir.Port

	wdMu      sync.Mutex
	watchdogs []*Watchdog
	wdWG      sync.WaitGroup
}

// New creates an environment for prog. The program is validated when Run
// is called.
func New(prog *ir.Program, opts ...Option) *Environment {
	e := &Environment{
		prog:    prog,
		log:     slog.Default(),
		clock:   platform.SystemClock{},
		tracer:  trace.Nop{},
		runIDs:  UUIDv7Generator{},
		quota:   NewTagQuota(0),
		workers: platform.AvailableCores(),
		kind:    sched.KindNP,
		seq:     NewSequence(),
		halt:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		current: tag.NeverTag,
		stop:    tag.ForeverTag,
		queue:   newEventQueue(),
		horizon: tag.ForeverTag,
	}
	e.cond = sync.NewCond(&e.mu)
	for _, opt := range opts {
		opt(e)
	}
	e.warn = newWarnLimiter(e.log)
	e.setCurrent(tag.NeverTag)
	return e
}

// Run executes the program until the stop tag is reached, the context is
// cancelled, or a fatal error occurs. It blocks until every worker has
// exited. A fatal scheduler inconsistency is returned as *ir.RuntimeError.
func (e *Environment) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if err := e.prog.Validate(); err != nil {
		return fmt.Errorf("program %s: %w", e.prog.Name, err)
	}
	e.prog.Reset()

	e.ctx = ctx
	e.runID = e.runIDs.Generate()
	e.start = e.startTime
	if !e.hasStartTime {
		e.start = e.clock.Now()
	}
	e.tracer = relativeTracer{inner: e.tracer, start: e.start}

	s, err := sched.New(e.kind, e, sched.Params{
		Workers:           e.workers,
		ReactionsPerLevel: e.prog.ReactionsPerLevel(),
		Tracer:            e.tracer,
		Static:            e.static,
	})
	if err != nil {
		return fmt.Errorf("create %s scheduler: %w", e.kind, err)
	}
	e.sched = s

	e.initialize()

	stopOnCancel := context.AfterFunc(ctx, e.RequestStop)
	defer stopOnCancel()

	e.log.Info("environment starting",
		"run_id", e.runID,
		"program", e.prog.Name,
		"scheduler", string(e.kind),
		"workers", e.workers,
		"stop", e.StopTag().Elapsed(e.start).String(),
	)

	var g errgroup.Group
	for w := 0; w < e.workers; w++ {
		g.Go(func() error { return e.worker(w) })
	}
	err = g.Wait()
	e.stopWatchdogs()

	e.mu.Lock()
	final := e.current
	e.finish()
	e.mu.Unlock()

	if err != nil {
		e.log.Error("environment failed",
			"run_id", e.runID,
			"tag", final.Elapsed(e.start).String(),
			"error", err,
		)
		return err
	}
	e.log.Info("environment stopped",
		"run_id", e.runID,
		"tag", final.Elapsed(e.start).String(),
		"tags", e.quota.Current(),
	)
	return nil
}

// initialize sets the stop tag and commits the start tag, queuing startup
// reactions and timers with a zero offset before any worker runs.
func (e *Environment) initialize() {
	e.mu.Lock()
	defer e.mu.Unlock()

	startTag := tag.New(e.start, 0)
	if e.hasTimeout {
		e.stop = startTag
		if e.timeout > 0 {
			e.stop = tag.Delay(startTag, e.timeout)
		}
	}

	if e.kind == sched.KindStatic {
		e.reactorTags = make(map[string]*atomic.Pointer[tag.Tag])
		e.reactorPorts = make(map[string][]*ir.Port)
		for _, r := range e.prog.Reactions {
			if _, ok := e.reactorTags[r.Reactor]; !ok {
				p := new(atomic.Pointer[tag.Tag])
				p.Store(&startTag)
				e.reactorTags[r.Reactor] = p
			}
		}
		for _, p := range e.prog.Ports {
			e.reactorPorts[p.Reactor] = append(e.reactorPorts[p.Reactor], p)
		}
		e.setCurrent(startTag)
		return
	}

	for _, t := range e.prog.Triggers {
		switch t.Kind {
		case ir.KindStartup:
			e.push(t, e.start, nil)
		case ir.KindTimer:
			at := saturatingAdd(e.start, t.Offset)
			if e.beyondStop(at) {
				continue
			}
			e.push(t, at, nil)
		case ir.KindShutdown:
			e.shutdown = append(e.shutdown, t)
		}
	}
	e.commit(startTag)
}

// finish discards what is left of the run: pending events, values present
// at the final tag, and port values.
func (e *Environment) finish() {
	e.finished = true
	for _, ev := range e.queue.Drain() {
		ev.release()
	}
	e.resetTag()
}

// RunID returns the identifier of the run, empty before Run.
func (e *Environment) RunID() string {
	return e.runID
}

// StartTime returns the physical and logical start time.
func (e *Environment) StartTime() int64 {
	return e.start
}

// Now returns the current physical time.
func (e *Environment) Now() int64 {
	return e.clock.Now()
}

// CurrentTag returns the current tag.
func (e *Environment) CurrentTag() tag.Tag {
	return *e.now.Load()
}

// StopTag returns the stop tag.
func (e *Environment) StopTag() tag.Tag {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stop
}

// RequestStop stops execution at the next microstep. The stop tag is only
// ever lowered, so repeated requests are harmless.
func (e *Environment) RequestStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current.IsNever() || e.finished {
		return
	}
	if e.lowerStop(tag.Delay(e.current, 0)) {
		e.log.Info("stop requested",
			"run_id", e.runID,
			"stop", e.stop.Elapsed(e.start).String(),
		)
	}
	e.signal()
	e.cond.Broadcast()
}

// RaiseBarrier prevents tags at or after t from being committed until the
// matching LowerBarrier. It returns false if t has already been reached.
func (e *Environment) RaiseBarrier(t tag.Tag) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.current.Before(t) {
		return false
	}
	e.barriers++
	if t.Before(e.horizon) {
		e.horizon = t
	}
	return true
}

// LowerBarrier releases one RaiseBarrier. When the last barrier is lowered
// tag advancement resumes.
func (e *Environment) LowerBarrier() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.barriers == 0 {
		return
	}
	e.barriers--
	if e.barriers == 0 {
		e.horizon = tag.ForeverTag
	}
	e.cond.Broadcast()
}

// lowerStop moves the stop tag to t if that is earlier. mu must be held.
func (e *Environment) lowerStop(t tag.Tag) bool {
	if t.Before(e.stop) {
		e.stop = t
		return true
	}
	return false
}

func (e *Environment) setCurrent(t tag.Tag) {
	e.current = t
	snapshot := t
	e.now.Store(&snapshot)
}

// signal interrupts a pending wait for physical time. Non-blocking: the
// buffer of 1 coalesces signals.
func (e *Environment) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// haltAll interrupts every blocking wait after a fatal error.
func (e *Environment) haltAll() {
	e.haltOnce.Do(func() { close(e.halt) })
}

// beyondStop reports whether an event at time could never fire. mu must
// be held.
func (e *Environment) beyondStop(time int64) bool {
	return !e.stop.IsForever() && time > e.stop.Time
}

func (e *Environment) push(t *ir.Trigger, time int64, tok *ir.Token) *event {
	seq := e.seq.Next()
	ev := &event{time: time, trigger: t, token: tok, handle: seq, seq: seq}
	e.queue.Insert(ev)
	return ev
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > tag.Forever-b {
		return tag.Forever
	}
	return a + b
}
