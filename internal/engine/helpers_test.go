package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/testutil"
	"github.com/roach88/tagflow/internal/trace"
)

const testStart = 1000

// builder assembles programs by hand. Reaction and trigger names are
// "Reactor.name".
type builder struct {
	prog *ir.Program
}

func newBuilder(name string) *builder {
	return &builder{prog: &ir.Program{Name: name}}
}

func reactorOf(name string) string {
	reactor, _, _ := strings.Cut(name, ".")
	return reactor
}

func (b *builder) trigger(name string, kind ir.TriggerKind) *ir.Trigger {
	t := &ir.Trigger{Name: name, Reactor: reactorOf(name), Kind: kind, LastTag: tag.NeverTag}
	b.prog.Triggers = append(b.prog.Triggers, t)
	return t
}

func (b *builder) timer(name string, offset, period int64) *ir.Trigger {
	t := b.trigger(name, ir.KindTimer)
	t.Offset = offset
	t.Period = period
	return t
}

func (b *builder) action(name string, kind ir.TriggerKind, minDelay int64) *ir.Trigger {
	t := b.trigger(name, kind)
	t.Offset = minDelay
	return t
}

func (b *builder) port(name string) *ir.Port {
	p := &ir.Port{Name: name, Reactor: reactorOf(name)}
	b.prog.Ports = append(b.prog.Ports, p)
	return p
}

func (b *builder) reaction(name string, level uint16, body ir.Body, triggers ...*ir.Trigger) *ir.Reaction {
	r := &ir.Reaction{
		Name:      name,
		Reactor:   reactorOf(name),
		Index:     len(b.prog.Reactions),
		Level:     level,
		ChainMask: 1,
		Body:      body,
		Triggers:  triggers,
	}
	for _, t := range triggers {
		t.Reactions = append(t.Reactions, r)
	}
	b.prog.Reactions = append(b.prog.Reactions, r)
	return r
}

// listen makes r triggered by p.
func listen(r *ir.Reaction, p *ir.Port) {
	p.Reactions = append(p.Reactions, r)
	r.Sources = append(r.Sources, p)
}

func nop(ir.Context) {}

// tagLog collects the relative tags a body observed, in order.
type tagLog struct {
	mu     sync.Mutex
	tags   []tag.Tag
	values []any
}

func (l *tagLog) add(ctx ir.Context, v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tags = append(l.tags, tag.New(ctx.Elapsed(), ctx.Tag().Microstep))
	l.values = append(l.values, v)
}

func (l *tagLog) Tags() []tag.Tag {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]tag.Tag(nil), l.tags...)
}

func (l *tagLog) Values() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]any(nil), l.values...)
}

func rel(t int64, m uint32) tag.Tag { return tag.New(t, m) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	env   *Environment
	clock *testutil.VirtualClock
	rec   *trace.Recorder
}

// newTestEnv creates an environment on a virtual clock reading testStart.
// opts are applied after the defaults.
func newTestEnv(prog *ir.Program, opts ...Option) *testEnv {
	clk := testutil.NewVirtualClock(testStart)
	rec := trace.NewRecorder()
	defaults := []Option{
		WithClock(clk),
		WithTracer(rec),
		WithWorkers(2),
		WithRunID("run-test"),
		WithLogger(discardLogger()),
	}
	return &testEnv{
		env:   New(prog, append(defaults, opts...)...),
		clock: clk,
		rec:   rec,
	}
}

func (te *testEnv) run(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return te.env.Run(ctx)
}

// start runs the environment in the background and waits for the start
// tag to be committed.
func (te *testEnv) start(t *testing.T, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- te.env.Run(ctx) }()
	require.Eventually(t, func() bool {
		return !te.env.CurrentTag().IsNever()
	}, 5*time.Second, time.Millisecond)
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("environment did not stop")
		return nil
	}
}
