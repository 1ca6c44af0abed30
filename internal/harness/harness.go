package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/tagflow/internal/compiler"
	"github.com/roach88/tagflow/internal/engine"
	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/sched"
	"github.com/roach88/tagflow/internal/store"
	"github.com/roach88/tagflow/internal/testutil"
)

// WallLimit bounds the real time a single scenario may take. Scenarios run
// on a virtual clock, so only a program that never stops comes near it.
const WallLimit = 30 * time.Second

// harness holds the per-run collaborators of one scenario.
type harness struct {
	scenario *Scenario
	store    *store.Store
	clock    *testutil.VirtualClock
	logger   *slog.Logger
	kind     sched.Kind
	workers  int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database on a virtual clock
// starting at 0, with a fixed run id, so the trace is reproducible.
// Reaction work advances the clock instead of sleeping.
//
// Execution flow:
//  1. Build the program (and the static schedule when selected)
//  2. Begin the run in the store and attach a trace sink
//  3. Run the environment to its stop tag
//  4. Read the trace back from the store
//  5. Match expect_error, then evaluate assertions
//
// The returned error is reserved for harness failures; a program that
// fails to build or run is reported through the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), WallLimit)
	defer cancel()
	return RunContext(ctx, scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &harness{
		scenario: scenario,
		store:    st,
		clock:    testutil.NewVirtualClock(0),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		kind:     sched.KindNP,
		workers:  1,
	}
	if scenario.Run.Scheduler != "" {
		if h.kind, err = sched.ParseKind(scenario.Run.Scheduler); err != nil {
			return nil, err
		}
	}
	if scenario.Run.Workers > 0 {
		h.workers = scenario.Run.Workers
	}

	runID := scenario.RunID
	if runID == "" {
		runID = DefaultRunID
	}
	result := NewResult(runID)

	if err := h.execute(ctx, result); err != nil {
		return nil, err
	}

	checkExpectedError(scenario.ExpectError, result)
	if result.Err == nil {
		for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
			result.AddError(msg)
		}
	}
	return result, nil
}

// execute builds and runs the program, filling result. Program failures
// land in result.Err; only store failures are returned.
func (h *harness) execute(ctx context.Context, result *Result) error {
	prog, err := compiler.Build(&h.scenario.Program, compiler.WithWork(h.work))
	if err != nil {
		result.Err = err
		return nil
	}

	opts := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithStartTime(0),
		engine.WithRunID(result.RunID),
		engine.WithWorkers(h.workers),
		engine.WithScheduler(h.kind),
		engine.WithKeepalive(h.scenario.Run.Keepalive),
		engine.WithLogger(h.logger),
	}
	if h.kind == sched.KindStatic {
		sp, err := compiler.StaticSchedule(prog, h.workers)
		if err != nil {
			result.Err = err
			return nil
		}
		opts = append(opts, engine.WithStaticProgram(sp))
	}
	if t := h.scenario.Run.Timeout; t != nil {
		opts = append(opts, engine.WithTimeout(t.Nanos()))
	}
	if h.scenario.Run.MaxTags > 0 {
		opts = append(opts, engine.WithMaxTags(h.scenario.Run.MaxTags))
	}

	hash, err := ir.ProgramHash(prog)
	if err != nil {
		return fmt.Errorf("hash program: %w", err)
	}
	if err := h.store.BeginRun(ctx, store.Run{
		ID:             result.RunID,
		Program:        prog.Name,
		ProgramHash:    hash,
		Scheduler:      string(h.kind),
		Workers:        h.workers,
		Status:         store.RunRunning,
		RuntimeVersion: ir.RuntimeVersion,
		TraceVersion:   ir.TraceVersion,
	}); err != nil {
		return err
	}

	sink := store.NewSink(h.store, result.RunID, store.WithSinkLogger(h.logger))
	env := engine.New(prog, append(opts, engine.WithTracer(sink))...)
	runErr := env.Run(ctx)
	if err := sink.Close(); err != nil {
		return fmt.Errorf("flush trace: %w", err)
	}

	result.Err = runErr
	if runErr == nil {
		result.StopTag = env.CurrentTag().Elapsed(env.StartTime())
	}
	if err := h.store.FinishRun(ctx, result.RunID, result.StopTag, runErr); err != nil {
		return err
	}

	result.Records, err = h.store.ReadRecords(ctx, result.RunID, store.RecordFilter{})
	if err != nil {
		return fmt.Errorf("read trace: %w", err)
	}
	return nil
}

// work simulates reaction execution time on the virtual clock.
func (h *harness) work(_ ir.Context, d int64) {
	h.clock.Advance(d)
}

// checkExpectedError reconciles result.Err with the scenario's
// expectation and clears it once matched.
func checkExpectedError(want *ExpectError, result *Result) {
	switch {
	case want == nil && result.Err == nil:
		return
	case want == nil:
		result.AddError(fmt.Sprintf("unexpected error: %v", result.Err))
		return
	case result.Err == nil:
		result.AddError(fmt.Sprintf("expected error (code %q, contains %q), run succeeded", want.Code, want.Contains))
		return
	}

	if want.Code != "" && !hasCode(result.Err, want.Code) {
		result.AddError(fmt.Sprintf("expected error code %q, got: %v", want.Code, result.Err))
	}
	if want.Contains != "" && !strings.Contains(result.Err.Error(), want.Contains) {
		result.AddError(fmt.Sprintf("expected error containing %q, got: %v", want.Contains, result.Err))
	}
}

// hasCode reports whether err carries a validation or runtime error code.
func hasCode(err error, code string) bool {
	if ir.IsCode(err, ir.RuntimeErrorCode(code)) {
		return true
	}
	var ve compiler.ValidationError
	if errors.As(err, &ve) && ve.Code == code {
		return true
	}
	// errors.As stops at the first ValidationError; a joined error may
	// carry several.
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			if errors.As(e, &ve) && ve.Code == code {
				return true
			}
		}
	}
	return false
}
