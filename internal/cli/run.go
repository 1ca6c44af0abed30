package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tagflow/internal/compiler"
	"github.com/roach88/tagflow/internal/engine"
	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/platform"
	"github.com/roach88/tagflow/internal/sched"
	"github.com/roach88/tagflow/internal/store"
	"github.com/roach88/tagflow/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Program   string
	Scheduler string
	Workers   int
	Timeout   time.Duration
	MaxTags   int
	Fast      bool
	Keepalive bool
	Database  string
	RunID     string

	// RunIDs allows overriding the run id generator (for testing).
	// If nil and RunID is empty, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunSummary is the outcome of a run.
type RunSummary struct {
	RunID          string `json:"run_id"`
	Program        string `json:"program"`
	ProgramHash    string `json:"program_hash"`
	Scheduler      string `json:"scheduler"`
	Workers        int    `json:"workers"`
	FinalTag       string `json:"final_tag"`
	Reactions      int64  `json:"reactions"`
	DeadlineMisses int64  `json:"deadline_misses"`
	Records        int64  `json:"records,omitempty"`
	Database       string `json:"database,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <path>",
		Short: "Execute a program",
		Long: `Execute a reactor program until its stop tag.

The program is loaded from a CUE directory or a YAML file and runs on a
pool of workers under the selected scheduler. Reaction bodies are
synthetic: they sleep for their declared work, write their effect ports
and schedule their effect actions.

With --db the run and its trace are recorded in a SQLite database for
the trace command. Ctrl-C requests a stop at the next microstep.

Example:
  tagflow run ./programs --program Pipeline --timeout 1s
  tagflow run ./pipeline.yaml --scheduler gedf --workers 4 --fast --timeout 10s
  tagflow run ./pipeline.yaml --scheduler static --workers 2 --timeout 1s --db ./runs.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Program, "program", "", "program to run when the path holds several")
	cmd.Flags().StringVar(&opts.Scheduler, "scheduler", string(sched.KindNP), fmt.Sprintf("scheduling policy %v", sched.Kinds))
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "worker pool size (default: available cores)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "stop after this much logical time (0: run until idle)")
	cmd.Flags().IntVar(&opts.MaxTags, "max-tags", 0, "stop after committing this many tags (0: unlimited)")
	cmd.Flags().BoolVar(&opts.Fast, "fast", false, "do not wait for physical time")
	cmd.Flags().BoolVar(&opts.Keepalive, "keepalive", false, "keep running when the event queue is empty")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run and its trace in this SQLite database")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "fix the run id (default: a fresh UUIDv7)")

	return cmd
}

func runProgram(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := formatter.Logger()

	kind, err := sched.ParseKind(opts.Scheduler)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid scheduler", err)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = platform.AvailableCores()
	}

	spec, err := loadProgram(path, opts.Program)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load program", err)
	}
	prog, err := compiler.Build(spec)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile program", err)
	}
	hash, err := ir.ProgramHash(prog)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to hash program", err)
	}
	logger.Debug("program compiled", "program", prog.Name, "reactions", len(prog.Reactions), "hash", hash)

	runID := opts.RunID
	if runID == "" {
		gen := opts.RunIDs
		if gen == nil {
			gen = engine.UUIDv7Generator{}
		}
		runID = gen.Generate()
	}

	clock := platform.SystemClock{}
	start := clock.Now()
	stats := &runStats{}
	envOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithClock(clock),
		engine.WithStartTime(start),
		engine.WithRunID(runID),
		engine.WithWorkers(workers),
		engine.WithScheduler(kind),
		engine.WithFast(opts.Fast),
		engine.WithKeepalive(opts.Keepalive),
	}
	if kind == sched.KindStatic {
		sp, err := compiler.StaticSchedule(prog, workers)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to build static schedule", err)
		}
		envOpts = append(envOpts, engine.WithStaticProgram(sp))
	}
	if opts.Timeout > 0 {
		envOpts = append(envOpts, engine.WithTimeout(int64(opts.Timeout)))
	}
	if opts.MaxTags > 0 {
		envOpts = append(envOpts, engine.WithMaxTags(opts.MaxTags))
	}

	var (
		st   *store.Store
		sink *store.Sink
	)
	tracers := trace.Multi{stats}
	if opts.Database != "" {
		logger.Debug("opening database", "path", opts.Database)
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		if err := st.BeginRun(cmd.Context(), store.Run{
			ID:             runID,
			Program:        prog.Name,
			ProgramHash:    hash,
			Scheduler:      string(kind),
			Workers:        workers,
			StartTime:      start,
			Status:         store.RunRunning,
			RuntimeVersion: ir.RuntimeVersion,
			TraceVersion:   ir.TraceVersion,
		}); err != nil {
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
		sink = store.NewSink(st, runID, store.WithSinkLogger(logger))
		tracers = append(tracers, sink)
	}
	envOpts = append(envOpts, engine.WithTracer(tracers))

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	env := engine.New(prog, envOpts...)
	runErr := env.Run(ctx)
	final := env.CurrentTag().Elapsed(env.StartTime())

	summary := RunSummary{
		RunID:          runID,
		Program:        prog.Name,
		ProgramHash:    hash,
		Scheduler:      string(kind),
		Workers:        workers,
		FinalTag:       final.String(),
		Reactions:      stats.reactions.Load(),
		DeadlineMisses: stats.missed.Load(),
		Database:       opts.Database,
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			logger.Error("trace sink failed", "run_id", runID, "error", err)
		}
		summary.Records = sink.Written()
		// The command context may already be cancelled by a signal.
		if err := st.FinishRun(context.WithoutCancel(ctx), runID, final, runErr); err != nil {
			logger.Error("failed to record run outcome", "run_id", runID, "error", err)
		}
	}

	if runErr != nil {
		_ = formatter.Error(runErrorCode(runErr), runErr.Error(), summary)
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	return outputRunSummary(formatter, summary)
}

// runStats counts executed reactions and deadline misses.
var _ trace.Tracer = (*runStats)(nil)

type runStats struct {
	reactions atomic.Int64
	missed    atomic.Int64
}

func (s *runStats) Record(r trace.Record) {
	switch r.Kind {
	case trace.ReactionEnds:
		s.reactions.Add(1)
	case trace.DeadlineMissed:
		s.missed.Add(1)
	}
}

func runErrorCode(err error) string {
	for _, code := range []ir.RuntimeErrorCode{
		ir.ErrCodeStatusViolation, ir.ErrCodeDoubleQueue, ir.ErrCodeTagRegression,
		ir.ErrCodeAdvancePastStop, ir.ErrCodeLevelOverflow, ir.ErrCodeInvalidProgram,
		ir.ErrCodeCausalityCycle, ir.ErrCodeInvalidInstruction,
	} {
		if ir.IsCode(err, code) {
			return string(code)
		}
	}
	return ErrCodeGeneric
}

func outputRunSummary(formatter *OutputFormatter, s RunSummary) error {
	if formatter.Format == "json" {
		return formatter.Success(s)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s stopped at %s\n", s.Program, s.FinalTag)
	fmt.Fprintf(w, "  run:        %s\n", s.RunID)
	fmt.Fprintf(w, "  scheduler:  %s, %d worker(s)\n", s.Scheduler, s.Workers)
	fmt.Fprintf(w, "  reactions:  %d\n", s.Reactions)
	fmt.Fprintf(w, "  deadlines:  %d missed\n", s.DeadlineMisses)
	if s.Database != "" {
		fmt.Fprintf(w, "  trace:      %d record(s) in %s\n", s.Records, s.Database)
	}
	return nil
}
