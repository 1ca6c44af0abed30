package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/tagflow/internal/store"
	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Kind     string // optional - filter to one record kind
	Subject  string // optional - filter to one reaction or trigger
	Limit    int
}

// RunInfo describes a stored run.
type RunInfo struct {
	ID             string `json:"id"`
	Program        string `json:"program"`
	ProgramHash    string `json:"program_hash"`
	Scheduler      string `json:"scheduler"`
	Workers        int    `json:"workers"`
	Status         string `json:"status"`
	FinalTag       string `json:"final_tag,omitempty"`
	Error          string `json:"error,omitempty"`
	RuntimeVersion string `json:"runtime_version"`
	TraceVersion   string `json:"trace_version"`
}

// TraceEvent is a single record in the trace timeline.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Kind     string `json:"kind"`
	Worker   int    `json:"worker"`
	Subject  string `json:"subject,omitempty"`
	Tag      string `json:"tag"`
	Physical int64  `json:"physical"`
}

// TraceResult holds the trace of one run.
type TraceResult struct {
	Run      RunInfo      `json:"run"`
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalRecords   int64          `json:"total_records"`
	Shown          int            `json:"shown"`
	Tags           int            `json:"tags"`
	Reactions      int            `json:"reactions"`
	DeadlineMisses int            `json:"deadline_misses"`
	ByKind         map[string]int `json:"by_kind"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded runs",
		Long: `Inspect runs recorded with "tagflow run --db".

Without --run, lists the recorded runs, most recent first. With --run,
prints the trace records of that run in the order they were emitted,
followed by summary statistics.

Examples:
  tagflow trace --db ./runs.db
  tagflow trace --db ./runs.db --run 0190f1c2-...
  tagflow trace --db ./runs.db --run 0190f1c2-... --kind deadline_missed
  tagflow trace --db ./runs.db --run 0190f1c2-... --subject A.emit --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show (default: list runs)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter records by kind (e.g. reaction_starts)")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "filter records by reaction or trigger name")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum runs or records to show (0: all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	filter := store.RecordFilter{Subject: opts.Subject, Limit: opts.Limit}
	if opts.Kind != "" {
		kind, err := trace.ParseKind(opts.Kind)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --kind", err)
		}
		filter.Kind = kind
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.RunID == "" {
		runs, err := st.ListRuns(ctx, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		return outputRunList(formatter, runs)
	}

	run, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, store.ErrRunNotFound) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run %q not found", opts.RunID), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("run %q not found", opts.RunID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	records, err := st.ReadRecords(ctx, opts.RunID, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}
	total, err := st.CountRecords(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count trace records", err)
	}
	formatter.VerboseLog("Read %d of %d record(s) for run %s", len(records), total, opts.RunID)

	result := TraceResult{
		Run:      toRunInfo(run),
		Timeline: buildTimeline(records),
		Stats:    buildTraceStats(records, total),
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

func toRunInfo(r store.Run) RunInfo {
	info := RunInfo{
		ID:             r.ID,
		Program:        r.Program,
		ProgramHash:    r.ProgramHash,
		Scheduler:      r.Scheduler,
		Workers:        r.Workers,
		Status:         string(r.Status),
		Error:          r.Error,
		RuntimeVersion: r.RuntimeVersion,
		TraceVersion:   r.TraceVersion,
	}
	if !r.FinalTag.IsNever() {
		info.FinalTag = r.FinalTag.String()
	}
	return info
}

// buildTimeline converts stored records to timeline events.
func buildTimeline(records []store.StoredRecord) []TraceEvent {
	timeline := make([]TraceEvent, len(records))
	for i, rec := range records {
		timeline[i] = TraceEvent{
			Seq:      rec.Seq,
			Kind:     rec.Kind.String(),
			Worker:   rec.Worker,
			Subject:  rec.Subject,
			Tag:      rec.Tag.String(),
			Physical: rec.Physical,
		}
	}
	return timeline
}

func buildTraceStats(records []store.StoredRecord, total int64) TraceStats {
	stats := TraceStats{
		TotalRecords: total,
		Shown:        len(records),
		ByKind:       make(map[string]int),
	}
	tags := make(map[tag.Tag]struct{})
	for _, rec := range records {
		stats.ByKind[rec.Kind.String()]++
		switch rec.Kind {
		case trace.ReactionStarts:
			stats.Reactions++
			tags[rec.Tag] = struct{}{}
		case trace.DeadlineMissed:
			stats.DeadlineMisses++
		}
	}
	stats.Tags = len(tags)
	return stats
}

func outputRunList(formatter *OutputFormatter, runs []store.Run) error {
	infos := make([]RunInfo, len(runs))
	for i, r := range runs {
		infos[i] = toRunInfo(r)
	}
	if formatter.Format == "json" {
		return formatter.Success(infos)
	}

	w := formatter.Writer
	if len(infos) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	for _, r := range infos {
		final := r.FinalTag
		if final == "" {
			final = "-"
		}
		fmt.Fprintf(w, "%s  %-20s %-9s %-6s w=%-3d %s\n", r.ID, r.Program, r.Status, r.Scheduler, r.Workers, final)
	}
	return nil
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	r := result.Run
	fmt.Fprintf(w, "Trace for run: %s\n", r.ID)
	fmt.Fprintf(w, "Program: %s (%s)\n", r.Program, r.ProgramHash)
	fmt.Fprintf(w, "Status: %s", r.Status)
	if r.FinalTag != "" {
		fmt.Fprintf(w, " at %s", r.FinalTag)
	}
	fmt.Fprintln(w)
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no records)")
	}
	for _, e := range result.Timeline {
		fmt.Fprintf(w, "  [%d] %-14s %-32s %s", e.Seq, e.Tag, e.Kind, e.Subject)
		if verbose {
			fmt.Fprintf(w, "  worker=%d physical=%s", e.Worker, tag.FormatInstant(e.Physical))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	s := result.Stats
	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Records:   %d of %d\n", s.Shown, s.TotalRecords)
	fmt.Fprintf(w, "  Tags:      %d\n", s.Tags)
	fmt.Fprintf(w, "  Reactions: %d\n", s.Reactions)
	fmt.Fprintf(w, "  Deadlines: %d missed\n", s.DeadlineMisses)
	if verbose {
		kinds := make([]string, 0, len(s.ByKind))
		for k := range s.ByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-32s %d\n", k, s.ByKind[k])
		}
	}
}
