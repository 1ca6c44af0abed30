package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tagflow/internal/compiler"
	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/sched"
	"github.com/roach88/tagflow/internal/tag"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output  string // output file path
	Program string // only compile this program
	Static  bool   // also generate the static schedule
	Workers int    // workers for the static schedule
}

// CompiledReaction is the compiled form of one reaction.
type CompiledReaction struct {
	Name      string `json:"name"`
	Level     uint16 `json:"level"`
	ChainMask string `json:"chain_mask"`
	Deadline  int64  `json:"deadline,omitempty"`
}

// StaticListing is a static schedule rendered as text, one listing per
// worker.
type StaticListing struct {
	Hyperperiod int64      `json:"hyperperiod"`
	Counters    int        `json:"counters"`
	Workers     [][]string `json:"workers"`
}

// CompiledProgram is the compile output for one program.
type CompiledProgram struct {
	Name      string             `json:"name"`
	Hash      string             `json:"hash"`
	Reactions []CompiledReaction `json:"reactions"`
	Static    *StaticListing     `json:"static,omitempty"`

	prog *ir.Program
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <path>",
		Short: "Compile programs and show levels, chain masks and hashes",
		Long: `Compile reactor programs from a CUE directory or a YAML file.

Each program is validated, checked for causality cycles, and assigned
reaction levels and chain masks. With --static the precompiled schedule
of every worker is listed as well.

Examples:
  tagflow compile ./programs
  tagflow compile ./programs --program Pipeline --static --workers 2
  tagflow compile ./pipeline.yaml -o pipeline.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write canonical program JSON to this file")
	cmd.Flags().StringVar(&opts.Program, "program", "", "only compile this program")
	cmd.Flags().BoolVar(&opts.Static, "static", false, "generate the static schedule")
	cmd.Flags().IntVar(&opts.Workers, "workers", 1, "workers for the static schedule")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loadResult, loadErrors := LoadPrograms(path, LoadModeCollectAll)
	if loadResult == nil {
		return outputCompileErrors(formatter, toCLIErrors(loadErrors))
	}
	formatter.VerboseLog("Found %d source file(s) in %s", loadResult.FileCount, path)

	specs := loadResult.Programs
	if opts.Program != "" {
		spec, err := loadResult.SelectProgram(opts.Program)
		if err != nil {
			return outputCompileErrors(formatter, toCLIErrors([]error{err}))
		}
		specs = []ir.ProgramSpec{*spec}
	}

	issues := toCLIErrors(loadErrors)
	var compiled []CompiledProgram
	for i := range specs {
		formatter.VerboseLog("Compiling program: %s", specs[i].Name)
		cp, errs := compileProgram(&specs[i], opts)
		if len(errs) > 0 {
			issues = append(issues, errs...)
			continue
		}
		compiled = append(compiled, *cp)
	}
	if len(issues) > 0 {
		return outputCompileErrors(formatter, issues)
	}

	if opts.Output != "" {
		if err := writeProgramsToFile(compiled, opts.Output); err != nil {
			return outputCompileErrors(formatter, []CLIError{{
				Code:    ErrCodeWriteFailed,
				Message: fmt.Sprintf("writing output file: %v", err),
			}})
		}
	}

	return outputCompileSuccess(formatter, compiled, opts.Output)
}

// compileProgram builds one program and renders its compiled form.
func compileProgram(spec *ir.ProgramSpec, opts *CompileOptions) (*CompiledProgram, []CLIError) {
	prog, err := compiler.Build(spec)
	if err != nil {
		return nil, buildIssues(err)
	}
	hash, err := ir.ProgramHash(prog)
	if err != nil {
		return nil, []CLIError{{Code: ErrCodeGeneric, Message: err.Error()}}
	}

	cp := &CompiledProgram{Name: prog.Name, Hash: hash, prog: prog}
	for _, r := range prog.ReactionsByLevel() {
		cp.Reactions = append(cp.Reactions, CompiledReaction{
			Name:      r.Name,
			Level:     r.Level,
			ChainMask: fmt.Sprintf("%#x", r.ChainMask),
			Deadline:  r.Deadline,
		})
	}

	if opts.Static {
		sp, err := compiler.StaticSchedule(prog, opts.Workers)
		if err != nil {
			return nil, []CLIError{{Code: ErrCodeGeneric, Message: err.Error()}}
		}
		cp.Static = listStatic(sp)
	}
	return cp, nil
}

func listStatic(sp *sched.StaticProgram) *StaticListing {
	l := &StaticListing{
		Hyperperiod: sp.Hyperperiod,
		Counters:    sp.Counters,
		Workers:     make([][]string, len(sp.Workers)),
	}
	for w, seq := range sp.Workers {
		l.Workers[w] = make([]string, len(seq))
		for i, in := range seq {
			l.Workers[w][i] = in.String()
		}
	}
	return l
}

// buildIssues flattens a compiler.Build error into coded messages: one per
// validation error, or the runtime error code of a causality cycle.
func buildIssues(err error) []CLIError {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []CLIError
		for _, e := range joined.Unwrap() {
			out = append(out, buildIssues(e)...)
		}
		return out
	}

	var ve compiler.ValidationError
	if errors.As(err, &ve) {
		return []CLIError{{Code: ve.Code, Message: fmt.Sprintf("%s: %s", ve.Field, ve.Message)}}
	}
	var re *ir.RuntimeError
	if errors.As(err, &re) {
		issue := CLIError{Code: string(re.Code), Message: re.Message}
		if len(re.Details) > 0 {
			issue.Details = re.Details
		}
		return []CLIError{issue}
	}
	return []CLIError{{Code: ErrCodeGeneric, Message: err.Error()}}
}

// toCLIErrors converts load errors, keeping their codes and positions.
func toCLIErrors(errs []error) []CLIError {
	out := make([]CLIError, 0, len(errs))
	for _, err := range errs {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			e := CLIError{Code: loadErr.Code, Message: loadErr.Message}
			if loadErr.Pos.IsValid() {
				e.Details = fmt.Sprintf("%s:%d:%d", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
			}
			out = append(out, e)
			continue
		}
		out = append(out, CLIError{Code: ErrCodeGeneric, Message: err.Error()})
	}
	return out
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, programs []CompiledProgram, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(programs)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d program(s)\n\n", len(programs))
	for _, p := range programs {
		fmt.Fprintf(w, "%s (%s)\n", p.Name, p.Hash)
		for _, r := range p.Reactions {
			fmt.Fprintf(w, "  L%-3d %-24s mask %s", r.Level, r.Name, r.ChainMask)
			if r.Deadline > 0 {
				fmt.Fprintf(w, "  deadline %s", tag.FormatInstant(r.Deadline))
			}
			fmt.Fprintln(w)
		}
		if p.Static != nil {
			fmt.Fprintf(w, "\n  static schedule, hyperperiod %s, %d counter(s)\n",
				tag.FormatInstant(p.Static.Hyperperiod), p.Static.Counters)
			for wk, seq := range p.Static.Workers {
				fmt.Fprintf(w, "  worker %d:\n", wk)
				for i, in := range seq {
					fmt.Fprintf(w, "    %3d  %s\n", i, in)
				}
			}
		}
		fmt.Fprintln(w)
	}

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote canonical programs to %s\n", outputFile)
	}
	return nil
}

// outputCompileErrors outputs every compilation error.
func outputCompileErrors(formatter *OutputFormatter, errs []CLIError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Error:  &errs[0],
			Data:   errs, // Include all errors in data
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		// Compilation errors are command-level errors (exit code 2)
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if pos, ok := e.Details.(string); ok {
			fmt.Fprintln(formatter.Writer, pos)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// writeProgramsToFile writes the canonical form of every program, the
// same bytes that are hashed.
func writeProgramsToFile(programs []CompiledProgram, filename string) error {
	list := make([]any, len(programs))
	for i, p := range programs {
		list[i] = ir.CanonicalProgram(p.prog)
	}
	data, err := ir.MarshalCanonical(list)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
