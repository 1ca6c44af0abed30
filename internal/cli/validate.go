package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tagflow/internal/compiler"
	"github.com/roach88/tagflow/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool       `json:"valid"`
	Programs int        `json:"programs"`
	Errors   []CLIError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate programs without compiling them",
		Long: `Validate reactor programs from a CUE directory or a YAML file.

Checks names, references, connections and durations, and looks for
causality cycles. Every problem is reported, not only the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loadResult, loadErrors := LoadPrograms(path, LoadModeCollectAll)
	if loadResult == nil {
		e := toCLIErrors(loadErrors)[0]
		_ = formatter.Error(e.Code, e.Message, e.Details)
		// Load failures are command-level errors (exit code 2)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", e.Code, e.Message))
	}
	formatter.VerboseLog("Found %d source file(s) in %s", loadResult.FileCount, path)

	issues := toCLIErrors(loadErrors)
	for i := range loadResult.Programs {
		spec := &loadResult.Programs[i]
		formatter.VerboseLog("Validating program: %s", spec.Name)
		issues = append(issues, ValidateProgram(spec)...)
	}

	if len(issues) > 0 {
		return outputValidationErrors(formatter, len(loadResult.Programs), issues)
	}
	return outputValidateSuccess(formatter, len(loadResult.Programs))
}

// ValidateProgram returns every problem with spec: validation errors
// first, then causality cycles when the program is otherwise valid.
func ValidateProgram(spec *ir.ProgramSpec) []CLIError {
	if verrs := compiler.Validate(spec); len(verrs) > 0 {
		out := make([]CLIError, len(verrs))
		for i, v := range verrs {
			out[i] = CLIError{Code: v.Code, Message: fmt.Sprintf("%s: %s", v.Field, v.Message)}
		}
		return out
	}
	if _, err := compiler.Build(spec); err != nil {
		return buildIssues(err)
	}
	return nil
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, programs int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Programs: programs})
	}

	fmt.Fprintf(formatter.Writer, "✓ %d program(s) valid\n", programs)
	return nil
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, programs int, errs []CLIError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:    false,
				Programs: programs,
				Errors:   errs,
			},
			Error: &errs[0],
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if pos, ok := e.Details.(string); ok {
			fmt.Fprintln(formatter.Writer, pos)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
