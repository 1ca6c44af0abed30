package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tagflow/internal/ir"
)

// CompileProgram parses a CUE value into a ProgramSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the program struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`program: Pipeline: { reactors: { ... } }`)
//	spec, err := CompileProgram(v.LookupPath(cue.ParsePath("program.Pipeline")))
//
// Reactors, timers and actions are structs keyed by name; reactions are a
// list, because their order is their priority within the reactor.
func CompileProgram(v cue.Value) (*ir.ProgramSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ProgramSpec{}

	// Program name from struct label, overridden by an explicit name field.
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}
	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Name = name
	}

	reactorsVal := v.LookupPath(cue.ParsePath("reactors"))
	if !reactorsVal.Exists() {
		return nil, &CompileError{
			Field:   "reactors",
			Message: "reactors are required",
			Pos:     v.Pos(),
		}
	}
	iter, err := reactorsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		reactor, err := parseReactor(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Reactors = append(spec.Reactors, reactor)
	}
	if len(spec.Reactors) == 0 {
		return nil, &CompileError{
			Field:   "reactors",
			Message: "at least one reactor is required",
			Pos:     reactorsVal.Pos(),
		}
	}

	connVal := v.LookupPath(cue.ParsePath("connections"))
	if connVal.Exists() {
		spec.Connections, err = parseConnections(connVal)
		if err != nil {
			return nil, err
		}
	}

	return spec, nil
}

// parseReactor extracts one reactor.
func parseReactor(name string, v cue.Value) (ir.ReactorSpec, error) {
	reactor := ir.ReactorSpec{Name: name}
	field := func(f string) string { return fmt.Sprintf("reactors.%s.%s", name, f) }

	var err error
	if reactor.Inputs, err = optionalStrings(v, "inputs"); err != nil {
		return reactor, err
	}
	if reactor.Outputs, err = optionalStrings(v, "outputs"); err != nil {
		return reactor, err
	}

	// Timers (optional)
	if timersVal := v.LookupPath(cue.ParsePath("timers")); timersVal.Exists() {
		iter, err := timersVal.Fields()
		if err != nil {
			return reactor, formatCUEError(err)
		}
		for iter.Next() {
			timer := ir.TimerSpec{Name: iter.Label()}
			if timer.Offset, err = optionalDuration(iter.Value(), "offset"); err != nil {
				return reactor, err
			}
			if timer.Period, err = optionalDuration(iter.Value(), "period"); err != nil {
				return reactor, err
			}
			reactor.Timers = append(reactor.Timers, timer)
		}
	}

	// Actions (optional)
	if actionsVal := v.LookupPath(cue.ParsePath("actions")); actionsVal.Exists() {
		iter, err := actionsVal.Fields()
		if err != nil {
			return reactor, formatCUEError(err)
		}
		for iter.Next() {
			av := iter.Value()
			action := ir.ActionSpec{Name: iter.Label()}
			if physVal := av.LookupPath(cue.ParsePath("physical")); physVal.Exists() {
				if action.Physical, err = physVal.Bool(); err != nil {
					return reactor, formatCUEError(err)
				}
			}
			if action.MinDelay, err = optionalDuration(av, "min_delay"); err != nil {
				return reactor, err
			}
			if action.MinSpacing, err = optionalDuration(av, "min_spacing"); err != nil {
				return reactor, err
			}
			if action.Policy, err = optionalString(av, "policy"); err != nil {
				return reactor, err
			}
			reactor.Actions = append(reactor.Actions, action)
		}
	}

	// Reactions (required, at least one)
	reactionsVal := v.LookupPath(cue.ParsePath("reactions"))
	if !reactionsVal.Exists() {
		return reactor, &CompileError{
			Field:   field("reactions"),
			Message: "reactions are required",
			Pos:     v.Pos(),
		}
	}
	list, err := reactionsVal.List()
	if err != nil {
		return reactor, formatCUEError(err)
	}
	for list.Next() {
		reaction, err := parseReaction(name, list.Value())
		if err != nil {
			return reactor, err
		}
		reactor.Reactions = append(reactor.Reactions, reaction)
	}
	if len(reactor.Reactions) == 0 {
		return reactor, &CompileError{
			Field:   field("reactions"),
			Message: "at least one reaction is required",
			Pos:     reactionsVal.Pos(),
		}
	}

	return reactor, nil
}

// parseReaction extracts one reaction of reactor.
func parseReaction(reactor string, v cue.Value) (ir.ReactionSpec, error) {
	var r ir.ReactionSpec

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return r, &CompileError{
			Field:   fmt.Sprintf("reactors.%s.reactions", reactor),
			Message: "reaction name is required",
			Pos:     v.Pos(),
		}
	}
	name, err := nameVal.String()
	if err != nil {
		return r, formatCUEError(err)
	}
	r.Name = name

	if r.Triggers, err = optionalStrings(v, "triggers"); err != nil {
		return r, err
	}
	if r.Sources, err = optionalStrings(v, "sources"); err != nil {
		return r, err
	}
	if r.Effects, err = optionalStrings(v, "effects"); err != nil {
		return r, err
	}
	if r.Work, err = optionalDuration(v, "work"); err != nil {
		return r, err
	}
	if r.Deadline, err = optionalDuration(v, "deadline"); err != nil {
		return r, err
	}
	if r.Delay, err = optionalDuration(v, "delay"); err != nil {
		return r, err
	}
	if stopVal := v.LookupPath(cue.ParsePath("stop")); stopVal.Exists() {
		if r.Stop, err = stopVal.Bool(); err != nil {
			return r, formatCUEError(err)
		}
	}
	return r, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalStrings(v cue.Value, path string) ([]string, error) {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return nil, nil
	}
	iter, err := lv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// optionalDuration reads an integer of nanoseconds or a duration string
// such as "150ms".
func optionalDuration(v cue.Value, path string) (ir.Duration, error) {
	dv := v.LookupPath(cue.ParsePath(path))
	if !dv.Exists() {
		return 0, nil
	}
	switch dv.IncompleteKind() {
	case cue.IntKind:
		n, err := dv.Int64()
		if err != nil {
			return 0, formatCUEError(err)
		}
		return ir.Duration(n), nil
	case cue.StringKind:
		s, err := dv.String()
		if err != nil {
			return 0, formatCUEError(err)
		}
		d, err := ir.ParseDuration(s)
		if err != nil {
			return 0, &CompileError{
				Field:   path,
				Message: fmt.Sprintf("invalid duration %q", s),
				Pos:     dv.Pos(),
			}
		}
		return d, nil
	case cue.FloatKind, cue.NumberKind:
		return 0, &CompileError{
			Field:   path,
			Message: "fractional durations are not allowed, use an integer of nanoseconds or a duration string",
			Pos:     dv.Pos(),
		}
	default:
		return 0, &CompileError{
			Field:   path,
			Message: fmt.Sprintf("unsupported duration kind: %v", dv.IncompleteKind()),
			Pos:     dv.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
