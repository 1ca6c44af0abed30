package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/tagflow/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// Program structure errors (E101-E104)
	ErrProgramNoReactors  = "E101" // at least one reactor required
	ErrReactorNoReactions = "E102" // reactor must have reactions
	ErrDuplicateName      = "E103" // duplicate reactor, member or reaction name
	ErrEmptyName          = "E104" // names must be non-empty

	// Reference errors (E105-E107)
	ErrUnknownReference  = "E105" // trigger/source/effect names nothing usable
	ErrInvalidConnection = "E106" // bad port reference or direction
	ErrMultipleDrivers   = "E107" // input connected more than once

	// Parameter errors (E108-E110)
	ErrNegativeDuration = "E108" // durations must be >= 0
	ErrInvalidPolicy    = "E109" // unknown min-spacing policy
	ErrNoTriggers       = "E110" // reaction without triggers never runs
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// memberKind classifies the names declared inside a reactor.
type memberKind int

const (
	memberInput memberKind = iota + 1
	memberOutput
	memberTimer
	memberAction
)

// Builtin trigger names available in every reactor.
const (
	TriggerStartup  = "startup"
	TriggerShutdown = "shutdown"
)

// Validate checks a program spec against the structural rules Build
// relies on. Returns all errors found (does not fail-fast).
func Validate(spec *ir.ProgramSpec) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	// E101: at least one reactor
	if len(spec.Reactors) == 0 {
		add("reactors", ErrProgramNoReactors, "at least one reactor is required")
	}

	reactors := make(map[string]map[string]memberKind, len(spec.Reactors))
	for i, r := range spec.Reactors {
		field := fmt.Sprintf("reactors[%d]", i)
		if strings.TrimSpace(r.Name) == "" {
			add(field+".name", ErrEmptyName, "reactor name is required")
		}
		if _, dup := reactors[r.Name]; dup {
			add(field+".name", ErrDuplicateName, "duplicate reactor name: %q", r.Name)
		}
		members := declareMembers(r, field, add)
		reactors[r.Name] = members

		// E102: reactor must have reactions
		if len(r.Reactions) == 0 {
			add(field+".reactions", ErrReactorNoReactions, "reactor %q must have at least one reaction", r.Name)
		}

		for j, t := range r.Timers {
			if t.Offset < 0 || t.Period < 0 {
				add(fmt.Sprintf("%s.timers[%d]", field, j), ErrNegativeDuration, "timer %q has a negative offset or period", t.Name)
			}
		}
		for j, a := range r.Actions {
			af := fmt.Sprintf("%s.actions[%d]", field, j)
			if a.MinDelay < 0 || a.MinSpacing < 0 {
				add(af, ErrNegativeDuration, "action %q has a negative min_delay or min_spacing", a.Name)
			}
			if _, err := ir.ParseSpacingPolicy(a.Policy); err != nil {
				add(af+".policy", ErrInvalidPolicy, "%v, must be \"defer\", \"drop\" or \"replace\"", err)
			}
		}

		reactionNames := make(map[string]bool)
		for j, rs := range r.Reactions {
			rf := fmt.Sprintf("%s.reactions[%d]", field, j)
			if strings.TrimSpace(rs.Name) == "" {
				add(rf+".name", ErrEmptyName, "reaction name is required")
			}
			if reactionNames[rs.Name] {
				add(rf+".name", ErrDuplicateName, "duplicate reaction name: %q", rs.Name)
			}
			reactionNames[rs.Name] = true

			if rs.Work < 0 || rs.Deadline < 0 || rs.Delay < 0 {
				add(rf, ErrNegativeDuration, "reaction %q has a negative work, deadline or delay", rs.Name)
			}

			// E110: a reaction without triggers never runs
			if len(rs.Triggers) == 0 {
				add(rf+".triggers", ErrNoTriggers, "reaction %q has no triggers", rs.Name)
			}
			for k, name := range rs.Triggers {
				if name == TriggerStartup || name == TriggerShutdown {
					continue
				}
				switch members[name] {
				case memberTimer, memberAction, memberInput:
				default:
					add(fmt.Sprintf("%s.triggers[%d]", rf, k), ErrUnknownReference,
						"trigger %q is not a timer, action, input or builtin of %q", name, r.Name)
				}
			}
			for k, name := range rs.Sources {
				if members[name] != memberInput {
					add(fmt.Sprintf("%s.sources[%d]", rf, k), ErrUnknownReference,
						"source %q is not an input of %q", name, r.Name)
				}
			}
			for k, name := range rs.Effects {
				switch members[name] {
				case memberOutput, memberAction:
				default:
					add(fmt.Sprintf("%s.effects[%d]", rf, k), ErrUnknownReference,
						"effect %q is not an output or action of %q", name, r.Name)
				}
			}
		}
	}

	driven := make(map[string]bool)
	for i, c := range spec.Connections {
		field := fmt.Sprintf("connections[%d]", i)
		if !refIs(reactors, c.From, memberOutput) {
			add(field+".from", ErrInvalidConnection, "%q is not an output port", c.From)
		}
		if !refIs(reactors, c.To, memberInput) {
			add(field+".to", ErrInvalidConnection, "%q is not an input port", c.To)
		}
		// E107: one driver per input
		if driven[c.To] {
			add(field+".to", ErrMultipleDrivers, "input %q is connected more than once", c.To)
		}
		driven[c.To] = true
	}

	return errs
}

// declareMembers collects the inputs, outputs, timers and actions of r,
// reporting duplicates across all four.
func declareMembers(r ir.ReactorSpec, field string, add func(field, code, format string, args ...any)) map[string]memberKind {
	members := make(map[string]memberKind)
	declare := func(name, kind string, mk memberKind) {
		if strings.TrimSpace(name) == "" {
			add(field+"."+kind, ErrEmptyName, "%s name is required", kind)
			return
		}
		if name == TriggerStartup || name == TriggerShutdown {
			add(field+"."+kind, ErrDuplicateName, "%q is a builtin trigger name", name)
			return
		}
		if _, dup := members[name]; dup {
			add(field+"."+kind, ErrDuplicateName, "duplicate name %q in reactor %q", name, r.Name)
			return
		}
		members[name] = mk
	}
	for _, in := range r.Inputs {
		declare(in, "input", memberInput)
	}
	for _, out := range r.Outputs {
		declare(out, "output", memberOutput)
	}
	for _, t := range r.Timers {
		declare(t.Name, "timer", memberTimer)
	}
	for _, a := range r.Actions {
		declare(a.Name, "action", memberAction)
	}
	return members
}

func refIs(reactors map[string]map[string]memberKind, ref string, want memberKind) bool {
	reactor, port, ok := splitPortRef(ref)
	if !ok {
		return false
	}
	members, ok := reactors[reactor]
	return ok && members[port] == want
}
