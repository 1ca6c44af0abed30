package ir

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProgramSpec is the declarative form of a program, loaded from CUE or
// YAML and compiled into a Program.
type ProgramSpec struct {
	Name        string           `yaml:"name" json:"name"`
	Reactors    []ReactorSpec    `yaml:"reactors" json:"reactors"`
	Connections []ConnectionSpec `yaml:"connections,omitempty" json:"connections,omitempty"`
}

// ReactorSpec declares a reactor and its reactions in priority order.
type ReactorSpec struct {
	Name      string         `yaml:"name" json:"name"`
	Inputs    []string       `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs   []string       `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Timers    []TimerSpec    `yaml:"timers,omitempty" json:"timers,omitempty"`
	Actions   []ActionSpec   `yaml:"actions,omitempty" json:"actions,omitempty"`
	Reactions []ReactionSpec `yaml:"reactions" json:"reactions"`
}

// TimerSpec declares a timer.
type TimerSpec struct {
	Name   string   `yaml:"name" json:"name"`
	Offset Duration `yaml:"offset,omitempty" json:"offset,omitempty"`
	Period Duration `yaml:"period,omitempty" json:"period,omitempty"`
}

// ActionSpec declares a logical or physical action.
type ActionSpec struct {
	Name       string   `yaml:"name" json:"name"`
	Physical   bool     `yaml:"physical,omitempty" json:"physical,omitempty"`
	MinDelay   Duration `yaml:"min_delay,omitempty" json:"min_delay,omitempty"`
	MinSpacing Duration `yaml:"min_spacing,omitempty" json:"min_spacing,omitempty"`
	Policy     string   `yaml:"policy,omitempty" json:"policy,omitempty"`
}

// ReactionSpec declares a reaction with a synthetic body.
//
// Triggers, Sources and Effects name local timers, actions and ports, or
// the builtin triggers "startup" and "shutdown".
type ReactionSpec struct {
	Name     string   `yaml:"name" json:"name"`
	Triggers []string `yaml:"triggers" json:"triggers"`
	Sources  []string `yaml:"sources,omitempty" json:"sources,omitempty"`
	Effects  []string `yaml:"effects,omitempty" json:"effects,omitempty"`

	// Work is the simulated execution time of the body.
	Work Duration `yaml:"work,omitempty" json:"work,omitempty"`
	// Deadline is the relative deadline; 0 means none.
	Deadline Duration `yaml:"deadline,omitempty" json:"deadline,omitempty"`
	// Delay is the extra delay used when scheduling effect actions.
	Delay Duration `yaml:"delay,omitempty" json:"delay,omitempty"`
	// Stop requests a stop after the body runs.
	Stop bool `yaml:"stop,omitempty" json:"stop,omitempty"`
}

// ConnectionSpec connects an output port to an input port, both written
// as "Reactor.port".
type ConnectionSpec struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// Duration is an interval in nanoseconds that decodes from either an
// integer or a Go duration string such as "150ms".
type Duration int64

// ParseDuration parses a Go duration string or a bare integer of
// nanoseconds.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(n), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return Duration(d), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, node.Value, err)
	}
	*d = parsed
	return nil
}

// Nanos returns the duration as int64 nanoseconds.
func (d Duration) Nanos() int64 {
	return int64(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Lookup returns the reactor spec with the given name.
func (s *ProgramSpec) Lookup(name string) (*ReactorSpec, bool) {
	for i := range s.Reactors {
		if s.Reactors[i].Name == name {
			return &s.Reactors[i], true
		}
	}
	return nil, false
}
