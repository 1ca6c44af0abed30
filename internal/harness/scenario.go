package harness

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/sched"
	"github.com/roach88/tagflow/internal/tag"
)

// Scenario defines a conformance scenario: a program, how to run it, and
// what the resulting trace must show.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the program under test, declared inline.
	Program ir.ProgramSpec `yaml:"program"`

	// Run configures the environment.
	Run RunConfig `yaml:"run"`

	// RunID fixes the run identifier. Defaults to DefaultRunID.
	RunID string `yaml:"run_id,omitempty"`

	// ExpectError makes the scenario pass only if building or running the
	// program fails with a matching error.
	ExpectError *ExpectError `yaml:"expect_error,omitempty"`

	// Assertions validate the recorded trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// RunConfig mirrors the environment options a scenario may set.
type RunConfig struct {
	// Scheduler is a sched.Kind name. Defaults to "np".
	Scheduler string `yaml:"scheduler,omitempty"`

	// Workers is the worker pool size. Defaults to 1.
	Workers int `yaml:"workers,omitempty"`

	// Timeout bounds logical time. Required unless a reaction requests a
	// stop or MaxTags is set.
	Timeout *ir.Duration `yaml:"timeout,omitempty"`

	Keepalive bool `yaml:"keepalive,omitempty"`

	// MaxTags bounds the number of committed tags.
	MaxTags int `yaml:"max_tags,omitempty"`
}

// ExpectError matches a build or run failure.
type ExpectError struct {
	// Code is a validation code such as "E105" or a runtime error code
	// such as "CAUSALITY_CYCLE".
	Code string `yaml:"code,omitempty"`

	// Contains must appear in the error message.
	Contains string `yaml:"contains,omitempty"`
}

// Assertion validates the trace of a run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "executions": Reaction ran at exactly Tags, in order
	// - "count": Reaction ran exactly Count times
	// - "order": Reactions ran in this order at every tag they share
	// - "deadline_missed": Reaction missed its deadline exactly Count times
	// - "stop_tag": the run ended at Tag
	Type string `yaml:"type"`

	// Reaction is the "Reactor.reaction" name.
	Reaction string `yaml:"reaction,omitempty"`

	// Reactions is the expected order (used by order).
	Reactions []string `yaml:"reactions,omitempty"`

	// Tags are the expected tags (used by executions), written as an
	// elapsed duration with an optional microstep: "100ms", "0s+1".
	Tags []string `yaml:"tags,omitempty"`

	// Tag is the expected final tag (used by stop_tag).
	Tag string `yaml:"tag,omitempty"`

	// Count is the expected number of occurrences (used by count and
	// deadline_missed).
	Count int `yaml:"count"`
}

// Assertion type constants.
const (
	AssertExecutions     = "executions"
	AssertCount          = "count"
	AssertOrder          = "order"
	AssertDeadlineMissed = "deadline_missed"
	AssertStopTag        = "stop_tag"
)

// DefaultRunID identifies scenario runs that do not set run_id.
const DefaultRunID = "scenario-run"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// The program itself is validated when it is built.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Program.Name == "" {
		return fmt.Errorf("program.name is required")
	}

	if s.Run.Scheduler != "" {
		if _, err := sched.ParseKind(s.Run.Scheduler); err != nil {
			return fmt.Errorf("run.scheduler: %w", err)
		}
	}
	if s.Run.Workers < 0 {
		return fmt.Errorf("run.workers must be positive")
	}
	if s.Run.MaxTags < 0 {
		return fmt.Errorf("run.max_tags must be non-negative")
	}
	if s.Run.Timeout != nil && *s.Run.Timeout < 0 {
		return fmt.Errorf("run.timeout must be non-negative")
	}
	if s.Run.Timeout == nil && s.Run.MaxTags == 0 && !requestsStop(&s.Program) {
		return fmt.Errorf("run.timeout is required unless run.max_tags is set or a reaction stops")
	}

	if s.ExpectError != nil {
		if s.ExpectError.Code == "" && s.ExpectError.Contains == "" {
			return fmt.Errorf("expect_error: code or contains is required")
		}
	} else if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func requestsStop(p *ir.ProgramSpec) bool {
	for _, r := range p.Reactors {
		for _, rx := range r.Reactions {
			if rx.Stop {
				return true
			}
		}
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertExecutions:
		if a.Reaction == "" {
			return fmt.Errorf("assertions[%d]: reaction is required for executions", index)
		}
		for _, s := range a.Tags {
			if _, err := ParseTag(s); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertCount, AssertDeadlineMissed:
		if a.Reaction == "" {
			return fmt.Errorf("assertions[%d]: reaction is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertOrder:
		if len(a.Reactions) < 2 {
			return fmt.Errorf("assertions[%d]: at least two reactions are required for order", index)
		}
	case AssertStopTag:
		if _, err := ParseTag(a.Tag); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// ParseTag parses an elapsed tag written as a Go duration with an
// optional "+microstep" suffix.
func ParseTag(s string) (tag.Tag, error) {
	body, micro, hasMicro := strings.Cut(strings.TrimSpace(s), "+")
	d, err := time.ParseDuration(body)
	if err != nil {
		return tag.Tag{}, fmt.Errorf("invalid tag %q: %w", s, err)
	}
	var m uint64
	if hasMicro {
		m, err = strconv.ParseUint(micro, 10, 32)
		if err != nil {
			return tag.Tag{}, fmt.Errorf("invalid tag %q: bad microstep: %w", s, err)
		}
	}
	return tag.New(int64(d), uint32(m)), nil
}

// FormatTag is the inverse of ParseTag. Microstep 0 is omitted.
func FormatTag(t tag.Tag) string {
	s := tag.FormatInstant(t.Time)
	if t.Microstep == 0 {
		return s
	}
	return fmt.Sprintf("%s+%d", s, t.Microstep)
}
