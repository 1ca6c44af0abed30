package harness

import (
	"slices"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tagflow/internal/ir"
	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// TagSnapshot lists what happened at one tag. Reactions are sorted by name
// because workers pick up reactions of the same level in any order.
type TagSnapshot struct {
	Tag            tag.Tag
	Reactions      []string
	DeadlineMissed []string
}

// TraceSnapshot captures the observable, worker-independent outcome of a
// scenario execution.
type TraceSnapshot struct {
	ScenarioName string
	Program      string
	StopTag      tag.Tag
	Error        string
	Tags         []TagSnapshot
}

// NewTraceSnapshot groups the records of result by tag.
func NewTraceSnapshot(scenario *Scenario, result *Result) *TraceSnapshot {
	s := &TraceSnapshot{
		ScenarioName: scenario.Name,
		Program:      scenario.Program.Name,
		StopTag:      result.StopTag,
	}
	if result.Err != nil {
		s.Error = result.Err.Error()
	}

	byTag := make(map[tag.Tag]*TagSnapshot)
	at := func(t tag.Tag) *TagSnapshot {
		ts, ok := byTag[t]
		if !ok {
			ts = &TagSnapshot{Tag: t}
			byTag[t] = ts
		}
		return ts
	}
	for _, rec := range result.Records {
		switch rec.Kind {
		case trace.ReactionStarts:
			ts := at(rec.Tag)
			ts.Reactions = append(ts.Reactions, rec.Subject)
		case trace.DeadlineMissed:
			ts := at(rec.Tag)
			ts.DeadlineMissed = append(ts.DeadlineMissed, rec.Subject)
		}
	}

	for _, ts := range byTag {
		slices.Sort(ts.Reactions)
		slices.Sort(ts.DeadlineMissed)
		s.Tags = append(s.Tags, *ts)
	}
	sort.Slice(s.Tags, func(i, j int) bool {
		return s.Tags[i].Tag.Before(s.Tags[j].Tag)
	})
	return s
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles primitives, slices and maps.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	tags := make([]any, len(s.Tags))
	for i, ts := range s.Tags {
		m := map[string]any{
			"tag":       FormatTag(ts.Tag),
			"reactions": nonNil(ts.Reactions),
		}
		if len(ts.DeadlineMissed) > 0 {
			m["deadline_missed"] = ts.DeadlineMissed
		}
		tags[i] = m
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"program":       s.Program,
		"tags":          tags,
	}
	if !s.StopTag.IsNever() {
		result["stop_tag"] = FormatTag(s.StopTag)
	}
	if s.Error != "" {
		result["error"] = s.Error
	}
	return result
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Snapshot renders the golden form of a result as canonical JSON.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	return ir.MarshalCanonical(NewTraceSnapshot(scenario, result).toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the snapshot against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against the scenario's golden
// file without re-running it.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenario, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
