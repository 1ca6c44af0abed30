package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/tagflow/internal/store"
	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Records  []store.StoredRecord
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Records) > 0 {
		fmt.Fprintf(&buf, "\nReactions executed:\n")
		for _, rec := range e.Records {
			if rec.Kind == trace.ReactionStarts {
				fmt.Fprintf(&buf, "  [%d] %s at %s\n", rec.Seq, rec.Subject, FormatTag(rec.Tag))
			}
		}
	}
	return buf.String()
}

// assertExecutions checks that the reaction ran at exactly the listed tags,
// in that order.
func assertExecutions(result *Result, assertion Assertion) error {
	got := formatTags(result.Executions(assertion.Reaction))
	want := make([]string, len(assertion.Tags))
	for i, s := range assertion.Tags {
		t, err := ParseTag(s)
		if err != nil {
			return err
		}
		want[i] = FormatTag(t)
	}

	if strings.Join(got, ",") != strings.Join(want, ",") {
		return &AssertionError{
			Type:     AssertExecutions,
			Expected: fmt.Sprintf("%s at [%s]", assertion.Reaction, strings.Join(want, ", ")),
			Actual:   fmt.Sprintf("[%s]", strings.Join(got, ", ")),
			Records:  result.Records,
		}
	}
	return nil
}

// assertCount checks that records of kind for the reaction occur exactly
// the specified number of times.
func assertCount(result *Result, assertion Assertion, kind trace.Kind) error {
	count := len(result.Filter(kind, assertion.Reaction))
	if count != assertion.Count {
		return &AssertionError{
			Type:     assertion.Type,
			Expected: fmt.Sprintf("%d occurrences of %s for %s", assertion.Count, kind, assertion.Reaction),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Records:  result.Records,
		}
	}
	return nil
}

// assertOrder checks that, at every tag two consecutive reactions of the
// list both executed, the first ended before the second started. The
// pair must share at least one tag.
func assertOrder(result *Result, assertion Assertion) error {
	for i := 1; i < len(assertion.Reactions); i++ {
		prev, curr := assertion.Reactions[i-1], assertion.Reactions[i]

		ends := make(map[tag.Tag]int64)
		for _, rec := range result.Filter(trace.ReactionEnds, prev) {
			ends[rec.Tag] = rec.Seq
		}

		shared := 0
		for _, rec := range result.Filter(trace.ReactionStarts, curr) {
			end, ok := ends[rec.Tag]
			if !ok {
				continue
			}
			shared++
			if end > rec.Seq {
				return &AssertionError{
					Type:     AssertOrder,
					Expected: fmt.Sprintf("reactions in order: %v", assertion.Reactions),
					Actual: fmt.Sprintf("%s started (seq %d) before %s ended (seq %d) at %s",
						curr, rec.Seq, prev, end, FormatTag(rec.Tag)),
					Records: result.Records,
				}
			}
		}
		if shared == 0 {
			return &AssertionError{
				Type:     AssertOrder,
				Expected: fmt.Sprintf("%s and %s to execute at a common tag", prev, curr),
				Actual:   "no common tag",
				Records:  result.Records,
			}
		}
	}
	return nil
}

// assertStopTag checks the final tag of the run.
func assertStopTag(result *Result, assertion Assertion) error {
	want, err := ParseTag(assertion.Tag)
	if err != nil {
		return err
	}
	if result.StopTag != want {
		return &AssertionError{
			Type:     AssertStopTag,
			Expected: FormatTag(want),
			Actual:   FormatTag(result.StopTag),
		}
	}
	return nil
}

func formatTags(tags []tag.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = FormatTag(t)
	}
	return out
}

// EvaluateAssertions runs all assertions against a result.
// Returns a list of error messages for failed assertions.
// Returns empty slice if all assertions pass.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertExecutions:
			err = assertExecutions(result, assertion)
		case AssertCount:
			err = assertCount(result, assertion, trace.ReactionStarts)
		case AssertDeadlineMissed:
			err = assertCount(result, assertion, trace.DeadlineMissed)
		case AssertOrder:
			err = assertOrder(result, assertion)
		case AssertStopTag:
			err = assertStopTag(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
