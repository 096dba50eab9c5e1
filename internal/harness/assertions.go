package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/islandcheck/internal/detect"
)

// AssertionError is returned when an assertion fails.
// It includes the grouping so the failure can be read without rerunning.
type AssertionError struct {
	Type     string         // Assertion type for categorization
	Expected string         // Human-readable expected outcome
	Actual   string         // Human-readable actual outcome
	Report   *detect.Report // Report for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Report != nil {
		fmt.Fprintf(&buf, "\nGroups:\n")
		writeShape(&buf, "binary", e.Report.Binary)
		writeShape(&buf, "map", e.Report.Map)
	}
	return buf.String()
}

func writeShape(buf *strings.Builder, label string, s detect.GroupSet) {
	for i, g := range s.Groups {
		fmt.Fprintf(buf, "  %s[%d] %s runs %v\n", label, i, shortHash(g.Hash), g.Runs)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func groupSet(r *detect.Report, artifact string) detect.GroupSet {
	if artifact == "map" {
		return r.Map
	}
	return r.Binary
}

func assertVerdict(r *Result, a Assertion) error {
	if string(r.Report.Verdict) == a.Verdict {
		return nil
	}
	return &AssertionError{
		Type:     AssertVerdict,
		Expected: a.Verdict,
		Actual:   string(r.Report.Verdict),
		Report:   r.Report,
	}
}

func assertUniqueCount(r *Result, a Assertion) error {
	set := groupSet(r.Report, a.Artifact)
	if set.UniqueCount() == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertUniqueCount,
		Expected: fmt.Sprintf("%d unique %s hashes", a.Count, a.Artifact),
		Actual:   fmt.Sprintf("%d unique", set.UniqueCount()),
		Report:   r.Report,
	}
}

// assertGroupRuns checks that one group holds exactly the listed runs.
// Order in the assertion does not matter.
func assertGroupRuns(r *Result, a Assertion) error {
	want := slices.Clone(a.Runs)
	slices.Sort(want)
	set := groupSet(r.Report, a.Artifact)
	for _, g := range set.Groups {
		if slices.Equal(g.Runs, want) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertGroupRuns,
		Expected: fmt.Sprintf("a %s group with runs %v", a.Artifact, want),
		Actual:   "no such group",
		Report:   r.Report,
	}
}

func assertFailedRuns(r *Result, a Assertion) error {
	if r.Report.Failed == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertFailedRuns,
		Expected: fmt.Sprintf("%d failed runs", a.Count),
		Actual:   fmt.Sprintf("%d failed runs", r.Report.Failed),
		Report:   r.Report,
	}
}

func assertProblem(r *Result, a Assertion) error {
	var stages []string
	for _, p := range r.Problems {
		if string(p.Stage) == a.Stage {
			return nil
		}
		stages = append(stages, string(p.Stage))
	}
	return &AssertionError{
		Type:     AssertProblem,
		Expected: fmt.Sprintf("a problem at stage %s", a.Stage),
		Actual:   fmt.Sprintf("problems at %v", stages),
		Report:   r.Report,
	}
}

func assertNoProblems(r *Result, _ Assertion) error {
	if len(r.Problems) == 0 {
		return nil
	}
	msgs := make([]string, len(r.Problems))
	for i, p := range r.Problems {
		msgs[i] = fmt.Sprintf("%s: %s", p.Stage, p.Message)
	}
	return &AssertionError{
		Type:     AssertNoProblems,
		Expected: "no problems",
		Actual:   strings.Join(msgs, "; "),
		Report:   r.Report,
	}
}

// EvaluateAssertions runs every assertion and returns one message per
// failure. All assertions are evaluated even after a failure.
func EvaluateAssertions(r *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertVerdict:
			err = assertVerdict(r, a)
		case AssertUniqueCount:
			err = assertUniqueCount(r, a)
		case AssertGroupRuns:
			err = assertGroupRuns(r, a)
		case AssertFailedRuns:
			err = assertFailedRuns(r, a)
		case AssertProblem:
			err = assertProblem(r, a)
		case AssertNoProblems:
			err = assertNoProblems(r, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}
