package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/experiment"
)

func TestRun_Deterministic(t *testing.T) {
	scenario := &Scenario{
		Name:        "inline_deterministic",
		Description: "default link script",
		Workload:    WorkloadSpec{Count: 2, Size: 16},
		Assertions:  []Assertion{{Type: AssertNoProblems}},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 3, result.LinkCalls, "runs default to 3")
	assert.Equal(t, detect.VerdictDeterministic, result.Report.Verdict)
}

func TestRun_DriverStrategyCapsAndArchive(t *testing.T) {
	scenario := &Scenario{
		Name:        "inline_driver",
		Description: "capped link through the driver with archived outputs",
		Workload:    WorkloadSpec{Count: 4, Size: 16},
		Runs:        2,
		Strategy:    "driver",
		MaxLogic:    1,
		MaxPadding:  2,
		Archive:     true,
		Assertions: []Assertion{
			{Type: AssertVerdict, Verdict: "deterministic"},
			{Type: AssertGroupRuns, Artifact: "map", Runs: []int{1, 0}},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 2, result.LinkCalls)
}

func TestRun_FailedAssertionsAreCollected(t *testing.T) {
	scenario := &Scenario{
		Name:        "inline_wrong",
		Description: "every assertion is wrong",
		Workload:    WorkloadSpec{Count: 1, Size: 8},
		Runs:        2,
		Links:       []LinkStep{{Mode: ModeRotateMap}},
		Assertions: []Assertion{
			{Type: AssertVerdict, Verdict: "deterministic"},
			{Type: AssertUniqueCount, Artifact: "map", Count: 1},
			{Type: AssertFailedRuns, Count: 1},
			{Type: AssertNoProblems},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "Expected: deterministic")
	assert.Contains(t, result.Errors[0], "Actual: divergent")
	assert.Contains(t, result.Errors[3], "detect: divergent")
}

func TestRun_EntryCompileFailureIsAnError(t *testing.T) {
	scenario := &Scenario{
		Name:        "inline_no_entry",
		Description: "entry unit fails to compile",
		Workload:    WorkloadSpec{Count: 1, Size: 8},
		FailUnits:   []string{"main"},
		Assertions:  []Assertion{{Type: AssertNoProblems}},
	}

	_, err := Run(context.Background(), scenario)
	require.ErrorIs(t, err, experiment.ErrEntryNotCompiled)
	assert.Contains(t, err.Error(), "did not compile")
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scenario := &Scenario{
		Name:        "inline_cancelled",
		Description: "cancelled before start",
		Workload:    WorkloadSpec{Count: 1, Size: 8},
		Assertions:  []Assertion{{Type: AssertNoProblems}},
	}
	_, err := Run(ctx, scenario)
	assert.Error(t, err)
}

func TestEvaluateAssertions_Problem(t *testing.T) {
	result := &Result{
		Report: &detect.Report{Verdict: detect.VerdictDeterministic},
		Problems: []experiment.Problem{
			{Stage: experiment.StageCompile, Message: "1 of 3 units failed to compile"},
		},
	}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertProblem, Stage: "compile"},
		{Type: AssertProblem, Stage: "link"},
	})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "assertion 1")
	assert.Contains(t, errs[0], "a problem at stage link")
}
