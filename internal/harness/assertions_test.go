package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/islandcheck/internal/detect"
)

func divergentResult() *Result {
	return &Result{
		Report: &detect.Report{
			Runs: 3, Succeeded: 3,
			Verdict: detect.VerdictDivergent,
			Binary: detect.GroupSet{Groups: []detect.Group{
				{Hash: "0123456789abcdef", Runs: []int{0, 2}},
				{Hash: "fedcba9876543210", Runs: []int{1}},
			}},
			Map: detect.GroupSet{Groups: []detect.Group{
				{Hash: "aaaa", Runs: []int{0, 1, 2}},
			}},
		},
	}
}

func TestAssertGroupRuns(t *testing.T) {
	r := divergentResult()

	assert.NoError(t, assertGroupRuns(r, Assertion{Artifact: "binary", Runs: []int{2, 0}}))
	assert.NoError(t, assertGroupRuns(r, Assertion{Artifact: "map", Runs: []int{0, 1, 2}}))

	err := assertGroupRuns(r, Assertion{Artifact: "binary", Runs: []int{0}})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertGroupRuns, ae.Type)
	assert.Contains(t, err.Error(), "binary[0] 0123456789ab runs [0 2]")
}

func TestAssertGroupRuns_DoesNotReorderAssertion(t *testing.T) {
	a := Assertion{Artifact: "binary", Runs: []int{2, 0}}
	require.NoError(t, assertGroupRuns(divergentResult(), a))
	assert.Equal(t, []int{2, 0}, a.Runs)
}

func TestAssertUniqueCount(t *testing.T) {
	r := divergentResult()
	assert.NoError(t, assertUniqueCount(r, Assertion{Artifact: "binary", Count: 2}))
	assert.NoError(t, assertUniqueCount(r, Assertion{Artifact: "map", Count: 1}))

	err := assertUniqueCount(r, Assertion{Artifact: "map", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 2 unique map hashes")
	assert.Contains(t, err.Error(), "Actual: 1 unique")
}

func TestAssertVerdictAndFailedRuns(t *testing.T) {
	r := divergentResult()
	assert.NoError(t, assertVerdict(r, Assertion{Verdict: "divergent"}))
	assert.Error(t, assertVerdict(r, Assertion{Verdict: "no-output"}))
	assert.NoError(t, assertFailedRuns(r, Assertion{Count: 0}))
	assert.Error(t, assertFailedRuns(r, Assertion{Count: 1}))
}

func TestEvaluateAssertions_AllEvaluated(t *testing.T) {
	errs := EvaluateAssertions(divergentResult(), []Assertion{
		{Type: AssertVerdict, Verdict: "deterministic"},
		{Type: AssertNoProblems},
		{Type: "bogus"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertion 0")
	assert.Contains(t, errs[1], `assertion 2: unknown assertion type "bogus"`)
}
