package repeat_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/link"
	"github.com/roach88/islandcheck/internal/repeat"
	"github.com/roach88/islandcheck/internal/testutil"
	"github.com/roach88/islandcheck/internal/toolchain"
	"github.com/roach88/islandcheck/internal/workload"
)

// fixture builds a small compiled corpus and returns its input set.
func fixture(t *testing.T) *link.InputSet {
	t.Helper()
	dir := t.TempDir()
	var logic, padding []workload.Unit
	for i, id := range []string{"logic_0000", "logic_0001", "logic_0002"} {
		logic = append(logic, writeObj(t, dir, workload.KindLogic, id, i))
	}
	padding = append(padding, writeObj(t, dir, workload.KindPadding, "padding_0000", 0))
	entry := writeObj(t, dir, workload.KindEntry, "main", 0)

	set, err := link.Assemble(logic, padding, entry, link.Caps{})
	require.NoError(t, err)
	return set
}

func writeObj(t *testing.T, dir string, kind workload.Kind, id string, index int) workload.Unit {
	t.Helper()
	path := filepath.Join(dir, string(kind), id+".o")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("obj:"+id), 0o644))
	return workload.Unit{ID: id, Kind: kind, Index: index, ArtifactPath: path, Compiled: true}
}

func newController(t *testing.T, tc *testutil.Toolchain, runs int) *repeat.Controller {
	t.Helper()
	h, err := detect.NewHasher()
	require.NoError(t, err)
	return &repeat.Controller{
		Orchestrator: &link.Orchestrator{Toolchain: tc},
		Hasher:       h,
		Runs:         runs,
		Root:         t.TempDir(),
		Now:          testutil.NewStepClock().Now,
	}
}

func TestRun_DeterministicToolchain(t *testing.T) {
	for _, runs := range []int{1, 2, 5} {
		tc := &testutil.Toolchain{}
		c := newController(t, tc, runs)

		coll, err := c.Run(context.Background(), fixture(t))
		require.NoError(t, err)
		require.Len(t, coll.Runs, runs)
		assert.Equal(t, runs, tc.LinkCalls())

		rep, err := detect.Detect(coll.Runs)
		require.NoError(t, err)
		assert.True(t, rep.Deterministic, "runs=%d", runs)
		assert.Equal(t, detect.VerdictDeterministic, rep.Verdict)
		assert.Equal(t, 1, rep.Binary.UniqueCount())
		assert.Equal(t, 1, rep.Map.UniqueCount())
	}
}

func TestRun_IsolatedDirectories(t *testing.T) {
	tc := &testutil.Toolchain{}
	c := newController(t, tc, 3)

	coll, err := c.Run(context.Background(), fixture(t))
	require.NoError(t, err)

	seen := map[string]bool{}
	for i, r := range coll.Runs {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, filepath.Join(c.Root, repeat.RunDirName(i, 3)), r.Dir)
		assert.False(t, seen[r.Dir])
		seen[r.Dir] = true
		assert.FileExists(t, r.BinaryPath)
		assert.FileExists(t, r.MapPath)
		assert.FileExists(t, r.LogPath)
		assert.Equal(t, r.Dir, filepath.Dir(r.LogPath))
	}

	// Every link received the identical ordered input list.
	reqs := tc.LinkRequests()
	for _, req := range reqs[1:] {
		assert.Equal(t, reqs[0].Inputs, req.Inputs)
	}
}

func TestRun_AllFailedStillCompletes(t *testing.T) {
	tc := &testutil.Toolchain{Script: testutil.AlwaysFails()}
	c := newController(t, tc, 2)

	coll, err := c.Run(context.Background(), fixture(t))
	require.NoError(t, err)
	assert.Equal(t, 2, tc.LinkCalls())
	assert.Equal(t, 2, coll.Failed())

	rep, err := detect.Detect(coll.Runs)
	require.NoError(t, err)
	assert.Equal(t, []detect.Group{{Hash: detect.Missing, Runs: []int{0, 1}}}, rep.Binary.Groups)
	assert.Equal(t, 1, rep.Binary.UniqueCount())
	assert.False(t, rep.Deterministic)
	assert.Equal(t, detect.VerdictNoOutput, rep.Verdict)
}

func TestRun_ExitZeroWithoutMapFails(t *testing.T) {
	tc := &testutil.Toolchain{Script: testutil.ExitZeroWithoutMap()}
	c := newController(t, tc, 1)

	coll, err := c.Run(context.Background(), fixture(t))
	require.NoError(t, err)
	require.Len(t, coll.Runs, 1)
	assert.Equal(t, repeat.StatusFailed, coll.Runs[0].Status)
	assert.Contains(t, coll.Runs[0].Error, "missing map")
	assert.Empty(t, coll.Runs[0].BinaryHash)
}

func TestRun_NonZeroExitWithOutputsIsOK(t *testing.T) {
	tc := &testutil.Toolchain{Script: func(call int, req toolchain.LinkRequest) testutil.LinkStep {
		step := testutil.Deterministic()(call, req)
		step.ExitCode = 3
		return step
	}}
	c := newController(t, tc, 1)

	coll, err := c.Run(context.Background(), fixture(t))
	require.NoError(t, err)
	assert.Equal(t, repeat.StatusOK, coll.Runs[0].Status)
	assert.NotEmpty(t, coll.Runs[0].Error)
	assert.NotEmpty(t, coll.Runs[0].MapHash)
}

func TestRun_FlakyMapStableBinary(t *testing.T) {
	tc := &testutil.Toolchain{Script: testutil.MapOrderFlaky()}
	c := newController(t, tc, 3)

	coll, err := c.Run(context.Background(), fixture(t))
	require.NoError(t, err)

	rep, err := detect.Detect(coll.Runs)
	require.NoError(t, err)
	assert.True(t, rep.Binary.Deterministic())
	assert.False(t, rep.Map.Deterministic())
	assert.Equal(t, detect.VerdictDivergent, rep.Verdict)
}

func TestRun_TwoVariants(t *testing.T) {
	tc := &testutil.Toolchain{Script: testutil.Sequence(
		testutil.Variant("A"), testutil.Variant("A"), testutil.Variant("B"),
	)}
	c := newController(t, tc, 3)

	coll, err := c.Run(context.Background(), fixture(t))
	require.NoError(t, err)

	rep, err := detect.Detect(coll.Runs)
	require.NoError(t, err)
	require.Len(t, rep.Binary.Groups, 2)
	assert.Equal(t, []int{0, 1}, rep.Binary.Groups[0].Runs)
	assert.Equal(t, []int{2}, rep.Binary.Groups[1].Runs)
	assert.Equal(t, coll.Runs[0].BinaryHash, rep.Binary.Groups[0].Hash)
}

func TestRun_MixedFailure(t *testing.T) {
	tc := &testutil.Toolchain{Script: testutil.Sequence(
		testutil.Deterministic(), testutil.AlwaysFails(), testutil.Deterministic(),
	)}
	c := newController(t, tc, 3)

	coll, err := c.Run(context.Background(), fixture(t))
	require.NoError(t, err)
	assert.Equal(t, 3, tc.LinkCalls())
	assert.Equal(t, 1, coll.Failed())

	rep, err := detect.Detect(coll.Runs)
	require.NoError(t, err)
	assert.Equal(t, detect.VerdictDivergent, rep.Verdict)
	assert.Equal(t, []int{1}, rep.Map.Groups[1].Runs)
	assert.Equal(t, detect.Missing, rep.Map.Groups[1].Hash)
}

func TestRun_RefusesNonEmptyRunDir(t *testing.T) {
	tc := &testutil.Toolchain{}
	c := newController(t, tc, 2)
	stale := filepath.Join(c.Root, repeat.RunDirName(1, 2))
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "islands"), []byte("old"), 0o644))

	_, err := c.Run(context.Background(), fixture(t))
	require.ErrorIs(t, err, repeat.ErrRunDirInUse)
	assert.Equal(t, 0, tc.LinkCalls())
}

func TestRun_DetectsMutatedInputs(t *testing.T) {
	set := fixture(t)
	victim := set.Paths()[0]
	tc := &testutil.Toolchain{Script: func(call int, req toolchain.LinkRequest) testutil.LinkStep {
		if call == 1 {
			_ = os.WriteFile(victim, []byte("tampered"), 0o644)
		}
		return testutil.Deterministic()(call, req)
	}}
	c := newController(t, tc, 3)

	coll, err := c.Run(context.Background(), set)
	require.ErrorIs(t, err, repeat.ErrInputsMutated)
	require.NotNil(t, coll)
	assert.Len(t, coll.Runs, 3)
}

func TestRun_InvalidConfig(t *testing.T) {
	c := newController(t, &testutil.Toolchain{}, 0)
	_, err := c.Run(context.Background(), fixture(t))
	assert.Error(t, err)

	c = newController(t, &testutil.Toolchain{}, 1)
	c.Hasher = nil
	_, err = c.Run(context.Background(), fixture(t))
	assert.Error(t, err)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tc := &testutil.Toolchain{}
	c := newController(t, tc, 3)
	_, err := c.Run(ctx, fixture(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, tc.LinkCalls())
}

func TestRun_RecordsTimestamps(t *testing.T) {
	c := newController(t, &testutil.Toolchain{}, 2)
	coll, err := c.Run(context.Background(), fixture(t))
	require.NoError(t, err)

	assert.Equal(t, testutil.Epoch, coll.Runs[0].StartedAt)
	assert.Equal(t, testutil.Epoch.Add(2e9), coll.Runs[1].StartedAt)
	assert.Equal(t, int64(1e9), int64(coll.Runs[0].Duration))
}

func TestRunDirName(t *testing.T) {
	assert.Equal(t, "run-000", repeat.RunDirName(0, 1))
	assert.Equal(t, "run-007", repeat.RunDirName(7, 10))
	assert.Equal(t, "run-0042", repeat.RunDirName(42, 1001))
}
