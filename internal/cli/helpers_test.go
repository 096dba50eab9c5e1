package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/islandcheck/internal/config"
	"github.com/roach88/islandcheck/internal/testutil"
	"github.com/roach88/islandcheck/internal/toolchain"
)

// testCLI runs commands against a simulated toolchain.
type testCLI struct {
	t    *testing.T
	tc   *testutil.Toolchain
	opts *RootOptions
}

func newTestCLI(t *testing.T, tc *testutil.Toolchain) *testCLI {
	t.Helper()
	if tc == nil {
		tc = &testutil.Toolchain{}
	}
	clock := testutil.NewStepClock()
	return &testCLI{
		t:  t,
		tc: tc,
		opts: &RootOptions{
			NewToolchain: func(*config.Config) toolchain.Toolchain { return tc },
			IDs:          testutil.NewFixedIDGenerator("exp-1"),
			Now:          clock.Now,
		},
	}
}

// run executes args and returns stdout and the command error.
func (c *testCLI) run(args ...string) (string, error) {
	c.t.Helper()
	out := &bytes.Buffer{}
	cmd := newRootCommand(c.opts)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// workload generates and compiles a corpus of count units per kind.
func (c *testCLI) workload(count string) string {
	c.t.Helper()
	dir := filepath.Join(c.t.TempDir(), "work")
	_, err := c.run("generate", "--out", dir, "--count", count, "--size", "64", "--compile")
	require.NoError(c.t, err)
	return dir
}

func requireExit(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, GetExitCode(err), "error: %v", err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
