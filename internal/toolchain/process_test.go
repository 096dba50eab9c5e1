package toolchain

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/islandcheck/internal/workload"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("driver")
	require.NoError(t, err)
	assert.Equal(t, StrategyDriver, s)

	_, err = ParseStrategy("parallel")
	assert.Error(t, err)
}

func TestCompileArgs(t *testing.T) {
	p := &Process{CC: "clang", TargetTriple: "arm64-apple-macos13", SDKPath: "/sdk", CompileFlags: []string{"-O1"}}
	args := p.CompileArgs(CompileRequest{
		Unit:       workload.Unit{ID: "logic_0000", SourcePath: "src/logic/logic_0000.c"},
		OutputPath: "obj/logic/logic_0000.o",
	})
	assert.Equal(t, []string{
		"-c", "-target", "arm64-apple-macos13", "-isysroot", "/sdk", "-O1",
		"-o", "obj/logic/logic_0000.o", "src/logic/logic_0000.c",
	}, args)
}

func TestLinkCommand_Direct(t *testing.T) {
	p := &Process{LD: "ld", SDKPath: "/sdk", LinkFlags: []string{"-arch", "arm64"}}
	tool, args, err := p.LinkCommand(LinkRequest{
		Inputs:     []string{"a.o", "b.o", "main.o"},
		BinaryPath: "out/islands",
		MapPath:    "out/islands.map",
		Strategy:   StrategyDirect,
	})
	require.NoError(t, err)
	assert.Equal(t, "ld", tool)
	assert.Equal(t, []string{
		"-arch", "arm64", "-syslibroot", "/sdk",
		"-o", "out/islands", "-map", "out/islands.map",
		"a.o", "b.o", "main.o",
	}, args)
}

func TestLinkCommand_DriverJoinedMapFlag(t *testing.T) {
	p := &Process{Driver: "clang", TargetTriple: "aarch64-linux-gnu", MapFlag: "-Map="}
	tool, args, err := p.LinkCommand(LinkRequest{
		Inputs:     []string{"a.o", "main.o"},
		BinaryPath: "bin",
		MapPath:    "bin.map",
		Strategy:   StrategyDriver,
	})
	require.NoError(t, err)
	assert.Equal(t, "clang", tool)
	assert.Equal(t, []string{
		"-target", "aarch64-linux-gnu", "-o", "bin", "-Wl,-Map=bin.map", "a.o", "main.o",
	}, args)
}

func TestLinkCommand_DriverSplitMapFlag(t *testing.T) {
	p := &Process{Driver: "clang"}
	_, args, err := p.LinkCommand(LinkRequest{BinaryPath: "b", MapPath: "m", Strategy: StrategyDriver})
	require.NoError(t, err)
	assert.Contains(t, args, "-Wl,-map,m")
}

func TestLinkCommand_UnknownStrategy(t *testing.T) {
	p := &Process{}
	_, _, err := p.LinkCommand(LinkRequest{Strategy: "bogus"})
	assert.Error(t, err)
}

func TestLink_WritesLogAndOutputs(t *testing.T) {
	sh := requireShell(t)
	dir := t.TempDir()

	// Arguments after the script land in $1..: -o BIN -map MAP inputs...
	p := &Process{
		LD:        sh,
		LinkFlags: []string{"-c", `printf bin > "$2"; printf map > "$4"; echo linked "$5"`, "ld"},
	}
	req := LinkRequest{
		Inputs:     []string{"a.o"},
		BinaryPath: filepath.Join(dir, "islands"),
		MapPath:    filepath.Join(dir, "islands.map"),
		LogPath:    filepath.Join(dir, "link.log"),
		Strategy:   StrategyDirect,
	}

	out, err := p.Link(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)

	data, err := os.ReadFile(req.MapPath)
	require.NoError(t, err)
	assert.Equal(t, "map", string(data))

	log, err := os.ReadFile(req.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(log), "linked a.o")
	assert.Contains(t, string(log), "exit: 0")
}

func TestLink_NonZeroExit(t *testing.T) {
	sh := requireShell(t)
	dir := t.TempDir()

	p := &Process{LD: sh, LinkFlags: []string{"-c", "echo boom; exit 3", "ld"}}
	req := LinkRequest{
		BinaryPath: filepath.Join(dir, "islands"),
		MapPath:    filepath.Join(dir, "islands.map"),
		LogPath:    filepath.Join(dir, "link.log"),
	}

	out, err := p.Link(context.Background(), req)
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 3, out.ExitCode)

	var pe *ProcessError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.ExitCode)
	assert.Equal(t, req.LogPath, pe.LogPath)

	log, err := os.ReadFile(req.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(log), "boom")
}

func TestCompile_MissingTool(t *testing.T) {
	p := &Process{CC: filepath.Join(t.TempDir(), "no-such-cc")}
	_, err := p.Compile(context.Background(), CompileRequest{
		Unit:       workload.Unit{ID: "u", SourcePath: "u.c"},
		OutputPath: filepath.Join(t.TempDir(), "u.o"),
	})
	assert.Error(t, err)
}

func TestCompile_Success(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()

	cc := filepath.Join(dir, "fakecc")
	script := "#!/bin/sh\nwhile [ \"$1\" != \"-o\" ]; do shift; done\n: > \"$2\"\n"
	require.NoError(t, os.WriteFile(cc, []byte(script), 0o755))

	out := filepath.Join(dir, "obj", "logic", "u.o")
	p := &Process{CC: cc, TargetTriple: "arm64-apple-macos13"}
	got, err := p.Compile(context.Background(), CompileRequest{
		Unit:       workload.Unit{ID: "u", SourcePath: "u.c"},
		OutputPath: out,
	})
	require.NoError(t, err)
	assert.Equal(t, out, got)
	assert.FileExists(t, out)
}
