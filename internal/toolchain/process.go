package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Process runs a real compiler, linker and driver as child processes.
type Process struct {
	// CC compiles source units.
	CC string
	// LD is invoked for StrategyDirect.
	LD string
	// Driver is invoked for StrategyDriver.
	Driver string

	// MapFlag requests a link map. "-map" becomes "-map <path>"; a flag
	// ending in "=" (e.g. "-Map=") is joined with the path.
	MapFlag string

	TargetTriple string
	SDKPath      string

	CompileFlags []string
	LinkFlags    []string

	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

var _ Toolchain = (*Process)(nil)

// Compile runs CC -c on the unit's source.
func (p *Process) Compile(ctx context.Context, req CompileRequest) (string, error) {
	if req.Unit.SourcePath == "" {
		return "", fmt.Errorf("compile %s: no source path", req.Unit.ID)
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return "", fmt.Errorf("compile %s: %w", req.Unit.ID, err)
	}

	args := p.CompileArgs(req)
	out, code, err := p.run(ctx, p.CC, args)
	if err != nil {
		return "", fmt.Errorf("compile %s: %w", req.Unit.ID, err)
	}
	if code != 0 {
		return "", &ProcessError{Tool: p.CC, ExitCode: code, Output: strings.TrimSpace(out)}
	}
	return req.OutputPath, nil
}

// CompileArgs builds the compiler argument list for req.
func (p *Process) CompileArgs(req CompileRequest) []string {
	args := []string{"-c"}
	if p.TargetTriple != "" {
		args = append(args, "-target", p.TargetTriple)
	}
	if p.SDKPath != "" {
		args = append(args, "-isysroot", p.SDKPath)
	}
	args = append(args, p.CompileFlags...)
	return append(args, "-o", req.OutputPath, req.Unit.SourcePath)
}

// Link runs one link using the requested strategy and writes the combined
// tool output to req.LogPath.
func (p *Process) Link(ctx context.Context, req LinkRequest) (*LinkOutput, error) {
	tool, args, err := p.LinkCommand(req)
	if err != nil {
		return nil, err
	}

	out, code, runErr := p.run(ctx, tool, args)
	if logErr := writeLog(req.LogPath, tool, args, out, code); logErr != nil && runErr == nil {
		runErr = logErr
	}
	if runErr != nil {
		return nil, fmt.Errorf("link: %w", runErr)
	}

	result := &LinkOutput{BinaryPath: req.BinaryPath, MapPath: req.MapPath, ExitCode: code}
	if code != 0 {
		return result, &ProcessError{Tool: tool, ExitCode: code, LogPath: req.LogPath}
	}
	return result, nil
}

// LinkCommand returns the tool and arguments for req.
func (p *Process) LinkCommand(req LinkRequest) (string, []string, error) {
	mapArgs := p.mapArgs(req.MapPath)

	switch req.Strategy {
	case StrategyDirect, "":
		args := append([]string{}, p.LinkFlags...)
		if p.SDKPath != "" {
			args = append(args, "-syslibroot", p.SDKPath)
		}
		args = append(args, "-o", req.BinaryPath)
		args = append(args, mapArgs...)
		args = append(args, req.Inputs...)
		return p.LD, args, nil

	case StrategyDriver:
		var args []string
		if p.TargetTriple != "" {
			args = append(args, "-target", p.TargetTriple)
		}
		if p.SDKPath != "" {
			args = append(args, "-isysroot", p.SDKPath)
		}
		args = append(args, p.LinkFlags...)
		args = append(args, "-o", req.BinaryPath)
		if len(mapArgs) > 0 {
			args = append(args, "-Wl,"+strings.Join(mapArgs, ","))
		}
		args = append(args, req.Inputs...)
		return p.Driver, args, nil
	}
	return "", nil, fmt.Errorf("link: unknown strategy %q", req.Strategy)
}

func (p *Process) mapArgs(path string) []string {
	flag := p.MapFlag
	if flag == "" {
		flag = "-map"
	}
	if strings.HasSuffix(flag, "=") {
		return []string{flag + path}
	}
	return []string{flag, path}
}

// run executes tool and returns its combined output and exit code. The
// error is non-nil only when the process could not be run at all.
func (p *Process) run(ctx context.Context, tool string, args []string) (string, int, error) {
	if tool == "" {
		return "", 0, errors.New("no tool configured")
	}
	cmd := exec.CommandContext(ctx, tool, args...)
	if p.Env != nil {
		cmd.Env = p.Env
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(output), exitErr.ExitCode(), nil
		}
		return string(output), 0, fmt.Errorf("run %s: %w", tool, err)
	}
	return string(output), 0, nil
}

func writeLog(path, tool string, args []string, output string, code int) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	content := fmt.Sprintf("$ %s %s\n\n%s\nexit: %d\n", tool, strings.Join(args, " "), output, code)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
