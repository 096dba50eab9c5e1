// Package toolchain abstracts the external compiler and linker behind a
// capability interface.
//
// The harness never assumes anything about the toolchain beyond this
// interface: production code binds it to real processes (Process), tests
// bind it to deterministic or intentionally flaky fakes.
package toolchain

import (
	"context"
	"fmt"

	"github.com/roach88/islandcheck/internal/workload"
)

// Strategy selects which toolchain layer performs the link.
type Strategy string

const (
	// StrategyDirect invokes the linker binary itself.
	StrategyDirect Strategy = "direct"
	// StrategyDriver invokes the compiler driver, which in turn runs the linker.
	StrategyDriver Strategy = "driver"
)

// ParseStrategy validates a strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyDirect, StrategyDriver:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("invalid strategy %q: must be direct or driver", s)
}

// CompileRequest asks for one source unit to be compiled to OutputPath.
type CompileRequest struct {
	Unit       workload.Unit
	OutputPath string
}

// LinkRequest asks for one link of Inputs, in order.
type LinkRequest struct {
	Inputs     []string
	BinaryPath string
	MapPath    string
	LogPath    string
	Strategy   Strategy
}

// LinkOutput describes what a link invocation reported.
type LinkOutput struct {
	BinaryPath string
	MapPath    string
	ExitCode   int
}

// Toolchain compiles and links. Implementations must be safe for
// concurrent Compile calls.
type Toolchain interface {
	// Compile produces one relocatable object and returns its path.
	Compile(ctx context.Context, req CompileRequest) (string, error)

	// Link runs exactly one link. A non-nil error means the invocation
	// failed; the presence of outputs is judged by the caller.
	Link(ctx context.Context, req LinkRequest) (*LinkOutput, error)
}

// ProcessError reports a tool process that exited unsuccessfully.
type ProcessError struct {
	Tool     string
	ExitCode int
	LogPath  string
	Output   string
}

func (e *ProcessError) Error() string {
	if e.LogPath != "" {
		return fmt.Sprintf("%s exited with code %d (log: %s)", e.Tool, e.ExitCode, e.LogPath)
	}
	if e.Output != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, e.Output)
	}
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
}
