package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/islandcheck/internal/toolchain"
)

// DefaultOutputName is the binary name used when none is configured.
const DefaultOutputName = "islands"

// LogFileName is the per-run toolchain log.
const LogFileName = "link.log"

// Orchestrator performs exactly one link of an InputSet per call.
type Orchestrator struct {
	Toolchain  toolchain.Toolchain
	Strategy   toolchain.Strategy
	OutputName string
	Logger     *slog.Logger
}

// Paths are the expected outputs of one link into a directory.
type Paths struct {
	Binary string
	Map    string
	Log    string
}

// Missing names the outputs that are not regular files: "binary", "map",
// or both, in that order.
func (p Paths) Missing() []string {
	var missing []string
	if !isRegular(p.Binary) {
		missing = append(missing, "binary")
	}
	if !isRegular(p.Map) {
		missing = append(missing, "map")
	}
	return missing
}

// Present reports whether both the binary and the map exist.
func (p Paths) Present() bool {
	return len(p.Missing()) == 0
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// PathsIn returns where a link into dir writes its outputs.
func (o *Orchestrator) PathsIn(dir string) Paths {
	name := o.OutputName
	if name == "" {
		name = DefaultOutputName
	}
	return Paths{
		Binary: filepath.Join(dir, name),
		Map:    filepath.Join(dir, name+".map"),
		Log:    filepath.Join(dir, LogFileName),
	}
}

// Link invokes the toolchain once. Outputs left in dir by an earlier link
// are removed first, so any output present afterwards was written by this
// invocation. A non-nil error means the invocation failed or the linker
// exited non-zero; how that affects usability is up to the caller.
func (o *Orchestrator) Link(ctx context.Context, set *InputSet, dir string) (Paths, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	paths := o.PathsIn(dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return paths, fmt.Errorf("create run dir: %w", err)
	}
	for _, p := range []string{paths.Binary, paths.Map, paths.Log} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return paths, fmt.Errorf("remove stale output: %w", err)
		}
	}

	strategy := o.Strategy
	if strategy == "" {
		strategy = toolchain.StrategyDirect
	}

	logger.Debug("linking", "dir", dir, "inputs", set.Len(), "strategy", strategy)
	out, err := o.Toolchain.Link(ctx, toolchain.LinkRequest{
		Inputs:     set.Paths(),
		BinaryPath: paths.Binary,
		MapPath:    paths.Map,
		LogPath:    paths.Log,
		Strategy:   strategy,
	})
	if err != nil {
		return paths, err
	}
	if out != nil && out.ExitCode != 0 {
		return paths, fmt.Errorf("linker exited with code %d", out.ExitCode)
	}
	return paths, nil
}
