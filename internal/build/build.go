// Package build turns generated source units into relocatable objects.
//
// Each unit is compiled independently by a toolchain.Toolchain. Compiles
// have no shared state, so they may run on a bounded worker pool; the
// result is reported in the original unit order regardless of completion
// order. A failed unit never stops the batch: it is counted and left out of
// the compiled corpus.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/islandcheck/internal/toolchain"
	"github.com/roach88/islandcheck/internal/workload"
)

// Compiler compiles a batch of units.
type Compiler struct {
	Toolchain toolchain.Toolchain
	Layout    workload.Layout

	// Jobs bounds concurrent compiles. Values below 1 mean sequential.
	Jobs int

	Logger *slog.Logger
}

// Result is the outcome of one compile batch.
type Result struct {
	// Units holds the successfully compiled units, in input order.
	Units     []workload.Unit        `json:"-"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
	Failures  []workload.UnitFailure `json:"failures,omitempty"`
}

// Err returns a non-nil error when any unit failed to compile.
func (r *Result) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d units failed to compile", r.Failed, r.Failed+r.Succeeded)
}

// ByKind returns the compiled units of one kind, in input order.
func (r *Result) ByKind(kind workload.Kind) []workload.Unit {
	var out []workload.Unit
	for _, u := range r.Units {
		if u.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}

type outcome struct {
	unit workload.Unit
	err  error
}

// CompileAll compiles every unit. The returned error is non-nil only when
// ctx is cancelled; per-unit failures are reported in the Result.
func (c *Compiler) CompileAll(ctx context.Context, units []workload.Unit) (*Result, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	jobs := c.Jobs
	if jobs < 1 {
		jobs = 1
	}

	outcomes := make([]outcome, len(units))
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	logger.Info("compiling units", "count", len(units), "jobs", jobs)
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			compiled, err := c.compileOne(gctx, u)
			outcomes[i] = outcome{unit: compiled, err: err}

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			if err != nil {
				logger.Warn("compile failed", "unit", u.ID, "error", err)
			} else {
				logger.Debug("compiled", "unit", u.ID, "progress", n, "total", len(units))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Units: make([]workload.Unit, 0, len(units))}
	for _, o := range outcomes {
		if o.err != nil {
			result.Failed++
			result.Failures = append(result.Failures, workload.UnitFailure{UnitID: o.unit.ID, Error: o.err.Error()})
			continue
		}
		result.Succeeded++
		result.Units = append(result.Units, o.unit)
	}
	logger.Info("compile finished", "succeeded", result.Succeeded, "failed", result.Failed)

	return result, nil
}

// compileOne returns a copy of u; the input unit is never modified. An
// object left by an earlier build is removed first, so a failed compile
// leaves no artifact behind.
func (c *Compiler) compileOne(ctx context.Context, u workload.Unit) (workload.Unit, error) {
	out := u
	target := c.Layout.ObjectPathFor(u)
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return out, fmt.Errorf("remove stale object: %w", err)
	}
	artifact, err := c.Toolchain.Compile(ctx, toolchain.CompileRequest{
		Unit:       u,
		OutputPath: target,
	})
	if err != nil {
		return out, err
	}
	out.ArtifactPath = artifact
	out.Compiled = true
	return out, nil
}
