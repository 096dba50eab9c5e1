// Package repeat links one input set several times, each run into its own
// directory, and records what every run produced.
//
// Runs are strictly sequential. Every run owns its directory (run-000,
// run-001, ...) and its own link log, so no run can see or overwrite
// another run's outputs. A run's status is decided by the files it left
// behind, never by the exit code the linker reported.
package repeat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/islandcheck/internal/link"
)

// ErrInputsMutated is returned when the input set fingerprint changed
// between the first and the last run.
var ErrInputsMutated = errors.New("input set changed during the experiment")

// ErrRunDirInUse is returned when a run directory already has content.
var ErrRunDirInUse = errors.New("run directory is not empty")

// Status is the outcome of one run.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Hasher computes the content hashes recorded for a successful run.
type Hasher interface {
	HashBinary(path string) (string, error)
	HashMap(path string) (string, error)
}

// LinkRun is the record of one link. It is never modified after the
// controller creates it.
type LinkRun struct {
	Index      int           `json:"index" yaml:"index"`
	Dir        string        `json:"dir" yaml:"dir"`
	BinaryPath string        `json:"binary_path" yaml:"binary_path"`
	MapPath    string        `json:"map_path" yaml:"map_path"`
	LogPath    string        `json:"log_path" yaml:"log_path"`
	Status     Status        `json:"status" yaml:"status"`
	BinaryHash string        `json:"binary_hash,omitempty" yaml:"binary_hash,omitempty"`
	MapHash    string        `json:"map_hash,omitempty" yaml:"map_hash,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// OK reports whether the run produced both outputs.
func (r LinkRun) OK() bool {
	return r.Status == StatusOK
}

// RunCollection is every run of one experiment, in run order.
type RunCollection struct {
	Runs        []LinkRun          `json:"runs" yaml:"runs"`
	Inputs      []link.InputRecord `json:"inputs" yaml:"inputs"`
	Fingerprint string             `json:"fingerprint" yaml:"fingerprint"`
}

// Succeeded returns the number of ok runs.
func (c *RunCollection) Succeeded() int {
	n := 0
	for _, r := range c.Runs {
		if r.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of failed runs.
func (c *RunCollection) Failed() int {
	return len(c.Runs) - c.Succeeded()
}

// Controller runs the orchestrator Runs times against one input set.
type Controller struct {
	Orchestrator *link.Orchestrator
	Hasher       Hasher
	Runs         int
	Root         string

	// Now stamps run start times. Nil means time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// RunDirName returns the directory name of run index out of total runs.
// Names are zero-padded to at least three digits so they sort in run
// order.
func RunDirName(index, total int) string {
	width := max(3, len(strconv.Itoa(max(total-1, 0))))
	return fmt.Sprintf("run-%0*d", width, index)
}

// Run links set c.Runs times. Link failures never stop the loop; they
// are recorded as failed runs. The returned collection is non-nil
// whenever at least one run was attempted, even if err is non-nil.
func (c *Controller) Run(ctx context.Context, set *link.InputSet) (*RunCollection, error) {
	if c.Runs < 1 {
		return nil, fmt.Errorf("run count must be at least 1, got %d", c.Runs)
	}
	if c.Orchestrator == nil || c.Hasher == nil {
		return nil, errors.New("controller requires an orchestrator and a hasher")
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}

	dirs := make([]string, c.Runs)
	for i := range dirs {
		dirs[i] = filepath.Join(c.Root, RunDirName(i, c.Runs))
		if err := requireEmpty(dirs[i]); err != nil {
			return nil, err
		}
	}

	records, err := set.Records()
	if err != nil {
		return nil, fmt.Errorf("hash inputs: %w", err)
	}
	fingerprint, err := link.FingerprintRecords(records)
	if err != nil {
		return nil, err
	}

	logger.Info("starting runs", "runs", c.Runs, "inputs", set.Len(), "fingerprint", fingerprint)
	coll := &RunCollection{Inputs: records, Fingerprint: fingerprint}
	for i, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return coll, err
		}
		run := c.runOnce(ctx, set, i, dir, now)
		if run.OK() {
			logger.Debug("run ok", "run", i, "binary", run.BinaryHash, "map", run.MapHash)
		} else {
			logger.Warn("run failed", "run", i, "error", run.Error)
		}
		coll.Runs = append(coll.Runs, run)
	}
	logger.Info("runs complete", "succeeded", coll.Succeeded(), "failed", coll.Failed())

	after, err := set.Fingerprint()
	if err != nil {
		return coll, fmt.Errorf("%w: %v", ErrInputsMutated, err)
	}
	if after != fingerprint {
		return coll, fmt.Errorf("%w: fingerprint %s became %s", ErrInputsMutated, fingerprint, after)
	}
	return coll, nil
}

func (c *Controller) runOnce(ctx context.Context, set *link.InputSet, index int, dir string, now func() time.Time) LinkRun {
	start := now()
	paths, linkErr := c.Orchestrator.Link(ctx, set, dir)
	run := LinkRun{
		Index:      index,
		Dir:        dir,
		BinaryPath: paths.Binary,
		MapPath:    paths.Map,
		LogPath:    paths.Log,
		StartedAt:  start,
		Duration:   now().Sub(start),
	}

	// The exit code is only informational; missing outputs decide.
	if missing := missingOutputs(paths); missing != "" {
		run.Status = StatusFailed
		run.Error = missing
		if linkErr != nil {
			run.Error = linkErr.Error() + "; " + missing
		}
		return run
	}

	bin, err := c.Hasher.HashBinary(paths.Binary)
	if err != nil {
		run.Status = StatusFailed
		run.Error = fmt.Sprintf("hash binary: %v", err)
		return run
	}
	m, err := c.Hasher.HashMap(paths.Map)
	if err != nil {
		run.Status = StatusFailed
		run.Error = fmt.Sprintf("hash map: %v", err)
		return run
	}
	run.Status = StatusOK
	run.BinaryHash = bin
	run.MapHash = m
	if linkErr != nil {
		run.Error = linkErr.Error()
	}
	return run
}

func missingOutputs(p link.Paths) string {
	missing := p.Missing()
	if len(missing) == 0 {
		return ""
	}
	return "missing " + strings.Join(missing, " and ")
}

func requireEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect run dir %s: %w", dir, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s", ErrRunDirInUse, dir)
	}
	return nil
}
