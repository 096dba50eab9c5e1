// Package experiment chains the pipeline stages and aggregates their
// results into an Outcome.
//
// A Runner method returns an error only when a stage could not run at
// all (bad input, unwritable output, cancellation). Everything else, from
// a single unit that fails to compile to a full divergence, is recorded in
// the Outcome and surfaced through Outcome.Problems.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/roach88/islandcheck/internal/archive"
	"github.com/roach88/islandcheck/internal/build"
	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/link"
	"github.com/roach88/islandcheck/internal/repeat"
	"github.com/roach88/islandcheck/internal/toolchain"
	"github.com/roach88/islandcheck/internal/workload"
)

// Runner executes pipeline stages with a shared toolchain and settings.
type Runner struct {
	Toolchain  toolchain.Toolchain
	Rules      []detect.Rule
	Strategy   toolchain.Strategy
	OutputName string
	Runs       int
	Jobs       int
	Archive    bool

	IDs    IDGenerator
	Now    func() time.Time
	Logger *slog.Logger
}

// CorpusRequest describes a corpus to generate. Empty templates select
// the built-in ones.
type CorpusRequest struct {
	Spec            workload.Spec
	Root            string
	Kinds           []workload.Kind
	LogicTemplate   string
	PaddingTemplate string
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now()
}

// Generate writes the requested kinds and the entry unit. The returned
// units are in generation order with the entry last.
func (r *Runner) Generate(ctx context.Context, req CorpusRequest, o *Outcome) ([]workload.Unit, error) {
	gen := workload.NewGenerator(req.Spec, req.Root, r.logger())

	var units []workload.Unit
	for _, kind := range req.Kinds {
		tmpl, err := r.template(kind, req)
		if err != nil {
			return nil, err
		}
		res, err := gen.Generate(ctx, kind, tmpl)
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", kind, err)
		}
		o.Generation = append(o.Generation, res)
		units = append(units, res.Units...)
	}

	tmpl, err := workload.DefaultTemplate(workload.KindEntry)
	if err != nil {
		return nil, err
	}
	entry, err := gen.GenerateEntry(tmpl)
	if err != nil {
		return nil, err
	}
	return append(units, entry), nil
}

func (r *Runner) template(kind workload.Kind, req CorpusRequest) (string, error) {
	path := req.LogicTemplate
	if kind == workload.KindPadding {
		path = req.PaddingTemplate
	}
	if path == "" {
		return workload.DefaultTemplate(kind)
	}
	return workload.LoadTemplate(path, kind)
}

// Compile compiles units into the corpus at root.
func (r *Runner) Compile(ctx context.Context, root string, units []workload.Unit, o *Outcome) (*build.Result, error) {
	c := &build.Compiler{
		Toolchain: r.Toolchain,
		Layout:    workload.Layout{Root: root},
		Jobs:      r.Jobs,
		Logger:    r.logger(),
	}
	res, err := c.CompileAll(ctx, units)
	if err != nil {
		return nil, err
	}
	o.Compile = res
	return res, nil
}

// ErrEntryNotCompiled is returned by CompiledInputs when the entry unit is
// not among the compiled units.
var ErrEntryNotCompiled = fmt.Errorf("entry unit %q did not compile", workload.EntryStem)

// CompiledInputs assembles the link inputs from the units that compiled in
// res. Objects on disk that this batch did not produce are never linked.
func CompiledInputs(res *build.Result, order link.Order, caps link.Caps) (*link.InputSet, error) {
	entries := res.ByKind(workload.KindEntry)
	if len(entries) != 1 {
		return nil, ErrEntryNotCompiled
	}
	return link.Assemble(
		link.Arrange(res.ByKind(workload.KindLogic), order),
		link.Arrange(res.ByKind(workload.KindPadding), order),
		entries[0],
		caps,
	)
}

// Repeat links set r.Runs times under outDir, detects divergence,
// optionally archives the artifacts and writes the manifest.
func (r *Runner) Repeat(ctx context.Context, set *link.InputSet, outDir string, o *Outcome) error {
	logger := r.logger()
	hasher, err := detect.NewHasher(r.Rules...)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ctrl := &repeat.Controller{
		Orchestrator: &link.Orchestrator{
			Toolchain:  r.Toolchain,
			Strategy:   r.Strategy,
			OutputName: r.OutputName,
			Logger:     logger,
		},
		Hasher: hasher,
		Runs:   r.Runs,
		Root:   outDir,
		Now:    r.now,
		Logger: logger,
	}
	coll, err := ctrl.Run(ctx, set)
	switch {
	case errors.Is(err, repeat.ErrInputsMutated):
		o.Mutation = err
	case err != nil:
		return err
	}
	o.Collection = coll

	rep, err := detect.Detect(coll.Runs)
	if err != nil {
		return err
	}
	o.Report = rep
	logger.Info("detection finished", "verdict", rep.Verdict,
		"binary_variants", rep.Binary.UniqueCount(), "map_variants", rep.Map.UniqueCount())

	if r.Archive {
		if err := archiveRuns(coll.Runs); err != nil {
			return err
		}
	}

	id := "local"
	if r.IDs != nil {
		id = r.IDs.Generate()
	}
	strategy := r.Strategy
	if strategy == "" {
		strategy = toolchain.StrategyDirect
	}
	name := r.OutputName
	if name == "" {
		name = link.DefaultOutputName
	}
	m := &Manifest{
		Version:     ManifestVersion,
		ID:          id,
		CreatedAt:   r.now(),
		Strategy:    strategy,
		OutputName:  name,
		Fingerprint: coll.Fingerprint,
		Archived:    r.Archive,
		Rules:       RuleRecords(hasher.Canon.Rules()),
		Inputs:      coll.Inputs,
		Runs:        coll.Runs,
		Report:      rep,
	}
	if err := WriteManifest(outDir, m); err != nil {
		return err
	}
	o.Manifest = m
	o.ManifestAt = outDir
	return nil
}

// archiveRuns compresses the outputs of successful runs. Hashes are
// already recorded, and the detector reads the compressed copies.
func archiveRuns(runs []repeat.LinkRun) error {
	for _, run := range runs {
		if !run.OK() {
			continue
		}
		for _, path := range []string{run.BinaryPath, run.MapPath} {
			if _, err := archive.Compress(path); err != nil {
				return err
			}
		}
	}
	return nil
}

// Redetect recomputes the report of a finished experiment from its
// manifest and the artifacts on disk.
func Redetect(dir string) (*Manifest, *detect.Report, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, nil, err
	}
	rules, err := m.CompileRules()
	if err != nil {
		return nil, nil, err
	}
	hasher, err := detect.NewHasher(rules...)
	if err != nil {
		return nil, nil, err
	}
	runs := detect.Rehash(m.Runs, hasher)
	rep, err := detect.Detect(runs)
	if err != nil {
		return nil, nil, err
	}
	return m, rep, nil
}
