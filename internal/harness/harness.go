package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/islandcheck/internal/experiment"
	"github.com/roach88/islandcheck/internal/link"
	"github.com/roach88/islandcheck/internal/testutil"
	"github.com/roach88/islandcheck/internal/toolchain"
	"github.com/roach88/islandcheck/internal/workload"
)

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh temporary directory that is removed
// afterwards. A fixed clock and experiment ID keep the result
// reproducible.
//
// Execution flow:
//  1. Generate and compile the corpus with the simulated toolchain
//  2. Assemble the link inputs, entry last
//  3. Link Runs times and detect divergence
//  4. Evaluate assertions against the outcome
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	root, err := os.MkdirTemp("", "islandcheck-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(root)

	rules, err := scenario.rules()
	if err != nil {
		return nil, err
	}
	strategy := toolchain.StrategyDirect
	if scenario.Strategy != "" {
		strategy = toolchain.Strategy(scenario.Strategy)
	}
	runs := scenario.Runs
	if runs == 0 {
		runs = 3
	}

	tc := &testutil.Toolchain{
		FailUnits: make(map[string]bool, len(scenario.FailUnits)),
		Script:    linkScript(scenario.Links),
	}
	for _, id := range scenario.FailUnits {
		tc.FailUnits[id] = true
	}

	r := &experiment.Runner{
		Toolchain: tc,
		Rules:     rules,
		Strategy:  strategy,
		Runs:      runs,
		Archive:   scenario.Archive,
		IDs:       testutil.NewFixedIDGenerator("scenario-" + scenario.Name),
		Now:       testutil.NewStepClock().Now,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	o := &experiment.Outcome{}
	corpus := filepath.Join(root, "workload")
	units, err := r.Generate(ctx, experiment.CorpusRequest{
		Spec:  workload.Spec{UnitCount: scenario.Workload.Count, UnitSizeBytes: scenario.Workload.Size},
		Root:  corpus,
		Kinds: []workload.Kind{workload.KindLogic, workload.KindPadding},
	}, o)
	if err != nil {
		return nil, fmt.Errorf("failed to generate corpus: %w", err)
	}
	compiled, err := r.Compile(ctx, corpus, units, o)
	if err != nil {
		return nil, fmt.Errorf("failed to compile corpus: %w", err)
	}

	set, err := experiment.CompiledInputs(compiled, link.OrderLexical,
		link.Caps{MaxLogic: scenario.MaxLogic, MaxPadding: scenario.MaxPadding})
	if errors.Is(err, experiment.ErrEntryNotCompiled) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to assemble link inputs: %w", err)
	}

	if err := r.Repeat(ctx, set, filepath.Join(root, "out"), o); err != nil {
		return nil, fmt.Errorf("failed to run experiment: %w", err)
	}

	result := NewResult()
	result.Report = o.Report
	result.Problems = o.Problems()
	result.LinkCalls = tc.LinkCalls()
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// linkScript turns scenario link steps into a simulated linker script.
func linkScript(steps []LinkStep) testutil.LinkScript {
	if len(steps) == 0 {
		return testutil.Deterministic()
	}
	scripts := make([]testutil.LinkScript, len(steps))
	for i, s := range steps {
		scripts[i] = stepScript(s)
	}
	return testutil.Sequence(scripts...)
}

func stepScript(s LinkStep) testutil.LinkScript {
	switch s.Mode {
	case ModeRotateMap:
		return testutil.MapOrderFlaky()
	case ModeVariant:
		return testutil.Variant(s.Label)
	case ModeFail:
		return testutil.AlwaysFails()
	case ModeNoMap:
		return testutil.ExitZeroWithoutMap()
	case ModeExitNonzero:
		det := testutil.Deterministic()
		return func(call int, req toolchain.LinkRequest) testutil.LinkStep {
			step := det(call, req)
			step.ExitCode = 1
			return step
		}
	default:
		return testutil.Deterministic()
	}
}
