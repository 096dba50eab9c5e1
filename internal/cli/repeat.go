package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/experiment"
	"github.com/roach88/islandcheck/internal/link"
	"github.com/roach88/islandcheck/internal/store"
	"github.com/roach88/islandcheck/internal/workload"
)

// RepeatOptions holds flags for the repeat command.
type RepeatOptions struct {
	*RootOptions
	linkFlags
	corpusFlags
	toolFlags
	Runs     int
	Generate bool
	Workload string
	Ledger   string
	Archive  bool
}

// RepeatResult is the payload of the repeat command.
type RepeatResult struct {
	ID          string               `json:"id"`
	Out         string               `json:"out"`
	Fingerprint string               `json:"fingerprint"`
	Inputs      int                  `json:"inputs"`
	Outcome     *experiment.Outcome  `json:"outcome"`
	Problems    []experiment.Problem `json:"problems,omitempty"`
	Ledger      *LedgerResult        `json:"ledger,omitempty"`
}

// LedgerResult describes how an experiment was recorded.
type LedgerResult struct {
	Path     string `json:"path"`
	Recorded bool   `json:"recorded"`

	// Prior counts earlier experiments on the same input set.
	Prior int `json:"prior"`

	// Disagreeing lists earlier experiments on the same input set whose
	// report digest differs from this one.
	Disagreeing []string `json:"disagreeing,omitempty"`
}

// NewRepeatCommand creates the repeat command.
func NewRepeatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RepeatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "repeat",
		Short: "Link the same inputs repeatedly and compare the outputs",
		Long: `Link an identical input set --runs times and report divergence.

Each run writes into its own <out>/run-NNN directory. Binaries are compared
byte for byte and link maps after canonicalization. The experiment
manifest is written to <out>/experiment.yaml.

Inputs come from --logic, --padding and --entry. With --workload the
defaults are the workload's obj directories, and --generate creates and
compiles that workload first. With --generate only the units that compiled
in this invocation are linked; if the entry unit fails, nothing is linked.

Exit codes:
  0 - Every run succeeded and all outputs are identical
  1 - Divergence, a failed run, or a failed unit
  2 - Command error (missing inputs, bad flags, output dir in use)

Examples:
  islandcheck repeat --workload ./work --out ./exp1 --runs 10
  islandcheck repeat --generate --workload ./work --count 2000 --size 65536 --out ./exp1
  islandcheck repeat --workload ./work --out ./exp2 --runs 5 --ledger ./islands.db --archive`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepeat(opts, cmd)
		},
	}

	opts.linkFlags.register(cmd)
	opts.corpusFlags.register(cmd)
	opts.toolFlags.register(cmd)
	cmd.Flags().IntVarP(&opts.Runs, "runs", "n", 3, "number of links")
	cmd.Flags().BoolVar(&opts.Generate, "generate", false, "generate and compile --workload first")
	cmd.Flags().StringVarP(&opts.Workload, "workload", "w", "", "workload directory")
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "record the experiment in this SQLite ledger")
	cmd.Flags().BoolVar(&opts.Archive, "archive", false, "zstd-compress run outputs after hashing")

	return cmd
}

func runRepeat(opts *RepeatOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}
	opts.linkFlags.apply(cmd, cfg)
	opts.corpusFlags.apply(cmd, cfg)
	opts.toolFlags.apply(cmd, cfg)
	if cmd.Flags().Changed("runs") {
		cfg.Experiment.Runs = opts.Runs
	}
	if cmd.Flags().Changed("archive") {
		cfg.Experiment.Archive = opts.Archive
	}
	if err := checkExperiment(f, cfg); err != nil {
		return err
	}

	if opts.Generate && opts.Workload == "" {
		return f.Fail(ExitCommandError, ErrCodePrecondition, "--generate requires --workload", nil)
	}
	var layout workload.Layout
	if opts.Workload != "" {
		root, err := filepath.Abs(opts.Workload)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodePrecondition, "invalid --workload", err)
		}
		layout = workload.Layout{Root: root}
		opts.defaultInputs(layout)
	}
	if err := opts.requireInputs(f); err != nil {
		return err
	}
	out, err := filepath.Abs(opts.Out)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodePrecondition, "invalid --out", err)
	}

	r, err := opts.runner(cmd, f, cfg)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	o := &experiment.Outcome{}

	var set *link.InputSet
	if opts.Generate {
		spec := corpusSpec(cfg)
		if err := spec.Validate(); err != nil {
			return f.Fail(ExitCommandError, ErrCodeConfig, "invalid workload (set --count or workload.count)", err)
		}
		f.VerboseLog("Generating workload in %s", layout.Root)
		units, err := r.Generate(ctx, experiment.CorpusRequest{
			Spec:            spec,
			Root:            layout.Root,
			Kinds:           []workload.Kind{workload.KindLogic, workload.KindPadding},
			LogicTemplate:   cfg.Workload.LogicTemplate,
			PaddingTemplate: cfg.Workload.PaddingTemplate,
		}, o)
		if err != nil {
			return f.FailStage("generation failed", err)
		}
		compiled, err := r.Compile(ctx, layout.Root, units, o)
		if err != nil {
			return f.FailStage("compile failed", err)
		}
		// Only units compiled just now are linked.
		set, err = experiment.CompiledInputs(compiled, link.Order(cfg.Experiment.Order), cfg.Caps())
		if errors.Is(err, experiment.ErrEntryNotCompiled) {
			cause := err
			result := RepeatResult{Out: out, Outcome: o, Problems: o.Problems()}
			return f.Outcome(o, result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Not linked: %v\n", cause)
				return err
			})
		}
		if err != nil {
			return f.FailStage("failed to assemble link inputs", err)
		}
	} else {
		if set, err = opts.inputs(cfg); err != nil {
			return f.FailStage("failed to assemble link inputs", err)
		}
	}
	f.VerboseLog("Linking %d inputs %d times into %s", set.Len(), r.Runs, out)

	if err := r.Repeat(ctx, set, out, o); err != nil {
		return f.FailStage("experiment failed", err)
	}

	result := RepeatResult{
		ID:          o.Manifest.ID,
		Out:         out,
		Fingerprint: o.Collection.Fingerprint,
		Inputs:      set.Len(),
		Outcome:     o,
		Problems:    o.Problems(),
	}
	if opts.Ledger != "" {
		lr, err := recordLedger(ctx, opts.Ledger, out, o.Manifest)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeLedger, "failed to record experiment", err)
		}
		result.Ledger = lr
	}

	return f.Outcome(o, result, func(w io.Writer) error {
		return writeRepeatText(w, result)
	})
}

// recordLedger appends the experiment to the ledger and compares it with
// earlier experiments on the same input set.
func recordLedger(ctx context.Context, path, root string, m *experiment.Manifest) (*LedgerResult, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	prior, err := st.ExperimentsByFingerprint(ctx, m.Fingerprint)
	if err != nil {
		return nil, err
	}
	recorded, err := st.RecordExperiment(ctx, root, m)
	if err != nil {
		return nil, err
	}

	lr := &LedgerResult{Path: path, Recorded: recorded}
	for _, p := range prior {
		if p.ID == m.ID {
			continue
		}
		lr.Prior++
		if p.ReportDigest != m.Report.Digest {
			lr.Disagreeing = append(lr.Disagreeing, p.ID)
		}
	}
	return lr, nil
}

func writeRepeatText(w io.Writer, r RepeatResult) error {
	fmt.Fprintf(w, "Experiment %s\n", r.ID)
	fmt.Fprintf(w, "  out:         %s\n", r.Out)
	fmt.Fprintf(w, "  inputs:      %d\n", r.Inputs)
	fmt.Fprintf(w, "  fingerprint: %s\n", r.Fingerprint)
	if o := r.Outcome; o != nil {
		for _, g := range o.Generation {
			fmt.Fprintf(w, "  generated %s: %d ok, %d failed\n", g.Kind, g.Succeeded, g.Failed)
		}
		if o.Compile != nil {
			fmt.Fprintf(w, "  compiled: %d ok, %d failed\n", o.Compile.Succeeded, o.Compile.Failed)
		}
	}
	fmt.Fprintln(w)

	if err := detect.WriteText(w, r.Outcome.Report); err != nil {
		return err
	}
	if r.Ledger != nil {
		fmt.Fprintf(w, "\nledger: %s (%d earlier experiments on these inputs)\n", r.Ledger.Path, r.Ledger.Prior)
		for _, id := range r.Ledger.Disagreeing {
			fmt.Fprintf(w, "  ✗ experiment %s reported a different grouping\n", id)
		}
	}
	return nil
}
