package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/islandcheck/internal/build"
	"github.com/roach88/islandcheck/internal/experiment"
	"github.com/roach88/islandcheck/internal/workload"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	corpusFlags
	toolFlags
	Out     string
	Kind    string // logic | padding | all
	Compile bool
}

// GenerateResult is the payload of the generate command.
type GenerateResult struct {
	Workload   string             `json:"workload"`
	Generation []*workload.Result `json:"generation"`
	Compile    *build.Result      `json:"compile,omitempty"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic workload",
		Long: `Generate logic and padding source units plus the entry unit.

Sources are written to <out>/src/<kind>. With --compile the units are
compiled into the sibling <out>/obj/<kind> directories.

Exit codes:
  0 - Every unit was generated (and compiled)
  1 - A template could not be read, or some unit failed
  2 - Command error (bad flags, invalid config)

Examples:
  islandcheck generate --out ./work --count 2000 --size 65536
  islandcheck generate --out ./work --count 500 --kind logic --template logic.c.tmpl
  islandcheck generate --out ./work --count 2000 --size 65536 --compile --jobs 8`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "workload directory (required)")
	_ = cmd.MarkFlagRequired("out")
	cmd.Flags().StringVar(&opts.Kind, "kind", "all", "unit kinds to generate (logic|padding|all)")
	cmd.Flags().BoolVar(&opts.Compile, "compile", false, "compile the generated units")
	opts.corpusFlags.register(cmd)
	opts.toolFlags.register(cmd)

	return cmd
}

// parseKinds expands the --kind flag.
func parseKinds(s string) ([]workload.Kind, error) {
	switch s {
	case "all", "":
		return []workload.Kind{workload.KindLogic, workload.KindPadding}, nil
	case string(workload.KindLogic), string(workload.KindPadding):
		return []workload.Kind{workload.Kind(s)}, nil
	}
	return nil, fmt.Errorf("invalid kind %q: must be logic, padding or all", s)
}

func runGenerate(opts *GenerateOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}
	opts.corpusFlags.apply(cmd, cfg)
	opts.toolFlags.apply(cmd, cfg)

	kinds, err := parseKinds(opts.Kind)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "invalid --kind", err)
	}
	spec := corpusSpec(cfg)
	if err := spec.Validate(); err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "invalid workload (set --count or workload.count)", err)
	}
	root, err := filepath.Abs(opts.Out)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodePrecondition, "invalid --out", err)
	}

	r, err := opts.runner(cmd, f, cfg)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	f.VerboseLog("Generating %d units per kind into %s", spec.UnitCount, root)
	o := &experiment.Outcome{}
	units, err := r.Generate(ctx, experiment.CorpusRequest{
		Spec:            spec,
		Root:            root,
		Kinds:           kinds,
		LogicTemplate:   cfg.Workload.LogicTemplate,
		PaddingTemplate: cfg.Workload.PaddingTemplate,
	}, o)
	if err != nil {
		return f.FailStage("generation failed", err)
	}
	if opts.Compile {
		if _, err := r.Compile(ctx, root, units, o); err != nil {
			return f.FailStage("compile failed", err)
		}
	}

	result := GenerateResult{Workload: root, Generation: o.Generation, Compile: o.Compile}
	return f.Outcome(o, result, func(w io.Writer) error {
		return writeGenerateText(w, result)
	})
}

func writeGenerateText(w io.Writer, r GenerateResult) error {
	fmt.Fprintf(w, "Workload: %s\n", r.Workload)
	for _, g := range r.Generation {
		mark := "✓"
		if g.Failed > 0 {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d generated, %d failed\n", mark, g.Kind, g.Succeeded, g.Failed)
	}
	if r.Compile != nil {
		writeCompileLine(w, r.Compile)
	}
	return nil
}

func writeCompileLine(w io.Writer, c *build.Result) {
	mark := "✓"
	if c.Failed > 0 {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s compiled: %d ok, %d failed\n", mark, c.Succeeded, c.Failed)
	for _, fail := range c.Failures {
		fmt.Fprintf(w, "  %s: %s\n", fail.UnitID, fail.Error)
	}
}
