package cli

import (
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/islandcheck/internal/build"
	"github.com/roach88/islandcheck/internal/experiment"
	"github.com/roach88/islandcheck/internal/link"
	"github.com/roach88/islandcheck/internal/workload"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	toolFlags
	Workload string
}

// CompileResult is the payload of the compile command.
type CompileResult struct {
	Workload string        `json:"workload"`
	Compile  *build.Result `json:"compile"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a generated workload",
		Long: `Compile every source unit of a workload into relocatable objects.

Sources are read from <workload>/src/<kind> and objects written to the
sibling <workload>/obj/<kind>. A unit that fails to compile is reported
and left out; the rest of the batch still compiles.

Exit codes:
  0 - Every unit compiled
  1 - One or more units failed to compile
  2 - Command error (workload not found, etc.)

Examples:
  islandcheck compile --workload ./work
  islandcheck compile --workload ./work --jobs 8 --target arm64-apple-macos13`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Workload, "workload", "w", "", "workload directory (required)")
	_ = cmd.MarkFlagRequired("workload")
	opts.toolFlags.register(cmd)

	return cmd
}

func runCompile(opts *CompileOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}
	opts.toolFlags.apply(cmd, cfg)

	root, err := filepath.Abs(opts.Workload)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodePrecondition, "invalid --workload", err)
	}
	units, err := link.DiscoverSources(workload.Layout{Root: root})
	if err != nil {
		return f.FailStage("failed to read workload", err)
	}
	f.VerboseLog("Found %d source units in %s", len(units), root)

	r, err := opts.runner(cmd, f, cfg)
	if err != nil {
		return err
	}
	o := &experiment.Outcome{}
	if _, err := r.Compile(commandContext(cmd), root, units, o); err != nil {
		return f.FailStage("compile failed", err)
	}

	result := CompileResult{Workload: root, Compile: o.Compile}
	return f.Outcome(o, result, func(w io.Writer) error {
		writeCompileLine(w, o.Compile)
		return nil
	})
}
