package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/experiment"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
}

// ReportResult is the payload of the report command.
type ReportResult struct {
	ID     string         `json:"id"`
	Root   string         `json:"root"`
	Report *detect.Report `json:"report"`

	// Recorded is the digest stored in the manifest when the experiment
	// ran. Changed is set when the recomputed report differs from it.
	Recorded string `json:"recorded_digest"`
	Changed  bool   `json:"changed"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report <run-root>",
		Short: "Recompute the report of a finished experiment",
		Long: `Re-hash every run of an experiment and detect divergence again.

The experiment manifest at <run-root>/experiment.yaml names each run's
outputs and the canonicalization rules that were used. Archived outputs
are read through zstd. The recomputed digest is compared with the one
recorded when the experiment ran.

Exit codes:
  0 - All runs succeeded and all outputs are identical
  1 - Divergence or failed runs, or the report changed since recording
  2 - Command error (manifest not found, etc.)

Examples:
  islandcheck report ./exp1
  islandcheck report ./exp1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, args[0], cmd)
		},
	}

	return cmd
}

func runReport(opts *ReportOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	root, err := filepath.Abs(dir)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodePrecondition, "invalid run root", err)
	}
	m, rep, err := experiment.Redetect(root)
	if err != nil {
		return f.FailStage("failed to recompute report", err)
	}

	result := ReportResult{ID: m.ID, Root: root, Report: rep}
	if m.Report != nil {
		result.Recorded = m.Report.Digest
		result.Changed = m.Report.Digest != rep.Digest
	}

	o := &experiment.Outcome{Report: rep}
	err = f.Outcome(o, result, func(w io.Writer) error {
		fmt.Fprintf(w, "Experiment %s (%s)\n\n", result.ID, result.Root)
		if err := detect.WriteText(w, rep); err != nil {
			return err
		}
		if result.Changed {
			fmt.Fprintf(w, "\n✗ report changed since recording (was %s)\n", result.Recorded)
		}
		return nil
	})
	if err != nil || !result.Changed {
		return err
	}
	e := NewExitError(ExitFailure, "report changed since recording")
	e.Reported = true
	return e
}
