package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/link"
	"github.com/roach88/islandcheck/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Ledger      string
	Limit       int
	Fingerprint string // optional - experiments on one input set
	ID          string // optional - one experiment in detail
}

// HistoryResult is the payload of the history command when listing.
type HistoryResult struct {
	Experiments []store.ExperimentRecord `json:"experiments"`
	Total       int                      `json:"total"`

	// Digests counts distinct report digests. Only set with --fingerprint.
	Digests int `json:"digests,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List experiments recorded in a ledger",
		Long: `List experiments recorded with 'repeat --ledger'.

With --fingerprint, only experiments that linked the same input set are
listed, and the command fails if their reports disagree. With --id, one
experiment is shown with its runs and hash groups.

Exit codes:
  0 - Listing succeeded (and reports agree, with --fingerprint)
  1 - Experiments on the same inputs reported different groupings
  2 - Command error (ledger not found, unknown experiment)

Examples:
  islandcheck history --ledger ./islands.db
  islandcheck history --ledger ./islands.db --limit 5 --format json
  islandcheck history --ledger ./islands.db --fingerprint 3f9a...
  islandcheck history --ledger ./islands.db --id 01927c6e-...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "path to SQLite ledger (required)")
	_ = cmd.MarkFlagRequired("ledger")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "show the N most recent experiments (0 = all)")
	cmd.Flags().StringVar(&opts.Fingerprint, "fingerprint", "", "only experiments on this input set")
	cmd.Flags().StringVar(&opts.ID, "id", "", "show one experiment")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	// Opening creates the file, so a typo would silently yield an empty ledger.
	if err := link.RequireFile(opts.Ledger, "ledger"); err != nil {
		return f.FailStage("ledger not found", err)
	}
	st, err := store.Open(opts.Ledger)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeLedger, "failed to open ledger", err)
	}
	defer st.Close()

	if opts.ID != "" {
		d, err := st.GetExperiment(ctx, opts.ID)
		if errors.Is(err, store.ErrNotFound) {
			return f.Fail(ExitCommandError, ErrCodeNotFound, "unknown experiment", err)
		}
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeLedger, "failed to read ledger", err)
		}
		if opts.Format == "json" {
			return f.encode(CLIResponse{Status: "ok", Data: d})
		}
		writeDetailText(f.Writer, d)
		return nil
	}

	var recs []store.ExperimentRecord
	if opts.Fingerprint != "" {
		recs, err = st.ExperimentsByFingerprint(ctx, opts.Fingerprint)
	} else {
		recs, err = st.ListExperiments(ctx, opts.Limit)
	}
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeLedger, "failed to read ledger", err)
	}
	if recs == nil {
		recs = []store.ExperimentRecord{}
	}

	result := HistoryResult{Experiments: recs, Total: len(recs)}
	if opts.Fingerprint != "" {
		result.Digests = distinctDigests(recs)
	}
	disagree := result.Digests > 1
	msg := fmt.Sprintf("%d experiments on these inputs reported %d different groupings", result.Total, result.Digests)

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if disagree {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeDivergence, Message: msg}
		}
		if err := f.encode(resp); err != nil {
			return err
		}
	} else {
		writeHistoryText(f.Writer, result)
		if disagree {
			fmt.Fprintf(f.Writer, "\n✗ %s\n", msg)
		}
	}

	if disagree {
		e := NewExitError(ExitFailure, msg)
		e.Reported = true
		return e
	}
	return nil
}

func distinctDigests(recs []store.ExperimentRecord) int {
	seen := make(map[string]bool)
	for _, r := range recs {
		seen[r.ReportDigest] = true
	}
	return len(seen)
}

func writeHistoryText(w io.Writer, r HistoryResult) {
	if r.Total == 0 {
		fmt.Fprintln(w, "No experiments recorded.")
		return
	}
	for _, e := range r.Experiments {
		archived := ""
		if e.Archived {
			archived = " archived"
		}
		fmt.Fprintf(w, "%s  %s  %-13s %d/%d runs ok  %d inputs  %s%s\n",
			e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Verdict,
			e.Succeeded, e.RunCount, e.InputCount, shortDigest(e.Fingerprint), archived)
	}
	fmt.Fprintf(w, "\n%d experiments\n", r.Total)
}

func writeDetailText(w io.Writer, d *store.Detail) {
	e := d.Experiment
	fmt.Fprintf(w, "Experiment %s\n", e.ID)
	fmt.Fprintf(w, "  created:     %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  root:        %s\n", e.Root)
	fmt.Fprintf(w, "  strategy:    %s\n", e.Strategy)
	fmt.Fprintf(w, "  inputs:      %d\n", e.InputCount)
	fmt.Fprintf(w, "  fingerprint: %s\n", e.Fingerprint)
	fmt.Fprintf(w, "  verdict:     %s\n", e.Verdict)
	fmt.Fprintf(w, "  digest:      %s\n", e.ReportDigest)

	fmt.Fprintln(w, "\nRuns:")
	for _, r := range d.Runs {
		line := fmt.Sprintf("  %3d  %-6s %6dms", r.Index, r.Status, r.DurationMS)
		if r.Error != "" {
			line += "  " + r.Error
		} else {
			line += fmt.Sprintf("  bin %s  map %s", shortDigest(r.BinaryHash), shortDigest(r.MapHash))
		}
		fmt.Fprintln(w, line)
	}

	writeGroupSet(w, "binary", d.Binary)
	writeGroupSet(w, "map", d.Map)
}

func writeGroupSet(w io.Writer, label string, s detect.GroupSet) {
	fmt.Fprintf(w, "\n%s: %d unique\n", label, s.UniqueCount())
	for _, g := range s.Groups {
		runs := make([]string, len(g.Runs))
		for i, idx := range g.Runs {
			runs[i] = strconv.Itoa(idx)
		}
		fmt.Fprintf(w, "  %-12s runs %s\n", shortDigest(g.Hash), strings.Join(runs, ","))
	}
}

func shortDigest(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
