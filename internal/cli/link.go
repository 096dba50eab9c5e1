package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/islandcheck/internal/link"
	"github.com/roach88/islandcheck/internal/toolchain"
)

// LinkOptions holds flags for the link command.
type LinkOptions struct {
	*RootOptions
	linkFlags
}

// LinkResult is the payload of the link command.
type LinkResult struct {
	OK          bool   `json:"ok"`
	Binary      string `json:"binary"`
	Map         string `json:"map"`
	Log         string `json:"log"`
	Inputs      int    `json:"inputs"`
	Fingerprint string `json:"fingerprint"`
	Error       string `json:"error,omitempty"`
}

// NewLinkCommand creates the link command.
func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LinkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link compiled objects once",
		Long: `Link the logic, padding and entry objects once into --out.

Logic units come first, then padding units, then the entry unit. Outputs
of an earlier link into --out are removed first. The link succeeds only if
the linker exited zero and wrote both the binary and the link map.

Exit codes:
  0 - The linker exited zero and produced the binary and map
  1 - The linker failed, exited non-zero, or did not produce both outputs
  2 - Command error (missing inputs, bad flags)

Examples:
  islandcheck link --logic work/obj/logic --padding work/obj/padding \
    --entry work/obj/entry/main.o --out ./linked
  islandcheck link ... --strategy driver --max-padding 500 --order reverse`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLink(opts, cmd)
		},
	}

	opts.linkFlags.register(cmd)

	return cmd
}

func runLink(opts *LinkOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}
	opts.linkFlags.apply(cmd, cfg)
	if err := checkExperiment(f, cfg); err != nil {
		return err
	}
	if err := opts.requireInputs(f); err != nil {
		return err
	}

	set, err := opts.inputs(cfg)
	if err != nil {
		return f.FailStage("failed to assemble link inputs", err)
	}
	fingerprint, err := set.Fingerprint()
	if err != nil {
		return f.FailStage("failed to fingerprint inputs", err)
	}
	out, err := filepath.Abs(opts.Out)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodePrecondition, "invalid --out", err)
	}

	orch := &link.Orchestrator{
		Toolchain:  opts.toolchainFor(cfg),
		Strategy:   toolchain.Strategy(cfg.Experiment.Strategy),
		OutputName: cfg.Experiment.Name,
		Logger:     opts.logger(cmd),
	}
	paths, linkErr := orch.Link(commandContext(cmd), set, out)

	result := LinkResult{
		OK:          linkErr == nil && paths.Present(),
		Binary:      paths.Binary,
		Map:         paths.Map,
		Log:         paths.Log,
		Inputs:      set.Len(),
		Fingerprint: fingerprint,
	}
	if linkErr != nil {
		result.Error = linkErr.Error()
	} else if missing := paths.Missing(); len(missing) > 0 {
		result.Error = "missing " + strings.Join(missing, " and ")
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.OK {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeLink, Message: "link failed", Details: result.Error}
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(resp); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		mark := "✓"
		if !result.OK {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s linked %d inputs (%s)\n", mark, result.Inputs, cfg.Experiment.Strategy)
		fmt.Fprintf(w, "  binary: %s\n", result.Binary)
		fmt.Fprintf(w, "  map:    %s\n", result.Map)
		fmt.Fprintf(w, "  log:    %s\n", result.Log)
		if result.Error != "" {
			fmt.Fprintf(w, "  error:  %s\n", result.Error)
		}
	}

	if !result.OK {
		e := WrapExitError(ExitFailure, "link failed", linkErr)
		e.Reported = true
		return e
	}
	return nil
}
