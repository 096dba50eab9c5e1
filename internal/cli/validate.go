package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/islandcheck/internal/config"
	"github.com/roach88/islandcheck/internal/harness"
	"github.com/roach88/islandcheck/internal/link"
	"github.com/roach88/islandcheck/internal/toolchain"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Scenarios string // optional scenarios directory
}

// ValidationIssue is one problem found by validate.
type ValidationIssue struct {
	Source  string `json:"source"` // config file or scenario file
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Config    *config.Config    `json:"config,omitempty"`
	Scenarios int               `json:"scenarios"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and scenarios without running anything",
		Long: `Validate the --config file and, optionally, a directory of scenarios.

The config is unified with the schema, environment overrides are applied
and canonicalization patterns are compiled. The effective configuration is
printed when it is valid. Scenario files are parsed and checked without
being run.

Exit codes:
  0 - Everything is valid
  1 - Validation failed
  2 - Command error

Examples:
  islandcheck validate --config islands.cue
  islandcheck validate --config islands.cue --scenarios ./scenarios --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scenarios, "scenarios", "", "also validate scenario files in this directory")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	result := ValidationResult{}

	source := opts.Config
	if source == "" {
		source = "defaults"
	}
	if cfg, err := config.Load(opts.Config); err != nil {
		result.Errors = append(result.Errors, ValidationIssue{Source: source, Message: err.Error()})
	} else {
		for _, err := range configIssues(cfg) {
			result.Errors = append(result.Errors, ValidationIssue{Source: source, Message: err.Error()})
		}
		result.Config = cfg
	}

	if opts.Scenarios != "" {
		files, err := findScenarioFiles(opts.Scenarios, "")
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodePrecondition, "failed to find scenarios", err)
		}
		for _, file := range files {
			f.VerboseLog("Validating scenario: %s", file)
			if _, err := harness.LoadScenario(file); err != nil {
				result.Errors = append(result.Errors, ValidationIssue{Source: filepath.Base(file), Message: err.Error()})
			}
		}
		result.Scenarios = len(files)
	}
	result.Valid = len(result.Errors) == 0

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeConfig, Message: result.Errors[0].Message}
		}
		if err := f.encode(resp); err != nil {
			return err
		}
	} else if err := writeValidateText(f.Writer, result); err != nil {
		return err
	}

	if !result.Valid {
		e := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
		e.Reported = true
		return e
	}
	return nil
}

// configIssues checks what the schema cannot: rule patterns compile and
// names parse.
func configIssues(cfg *config.Config) []error {
	var errs []error
	if _, err := cfg.Rules(); err != nil {
		errs = append(errs, err)
	}
	if _, err := toolchain.ParseStrategy(cfg.Experiment.Strategy); err != nil {
		errs = append(errs, err)
	}
	if _, err := link.ParseOrder(cfg.Experiment.Order); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func writeValidateText(w io.Writer, r ValidationResult) error {
	if !r.Valid {
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s: %s\n", e.Source, e.Message)
		}
		return nil
	}

	fmt.Fprintln(w, "✓ Configuration valid")
	if r.Scenarios > 0 {
		fmt.Fprintf(w, "✓ %d scenarios valid\n", r.Scenarios)
	}
	fmt.Fprintln(w, "\nEffective configuration:")
	data, err := json.MarshalIndent(r.Config, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
