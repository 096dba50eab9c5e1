package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/islandcheck/internal/config"
	"github.com/roach88/islandcheck/internal/experiment"
	"github.com/roach88/islandcheck/internal/toolchain"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // optional CUE config file

	// NewToolchain builds the toolchain for a command. Nil runs the
	// external processes named in the config.
	NewToolchain func(cfg *config.Config) toolchain.Toolchain

	// IDs and Now stamp experiments. Nil means UUIDv7 IDs and wall clock.
	IDs experiment.IDGenerator
	Now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the islandcheck CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "islandcheck",
		Short: "islandcheck - linker determinism checker",
		Long: `Detect nondeterminism in linkers that insert branch islands.

islandcheck generates a corpus large enough to force branch-island
insertion, compiles it once, links the identical objects repeatedly and
compares every binary and link map the linker produced.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "CUE config file")

	cmd.AddCommand(NewGenerateCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewLinkCommand(opts))
	cmd.AddCommand(NewRepeatCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// Execute runs the CLI with os.Args and returns the process exit code.
// Errors a command has not already reported are printed to stderr. An
// interrupt cancels the running command.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || !exitErr.Reported {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return GetExitCode(err)
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// logger writes structured logs to the command's stderr. Verbose lowers
// the level to Debug.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) loadConfig(f *OutputFormatter) (*config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	return cfg, nil
}

func (o *RootOptions) toolchainFor(cfg *config.Config) toolchain.Toolchain {
	if o.NewToolchain != nil {
		return o.NewToolchain(cfg)
	}
	return cfg.Process()
}

// runner builds an experiment runner from cfg. Rule and strategy errors
// are reported as config errors.
func (o *RootOptions) runner(cmd *cobra.Command, f *OutputFormatter, cfg *config.Config) (*experiment.Runner, error) {
	rules, err := cfg.Rules()
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "invalid canonicalization rules", err)
	}
	strategy, err := toolchain.ParseStrategy(cfg.Experiment.Strategy)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "invalid strategy", err)
	}

	ids := o.IDs
	if ids == nil {
		ids = experiment.UUIDv7Generator{}
	}
	return &experiment.Runner{
		Toolchain:  o.toolchainFor(cfg),
		Rules:      rules,
		Strategy:   strategy,
		OutputName: cfg.Experiment.Name,
		Runs:       cfg.Experiment.Runs,
		Jobs:       cfg.Workload.Jobs,
		Archive:    cfg.Experiment.Archive,
		IDs:        ids,
		Now:        o.Now,
		Logger:     o.logger(cmd),
	}, nil
}
