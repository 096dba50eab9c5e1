package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/islandcheck/internal/config"
	"github.com/roach88/islandcheck/internal/link"
	"github.com/roach88/islandcheck/internal/toolchain"
	"github.com/roach88/islandcheck/internal/workload"
)

// Flags that override config values only when set on the command line.

// toolFlags locate the target platform.
type toolFlags struct {
	Target string
	SDK    string
	Jobs   int
}

func (t *toolFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.Target, "target", "", "target triple passed to the compiler (e.g. arm64-apple-macos13)")
	cmd.Flags().StringVar(&t.SDK, "sdk", "", "platform SDK path")
	cmd.Flags().IntVar(&t.Jobs, "jobs", 1, "concurrent compiles")
}

func (t *toolFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("target") {
		cfg.Workload.Target = t.Target
	}
	if cmd.Flags().Changed("sdk") {
		cfg.Workload.SDK = t.SDK
	}
	if cmd.Flags().Changed("jobs") {
		cfg.Workload.Jobs = t.Jobs
	}
}

// corpusFlags size a generated corpus.
type corpusFlags struct {
	Count           int
	Size            int64
	Naming          string
	Template        string
	PaddingTemplate string
}

func (c *corpusFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&c.Count, "count", 0, "units per kind")
	cmd.Flags().Int64Var(&c.Size, "size", 0, "reserved bytes per padding unit")
	cmd.Flags().StringVar(&c.Naming, "naming", "", "unit file stem template ({{KIND}}, {{INDEX}})")
	cmd.Flags().StringVar(&c.Template, "template", "", "logic unit template file")
	cmd.Flags().StringVar(&c.PaddingTemplate, "padding-template", "", "padding unit template file")
}

func (c *corpusFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("count") {
		cfg.Workload.Count = c.Count
	}
	if cmd.Flags().Changed("size") {
		cfg.Workload.Size = c.Size
	}
	if cmd.Flags().Changed("naming") {
		cfg.Workload.Naming = c.Naming
	}
	if cmd.Flags().Changed("template") {
		cfg.Workload.LogicTemplate = c.Template
	}
	if cmd.Flags().Changed("padding-template") {
		cfg.Workload.PaddingTemplate = c.PaddingTemplate
	}
}

// corpusSpec returns the workload spec described by cfg.
func corpusSpec(cfg *config.Config) workload.Spec {
	return workload.Spec{
		UnitCount:      cfg.Workload.Count,
		UnitSizeBytes:  cfg.Workload.Size,
		NamingTemplate: cfg.Workload.Naming,
		TargetTriple:   cfg.Workload.Target,
		SDKPath:        cfg.Workload.SDK,
	}
}

// linkFlags select the link inputs and how they are linked.
type linkFlags struct {
	Logic      string
	Padding    string
	Entry      string
	Out        string
	Name       string
	MaxLogic   int
	MaxPadding int
	Strategy   string
	Order      string
}

func (l *linkFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&l.Logic, "logic", "", "directory of logic objects")
	cmd.Flags().StringVar(&l.Padding, "padding", "", "directory of padding objects")
	cmd.Flags().StringVar(&l.Entry, "entry", "", "entry object file")
	cmd.Flags().StringVarP(&l.Out, "out", "o", "", "output directory (required)")
	cmd.Flags().StringVar(&l.Name, "name", link.DefaultOutputName, "output binary name")
	cmd.Flags().IntVar(&l.MaxLogic, "max-logic", 0, "link at most N logic units (0 = all)")
	cmd.Flags().IntVar(&l.MaxPadding, "max-padding", 0, "link at most N padding units (0 = all)")
	cmd.Flags().StringVar(&l.Strategy, "strategy", "direct", "link strategy (direct|driver)")
	cmd.Flags().StringVar(&l.Order, "order", "lexical", "unit order within each kind (lexical|reverse)")
	_ = cmd.MarkFlagRequired("out")
}

func (l *linkFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("name") {
		cfg.Experiment.Name = l.Name
	}
	if cmd.Flags().Changed("max-logic") {
		cfg.Experiment.MaxLogic = l.MaxLogic
	}
	if cmd.Flags().Changed("max-padding") {
		cfg.Experiment.MaxPadding = l.MaxPadding
	}
	if cmd.Flags().Changed("strategy") {
		cfg.Experiment.Strategy = l.Strategy
	}
	if cmd.Flags().Changed("order") {
		cfg.Experiment.Order = l.Order
	}
}

// defaultInputs fills unset input locations from a workload layout.
func (l *linkFlags) defaultInputs(layout workload.Layout) {
	if l.Logic == "" {
		l.Logic = layout.ObjectDir(workload.KindLogic)
	}
	if l.Padding == "" {
		l.Padding = layout.ObjectDir(workload.KindPadding)
	}
	if l.Entry == "" {
		l.Entry = layout.EntryObject()
	}
}

// requireInputs fails unless every input location is known.
func (l *linkFlags) requireInputs(f *OutputFormatter) error {
	if l.Logic == "" || l.Padding == "" || l.Entry == "" {
		return f.Fail(ExitCommandError, ErrCodePrecondition, "--logic, --padding and --entry are required", nil)
	}
	return nil
}

// inputs discovers and assembles the objects named by the flags.
func (l *linkFlags) inputs(cfg *config.Config) (*link.InputSet, error) {
	order := link.Order(cfg.Experiment.Order)
	logic, err := link.Discover(l.Logic, workload.KindLogic, order)
	if err != nil {
		return nil, err
	}
	padding, err := link.Discover(l.Padding, workload.KindPadding, order)
	if err != nil {
		return nil, err
	}
	entry, err := link.EntryUnit(l.Entry)
	if err != nil {
		return nil, err
	}
	return link.Assemble(logic, padding, entry, cfg.Caps())
}

// checkExperiment validates experiment settings that flags may have
// overridden after the config schema ran.
func checkExperiment(f *OutputFormatter, cfg *config.Config) error {
	var err error
	switch {
	case cfg.Experiment.Runs < 1:
		err = fmt.Errorf("runs must be at least 1, got %d", cfg.Experiment.Runs)
	case cfg.Experiment.MaxLogic < 0 || cfg.Experiment.MaxPadding < 0:
		err = fmt.Errorf("unit caps must be >= 0")
	case cfg.Experiment.Name == "":
		err = fmt.Errorf("output name must not be empty")
	}
	if err == nil {
		_, err = toolchain.ParseStrategy(cfg.Experiment.Strategy)
	}
	if err == nil {
		_, err = link.ParseOrder(cfg.Experiment.Order)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "invalid experiment settings", err)
	}
	return nil
}
