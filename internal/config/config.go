// Package config loads experiment settings.
//
// Settings come from three layers, later layers winning:
//
//  1. An optional CUE file, unified with the embedded schema. The schema
//     supplies defaults and rejects unknown fields and out-of-range values.
//  2. ISLANDCHECK_* environment variables for the toolchain location.
//  3. Command-line flags, applied by the caller.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/link"
	"github.com/roach88/islandcheck/internal/toolchain"
)

//go:embed schema.cue
var schemaSource []byte

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ISLANDCHECK"

// Config is the decoded, validated configuration.
type Config struct {
	Workload     Workload     `json:"workload"`
	Toolchain    Toolchain    `json:"toolchain"`
	Experiment   Experiment   `json:"experiment"`
	Canonicalize []RuleConfig `json:"canonicalize"`
}

// Workload configures corpus generation.
type Workload struct {
	Count           int    `json:"count"`
	Size            int64  `json:"size"`
	Naming          string `json:"naming"`
	Target          string `json:"target"`
	SDK             string `json:"sdk"`
	LogicTemplate   string `json:"logic_template"`
	PaddingTemplate string `json:"padding_template"`
	Jobs            int    `json:"jobs"`
}

// Toolchain locates the compiler, driver and linker.
type Toolchain struct {
	CC           string   `json:"cc"`
	LD           string   `json:"ld"`
	Driver       string   `json:"driver"`
	MapFlag      string   `json:"map_flag"`
	CompileFlags []string `json:"compile_flags"`
	LinkFlags    []string `json:"link_flags"`
}

// Experiment configures the repeated link.
type Experiment struct {
	Runs       int    `json:"runs"`
	Strategy   string `json:"strategy"`
	Order      string `json:"order"`
	Name       string `json:"name"`
	MaxLogic   int    `json:"max_logic"`
	MaxPadding int    `json:"max_padding"`
	Archive    bool   `json:"archive"`
}

// RuleConfig is a canonicalization rule as written in the config file.
type RuleConfig struct {
	Name        string `json:"name"`
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
}

// Load reads path (which may be empty) and applies environment
// overrides.
func Load(path string) (*Config, error) {
	var src []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		src = data
	}
	cfg, err := Parse(src, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes CUE source against the schema. Empty src yields the
// defaults. filename is only used in error positions.
func Parse(src []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := def
	if len(src) > 0 {
		if filename == "" {
			filename = "config.cue"
		}
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filename, err)
		}
		value = def.Unify(user)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if _, err := cfg.Rules(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv layers ISLANDCHECK_* variables over file values.
func (c *Config) applyEnv() error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	for _, key := range []string{"cc", "ld", "driver", "sdk", "target", "runs"} {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if s := v.GetString("cc"); s != "" {
		c.Toolchain.CC = s
	}
	if s := v.GetString("ld"); s != "" {
		c.Toolchain.LD = s
	}
	if s := v.GetString("driver"); s != "" {
		c.Toolchain.Driver = s
	}
	if s := v.GetString("sdk"); s != "" {
		c.Workload.SDK = s
	}
	if s := v.GetString("target"); s != "" {
		c.Workload.Target = s
	}
	if v.IsSet("runs") {
		runs := v.GetInt("runs")
		if runs < 1 {
			return fmt.Errorf("%s_RUNS must be at least 1, got %q", EnvPrefix, v.GetString("runs"))
		}
		c.Experiment.Runs = runs
	}
	return nil
}

// Rules compiles the configured canonicalization rules.
func (c *Config) Rules() ([]detect.Rule, error) {
	rules := make([]detect.Rule, 0, len(c.Canonicalize))
	for _, rc := range c.Canonicalize {
		r, err := detect.NewRule(rc.Name, rc.Pattern, rc.Description)
		if err != nil {
			return nil, fmt.Errorf("canonicalize: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Process returns the real toolchain described by c.
func (c *Config) Process() *toolchain.Process {
	return &toolchain.Process{
		CC:           c.Toolchain.CC,
		LD:           c.Toolchain.LD,
		Driver:       c.Toolchain.Driver,
		MapFlag:      c.Toolchain.MapFlag,
		TargetTriple: c.Workload.Target,
		SDKPath:      c.Workload.SDK,
		CompileFlags: c.Toolchain.CompileFlags,
		LinkFlags:    c.Toolchain.LinkFlags,
	}
}

// Caps returns the configured per-kind link limits.
func (c *Config) Caps() link.Caps {
	return link.Caps{MaxLogic: c.Experiment.MaxLogic, MaxPadding: c.Experiment.MaxPadding}
}
