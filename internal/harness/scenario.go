package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/experiment"
	"github.com/roach88/islandcheck/internal/toolchain"
)

// Scenario describes one experiment against a simulated toolchain and
// what its outcome must look like.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Workload sizes the generated corpus.
	Workload WorkloadSpec `yaml:"workload"`

	// Runs is the number of repeated links. Zero means 3.
	Runs int `yaml:"runs,omitempty"`

	// Strategy is direct or driver. Empty means direct.
	Strategy string `yaml:"strategy,omitempty"`

	// MaxLogic and MaxPadding cap the units handed to the linker.
	MaxLogic   int `yaml:"max_logic,omitempty"`
	MaxPadding int `yaml:"max_padding,omitempty"`

	// Archive compresses run outputs after hashing.
	Archive bool `yaml:"archive,omitempty"`

	// FailUnits lists unit IDs whose compile fails.
	FailUnits []string `yaml:"fail_units,omitempty"`

	// Links scripts the simulated linker. Link call i follows
	// Links[min(i, len(Links)-1)]; an empty list links deterministically.
	Links []LinkStep `yaml:"links,omitempty"`

	// Canonicalize adds map canonicalization rules.
	Canonicalize []RuleSpec `yaml:"canonicalize,omitempty"`

	// Assertions validate the outcome.
	Assertions []Assertion `yaml:"assertions"`
}

// WorkloadSpec sizes the generated corpus.
type WorkloadSpec struct {
	Count int   `yaml:"count"`
	Size  int64 `yaml:"size"`
}

// LinkStep is the behavior of one simulated link call.
type LinkStep struct {
	// Mode selects the behavior:
	//   - deterministic: same binary and map every time
	//   - rotate-map: stable binary, map island order rotated by call number
	//   - variant: binary and map tagged with Label
	//   - fail: non-zero exit, no outputs
	//   - no-map: exit 0, binary only
	//   - exit-nonzero: non-zero exit, both outputs written
	Mode string `yaml:"mode"`

	// Label tags variant outputs.
	Label string `yaml:"label,omitempty"`
}

// Link step modes.
const (
	ModeDeterministic = "deterministic"
	ModeRotateMap     = "rotate-map"
	ModeVariant       = "variant"
	ModeFail          = "fail"
	ModeNoMap         = "no-map"
	ModeExitNonzero   = "exit-nonzero"
)

// RuleSpec is a canonicalization rule as written in a scenario.
type RuleSpec struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`
}

// Assertion validates one aspect of the outcome.
type Assertion struct {
	// Type specifies the assertion type:
	// - "verdict": the report verdict equals Verdict
	// - "unique_count": Artifact has exactly Count distinct hashes
	// - "group_runs": some Artifact group holds exactly Runs
	// - "failed_runs": exactly Count runs failed
	// - "problem": the outcome records a problem at Stage
	// - "no_problems": the outcome records no problem at all
	Type string `yaml:"type"`

	Verdict  string `yaml:"verdict,omitempty"`
	Artifact string `yaml:"artifact,omitempty"`
	Count    int    `yaml:"count,omitempty"`
	Runs     []int  `yaml:"runs,omitempty"`
	Stage    string `yaml:"stage,omitempty"`
}

// Assertion type constants.
const (
	AssertVerdict     = "verdict"
	AssertUniqueCount = "unique_count"
	AssertGroupRuns   = "group_runs"
	AssertFailedRuns  = "failed_runs"
	AssertProblem     = "problem"
	AssertNoProblems  = "no_problems"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Workload.Count < 1 {
		return fmt.Errorf("workload.count must be >= 1")
	}
	if s.Workload.Size < 0 {
		return fmt.Errorf("workload.size must be >= 0")
	}
	if s.Runs < 0 {
		return fmt.Errorf("runs must be >= 1")
	}
	if s.Strategy != "" {
		if _, err := toolchain.ParseStrategy(s.Strategy); err != nil {
			return err
		}
	}
	if s.MaxLogic < 0 || s.MaxPadding < 0 {
		return fmt.Errorf("unit caps must be >= 0")
	}

	for i, step := range s.Links {
		switch step.Mode {
		case ModeDeterministic, ModeRotateMap, ModeFail, ModeNoMap, ModeExitNonzero:
		case ModeVariant:
			if step.Label == "" {
				return fmt.Errorf("links[%d]: label is required for variant", i)
			}
		default:
			return fmt.Errorf("links[%d]: unknown mode %q", i, step.Mode)
		}
	}

	for i, r := range s.Canonicalize {
		if _, err := detect.NewRule(r.Name, r.Pattern, r.Description); err != nil {
			return fmt.Errorf("canonicalize[%d]: %w", i, err)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertVerdict:
		switch detect.Verdict(a.Verdict) {
		case detect.VerdictDeterministic, detect.VerdictDivergent, detect.VerdictNoOutput:
		default:
			return fmt.Errorf("assertions[%d]: unknown verdict %q", index, a.Verdict)
		}
	case AssertUniqueCount:
		if err := validateArtifact(index, a.Artifact); err != nil {
			return err
		}
		if a.Count < 1 {
			return fmt.Errorf("assertions[%d]: count must be >= 1 for unique_count", index)
		}
	case AssertGroupRuns:
		if err := validateArtifact(index, a.Artifact); err != nil {
			return err
		}
		if len(a.Runs) == 0 {
			return fmt.Errorf("assertions[%d]: runs list is required for group_runs", index)
		}
	case AssertFailedRuns:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for failed_runs", index)
		}
	case AssertProblem:
		switch experiment.Stage(a.Stage) {
		case experiment.StageGenerate, experiment.StageCompile, experiment.StageLink,
			experiment.StageInputs, experiment.StageDetect:
		default:
			return fmt.Errorf("assertions[%d]: unknown stage %q", index, a.Stage)
		}
	case AssertNoProblems:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func validateArtifact(index int, artifact string) error {
	if artifact != "binary" && artifact != "map" {
		return fmt.Errorf("assertions[%d]: artifact must be binary or map, got %q", index, artifact)
	}
	return nil
}

// rules compiles the scenario's canonicalization rules.
func (s *Scenario) rules() ([]detect.Rule, error) {
	out := make([]detect.Rule, 0, len(s.Canonicalize))
	for _, r := range s.Canonicalize {
		rule, err := detect.NewRule(r.Name, r.Pattern, r.Description)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}
