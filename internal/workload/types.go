package workload

import "fmt"

// Kind classifies a unit's role in the link.
type Kind string

const (
	KindLogic   Kind = "logic"
	KindPadding Kind = "padding"
	KindEntry   Kind = "entry"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLogic, KindPadding, KindEntry:
		return Kind(s), nil
	}
	return "", fmt.Errorf("invalid unit kind %q: must be one of logic, padding, entry", s)
}

// SourceExt returns the source file extension used for units of this kind.
func (k Kind) SourceExt() string {
	if k == KindPadding {
		return ".s"
	}
	return ".c"
}

// Spec parameterizes a workload. It is fixed before generation starts and
// never modified afterwards.
type Spec struct {
	// UnitCount is the number of units generated per kind.
	UnitCount int `json:"unit_count" yaml:"unit_count"`

	// UnitSizeBytes is the reserved block size of each padding unit.
	UnitSizeBytes int64 `json:"unit_size_bytes" yaml:"unit_size_bytes"`

	// NamingTemplate overrides the file stem of generated units.
	// It accepts {{KIND}} and {{INDEX}} (zero padded). Empty means
	// "{{KIND}}_{{INDEX}}".
	NamingTemplate string `json:"naming_template,omitempty" yaml:"naming_template,omitempty"`

	// TargetTriple is passed to the compiler (e.g. arm64-apple-macos13).
	TargetTriple string `json:"target_triple,omitempty" yaml:"target_triple,omitempty"`

	// SDKPath is the platform SDK root passed to the compiler and driver.
	SDKPath string `json:"sdk_path,omitempty" yaml:"sdk_path,omitempty"`
}

// Validate checks the spec before any file is written.
func (s Spec) Validate() error {
	if s.UnitCount < 1 {
		return fmt.Errorf("unit count must be >= 1, got %d", s.UnitCount)
	}
	if s.UnitSizeBytes < 0 {
		return fmt.Errorf("unit size must be >= 0, got %d", s.UnitSizeBytes)
	}
	return nil
}

// Unit is one source unit and, once compiled, its object artifact.
//
// The generator creates units with Compiled=false. The build package returns
// a copy with ArtifactPath set and Compiled=true; nothing changes a unit
// after that.
type Unit struct {
	ID           string `json:"id" yaml:"id"`
	Kind         Kind   `json:"kind" yaml:"kind"`
	Index        int    `json:"index" yaml:"index"`
	SourcePath   string `json:"source_path,omitempty" yaml:"source_path,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty" yaml:"artifact_path,omitempty"`
	Compiled     bool   `json:"compiled" yaml:"compiled"`
}

// UnitFailure records a unit that could not be produced.
type UnitFailure struct {
	UnitID string `json:"unit_id"`
	Error  string `json:"error"`
}
