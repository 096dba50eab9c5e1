package experiment

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/link"
	"github.com/roach88/islandcheck/internal/repeat"
	"github.com/roach88/islandcheck/internal/toolchain"
)

// ManifestName is the manifest file written at the experiment root.
const ManifestName = "experiment.yaml"

// ManifestVersion is bumped on incompatible manifest changes.
const ManifestVersion = 1

// IDGenerator produces experiment IDs.
// Implemented by UUIDv7Generator (production) and testutil.FixedIDGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 experiment IDs, so
// ledger listings sort by creation time.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RuleRecord is a canonicalization rule as recorded in a manifest.
type RuleRecord struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description,omitempty"`
}

// Manifest records everything needed to re-derive a report later: the
// input order and hashes, every run's outputs, and the rules that were
// used to canonicalize maps.
type Manifest struct {
	Version     int                `yaml:"version"`
	ID          string             `yaml:"id"`
	CreatedAt   time.Time          `yaml:"created_at"`
	Strategy    toolchain.Strategy `yaml:"strategy"`
	OutputName  string             `yaml:"output_name"`
	Fingerprint string             `yaml:"fingerprint"`
	Archived    bool               `yaml:"archived"`
	Rules       []RuleRecord       `yaml:"rules"`
	Inputs      []link.InputRecord `yaml:"inputs"`
	Runs        []repeat.LinkRun   `yaml:"runs"`
	Report      *detect.Report     `yaml:"report,omitempty"`
}

// RuleRecords converts rules for recording.
func RuleRecords(rules []detect.Rule) []RuleRecord {
	out := make([]RuleRecord, len(rules))
	for i, r := range rules {
		out[i] = RuleRecord{Name: r.Name, Pattern: r.Pattern.String(), Description: r.Description}
	}
	return out
}

// CompileRules rebuilds the recorded rules. The built-in output-path rule
// is always present and is skipped here.
func (m *Manifest) CompileRules() ([]detect.Rule, error) {
	var rules []detect.Rule
	for _, rr := range m.Rules {
		if rr.Name == detect.OutputPathRule.Name {
			continue
		}
		r, err := detect.NewRule(rr.Name, rr.Pattern, rr.Description)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// WriteManifest writes m to dir/ManifestName via a temporary file.
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads dir/ManifestName, rejecting unknown fields.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &link.PreconditionError{Path: path, What: "experiment manifest", Err: err}
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var m Manifest
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("parse %s: unsupported manifest version %d", path, m.Version)
	}
	if len(m.Runs) == 0 {
		return nil, fmt.Errorf("parse %s: no runs recorded", path)
	}
	return &m, nil
}
