// Package link assembles the ordered input set of an experiment and runs
// single link invocations against it.
//
// # Ordering
//
// An InputSet is always logic units, then padding units, then exactly one
// entry unit. Within each kind the caller's order is kept verbatim; the
// entry unit is always last so that island placement stays comparable
// across runs.
//
// # Immutability
//
// An InputSet is the control variable of an experiment. It has no
// mutating methods, and Fingerprint hashes the content and order of every
// input so callers can prove it did not change between the first and the
// last run.
package link

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/islandcheck/internal/digest"
	"github.com/roach88/islandcheck/internal/workload"
)

// Caps limits how many units of each kind are linked. Zero or negative
// means no limit.
type Caps struct {
	MaxLogic   int `json:"max_logic,omitempty" yaml:"max_logic,omitempty"`
	MaxPadding int `json:"max_padding,omitempty" yaml:"max_padding,omitempty"`
}

// InputSet is the ordered list of objects handed to the linker.
type InputSet struct {
	units []workload.Unit
}

// InputRecord is one input with its content hash, as recorded in
// manifests.
type InputRecord struct {
	ID     string        `json:"id" yaml:"id"`
	Kind   workload.Kind `json:"kind" yaml:"kind"`
	Path   string        `json:"path" yaml:"path"`
	SHA256 string        `json:"sha256" yaml:"sha256"`
}

// Assemble builds an InputSet. Units that were not compiled are left out,
// caps keep the first N of each kind, and entry is appended last.
func Assemble(logic, padding []workload.Unit, entry workload.Unit, caps Caps) (*InputSet, error) {
	if entry.Kind != workload.KindEntry {
		return nil, fmt.Errorf("assemble: entry unit %q has kind %q", entry.ID, entry.Kind)
	}
	if !entry.Compiled || entry.ArtifactPath == "" {
		return nil, fmt.Errorf("assemble: entry unit %q is not compiled", entry.ID)
	}

	l, err := selectKind(logic, workload.KindLogic, caps.MaxLogic)
	if err != nil {
		return nil, err
	}
	p, err := selectKind(padding, workload.KindPadding, caps.MaxPadding)
	if err != nil {
		return nil, err
	}

	units := make([]workload.Unit, 0, len(l)+len(p)+1)
	units = append(units, l...)
	units = append(units, p...)
	units = append(units, entry)
	return &InputSet{units: units}, nil
}

func selectKind(units []workload.Unit, kind workload.Kind, limit int) ([]workload.Unit, error) {
	out := make([]workload.Unit, 0, len(units))
	for _, u := range units {
		if u.Kind != kind {
			return nil, fmt.Errorf("assemble: unit %q has kind %q, expected %q", u.ID, u.Kind, kind)
		}
		if !u.Compiled || u.ArtifactPath == "" {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, u)
	}
	return out, nil
}

// Units returns a copy of the ordered units.
func (s *InputSet) Units() []workload.Unit {
	return append([]workload.Unit(nil), s.units...)
}

// Paths returns the artifact paths in link order.
func (s *InputSet) Paths() []string {
	paths := make([]string, len(s.units))
	for i, u := range s.units {
		paths[i] = u.ArtifactPath
	}
	return paths
}

// Len returns the number of inputs, entry included.
func (s *InputSet) Len() int {
	return len(s.units)
}

// Count returns how many inputs are of kind.
func (s *InputSet) Count(kind workload.Kind) int {
	n := 0
	for _, u := range s.units {
		if u.Kind == kind {
			n++
		}
	}
	return n
}

// Records hashes every input file, in link order.
func (s *InputSet) Records() ([]InputRecord, error) {
	records := make([]InputRecord, len(s.units))
	for i, u := range s.units {
		f, err := os.Open(u.ArtifactPath)
		if err != nil {
			return nil, fmt.Errorf("hash input %s: %w", u.ID, err)
		}
		sum, err := digest.Reader(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("hash input %s: %w", u.ID, err)
		}
		records[i] = InputRecord{ID: u.ID, Kind: u.Kind, Path: u.ArtifactPath, SHA256: sum}
	}
	return records, nil
}

// Fingerprint identifies the input set by order, kind, file name and
// content. Directory locations are excluded so that copies of the same
// corpus fingerprint identically.
func (s *InputSet) Fingerprint() (string, error) {
	records, err := s.Records()
	if err != nil {
		return "", err
	}
	return FingerprintRecords(records)
}

// FingerprintRecords computes the fingerprint of already-hashed inputs.
func FingerprintRecords(records []InputRecord) (string, error) {
	list := make([]any, len(records))
	for i, r := range records {
		list[i] = map[string]any{
			"kind":   string(r.Kind),
			"name":   filepath.Base(r.Path),
			"sha256": r.SHA256,
		}
	}
	return digest.Canonical(digest.DomainInputSet, map[string]any{"inputs": list})
}
