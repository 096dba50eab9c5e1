package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/experiment"
	"github.com/roach88/islandcheck/internal/repeat"
	"github.com/roach88/islandcheck/internal/toolchain"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestManifest builds a manifest whose runs produced the given map
// hashes; an empty hash marks a failed run.
func createTestManifest(t *testing.T, id, fingerprint string, mapHashes ...string) *experiment.Manifest {
	t.Helper()
	m := &experiment.Manifest{
		Version:     experiment.ManifestVersion,
		ID:          id,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Strategy:    toolchain.StrategyDirect,
		OutputName:  "islands",
		Fingerprint: fingerprint,
	}
	for i, h := range mapHashes {
		run := repeat.LinkRun{
			Index:    i,
			Dir:      fmt.Sprintf("/exp/run-%03d", i),
			Status:   repeat.StatusFailed,
			Error:    "missing binary and map",
			Duration: 1500 * time.Millisecond,
		}
		if h != "" {
			run.Status = repeat.StatusOK
			run.Error = ""
			run.BinaryHash = "bin"
			run.MapHash = h
		}
		m.Runs = append(m.Runs, run)
	}
	rep, err := detect.Detect(m.Runs)
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}
	m.Report = rep
	return m
}
