package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/islandcheck/internal/detect"
)

// Snapshot renders the shape of a result: verdict, run counts, which
// runs share an output, and problems. Hashes are replaced by labels in
// order of appearance (#1, #2, ...), so a snapshot survives changes to the
// simulated artifacts' bytes as long as the grouping holds.
func Snapshot(name string, r *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	fmt.Fprintf(&b, "verdict: %s\n", r.Report.Verdict)
	fmt.Fprintf(&b, "runs: %d (ok %d, failed %d)\n", r.Report.Runs, r.Report.Succeeded, r.Report.Failed)
	fmt.Fprintf(&b, "link calls: %d\n", r.LinkCalls)
	snapshotGroups(&b, "binary", r.Report.Binary)
	snapshotGroups(&b, "map", r.Report.Map)

	b.WriteString("\nproblems:\n")
	if len(r.Problems) == 0 {
		b.WriteString("  none\n")
	}
	for _, p := range r.Problems {
		fmt.Fprintf(&b, "  %s: %s\n", p.Stage, p.Message)
	}
	return []byte(b.String())
}

func snapshotGroups(b *strings.Builder, label string, s detect.GroupSet) {
	fmt.Fprintf(b, "\n%s: %d unique\n", label, s.UniqueCount())
	n := 0
	for _, g := range s.Groups {
		tag := detect.Missing
		if g.Hash != detect.Missing {
			n++
			tag = "#" + strconv.Itoa(n)
		}
		runs := make([]string, len(g.Runs))
		for i, idx := range g.Runs {
			runs[i] = strconv.Itoa(idx)
		}
		fmt.Fprintf(b, "  %-7s runs %s\n", tag, strings.Join(runs, ","))
	}
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, Snapshot(scenario.Name, result))
	return result, nil
}

// GoldenPath returns the golden file of a scenario file: a golden/
// directory next to it, named after the file stem.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// UpdateGolden writes snapshot as the golden file of scenarioFile.
func UpdateGolden(scenarioFile string, snapshot []byte) error {
	path := GoldenPath(scenarioFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, snapshot, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether snapshot matches the golden file of
// scenarioFile. A missing golden file is reported with found=false.
func CompareGolden(scenarioFile string, snapshot []byte) (match, found bool, err error) {
	want, err := os.ReadFile(GoldenPath(scenarioFile))
	if os.IsNotExist(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to read golden file: %w", err)
	}
	return bytes.Equal(want, snapshot), true, nil
}
