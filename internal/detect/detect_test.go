package detect

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/islandcheck/internal/archive"
	"github.com/roach88/islandcheck/internal/repeat"
	"github.com/roach88/islandcheck/internal/testutil"
)

func okRun(index int, bin, m string) repeat.LinkRun {
	return repeat.LinkRun{Index: index, Status: repeat.StatusOK, BinaryHash: bin, MapHash: m}
}

func failedRun(index int) repeat.LinkRun {
	return repeat.LinkRun{Index: index, Status: repeat.StatusFailed, Error: "linker exited with code 1"}
}

func TestCanonicalize_DropsOutputPath(t *testing.T) {
	c, err := NewCanonicalizer()
	require.NoError(t, err)

	in := []byte("# Path: /tmp/run-000/islands\n# Arch: arm64\n0x1000\t_a.island\n")
	assert.Equal(t, "# Arch: arm64\n0x1000\t_a.island\n", string(c.Canonicalize(in)))
}

func TestCanonicalize_PathOnlyDifference(t *testing.T) {
	c, err := NewCanonicalizer()
	require.NoError(t, err)

	inputs := []string{"logic_0000.o", "padding_0000.o", "main.o"}
	a := testutil.RenderMap("/x/run-000/islands", inputs, 0)
	b := testutil.RenderMap("/x/run-001/islands", inputs, 0)
	require.NotEqual(t, a, b)
	assert.Equal(t, c.Canonicalize(a), c.Canonicalize(b))
}

func TestCanonicalize_KeepsOrderingDifferences(t *testing.T) {
	c, err := NewCanonicalizer()
	require.NoError(t, err)

	inputs := []string{"logic_0000.o", "logic_0001.o", "main.o"}
	a := testutil.RenderMap("/x/islands", inputs, 0)
	b := testutil.RenderMap("/x/islands", inputs, 1)
	assert.NotEqual(t, c.Canonicalize(a), c.Canonicalize(b))
}

func TestCanonicalize_Idempotent(t *testing.T) {
	extra, err := NewRule("timestamp", `^# Date:`, "link date")
	require.NoError(t, err)
	c, err := NewCanonicalizer(extra)
	require.NoError(t, err)

	in := []byte("# Path: /a\r\n# Date: today\nkeep\r\n# Path: again\nlast line without newline")
	once := c.Canonicalize(in)
	assert.Equal(t, "keep\r\nlast line without newline", string(once))
	assert.Equal(t, once, c.Canonicalize(once))
}

func TestCanonicalize_OnlyWholeLines(t *testing.T) {
	c, err := NewCanonicalizer()
	require.NoError(t, err)

	// The header text in the middle of a line is not a header.
	in := []byte("symbol # Path: not a header\n")
	assert.Equal(t, in, c.Canonicalize(in))
}

func TestNewCanonicalizer_Errors(t *testing.T) {
	_, err := NewRule("bad", `([`, "")
	assert.Error(t, err)

	_, err = NewRule("", `x`, "")
	assert.Error(t, err)

	dup, err := NewRule("output-path", `^x`, "")
	require.NoError(t, err)
	_, err = NewCanonicalizer(dup)
	assert.Error(t, err)

	_, err = NewCanonicalizer(Rule{Name: "nil-pattern"})
	assert.Error(t, err)
}

func TestCanonicalizer_Rules(t *testing.T) {
	extra, err := NewRule("uuid", `^# UUID:`, "LC_UUID")
	require.NoError(t, err)
	c, err := NewCanonicalizer(extra)
	require.NoError(t, err)

	rules := c.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "output-path", rules[0].Name)
	assert.Equal(t, "uuid", rules[1].Name)
}

func TestGroupBy_TwoAndOne(t *testing.T) {
	runs := []repeat.LinkRun{okRun(0, "A", "m"), okRun(1, "A", "m"), okRun(2, "B", "m")}
	set := GroupBy(runs, func(r repeat.LinkRun) string { return r.BinaryHash })

	assert.Equal(t, []Group{{Hash: "A", Runs: []int{0, 1}}, {Hash: "B", Runs: []int{2}}}, set.Groups)
	assert.Equal(t, 2, set.UniqueCount())
	assert.False(t, set.Deterministic())
}

func TestGroupBy_TieBreaksOnFirstRun(t *testing.T) {
	hashes := []string{"Y", "X", "X", "Y", "Z"}
	var runs []repeat.LinkRun
	for i, h := range hashes {
		runs = append(runs, okRun(i, h, h))
	}
	set := GroupBy(runs, func(r repeat.LinkRun) string { return r.MapHash })

	require.Len(t, set.Groups, 3)
	assert.Equal(t, "Y", set.Groups[0].Hash)
	assert.Equal(t, []int{0, 3}, set.Groups[0].Runs)
	assert.Equal(t, "X", set.Groups[1].Hash)
	assert.Equal(t, "Z", set.Groups[2].Hash)
}

func TestDetect_Deterministic(t *testing.T) {
	rep, err := Detect([]repeat.LinkRun{okRun(0, "b", "m"), okRun(1, "b", "m"), okRun(2, "b", "m")})
	require.NoError(t, err)

	assert.True(t, rep.Deterministic)
	assert.Equal(t, VerdictDeterministic, rep.Verdict)
	assert.Equal(t, 1, rep.Binary.UniqueCount())
	assert.Equal(t, 1, rep.Map.UniqueCount())
	assert.Equal(t, 3, rep.Succeeded)
	assert.NotEmpty(t, rep.Digest)
}

func TestDetect_AllFailed(t *testing.T) {
	rep, err := Detect([]repeat.LinkRun{failedRun(0), failedRun(1)})
	require.NoError(t, err)

	assert.Equal(t, []Group{{Hash: Missing, Runs: []int{0, 1}}}, rep.Binary.Groups)
	assert.Equal(t, []Group{{Hash: Missing, Runs: []int{0, 1}}}, rep.Map.Groups)
	assert.Equal(t, 1, rep.Binary.UniqueCount())
	assert.False(t, rep.Deterministic)
	assert.Equal(t, VerdictNoOutput, rep.Verdict)
}

func TestDetect_FlakyMapStableBinary(t *testing.T) {
	rep, err := Detect([]repeat.LinkRun{okRun(0, "b", "m1"), okRun(1, "b", "m2"), okRun(2, "b", "m1")})
	require.NoError(t, err)

	assert.True(t, rep.Binary.Deterministic())
	assert.False(t, rep.Map.Deterministic())
	assert.False(t, rep.Deterministic)
	assert.Equal(t, VerdictDivergent, rep.Verdict)
	assert.Equal(t, []int{0, 2}, rep.Map.Groups[0].Runs)
}

func TestDetect_PartialFailureDiverges(t *testing.T) {
	rep, err := Detect([]repeat.LinkRun{okRun(0, "b", "m"), failedRun(1), okRun(2, "b", "m")})
	require.NoError(t, err)

	assert.Equal(t, VerdictDivergent, rep.Verdict)
	assert.Equal(t, []Group{{Hash: "b", Runs: []int{0, 2}}, {Hash: Missing, Runs: []int{1}}}, rep.Binary.Groups)
	assert.Equal(t, 1, rep.Failed)
}

func TestDetect_NoRuns(t *testing.T) {
	_, err := Detect(nil)
	assert.Error(t, err)
}

func TestDetect_DigestTracksGrouping(t *testing.T) {
	a, err := Detect([]repeat.LinkRun{okRun(0, "b", "m"), okRun(1, "b", "m")})
	require.NoError(t, err)
	b, err := Detect([]repeat.LinkRun{okRun(0, "b", "m"), okRun(1, "b", "m")})
	require.NoError(t, err)
	c, err := Detect([]repeat.LinkRun{okRun(0, "b", "m"), okRun(1, "b", "m2")})
	require.NoError(t, err)

	assert.Equal(t, a.Digest, b.Digest)
	assert.NotEqual(t, a.Digest, c.Digest)
}

func TestHasher_ReadsArchivedArtifacts(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "islands")
	m := filepath.Join(dir, "islands.map")
	require.NoError(t, os.WriteFile(bin, []byte("\xcf\xfa\xed\xfebinary"), 0o755))
	require.NoError(t, os.WriteFile(m, testutil.RenderMap(bin, []string{"a.o", "main.o"}, 0), 0o644))

	h, err := NewHasher()
	require.NoError(t, err)
	binHash, err := h.HashBinary(bin)
	require.NoError(t, err)
	mapHash, err := h.HashMap(m)
	require.NoError(t, err)

	_, err = archive.Compress(bin)
	require.NoError(t, err)
	_, err = archive.Compress(m)
	require.NoError(t, err)

	got, err := h.HashBinary(bin)
	require.NoError(t, err)
	assert.Equal(t, binHash, got)
	got, err = h.HashMap(m)
	require.NoError(t, err)
	assert.Equal(t, mapHash, got)
}

func TestRehash(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "islands")
	m := filepath.Join(dir, "islands.map")
	require.NoError(t, os.WriteFile(bin, []byte("bin"), 0o755))
	require.NoError(t, os.WriteFile(m, []byte("# Path: x\nmap\n"), 0o644))

	h, err := NewHasher()
	require.NoError(t, err)
	runs := []repeat.LinkRun{
		{Index: 0, Status: repeat.StatusOK, BinaryPath: bin, MapPath: m, BinaryHash: "stale"},
		{Index: 1, Status: repeat.StatusOK, BinaryPath: filepath.Join(dir, "gone"), MapPath: m},
		failedRun(2),
	}

	out := Rehash(runs, h)
	require.Len(t, out, 3)
	assert.Equal(t, repeat.StatusOK, out[0].Status)
	assert.NotEqual(t, "stale", out[0].BinaryHash)
	assert.NotEmpty(t, out[0].MapHash)
	assert.Equal(t, repeat.StatusFailed, out[1].Status)
	assert.Equal(t, repeat.StatusFailed, out[2].Status)
	assert.Equal(t, "stale", runs[0].BinaryHash)
}

func TestWriteText_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	divergent := &Report{
		Runs: 3, Succeeded: 2, Failed: 1,
		Binary: GroupSet{Groups: []Group{
			{Hash: "aaaa", Runs: []int{0, 2}},
			{Hash: Missing, Runs: []int{1}},
		}},
		Map: GroupSet{Groups: []Group{
			{Hash: "bbbb", Runs: []int{0}},
			{Hash: Missing, Runs: []int{1}},
			{Hash: "cccc", Runs: []int{2}},
		}},
		Verdict: VerdictDivergent,
		Digest:  "0123abcd",
	}
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, divergent))
	g.Assert(t, "report_divergent", buf.Bytes())

	noOutput := &Report{
		Runs: 2, Failed: 2,
		Binary:  GroupSet{Groups: []Group{{Hash: Missing, Runs: []int{0, 1}}}},
		Map:     GroupSet{Groups: []Group{{Hash: Missing, Runs: []int{0, 1}}}},
		Verdict: VerdictNoOutput,
		Digest:  "4567ef",
	}
	buf.Reset()
	require.NoError(t, WriteText(&buf, noOutput))
	g.Assert(t, "report_no_output", buf.Bytes())
}

func TestReport_EncodesCounts(t *testing.T) {
	rep := &Report{
		Runs: 3, Succeeded: 3,
		Binary: GroupSet{Groups: []Group{{Hash: "aaaa", Runs: []int{0, 1, 2}}}},
		Map: GroupSet{Groups: []Group{
			{Hash: "bbbb", Runs: []int{0, 2}},
			{Hash: "cccc", Runs: []int{1}},
		}},
		Verdict: VerdictDivergent,
	}

	data, err := json.Marshal(rep)
	require.NoError(t, err)
	var raw struct {
		Map struct {
			UniqueCount int `json:"unique_count"`
			Groups      []struct {
				Count int `json:"count"`
			} `json:"groups"`
		} `json:"map"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 2, raw.Map.UniqueCount)
	require.Len(t, raw.Map.Groups, 2)
	assert.Equal(t, 2, raw.Map.Groups[0].Count)
	assert.Equal(t, 1, raw.Map.Groups[1].Count)

	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rep.Map, back.Map)

	out, err := yaml.Marshal(rep)
	require.NoError(t, err)
	assert.Contains(t, string(out), "unique_count: 2")
	assert.Contains(t, string(out), "count: 2")

	var fromYAML Report
	dec := yaml.NewDecoder(bytes.NewReader(out))
	dec.KnownFields(true)
	require.NoError(t, dec.Decode(&fromYAML))
	assert.Equal(t, rep.Binary, fromYAML.Binary)
	assert.Equal(t, rep.Map, fromYAML.Map)
}
