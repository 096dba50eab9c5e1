// Package detect decides whether repeated links of the same inputs
// produced the same outputs.
//
// Binaries are compared byte for byte. Link maps are compared after
// canonicalization, which removes only lines a Rule names explicitly. Runs
// that failed are not dropped: they join a MISSING group, because a linker
// that only sometimes succeeds on identical inputs is itself
// nondeterministic.
package detect

import (
	"fmt"
	"sort"

	"github.com/roach88/islandcheck/internal/archive"
	"github.com/roach88/islandcheck/internal/digest"
	"github.com/roach88/islandcheck/internal/repeat"
)

// Missing stands in for the hash of an output a failed run never produced.
const Missing = "MISSING"

// Verdict summarizes a Report.
type Verdict string

const (
	VerdictDeterministic Verdict = "deterministic"
	VerdictDivergent     Verdict = "divergent"
	// VerdictNoOutput means every run failed. It has a single MISSING
	// group but is not a determinism success.
	VerdictNoOutput Verdict = "no-output"
)

// Hasher hashes run artifacts. It satisfies repeat.Hasher.
type Hasher struct {
	Canon *Canonicalizer
}

var _ repeat.Hasher = (*Hasher)(nil)

// NewHasher returns a Hasher using the default rules plus extra.
func NewHasher(extra ...Rule) (*Hasher, error) {
	c, err := NewCanonicalizer(extra...)
	if err != nil {
		return nil, err
	}
	return &Hasher{Canon: c}, nil
}

// HashBinary returns the SHA-256 of the binary as stored.
func (h *Hasher) HashBinary(path string) (string, error) {
	r, err := archive.Open(path)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return digest.Reader(r)
}

// HashMap returns the SHA-256 of the canonicalized map.
func (h *Hasher) HashMap(path string) (string, error) {
	data, err := archive.ReadFile(path)
	if err != nil {
		return "", err
	}
	return digest.Bytes(h.Canon.Canonicalize(data)), nil
}

// Group is the runs that produced one hash.
type Group struct {
	Hash string `json:"hash" yaml:"hash"`
	Runs []int  `json:"runs" yaml:"runs"`
}

// Count returns the number of member runs.
func (g Group) Count() int {
	return len(g.Runs)
}

// GroupSet is a grouping of runs by one artifact hash.
type GroupSet struct {
	Groups []Group `json:"groups" yaml:"groups"`
}

// UniqueCount returns the number of distinct hashes, MISSING included.
func (s GroupSet) UniqueCount() int {
	return len(s.Groups)
}

// Deterministic reports whether every run produced the same artifact.
func (s GroupSet) Deterministic() bool {
	return len(s.Groups) == 1 && s.Groups[0].Hash != Missing
}

// GroupBy groups runs by key. Failed runs are keyed as Missing. Groups
// are ordered by descending size, then by their first run index.
func GroupBy(runs []repeat.LinkRun, key func(repeat.LinkRun) string) GroupSet {
	index := make(map[string]int)
	var groups []Group
	for _, r := range runs {
		h := Missing
		if r.OK() {
			h = key(r)
		}
		i, ok := index[h]
		if !ok {
			i = len(groups)
			index[h] = i
			groups = append(groups, Group{Hash: h})
		}
		groups[i].Runs = append(groups[i].Runs, r.Index)
	}

	for i := range groups {
		sort.Ints(groups[i].Runs)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].Count() != groups[b].Count() {
			return groups[a].Count() > groups[b].Count()
		}
		return groups[a].Runs[0] < groups[b].Runs[0]
	})
	return GroupSet{Groups: groups}
}

// Report is the result of comparing one run collection.
type Report struct {
	Runs          int      `json:"runs" yaml:"runs"`
	Succeeded     int      `json:"succeeded" yaml:"succeeded"`
	Failed        int      `json:"failed" yaml:"failed"`
	Binary        GroupSet `json:"binary" yaml:"binary"`
	Map           GroupSet `json:"map" yaml:"map"`
	Deterministic bool     `json:"deterministic" yaml:"deterministic"`
	Verdict       Verdict  `json:"verdict" yaml:"verdict"`

	// Digest identifies the grouping so reports from different
	// experiments can be compared at a glance.
	Digest string `json:"digest" yaml:"digest"`
}

// Detect groups runs by their recorded hashes. It reads no files: hashes
// are recorded when each run finishes.
func Detect(runs []repeat.LinkRun) (*Report, error) {
	if len(runs) == 0 {
		return nil, fmt.Errorf("detect: no runs")
	}
	rep := &Report{
		Runs:   len(runs),
		Binary: GroupBy(runs, func(r repeat.LinkRun) string { return r.BinaryHash }),
		Map:    GroupBy(runs, func(r repeat.LinkRun) string { return r.MapHash }),
	}
	for _, r := range runs {
		if r.OK() {
			rep.Succeeded++
		}
	}
	rep.Failed = rep.Runs - rep.Succeeded
	rep.Deterministic = rep.Binary.Deterministic() && rep.Map.Deterministic()

	switch {
	case rep.Succeeded == 0:
		rep.Verdict = VerdictNoOutput
	case rep.Deterministic:
		rep.Verdict = VerdictDeterministic
	default:
		rep.Verdict = VerdictDivergent
	}

	d, err := digest.Canonical(digest.DomainReport, map[string]any{
		"binary":  groupsValue(rep.Binary),
		"map":     groupsValue(rep.Map),
		"verdict": string(rep.Verdict),
	})
	if err != nil {
		return nil, err
	}
	rep.Digest = d
	return rep, nil
}

func groupsValue(s GroupSet) []any {
	out := make([]any, len(s.Groups))
	for i, g := range s.Groups {
		out[i] = map[string]any{"hash": g.Hash, "runs": g.Runs}
	}
	return out
}

// Rehash returns copies of runs with hashes recomputed from the files on
// disk. Runs whose outputs can no longer be read become failed.
func Rehash(runs []repeat.LinkRun, h repeat.Hasher) []repeat.LinkRun {
	out := make([]repeat.LinkRun, len(runs))
	for i, r := range runs {
		out[i] = r
		out[i].BinaryHash, out[i].MapHash = "", ""
		if !r.OK() {
			continue
		}
		bin, err := h.HashBinary(r.BinaryPath)
		if err != nil {
			out[i].Status = repeat.StatusFailed
			out[i].Error = fmt.Sprintf("hash binary: %v", err)
			continue
		}
		m, err := h.HashMap(r.MapPath)
		if err != nil {
			out[i].Status = repeat.StatusFailed
			out[i].Error = fmt.Sprintf("hash map: %v", err)
			continue
		}
		out[i].BinaryHash, out[i].MapHash = bin, m
	}
	return out
}
