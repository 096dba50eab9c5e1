package detect

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteText renders r for humans. The output depends only on r, so it is
// stable across invocations.
func WriteText(w io.Writer, r *Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "verdict: %s\n", r.Verdict)
	fmt.Fprintf(&b, "runs: %d (ok %d, failed %d)\n", r.Runs, r.Succeeded, r.Failed)
	fmt.Fprintf(&b, "digest: %s\n", r.Digest)
	writeGroups(&b, "binary", r.Binary)
	writeGroups(&b, "map", r.Map)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeGroups(b *strings.Builder, label string, s GroupSet) {
	fmt.Fprintf(b, "\n%s: %d unique\n", label, s.UniqueCount())
	for _, g := range s.Groups {
		runs := make([]string, len(g.Runs))
		for i, idx := range g.Runs {
			runs[i] = strconv.Itoa(idx)
		}
		fmt.Fprintf(b, "  %3d  %s  runs %s\n", g.Count(), g.Hash, strings.Join(runs, ","))
	}
}
