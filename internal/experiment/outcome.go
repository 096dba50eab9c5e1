package experiment

import (
	"errors"
	"fmt"

	"github.com/roach88/islandcheck/internal/build"
	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/repeat"
	"github.com/roach88/islandcheck/internal/workload"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageGenerate Stage = "generate"
	StageCompile  Stage = "compile"
	StageLink     Stage = "link"
	StageInputs   Stage = "inputs"
	StageDetect   Stage = "detect"
)

// Problem is one non-fatal failure recorded by a stage.
type Problem struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// Outcome collects the result of every stage that ran. Stages never
// decide the exit status themselves; Problems is the only verdict.
type Outcome struct {
	Generation []*workload.Result    `json:"generation,omitempty"`
	Compile    *build.Result         `json:"compile,omitempty"`
	Collection *repeat.RunCollection `json:"-"`
	Report     *detect.Report        `json:"report,omitempty"`
	Manifest   *Manifest             `json:"-"`
	ManifestAt string                `json:"manifest,omitempty"`
	Mutation   error                 `json:"-"`
}

// Problems lists what went wrong, in pipeline order.
func (o *Outcome) Problems() []Problem {
	var out []Problem
	for _, g := range o.Generation {
		if g.Failed > 0 {
			out = append(out, Problem{Stage: StageGenerate, Message: fmt.Sprintf("%d of %d %s units failed to generate", g.Failed, g.Failed+g.Succeeded, g.Kind)})
		}
	}
	if o.Compile != nil && o.Compile.Failed > 0 {
		out = append(out, Problem{Stage: StageCompile, Message: fmt.Sprintf("%d of %d units failed to compile", o.Compile.Failed, o.Compile.Failed+o.Compile.Succeeded)})
	}
	if o.Collection != nil && o.Collection.Failed() > 0 {
		out = append(out, Problem{Stage: StageLink, Message: fmt.Sprintf("%d of %d runs failed to link", o.Collection.Failed(), len(o.Collection.Runs))})
	}
	if o.Mutation != nil {
		out = append(out, Problem{Stage: StageInputs, Message: o.Mutation.Error()})
	}
	if o.Report != nil && o.Report.Verdict != detect.VerdictDeterministic {
		out = append(out, Problem{Stage: StageDetect, Message: fmt.Sprintf("%s: %d binary and %d map variants across %d runs",
			o.Report.Verdict, o.Report.Binary.UniqueCount(), o.Report.Map.UniqueCount(), o.Report.Runs)})
	}
	return out
}

// OK reports whether every stage that ran succeeded and, if a report was
// produced, determinism held.
func (o *Outcome) OK() bool {
	return len(o.Problems()) == 0
}

// Err returns the problems as one error, or nil.
func (o *Outcome) Err() error {
	var errs []error
	for _, p := range o.Problems() {
		errs = append(errs, fmt.Errorf("%s: %s", p.Stage, p.Message))
	}
	return errors.Join(errs...)
}
