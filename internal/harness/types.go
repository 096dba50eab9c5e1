package harness

import (
	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/experiment"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors contains one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	// Report is the divergence report of the experiment.
	Report *detect.Report `json:"report"`

	// Problems are the non-fatal stage failures, in pipeline order.
	Problems []experiment.Problem `json:"problems,omitempty"`

	// LinkCalls counts simulated linker invocations.
	LinkCalls int `json:"link_calls"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
