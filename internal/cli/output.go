package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/islandcheck/internal/experiment"
	"github.com/roach88/islandcheck/internal/link"
	"github.com/roach88/islandcheck/internal/repeat"
	"github.com/roach88/islandcheck/internal/workload"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // All stages succeeded and determinism held
	ExitFailure      = 1 // Generation, compile or link failure, or detected divergence
	ExitCommandError = 2 // Command error (bad flags, missing inputs, invalid config)
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric      = "E_GENERIC"
	ErrCodeConfig       = "E_CONFIG"
	ErrCodePrecondition = "E_PRECONDITION"
	ErrCodeGenerate     = "E_GENERATE"
	ErrCodeCompile      = "E_COMPILE"
	ErrCodeLink         = "E_LINK"
	ErrCodeInputs       = "E_INPUTS_MUTATED"
	ErrCodeDivergence   = "E_DIVERGENCE"
	ErrCodeLedger       = "E_LEDGER"
	ErrCodeNotFound     = "E_NOT_FOUND"
	ErrCodeScenario     = "E_SCENARIO"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set when the error was already written to the output.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Commands classify their own failures, so an error that is not an
// ExitError comes from cobra itself (unknown flag, missing argument) and
// maps to ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E_DIVERGENCE", "E_PRECONDITION", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Fail reports an error and returns it as an ExitError.
func (f *OutputFormatter) Fail(exit int, code, message string, err error) error {
	msg := message
	if err != nil {
		msg = fmt.Sprintf("%s: %v", message, err)
	}
	if werr := f.Error(code, msg, nil); werr != nil {
		return werr
	}
	e := WrapExitError(exit, message, err)
	e.Reported = true
	return e
}

// FailStage reports an error returned by a pipeline stage that could not
// run, choosing the exit and error codes from the error's kind.
func (f *OutputFormatter) FailStage(message string, err error) error {
	switch {
	case link.IsPrecondition(err), errors.Is(err, repeat.ErrRunDirInUse):
		return f.Fail(ExitCommandError, ErrCodePrecondition, message, err)
	case errors.Is(err, workload.ErrTemplateUnreadable):
		return f.Fail(ExitFailure, ErrCodeGenerate, message, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return f.Fail(ExitFailure, ErrCodeGeneric, "interrupted", err)
	default:
		return f.Fail(ExitFailure, ErrCodeGeneric, message, err)
	}
}

// stageCode maps a pipeline stage to its error code.
func stageCode(s experiment.Stage) string {
	switch s {
	case experiment.StageGenerate:
		return ErrCodeGenerate
	case experiment.StageCompile:
		return ErrCodeCompile
	case experiment.StageLink:
		return ErrCodeLink
	case experiment.StageInputs:
		return ErrCodeInputs
	case experiment.StageDetect:
		return ErrCodeDivergence
	}
	return ErrCodeGeneric
}

// Outcome reports the result of a pipeline command. In text mode, text
// renders data and the problems follow it. The returned error is non-nil
// exactly when the outcome has problems.
func (f *OutputFormatter) Outcome(o *experiment.Outcome, data any, text func(w io.Writer) error) error {
	problems := o.Problems()

	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: data}
		if len(problems) > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    stageCode(problems[0].Stage),
				Message: problems[0].Message,
				Details: problems,
			}
		}
		if err := f.encode(resp); err != nil {
			return err
		}
	} else {
		if err := text(f.Writer); err != nil {
			return err
		}
		if len(problems) > 0 {
			fmt.Fprintln(f.Writer)
		}
		for _, p := range problems {
			fmt.Fprintf(f.Writer, "✗ %s: %s\n", p.Stage, p.Message)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	e := WrapExitError(ExitFailure, problems[0].Message, o.Err())
	e.Reported = true
	return e
}
