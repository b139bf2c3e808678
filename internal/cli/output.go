package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/roach88/ethos/internal/artifact"
	"github.com/roach88/ethos/internal/assembler"
	"github.com/roach88/ethos/internal/backend"
	"github.com/roach88/ethos/internal/codegen"
	"github.com/roach88/ethos/internal/convergence"
	"github.com/roach88/ethos/internal/extract"
	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/normalize"
	"github.com/roach88/ethos/internal/store"
	"github.com/roach88/ethos/internal/transport"
	"github.com/roach88/ethos/internal/validate"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Invalid IR, drifted client, divergent node
	ExitCommandError = 2 // Command error (bad config, missing artifact, unreachable node, etc.)
)

// Error codes, unified across all commands.
const (
	ErrCodeGeneric        = "E001" // Generic/unknown error
	ErrCodeConfig         = "E002" // Config or manifest rejected
	ErrCodeParse          = "E003" // Raw schema could not be read
	ErrCodeConflict       = "E004" // Fragments disagree
	ErrCodeNotFound       = "E005" // Path, artifact or run not found
	ErrCodeInvalidIR      = "E006" // Validation violations
	ErrCodeWriteFailed    = "E007" // File write error
	ErrCodeNotCovered     = "E008" // Version not covered by the IR
	ErrCodeUnknownImpl    = "E009" // Implementation not registered
	ErrCodeTimeout        = "E010" // Node did not answer in time
	ErrCodeTransport      = "E011" // Node unreachable
	ErrCodeRPC            = "E012" // Node returned a JSON-RPC error
	ErrCodeLocked         = "E013" // Artifact is being written by another process
	ErrCodeDrift          = "E014" // Generated client no longer matches
	ErrCodeDivergence     = "E015" // Node responses diverge from the IR
	ErrCodeIncompatible   = "E016" // Artifact schema major version differs
	ErrCodeRules          = "E017" // Normalization rules rejected
	ErrCodeUnknownMethod  = "E018" // Method not in the snapshot
	ErrCodeUnsupported    = "E019" // Codegen target not supported
	ErrCodeInvalidVersion = "E020" // Malformed version literal
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Classify maps a pipeline error to its error code and exit code.
// Violations, drift and divergence are failures of the input; everything
// else is a command error.
func Classify(err error) (code string, exit int) {
	var (
		ve *validate.ViolationError
		re *normalize.RuleError
	)
	switch {
	case errors.As(err, &ve):
		return ErrCodeInvalidIR, ExitFailure
	case assembler.IsConflict(err):
		return ErrCodeConflict, ExitFailure
	case backend.IsParseError(err):
		return ErrCodeParse, ExitCommandError
	case backend.IsUnknownImplementation(err):
		return ErrCodeUnknownImpl, ExitCommandError
	case extract.IsVersionNotCovered(err):
		return ErrCodeNotCovered, ExitCommandError
	case errors.Is(err, convergence.ErrUnknownMethod):
		return ErrCodeUnknownMethod, ExitCommandError
	case errors.Is(err, codegen.ErrUnsupportedTarget):
		return ErrCodeUnsupported, ExitCommandError
	case errors.Is(err, artifact.ErrLocked):
		return ErrCodeLocked, ExitCommandError
	case errors.Is(err, artifact.ErrIncompatibleSchema):
		return ErrCodeIncompatible, ExitCommandError
	case errors.Is(err, ir.ErrInvalidVersion):
		return ErrCodeInvalidVersion, ExitCommandError
	case errors.As(err, &re):
		return ErrCodeRules, ExitCommandError
	case transport.IsTimeout(err):
		return ErrCodeTimeout, ExitCommandError
	case transport.IsRPCError(err):
		return ErrCodeRPC, ExitFailure
	case isTransport(err):
		return ErrCodeTransport, ExitCommandError
	case errors.Is(err, store.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ErrCodeNotFound, ExitCommandError
	default:
		return ErrCodeGeneric, ExitCommandError
	}
}

func isTransport(err error) bool {
	var te *transport.TransportError
	return errors.As(err, &te)
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
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err through Error and returns it as an ExitError carrying
// the classified exit code.
func (f *OutputFormatter) Fail(message string, err error, details any) error {
	code, exit := Classify(err)
	if outErr := f.Error(code, fmt.Sprintf("%s: %v", message, err), details); outErr != nil {
		return outErr
	}
	return WrapExitError(exit, code+": "+message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
