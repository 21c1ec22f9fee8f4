package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Validation or scenario failure
	ExitCommandError = 2 // Command error (missing files, bad configuration, etc.)
)

// Error codes carried in the JSON error envelope and the "Error [code]"
// text line. E1xx are document problems, E2xx bridge runtime problems and
// E3xx conformance failures.
const (
	ErrCodeGeneric        = "E001" // unreadable input
	ErrCodeDocument       = "E101" // document is not APL
	ErrCodeViewports      = "E102" // supportedViewports rejected by the schema
	ErrCodeScaling        = "E103" // no viewport fits the surface
	ErrCodeConfig         = "E201" // configuration rejected
	ErrCodeJournal        = "E202" // journal missing or unreadable
	ErrCodeListen         = "E203" // listen address unavailable
	ErrCodeScenarioFailed = "E301" // one or more scenarios failed
)

// ExitError is a command failure: the process exit code plus, when the
// failure has one, the error code reported to JSON consumers.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	ErrCode string // one of the ErrCode constants, or empty
	Message string
	Err     error
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

// NewExitError creates an ExitError with no error code.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// commandFailure is an ExitCommandError tagged with errCode.
func commandFailure(errCode, message string, err error) *ExitError {
	return &ExitError{Code: ExitCommandError, ErrCode: errCode, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not
// an ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or as a CLIResponse.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; defaults to Writer
	Verbose   bool
}

// newFormatter builds the formatter for a command's streams.
func newFormatter(root *RootOptions, out, errOut io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: root.Format, Writer: out, ErrWriter: errOut, Verbose: root.Verbose}
}

// CLIResponse is the JSON envelope for every command's output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error member of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

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

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail returns err after reporting it. In JSON mode a coded failure is
// written as an error envelope so scripted callers always get one JSON
// document; in text mode main prints the returned error.
func (f *OutputFormatter) Fail(err error) error {
	var exitErr *ExitError
	if f.Format != "json" || !errors.As(err, &exitErr) || exitErr.ErrCode == "" {
		return err
	}
	var details any
	if exitErr.Err != nil {
		details = exitErr.Err.Error()
	}
	_ = f.Error(exitErr.ErrCode, exitErr.Message, details)
	return err
}

// VerboseLog writes a diagnostic line when verbose mode is on. Lines go to
// ErrWriter when set so JSON output is not corrupted.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
