// Package orcherrors defines the stable, machine-readable error taxonomy returned by the orchestrator.
package orcherrors

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable machine-readable error code.
type Code string

const (
	CodeInvalidTransition    Code = "InvalidTransition"
	CodePrerequisiteNotMet   Code = "PrerequisiteNotMet"
	CodeUnknownPhase         Code = "UnknownPhase"
	CodeNoAgentBound         Code = "NoAgentBound"
	CodeGeneratorUnavailable Code = "GeneratorUnavailable"
	CodeValidationFailed     Code = "ValidationFailed"
	CodeUnknownReference     Code = "UnknownReference"
	CodeDeprecatedID         Code = "DeprecatedID"
	CodeProjectNotFound      Code = "ProjectNotFound"
	CodeNotFound             Code = "NotFound"
	CodeInvalidRequest       Code = "InvalidRequest"
	CodeCancelled            Code = "Cancelled"
	CodeInternal             Code = "Internal"

	// CodeDataIntegrityWarning is never returned as an error; it tags Warning values.
	CodeDataIntegrityWarning Code = "DataIntegrityWarning"
)

// Error is a fatal-to-the-request orchestrator error.
type Error struct {
	Err     error    // Wrapped underlying error
	Code    Code     // Stable code
	Message string   // Human-readable description
	Hint    string   // Remediation hint shown to the user
	Missing []string // Missing sections for ValidationFailed
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " (missing: %s)", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Warning is a non-fatal condition reported in response metadata.
type Warning struct {
	Code    Code     `json:"code"`
	Message string   `json:"message"`
	IDs     []string `json:"ids,omitempty"`
}

// New creates an error with a default hint for the code.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Hint:    defaultHint(code),
	}
}

// Wrap creates an error of the given code wrapping cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Err:     cause,
		Message: fmt.Sprintf(format, args...),
		Hint:    defaultHint(code),
	}
}

// WithHint returns a copy of e with hint replaced.
func (e *Error) WithHint(hint string) *Error {
	cp := *e
	cp.Hint = hint
	return &cp
}

// ValidationFailed builds the error returned when a draft misses required sections.
func ValidationFailed(filename string, missing []string) *Error {
	return &Error{
		Code:    CodeValidationFailed,
		Message: fmt.Sprintf("draft for %s is missing required sections", filename),
		Hint:    fmt.Sprintf("provide content for: %s", strings.Join(missing, ", ")),
		Missing: append([]string(nil), missing...),
	}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}

// CodeOf returns the code of err, or CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return CodeInternal
}

// As extracts the orchestrator error from err.
func As(err error) (*Error, bool) {
	var oe *Error
	ok := errors.As(err, &oe)
	return oe, ok
}

func defaultHint(code Code) string {
	switch code {
	case CodeInvalidTransition:
		return "advance only to the next phase or along an allowed regression edge"
	case CodePrerequisiteNotMet:
		return "complete and approve the current phase's required artifact before advancing"
	case CodeUnknownPhase:
		return "use one of the defined lifecycle phases"
	case CodeNoAgentBound:
		return "register an agent for this phase or advance to a phase that has one"
	case CodeGeneratorUnavailable:
		return "the generation backend is unavailable; retry later or configure a secondary provider"
	case CodeValidationFailed:
		return "supply the missing sections and resubmit"
	case CodeUnknownReference:
		return "create the referenced requirement before linking to it"
	case CodeDeprecatedID:
		return "deprecated requirement IDs cannot be reused; allocate a new ID"
	case CodeProjectNotFound:
		return "check the project id or create the project first"
	case CodeNotFound:
		return "check the identifier and try again"
	case CodeInvalidRequest:
		return "fix the request body and retry"
	case CodeCancelled:
		return "the request was cancelled before it completed; retry with the same request id"
	default:
		return "retry the request; contact an operator if it keeps failing"
	}
}
