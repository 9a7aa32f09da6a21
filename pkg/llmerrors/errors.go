// Package llmerrors classifies failures returned by generation backends so retry and failover
// can decide what to do with them.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType is the category of a generator failure.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeRateLimited represents throttling by the provider (429, quota exceeded).
	ErrorTypeRateLimited ErrorType = iota
	// ErrorTypeTimeout represents a per-attempt deadline expiring before the provider answered.
	ErrorTypeTimeout
	// ErrorTypeProvider represents transient provider failures (5xx, EOF, connection reset).
	ErrorTypeProvider
	// ErrorTypeEmptyResponse represents a successful call that produced no text.
	ErrorTypeEmptyResponse

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents requests the provider will never accept (too long, policy).
	ErrorTypeBadPrompt

	// ErrorTypeUnavailable is emitted once retries and failover are exhausted.
	ErrorTypeUnavailable
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimited:
		return "rate_limited"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeProvider:
		return "provider_error"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnavailable:
		return "unavailable"
	default:
		return "invalid"
	}
}

// Error is a classified generator error.
type Error struct {
	Err        error     // Wrapped underlying error
	Message    string    // Human-readable error message
	Provider   string    // Provider that produced the error, if known
	Type       ErrorType // Classified error type
	StatusCode int       // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := "generator error"
	if e.Provider != "" {
		prefix = fmt.Sprintf("generator error [%s]", e.Provider)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s (%s): %s", prefix, e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", prefix, e.Type, e.Err)
	}
	return fmt.Sprintf("%s (%s): status %d", prefix, e.Type, e.StatusCode)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether another attempt could succeed.
// Everything is retryable unless explicitly listed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeUnavailable:
		return false
	default:
		return true
	}
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of err, or ErrorTypeProvider when unclassified.
func TypeOf(err error) ErrorType {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Type
	}
	return ErrorTypeProvider
}

// NewError creates a new classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithStatus creates a new classified error with HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewErrorWithCause creates a new classified error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{
		Type:    errorType,
		Err:     cause,
		Message: message,
	}
}

// IsUnavailable reports whether err means the generator gave up.
func IsUnavailable(err error) bool {
	return Is(err, ErrorTypeUnavailable)
}

// NewUnavailableError creates the terminal error emitted after retries are exhausted.
func NewUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("generator unavailable after %d attempts", attempts),
	}
}

// FromStatus maps an HTTP status code to an error type.
func FromStatus(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimited
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case statusCode >= 400 && statusCode < 500:
		return ErrorTypeBadPrompt
	default:
		return ErrorTypeProvider
	}
}

// Classify wraps an unclassified provider error. Already classified errors are returned as-is.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var genErr *Error
	if errors.As(err, &genErr) {
		if genErr.Provider == "" {
			genErr.Provider = provider
		}
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	errorType := ErrorTypeProvider
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		errorType = ErrorTypeTimeout
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"):
		errorType = ErrorTypeRateLimited
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"), strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"):
		errorType = ErrorTypeAuth
	}
	return &Error{
		Type:     errorType,
		Err:      err,
		Provider: provider,
		Message:  err.Error(),
	}
}
