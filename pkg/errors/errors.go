// Package errors provides structured error handling for Trackflow.
// It implements errors with codes, context, and cause chains.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Storage errors (1xx)
	CodeMediumUnavailable Code = "E101"
	CodeWriteFailed       Code = "E102"
	CodeFileNotFound      Code = "E103"
	CodeCorruptRecord     Code = "E104"

	// Command errors (2xx)
	CodeUnknownCommand Code = "E201"
	CodeBadParameter   Code = "E202"

	// Uplink errors (3xx)
	CodeLinkTooWeak       Code = "E301"
	CodeModemSend         Code = "E302"
	CodeModemTimeout      Code = "E303"
	CodeIntegrityRejected Code = "E304"
	CodeRetriesExhausted  Code = "E305"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeJournal         Code = "E402"
	CodeHistory         Code = "E403"

	// Unknown
	CodeUnknown Code = "E999"
)

// TrackError is the base error type for all Trackflow errors.
type TrackError struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *TrackError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *TrackError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *TrackError) Is(target error) bool {
	if t, ok := target.(*TrackError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *TrackError) WithContext(key string, value interface{}) *TrackError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new TrackError.
func New(code Code, message string) *TrackError {
	return &TrackError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *TrackError {
	if err == nil {
		return nil
	}

	return &TrackError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *TrackError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(name string) *TrackError {
	return New(CodeFileNotFound, "file not found").WithContext("name", name)
}

// WriteFailed creates a storage write error.
func WriteFailed(name string, err error) *TrackError {
	return Wrap(err, CodeWriteFailed, "write failed").WithContext("name", name)
}

// BadParameter creates a command parameter error.
func BadParameter(command, reason string) *TrackError {
	return New(CodeBadParameter, "invalid parameter").
		WithContext("command", command).
		WithContext("reason", reason)
}

// LinkTooWeak creates a signal gate error.
func LinkTooWeak(quality, minimum int) *TrackError {
	return New(CodeLinkTooWeak, "signal quality below threshold").
		WithContext("quality", quality).
		WithContext("minimum", minimum)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *TrackError {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var terr *TrackError
	if errors.As(err, &terr) {
		return terr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var terr *TrackError
	if errors.As(err, &terr) {
		return terr.Code
	}
	return CodeUnknown
}

// IsRetryable returns true if the error may clear on a later attempt.
// Uplink failures are retryable because pending data stays queued; a
// missing file will not reappear on its own.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeLinkTooWeak, CodeModemSend, CodeModemTimeout, CodeRetriesExhausted:
		return true
	default:
		return false
	}
}

// IsStorage returns true for errors originating in the storage medium.
func IsStorage(err error) bool {
	switch GetCode(err) {
	case CodeMediumUnavailable, CodeWriteFailed, CodeFileNotFound, CodeCorruptRecord:
		return true
	default:
		return false
	}
}
