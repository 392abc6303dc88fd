// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for Weft.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Weft errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// Definition errors: fatal at resolution time.

	// CodeUnresolvedReference indicates a component reference points at
	// no known definition.
	CodeUnresolvedReference ErrorCode = "UNRESOLVED_REFERENCE"

	// CodeCyclicReference indicates a use/extends chain revisits a component.
	CodeCyclicReference ErrorCode = "CYCLIC_REFERENCE"

	// CodeConflictingProperties indicates a definition sets properties
	// alongside a pure reference.
	CodeConflictingProperties ErrorCode = "CONFLICTING_PROPERTIES"

	// CodeMissingProperty indicates a required manifest property is absent.
	CodeMissingProperty ErrorCode = "MISSING_PROPERTY"

	// Binding errors: fatal to the single invocation that caused them.

	// CodeMissingVariable indicates a required input variable was not bound
	// and declares no default.
	CodeMissingVariable ErrorCode = "MISSING_VARIABLE"

	// CodeUnboundPlaceholder indicates a template placeholder has no
	// declared variable spec.
	CodeUnboundPlaceholder ErrorCode = "UNBOUND_PLACEHOLDER"

	// CodeSchemaViolation indicates a kernel response did not match the
	// declared output schema after the corrective retry.
	CodeSchemaViolation ErrorCode = "SCHEMA_VIOLATION"

	// CodeUnknownVariable indicates a bound name with no declared spec.
	CodeUnknownVariable ErrorCode = "UNKNOWN_VARIABLE"

	// Provider and transport errors.

	// CodeProviderUnavailable indicates the reasoning provider could not
	// be reached.
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"

	// CodeProviderTimeout indicates the provider call exceeded its deadline.
	CodeProviderTimeout ErrorCode = "PROVIDER_TIMEOUT"

	// CodeProviderRejected indicates the provider refused the request,
	// e.g. on content policy. Never retried.
	CodeProviderRejected ErrorCode = "PROVIDER_REJECTED"

	// CodeRemoteUnavailable indicates a remote agent channel failure.
	CodeRemoteUnavailable ErrorCode = "REMOTE_AGENT_UNAVAILABLE"

	// CodeRemoteTimeout indicates a remote agent round trip timed out.
	CodeRemoteTimeout ErrorCode = "REMOTE_AGENT_TIMEOUT"

	// Process-level errors: terminate the run with a typed result.

	// CodeSelectionOutOfRange indicates the selection strategy named an
	// agent outside the roster.
	CodeSelectionOutOfRange ErrorCode = "SELECTION_OUT_OF_RANGE"

	// CodeConvergenceExhausted indicates every fan-out invocation failed,
	// leaving synthesis with no inputs.
	CodeConvergenceExhausted ErrorCode = "CONVERGENCE_EXHAUSTED"

	// CodeCancelled indicates the run was cancelled before completion.
	CodeCancelled ErrorCode = "CANCELLED"

	// CodeToolFailure indicates a toolset invocation failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeMemoryError indicates a memory provider error.
	CodeMemoryError ErrorCode = "MEMORY_ERROR"

	// CodeUnauthorized indicates credential acquisition or validation failed.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
)

// WeftError is a typed error with structured context.
// It implements the error interface and can be unwrapped with errors.As().
type WeftError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *WeftError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *WeftError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *WeftError) MarshalJSON() ([]byte, error) {
	payload := map[string]interface{}{
		"code":        string(e.Code),
		"message":     e.Message,
		"recoverable": e.Recoverable,
	}
	if e.Err != nil {
		payload["error"] = e.Err.Error()
	}
	if len(e.Context) > 0 {
		payload["context"] = e.Context
	}
	return json.Marshal(payload)
}

// New creates a new WeftError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *WeftError {
	return &WeftError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Recoverable: recoverableByDefault(code),
	}
}

// Newf creates a new WeftError with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *WeftError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *WeftError) WithContext(key string, value interface{}) *WeftError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *WeftError) WithRecoverable(recoverable bool) *WeftError {
	e.Recoverable = recoverable
	return e
}

// AsWeftError attempts to convert an error to a WeftError.
// Returns the error as WeftError if it is one, or wraps it otherwise.
func AsWeftError(err error) *WeftError {
	if err == nil {
		return nil
	}
	if we, ok := err.(*WeftError); ok {
		return we
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the error code of err, or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if we, ok := err.(*WeftError); ok {
		return we.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// recoverableByDefault marks transport-class failures as retryable.
// Definition, binding, and policy-rejection errors are never transient.
func recoverableByDefault(code ErrorCode) bool {
	switch code {
	case CodeProviderUnavailable, CodeProviderTimeout, CodeRemoteUnavailable, CodeRemoteTimeout:
		return true
	}
	return false
}
