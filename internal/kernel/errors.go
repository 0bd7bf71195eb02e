package kernel

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes reconciliation failures.
type ErrorCode string

const (
	// ErrCodeConfig marks malformed or missing configuration, including
	// requests naming an (entity, source) pair outside the configured
	// universe. Fatal to the request.
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeStore marks a store failure that survived the bounded
	// retry of transient errors.
	ErrCodeStore ErrorCode = "STORE"

	// ErrCodeDocument marks malformed documents: invalid JSON,
	// unsupported arrays, non-UTF-8 text. Fatal to the offending
	// source's contribution, not to the round.
	ErrCodeDocument ErrorCode = "DOCUMENT"

	// ErrCodeMerge marks an invariant violation inside a merge policy.
	// Should be unreachable; surfaces as an internal bug.
	ErrCodeMerge ErrorCode = "MERGE"

	// ErrCodeInternal wraps unexpected host-level failures.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error is the uniform kernel error. Data-source failures never surface
// here: they mark the source absent for the round and are recorded in
// the trace instead.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the error code, defaulting to INTERNAL for errors
// that did not come from the kernel.
func CodeOf(err error) ErrorCode {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ErrCodeInternal
}

// IsConfig reports whether the error is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfig(err error) bool {
	return CodeOf(err) == ErrCodeConfig
}

func configError(message string, err error) *Error {
	return &Error{Code: ErrCodeConfig, Message: message, Err: err}
}

func storeError(message string, err error) *Error {
	return &Error{Code: ErrCodeStore, Message: message, Err: err}
}

func internalError(message string, err error) *Error {
	return &Error{Code: ErrCodeInternal, Message: message, Err: err}
}
