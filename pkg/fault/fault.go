// Package fault provides the error taxonomy shared by every layer of the
// freight core. This is a leaf package with no internal dependencies,
// designed to be imported by the transfer service, object stores, the RPC
// front, and the gateway without causing circular imports.
//
// Import graph: fault <- objstore <- transfer <- adapters
//
// Transport fronts map Code values onto their own wire representation (RPC
// status codes, WebSocket error frames). The taxonomy is deliberately small:
// a client only needs to know whether to fix its request, retry, or give up.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies an error for transport mapping and retry decisions.
type Code int

const (
	// CodeNotFound indicates the artifact, session, or operation does not exist.
	CodeNotFound Code = iota + 1

	// CodeInvalid indicates a malformed or out-of-contract request, such as
	// an out-of-order chunk sequence or a negative download offset.
	CodeInvalid

	// CodeConflict indicates the request is valid but clashes with current
	// state: committing an aborted session, overwriting without replace.
	CodeConflict

	// CodePermissionDenied indicates the caller is not allowed to perform
	// the operation on the target coordinate.
	CodePermissionDenied

	// CodeResourceExhausted indicates a configured limit was hit: session
	// count, in-flight bytes, per-chunk size.
	CodeResourceExhausted

	// CodeUnavailable indicates a transient backend failure. Retrying the
	// same request later may succeed.
	CodeUnavailable

	// CodeIntegrity indicates stored or received bytes do not match the
	// digest the caller declared.
	CodeIntegrity

	// CodeCancelled indicates the caller cancelled the operation before it
	// completed.
	CodeCancelled

	// CodeUnknown indicates an unclassified internal failure.
	CodeUnknown
)

// String returns a human-readable name for the code.
func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "NotFound"
	case CodeInvalid:
		return "Invalid"
	case CodeConflict:
		return "Conflict"
	case CodePermissionDenied:
		return "PermissionDenied"
	case CodeResourceExhausted:
		return "ResourceExhausted"
	case CodeUnavailable:
		return "Unavailable"
	case CodeIntegrity:
		return "Integrity"
	case CodeCancelled:
		return "Cancelled"
	case CodeUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}

// Retryable reports whether a request failing with this code may succeed if
// retried unchanged. Only transient backend failures qualify.
func (c Code) Retryable() bool {
	return c == CodeUnavailable
}

// Error is a classified error with an optional reference to the entity it
// concerns (an object key, session ID, or operation ID) and an optional
// wrapped cause for diagnostics.
type Error struct {
	Code    Code
	Message string
	Ref     string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s: %s (ref: %s)", e.Code, e.Message, e.Ref)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, enabling errors.Is() and errors.As()
// to match through Error wrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// ============================================================================
// Factory Functions
// ============================================================================

// NewNotFound creates a NotFound error for the named resource kind.
func NewNotFound(ref, resource string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Ref:     ref,
	}
}

// NewInvalid creates an Invalid error with the given message.
func NewInvalid(message string) *Error {
	return &Error{
		Code:    CodeInvalid,
		Message: message,
	}
}

// NewInvalidf creates an Invalid error with a formatted message.
func NewInvalidf(format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvalid,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewConflict creates a Conflict error.
func NewConflict(ref, message string) *Error {
	return &Error{
		Code:    CodeConflict,
		Message: message,
		Ref:     ref,
	}
}

// NewPermissionDenied creates a PermissionDenied error.
func NewPermissionDenied(ref string) *Error {
	return &Error{
		Code:    CodePermissionDenied,
		Message: "permission denied",
		Ref:     ref,
	}
}

// NewResourceExhausted creates a ResourceExhausted error naming the limit.
func NewResourceExhausted(message string) *Error {
	return &Error{
		Code:    CodeResourceExhausted,
		Message: message,
	}
}

// NewUnavailable creates an Unavailable error wrapping the transient cause.
func NewUnavailable(message string, cause error) *Error {
	return &Error{
		Code:    CodeUnavailable,
		Message: message,
		Err:     cause,
	}
}

// NewIntegrity creates an Integrity error reporting the digest mismatch.
func NewIntegrity(ref, expected, actual string) *Error {
	return &Error{
		Code:    CodeIntegrity,
		Message: fmt.Sprintf("digest mismatch: expected %s, got %s", expected, actual),
		Ref:     ref,
	}
}

// NewCancelled creates a Cancelled error.
func NewCancelled(message string) *Error {
	return &Error{
		Code:    CodeCancelled,
		Message: message,
	}
}

// NewUnknown creates an Unknown error wrapping an unclassified cause.
func NewUnknown(message string, cause error) *Error {
	return &Error{
		Code:    CodeUnknown,
		Message: message,
		Err:     cause,
	}
}

// Wrap attaches a code and message to an underlying error. The cause stays
// reachable through Unwrap.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// ============================================================================
// Classification Helpers
// ============================================================================

// CodeOf extracts the taxonomy code from any error. Context cancellation and
// deadline expiry classify as Cancelled; everything unclassified is Unknown.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancelled
	}

	return CodeUnknown
}

// IsNotFound returns true if the error classifies as NotFound.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsInvalid returns true if the error classifies as Invalid.
func IsInvalid(err error) bool {
	return CodeOf(err) == CodeInvalid
}

// IsConflict returns true if the error classifies as Conflict.
func IsConflict(err error) bool {
	return CodeOf(err) == CodeConflict
}

// IsPermissionDenied returns true if the error classifies as PermissionDenied.
func IsPermissionDenied(err error) bool {
	return CodeOf(err) == CodePermissionDenied
}

// IsResourceExhausted returns true if the error classifies as ResourceExhausted.
func IsResourceExhausted(err error) bool {
	return CodeOf(err) == CodeResourceExhausted
}

// IsUnavailable returns true if the error classifies as Unavailable.
func IsUnavailable(err error) bool {
	return CodeOf(err) == CodeUnavailable
}

// IsIntegrity returns true if the error classifies as Integrity.
func IsIntegrity(err error) bool {
	return CodeOf(err) == CodeIntegrity
}

// IsCancelled returns true if the error classifies as Cancelled.
func IsCancelled(err error) bool {
	return CodeOf(err) == CodeCancelled
}
