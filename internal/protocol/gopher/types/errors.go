package types

import "errors"

// GopherError is a terminal request failure.
//
// Every stage of the pipeline returns a GopherError (possibly wrapped) when
// the request cannot be served. The orchestrator renders exactly one error
// response from it; nothing downstream retries.
type GopherError struct {
	// Code is the error category
	Code ErrorCode

	// Detail is an operator-facing description for the log.
	// It is never sent to the client.
	Detail string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *GopherError) Error() string {
	msg := e.Code.Message()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *GopherError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a request failure.
type ErrorCode int

const (
	// ErrNotFound indicates no resolvable path, vhost or user matched.
	ErrNotFound ErrorCode = iota

	// ErrAccessDenied indicates a permission, ownership or traversal violation.
	ErrAccessDenied

	// ErrExecFailure indicates an external program could not be started.
	ErrExecFailure

	// ErrNoSelector indicates the client closed without sending a line.
	ErrNoSelector

	// ErrPrivilegeRefusal indicates the server was started as the superuser.
	ErrPrivilegeRefusal
)

// Message returns the client-facing text for the code.
func (c ErrorCode) Message() string {
	switch c {
	case ErrNotFound:
		return "File or directory not found!"
	case ErrAccessDenied:
		return "Access denied!"
	case ErrExecFailure:
		return "Couldn't execute file!"
	case ErrNoSelector:
		return "No selector!"
	case ErrPrivilegeRefusal:
		return "Refusing to run as root!"
	default:
		return "Unknown error!"
	}
}

// String returns a short name for logs and metrics labels.
func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not_found"
	case ErrAccessDenied:
		return "access_denied"
	case ErrExecFailure:
		return "exec_failure"
	case ErrNoSelector:
		return "no_selector"
	case ErrPrivilegeRefusal:
		return "privilege_refusal"
	default:
		return "unknown"
	}
}

// NewError builds a GopherError with an operator-facing detail.
func NewError(code ErrorCode, detail string) *GopherError {
	return &GopherError{Code: code, Detail: detail}
}

// WrapError builds a GopherError around an underlying cause.
func WrapError(code ErrorCode, detail string, err error) *GopherError {
	return &GopherError{Code: code, Detail: detail, Err: err}
}

// CodeOf extracts the error code from err.
// Errors that are not GopherErrors map to ErrNotFound, the same answer a
// client gets for any other unreadable resource.
func CodeOf(err error) ErrorCode {
	var gerr *GopherError
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return ErrNotFound
}

// IsCode reports whether err is a GopherError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var gerr *GopherError
	return errors.As(err, &gerr) && gerr.Code == code
}
