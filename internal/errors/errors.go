package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a notally error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"      // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"            // 404
	ErrFileNotFound       ErrorCode = "FILE_NOT_FOUND"       // 404
	ErrLabelAlreadyExists ErrorCode = "LABEL_ALREADY_EXISTS" // 409
	ErrCorruptBackup      ErrorCode = "CORRUPT_BACKUP"       // 422
	ErrCancelled          ErrorCode = "CANCELLED"            // 499
	ErrInternal           ErrorCode = "INTERNAL"             // 500
)

// NotallyError represents a structured error with code, status, and details.
type NotallyError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *NotallyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *NotallyError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *NotallyError {
	return &NotallyError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a note or label cannot be found.
func NewNotFound(identifier string) *NotallyError {
	return &NotallyError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing import or legacy file.
func NewFileNotFound(path string) *NotallyError {
	return &NotallyError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewLabelAlreadyExists creates a 409 error for label collisions.
func NewLabelAlreadyExists(label string) *NotallyError {
	return &NotallyError{
		Code:    ErrLabelAlreadyExists,
		Status:  409,
		Message: fmt.Sprintf("label %q already exists", label),
		Details: map[string]any{"label": label},
	}
}

// NewCorruptBackup creates a 422 error for an unreadable backup stream.
// line is 1-based; 0 means the failure is not tied to a line.
func NewCorruptBackup(line int, msg string) *NotallyError {
	e := &NotallyError{
		Code:    ErrCorruptBackup,
		Status:  422,
		Message: msg,
	}
	if line > 0 {
		e.Message = fmt.Sprintf("line %d: %s", line, msg)
		e.Details = map[string]any{"line": line}
	}
	return e
}

// NewCancelled creates an error for an operation abandoned because its context ended.
func NewCancelled(op string) *NotallyError {
	return &NotallyError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original error is kept in Details for logging.
func NewInternal(err error) *NotallyError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &NotallyError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		cause:   err,
	}
}

// Is checks if an error is, or wraps, a NotallyError with the given code.
func Is(err error, code ErrorCode) bool {
	var nErr *NotallyError
	if stderrors.As(err, &nErr) {
		return nErr.Code == code
	}
	return false
}

// Wrap converts any error into a NotallyError, keeping existing ones intact.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var nErr *NotallyError
	if stderrors.As(err, &nErr) {
		return err
	}
	return NewInternal(err)
}
