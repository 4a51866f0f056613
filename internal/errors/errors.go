package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping the code of a wrapped AppError
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode attaches an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsAppError checks if an error is, or wraps, an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the outermost AppError code, otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// IsConfigError reports whether err must fail a run before any fitting happens
func IsConfigError(err error) bool {
	switch GetCode(err) {
	case CodeConfigInvalid, CodeUnsupportedReconciler, CodeAmbiguousHierarchy:
		return true
	}
	return false
}

// Predefined error codes
const (
	CodeConfigInvalid         = "CONFIG_INVALID"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeAmbiguousHierarchy    = "AMBIGUOUS_HIERARCHY"
	CodeUnsupportedReconciler = "UNSUPPORTED_RECONCILER"
	CodeNodeFitFailed         = "NODE_FIT_FAILED"
	CodeTotalFailure          = "TOTAL_FAILURE"
	CodeDatabaseError         = "DATABASE_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeInternalError         = "INTERNAL_ERROR"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func AmbiguousHierarchy(cause error) *AppError {
	return &AppError{
		Code:    CodeAmbiguousHierarchy,
		Message: "hierarchy paths are not unique",
		Cause:   cause,
	}
}

func UnsupportedReconciler(name string) *AppError {
	return New(CodeUnsupportedReconciler, fmt.Sprintf("unsupported reconciler %q", name))
}

func NodeFitFailed(node string, cause error) *AppError {
	return &AppError{
		Code:    CodeNodeFitFailed,
		Message: fmt.Sprintf("fit failed for node %s", node),
		Cause:   cause,
	}
}

func TotalFailure(cause error) *AppError {
	return &AppError{
		Code:    CodeTotalFailure,
		Message: "every node in the hierarchy failed to train",
		Cause:   cause,
	}
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}
