package client

import (
	"errors"
	"fmt"

	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeOpen represents a failure to fetch, read or open a database
	ErrorTypeOpen
	// ErrorTypePrepare represents a failure to compile a statement
	ErrorTypePrepare
	// ErrorTypeStep represents a failure to advance or release a statement
	ErrorTypeStep
	// ErrorTypeExec represents a failure of a one-shot query
	ErrorTypeExec
	// ErrorTypeExport represents a failure to export a database
	ErrorTypeExport
	// ErrorTypeTransport represents a failure to deliver a message
	ErrorTypeTransport
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeOpen:
		return "open"
	case ErrorTypePrepare:
		return "prepare"
	case ErrorTypeStep:
		return "step"
	case ErrorTypeExec:
		return "exec"
	case ErrorTypeExport:
		return "export"
	case ErrorTypeTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error represents a structured error with type information
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsType checks if the error is of a specific type
func (e *Error) IsType(errorType ErrorType) bool {
	return e.Type == errorType
}

// NewError creates a new Error with the specified type and message
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error with the specified type, message, and underlying cause
func NewErrorWithCause(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewTransportError creates a transport-related error
func NewTransportError(message string, cause error) *Error {
	return NewErrorWithCause(ErrorTypeTransport, message, cause)
}

// errorTypeFor maps a request kind to the error type its failures carry.
func errorTypeFor(kind types.Kind) ErrorType {
	switch kind {
	case types.KindOpen:
		return ErrorTypeOpen
	case types.KindPrepare:
		return ErrorTypePrepare
	case types.KindStep, types.KindDelete:
		return ErrorTypeStep
	case types.KindExec:
		return ErrorTypeExec
	case types.KindBuffer:
		return ErrorTypeExport
	default:
		return ErrorTypeUnknown
	}
}

func isType(err error, errorType ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.IsType(errorType)
}

// IsOpenError checks if an error came from opening a database
func IsOpenError(err error) bool { return isType(err, ErrorTypeOpen) }

// IsPrepareError checks if an error came from preparing a statement
func IsPrepareError(err error) bool { return isType(err, ErrorTypePrepare) }

// IsStepError checks if an error came from stepping or deleting a statement
func IsStepError(err error) bool { return isType(err, ErrorTypeStep) }

// IsExecError checks if an error came from a one-shot query
func IsExecError(err error) bool { return isType(err, ErrorTypeExec) }

// IsExportError checks if an error came from exporting a database
func IsExportError(err error) bool { return isType(err, ErrorTypeExport) }

// IsTransportError checks if an error is transport-related
func IsTransportError(err error) bool { return isType(err, ErrorTypeTransport) }
