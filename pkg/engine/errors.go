package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an operation or run failure.
type ErrorClass string

const (
	// ErrorClassValidation indicates the operation was never attempted because
	// its command could not be resolved (missing parameters, bad definition).
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassExecution indicates the command or routine ran and failed.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassTimeout indicates the last attempt exceeded its timeout.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassAbort indicates a run stopped because a phase failed.
	ErrorClassAbort ErrorClass = "abort"
)

// EngineError is a classified failure carrying the operation that produced it.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	Class     ErrorClass `json:"class"`
	Message   string     `json:"message"`
	Operation string     `json:"operation,omitempty"`
	Kind      Kind       `json:"kind,omitempty"`
	Err       error      `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an EngineError of the same class.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewExecutionError creates a new execution error.
func NewExecutionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassExecution, Message: message, Err: err}
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTimeout, Message: message, Err: err}
}

// NewAbortError creates a new abort error.
func NewAbortError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassAbort, Message: message, Err: err}
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operationID string) *EngineError {
	e.Operation = operationID
	return e
}

// WithKind records which kind of operation failed.
func (e *EngineError) WithKind(kind Kind) *EngineError {
	e.Kind = kind
	return e
}

// hasClass walks every EngineError in the chain, so an abort wrapping a
// timeout reports both classes.
func hasClass(err error, class ErrorClass) bool {
	for err != nil {
		var e *EngineError
		if !errors.As(err, &e) {
			return false
		}
		if e.Class == class {
			return true
		}
		err = e.Err
	}
	return false
}

// IsValidation returns true if the error is classified as a validation failure.
func IsValidation(err error) bool { return hasClass(err, ErrorClassValidation) }

// IsExecution returns true if the error is classified as an execution failure.
func IsExecution(err error) bool { return hasClass(err, ErrorClassExecution) }

// IsTimeout returns true if the error is classified as a timeout.
func IsTimeout(err error) bool { return hasClass(err, ErrorClassTimeout) }

// IsAbort returns true if the error is classified as a run abort.
func IsAbort(err error) bool { return hasClass(err, ErrorClassAbort) }
