package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why an operation failed.
type ErrorKind string

const (
	// KindConfiguration covers malformed plans, unknown action types and
	// identifiers that cannot be derived from the configured paths.
	KindConfiguration ErrorKind = "configuration"
	// KindPrecondition covers missing images, device nodes or host tools.
	KindPrecondition ErrorKind = "precondition"
	// KindToolExecution covers child processes that exited abnormally or non-zero.
	KindToolExecution ErrorKind = "tool_execution"
	// KindVerification covers content that was read fine but is wrong.
	KindVerification ErrorKind = "verification"
)

// OperationError is the single terminal error of a failed operation.
type OperationError struct {
	Kind    ErrorKind
	Message string
	// Output holds captured tool output, if any.
	Output string
	Cause  error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += fmt.Sprintf(" (output: %s)", out)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// NewError creates an OperationError of the given kind.
func NewError(kind ErrorKind, format string, args ...interface{}) *OperationError {
	return &OperationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ConfigurationError creates an error of kind configuration.
func ConfigurationError(format string, args ...interface{}) *OperationError {
	return NewError(KindConfiguration, format, args...)
}

// PreconditionError creates an error of kind precondition.
func PreconditionError(format string, args ...interface{}) *OperationError {
	return NewError(KindPrecondition, format, args...)
}

// ToolError creates an error of kind tool_execution carrying the tool output.
func ToolError(output string, format string, args ...interface{}) *OperationError {
	e := NewError(KindToolExecution, format, args...)
	e.Output = output
	return e
}

// VerificationError creates an error of kind verification.
func VerificationError(format string, args ...interface{}) *OperationError {
	return NewError(KindVerification, format, args...)
}

// KindedError is implemented by errors of other packages that belong to
// one kind of the taxonomy.
type KindedError interface {
	error
	ErrorKind() ErrorKind
}

// KindOf reports the kind of err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	var kinded KindedError
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return KindConfiguration
	}
	return ""
}

// ParseError reports an identifier that could not be derived from a path.
type ParseError struct {
	What  string
	Input string
	Cause error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cannot parse %s from %q: %v", e.What, e.Input, e.Cause)
	}
	return fmt.Sprintf("cannot parse %s from %q", e.What, e.Input)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
