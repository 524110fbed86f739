// Package plannererr is the error taxonomy for the planner runtime: every
// code named in the spec's error-handling design is a typed sentinel here,
// and MCPTaskResult.ErrorCode is always set from one of these Code
// constants, never assembled by hand from a message string.
package plannererr

import (
	"errors"
	"fmt"
)

// Code is one taxonomy value, surfaced verbatim as MCPTaskResult.ErrorCode.
type Code string

const (
	CodeBudgetExhausted            Code = "budget_exhausted"
	CodeProtocolError               Code = "protocol_error"
	CodeLLMUnavailable               Code = "llm_unavailable"
	CodeDiscoveryFailed              Code = "discovery_failed"
	CodeUnknownTool                  Code = "planner_used_unknown_tool"
	CodeUnknownServer                Code = "planner_used_unknown_server"
	CodeUndiscoveredTool             Code = "planner_used_undiscovered_tool"
	CodeSandboxSyntaxError           Code = "sandbox_syntax_error"
	CodeSandboxInvalidBody           Code = "sandbox_invalid_body"
	CodeSandboxRuntimeError          Code = "sandbox_runtime_error"
	CodeSandboxTimeout               Code = "sandbox_timeout"
	CodeSandboxEmptyResult           Code = "sandbox_empty_result"
	CodePlannerFailed                Code = "planner_failed"
	CodeCancelled                    Code = "cancelled"
	CodeOverloaded                   Code = "overloaded"
	CodeInternalError                Code = "internal_error"
)

// Terminal reports whether an error carrying this code ends the run (true)
// or is recorded as a failed step while the loop continues (false), per the
// propagation policy in the error handling design.
func (c Code) Terminal() bool {
	switch c {
	case CodeBudgetExhausted, CodeDiscoveryFailed, CodeProtocolError,
		CodeLLMUnavailable, CodeCancelled, CodeOverloaded, CodeInternalError,
		CodePlannerFailed:
		return true
	default:
		return false
	}
}

// RunError is the structured error every component in this module returns
// instead of a bare string, so the orchestrator can always recover a Code
// via errors.As without string-matching a message.
type RunError struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Code, e.Cause)
	}
	return string(e.Code)
}

// Unwrap returns the underlying cause, if any.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// New builds a RunError with a message and no wrapped cause.
func New(code Code, message string) *RunError {
	return &RunError{Code: code, Message: message}
}

// Wrap builds a RunError around an existing error, keeping it reachable via
// errors.Is/errors.As through Unwrap.
func Wrap(code Code, cause error) *RunError {
	return &RunError{Code: code, Cause: cause}
}

// WithMessage sets a custom message, returning e for chaining.
func (e *RunError) WithMessage(msg string) *RunError {
	e.Message = msg
	return e
}

// As extracts a *RunError from err's chain, if present.
func As(err error) (*RunError, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// CodeOf returns the Code carried by err if it wraps a *RunError, and
// CodeInternalError otherwise — every path out of the orchestrator must
// report some code, so an un-tagged error is treated as an internal error
// rather than surfaced with no code at all.
func CodeOf(err error) Code {
	if re, ok := As(err); ok {
		return re.Code
	}
	return CodeInternalError
}
