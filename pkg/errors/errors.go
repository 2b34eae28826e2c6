// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed error taxonomy shared by the task
// orchestration core. Errors carry a code used for errors.Is matching,
// a recoverable flag and free-form context for structured logging.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies miniagent errors for routing, monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an unexpected internal error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeValidation indicates skill arguments did not match the schema.
	CodeValidation ErrorCode = "VALIDATION_ERROR"

	// CodeUnknownSkill indicates a tool call named a skill that is not loaded.
	CodeUnknownSkill ErrorCode = "UNKNOWN_SKILL"

	// CodeUnknownTask indicates input was routed to a missing or finished task.
	CodeUnknownTask ErrorCode = "UNKNOWN_TASK"

	// CodeTaskBusy indicates a task is already running its turn loop.
	CodeTaskBusy ErrorCode = "TASK_BUSY"

	// CodeTimeout indicates an operation exceeded its time or step limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeContextOverflow indicates the history no longer fits the backend context.
	CodeContextOverflow ErrorCode = "CONTEXT_OVERFLOW"

	// CodeInfrastructure indicates the environment could not run a skill
	// (binary missing, temp dir unavailable, ...).
	CodeInfrastructure ErrorCode = "INFRASTRUCTURE_ERROR"

	// CodeDuplicateSkill indicates two skill documents declared the same name.
	CodeDuplicateSkill ErrorCode = "DUPLICATE_SKILL"

	// CodeMalformedSkill indicates a skill document is missing required fields.
	CodeMalformedSkill ErrorCode = "MALFORMED_SKILL"

	// CodeLLMError indicates the model backend failed.
	CodeLLMError ErrorCode = "LLM_ERROR"
)

// Sentinels for errors.Is matching. Any *Error with the same code matches.
var (
	ErrValidation      = &Error{Code: CodeValidation}
	ErrUnknownSkill    = &Error{Code: CodeUnknownSkill}
	ErrUnknownTask     = &Error{Code: CodeUnknownTask}
	ErrTaskBusy        = &Error{Code: CodeTaskBusy}
	ErrTimeout         = &Error{Code: CodeTimeout}
	ErrContextOverflow = &Error{Code: CodeContextOverflow}
	ErrInfrastructure  = &Error{Code: CodeInfrastructure}
	ErrDuplicateSkill  = &Error{Code: CodeDuplicateSkill}
	ErrMalformedSkill  = &Error{Code: CodeMalformedSkill}
	ErrLLM             = &Error{Code: CodeLLMError}
)

// Error is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" && e.Err == nil {
		return fmt.Sprintf("[%s]", e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Code        string         `json:"code"`
		Message     string         `json:"message"`
		Err         string         `json:"error,omitempty"`
		Context     map[string]any `json:"context,omitempty"`
		Recoverable bool           `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]any),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" for metric attributes.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// As returns the first *Error in err's chain, wrapping anything else as
// CodeInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return As(err).Code
}

// IsRecoverable reports whether err carries the recoverable flag.
func IsRecoverable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Recoverable
	}
	return false
}

// Validation builds a recoverable argument validation error.
func Validation(skill, msg string) *Error {
	return New(CodeValidation, msg, nil).
		WithContext("skill", skill).
		WithRecoverable(true)
}

// UnknownSkill builds a recoverable routing error for a missing skill.
func UnknownSkill(name string) *Error {
	return New(CodeUnknownSkill, fmt.Sprintf("skill %q is not registered", name), nil).
		WithContext("skill", name).
		WithRecoverable(true)
}

// UnknownTask builds a routing error for a missing or finished task.
func UnknownTask(id string) *Error {
	return New(CodeUnknownTask, fmt.Sprintf("task %q does not exist or has finished", id), nil).
		WithContext("task_id", id).
		WithRecoverable(true)
}

// TaskBusy builds a routing error for a task whose loop is in flight.
func TaskBusy(id string) *Error {
	return New(CodeTaskBusy, fmt.Sprintf("task %q is already running", id), nil).
		WithContext("task_id", id).
		WithRecoverable(true)
}

// ContextOverflow builds the error surfaced by a session whose history no
// longer fits the backend context window.
func ContextOverflow(tokens, limit int, cause error) *Error {
	return New(CodeContextOverflow, "conversation history exceeds the model context", cause).
		WithContext("estimated_tokens", tokens).
		WithContext("limit", limit)
}

// Infrastructure builds a fatal-to-task error for environment failures.
func Infrastructure(msg string, cause error) *Error {
	return New(CodeInfrastructure, msg, cause)
}

// DuplicateSkill builds a registry load error for a repeated skill name.
func DuplicateSkill(name, first, second string) *Error {
	return New(CodeDuplicateSkill, fmt.Sprintf("skill %q declared more than once", name), nil).
		WithContext("skill", name).
		WithContext("first", first).
		WithContext("second", second)
}

// MalformedSkill builds a registry load error for an invalid document.
func MalformedSkill(source, msg string) *Error {
	return New(CodeMalformedSkill, msg, nil).
		WithContext("source", source)
}

// LLM wraps a backend failure. Backend errors are retried by callers when
// recoverable.
func LLM(err error, model string) *Error {
	if err == nil {
		return nil
	}
	return New(CodeLLMError, "model backend call failed", err).
		WithContext("model", model).
		WithRecoverable(true)
}
