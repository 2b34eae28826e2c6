// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/puppylab/miniagent/pkg/errors"
)

// cliError carries a hint printed under the error message.
type cliError struct {
	err  error
	hint string
}

func (e *cliError) Error() string {
	if e.hint == "" {
		return e.err.Error()
	}
	return e.err.Error() + "\n  Hint: " + e.hint
}

func (e *cliError) Unwrap() error {
	return e.err
}

func newConfigError(err error, path string) *cliError {
	hint := "check the MINIAGENT_* environment and --set values"
	if path != "" {
		hint = fmt.Sprintf("check %s and its profile file for syntax errors", path)
	}
	return &cliError{err: err, hint: hint}
}

// hintFor suggests a next step for the typed errors a user can act on.
func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeUnknownTask:
		return "run /list to see the live tasks"
	case errors.CodeTaskBusy:
		return "wait for the task to answer or /cancel it"
	case errors.CodeContextOverflow:
		return "start a new task with /new or set task.window_messages"
	case errors.CodeLLMError:
		return "check llm.provider, llm.base_url and that the model backend is running"
	case errors.CodeDuplicateSkill, errors.CodeMalformedSkill:
		return "fix the SKILL.md document named above"
	case errors.CodeTimeout:
		return "raise task.max_steps or rephrase the request"
	default:
		return ""
	}
}

// codeLabel returns a readable name for an error code.
func codeLabel(code errors.ErrorCode) string {
	switch code {
	case errors.CodeValidation:
		return "Invalid Arguments"
	case errors.CodeUnknownSkill:
		return "Unknown Skill"
	case errors.CodeUnknownTask:
		return "Unknown Task"
	case errors.CodeTaskBusy:
		return "Task Busy"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeContextOverflow:
		return "Context Overflow"
	case errors.CodeInfrastructure:
		return "Infrastructure Error"
	case errors.CodeDuplicateSkill:
		return "Duplicate Skill"
	case errors.CodeMalformedSkill:
		return "Malformed Skill"
	case errors.CodeLLMError:
		return "LLM Error"
	case errors.CodeInternal:
		return "Internal Error"
	default:
		return string(code)
	}
}

// printError writes err with its code label and hint.
func printError(w io.Writer, err error) {
	if err == nil {
		return
	}
	hint := ""
	var ce *cliError
	if stderrors.As(err, &ce) {
		hint = ce.hint
		err = ce.err
	}

	var e *errors.Error
	if !stderrors.As(err, &e) {
		fmt.Fprintf(w, "Error: %s\n", err)
	} else {
		msg := e.Message
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		fmt.Fprintf(w, "Error [%s]: %s\n", codeLabel(e.Code), msg)
		if hint == "" {
			hint = hintFor(e.Code)
		}
	}
	if hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", hint)
	}
}
