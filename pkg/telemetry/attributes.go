// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute names shared by spans and metrics.
const (
	AttrTaskID         = "miniagent.task.id"
	AttrTaskName       = "miniagent.task.name"
	AttrTaskState      = "miniagent.task.state"
	AttrTaskStep       = "miniagent.task.step"
	AttrTransitionFrom = "miniagent.transition.from"
	AttrTransitionTo   = "miniagent.transition.to"

	AttrSessionID    = "miniagent.session.id"
	AttrMessageCount = "miniagent.session.message_count"
	AttrReplyKind    = "miniagent.session.reply_kind"

	AttrSkillName     = "miniagent.skill.name"
	AttrSkillOutcome  = "miniagent.skill.outcome"
	AttrSkillExitCode = "miniagent.skill.exit_code"
	AttrToolCallID    = "miniagent.tool.call_id"

	AttrErrorCode   = "error.code"
	AttrComponent   = "component"
	AttrRecoverable = "recoverable"

	// gen_ai conventions
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMToolCalls    = "gen_ai.tool_calls"
)

// TaskAttributes returns attributes for task spans.
func TaskAttributes(taskID, name, state string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrTaskID, taskID)}
	if name != "" {
		if len(name) > 200 {
			name = name[:200] + "..."
		}
		attrs = append(attrs, attribute.String(AttrTaskName, name))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(AttrTaskState, state))
	}
	return attrs
}

// SkillAttributes returns attributes for an invocation span.
func SkillAttributes(skill, callID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrSkillName, skill)}
	if callID != "" {
		attrs = append(attrs, attribute.String(AttrToolCallID, callID))
	}
	return attrs
}

// LLMAttributes returns attributes for a backend call span.
func LLMAttributes(sessionID, model string, msgCount, toolCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
		attribute.Int(AttrMessageCount, msgCount),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if toolCount > 0 {
		attrs = append(attrs, attribute.Int("miniagent.tools.count", toolCount))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes. Zero counts are omitted.
func LLMUsageAttributes(input, output, toolCalls int) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if input > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, input))
	}
	if output > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, output))
	}
	if toolCalls > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMToolCalls, toolCalls))
	}
	return attrs
}
