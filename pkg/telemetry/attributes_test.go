// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestTaskAttributes(t *testing.T) {
	m := attrMap(TaskAttributes("task-1", strings.Repeat("x", 300), "running"))
	if m[AttrTaskID].AsString() != "task-1" {
		t.Errorf("unexpected task id %v", m[AttrTaskID])
	}
	if got := m[AttrTaskName].AsString(); len(got) != 203 {
		t.Errorf("expected truncated name, got length %d", len(got))
	}
	if m[AttrTaskState].AsString() != "running" {
		t.Errorf("unexpected state %v", m[AttrTaskState])
	}

	m = attrMap(TaskAttributes("task-2", "", ""))
	if len(m) != 1 {
		t.Errorf("expected only the id, got %v", m)
	}
}

func TestSkillAttributes(t *testing.T) {
	m := attrMap(SkillAttributes("convert", "call_1"))
	if m[AttrSkillName].AsString() != "convert" || m[AttrToolCallID].AsString() != "call_1" {
		t.Errorf("unexpected attributes %v", m)
	}
}

func TestLLMUsageAttributesOmitsZero(t *testing.T) {
	if attrs := LLMUsageAttributes(0, 0, 0); len(attrs) != 0 {
		t.Errorf("expected no attributes, got %v", attrs)
	}
	m := attrMap(LLMUsageAttributes(10, 5, 1))
	if m[AttrLLMTokensInput].AsInt64() != 10 || m[AttrLLMTokensOutput].AsInt64() != 5 {
		t.Errorf("unexpected usage attributes %v", m)
	}
}
