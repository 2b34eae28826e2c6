// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"testing"

	"github.com/puppylab/miniagent/pkg/config"
	"github.com/puppylab/miniagent/pkg/llm"
	"github.com/puppylab/miniagent/pkg/llm/anthropic"
	"github.com/puppylab/miniagent/pkg/llm/openai"
)

func TestNewProvider(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		cfg   config.LLMConfig
		check func(llm.Provider) bool
	}{
		{config.LLMConfig{Provider: "ollama"}, func(p llm.Provider) bool { _, ok := p.(*llm.OllamaProvider); return ok }},
		{config.LLMConfig{Provider: "openai", APIKey: "k", Model: "gpt-4.1"}, func(p llm.Provider) bool { _, ok := p.(*openai.Provider); return ok }},
		{config.LLMConfig{Provider: "anthropic", APIKey: "k"}, func(p llm.Provider) bool { _, ok := p.(*anthropic.Provider); return ok }},
	}
	for _, tc := range tests {
		p, err := newProvider(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("%s: %v", tc.cfg.Provider, err)
		}
		if !tc.check(p) {
			t.Errorf("%s: unexpected provider type %T", tc.cfg.Provider, p)
		}
	}

	if _, err := newProvider(ctx, config.LLMConfig{Provider: "scripted"}); err == nil {
		t.Error("expected an error for an unsupported provider")
	}
}
