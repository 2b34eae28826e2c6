// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/puppylab/miniagent/pkg/config"
	"github.com/puppylab/miniagent/pkg/llm"
	"github.com/puppylab/miniagent/pkg/llm/anthropic"
	"github.com/puppylab/miniagent/pkg/llm/gemini"
	"github.com/puppylab/miniagent/pkg/llm/openai"
)

// newProvider builds the configured model backend. SDK retries are turned
// off because sessions retry through the shared breaker.
func newProvider(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "ollama":
		return llm.NewOllama(cfg.BaseURL), nil

	case "openai":
		opts := []openai.Option{openai.WithMaxRetries(0)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.APIKey))
		}
		return openai.New(opts...), nil

	case "anthropic":
		opts := []anthropic.Option{anthropic.WithMaxRetries(0)}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithAPIKey(cfg.APIKey))
		}
		return anthropic.New(opts...), nil

	case "gemini":
		var opts []gemini.Option
		if cfg.Model != "" {
			opts = append(opts, gemini.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, gemini.WithAPIKey(cfg.APIKey))
		}
		p, err := gemini.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
