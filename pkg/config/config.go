// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads miniagent settings from defaults, a YAML file, an
// optional profile file, MINIAGENT_* environment variables and explicit
// key=value overrides, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides. The first underscore
// after it separates the section, so MINIAGENT_LLM_MAX_CONTEXT_TOKENS sets
// llm.max_context_tokens.
const EnvPrefix = "MINIAGENT_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Skills    SkillsConfig    `koanf:"skills"`
	Task      TaskConfig      `koanf:"task"`
	History   HistoryConfig   `koanf:"history"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider         string        `koanf:"provider"` // ollama, openai, anthropic, gemini
	Model            string        `koanf:"model"`
	BaseURL          string        `koanf:"base_url"`
	APIKey           string        `koanf:"api_key"`
	Temperature      float64       `koanf:"temperature"`
	MaxContextTokens int           `koanf:"max_context_tokens"`
	RetryAttempts    int           `koanf:"retry_attempts"`
	BreakerFailures  int           `koanf:"breaker_failures"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown"`
	Stream           bool          `koanf:"stream"`
}

type SkillsConfig struct {
	Dir            string        `koanf:"dir"`
	Timeout        time.Duration `koanf:"timeout"`
	WorkDir        string        `koanf:"workdir"`
	MaxOutputBytes int           `koanf:"max_output_bytes"`
	Allow          []string      `koanf:"allow"`
	Deny           []string      `koanf:"deny"`
}

type TaskConfig struct {
	MaxSteps       int           `koanf:"max_steps"`
	AllowFollowUp  bool          `koanf:"allow_follow_up"`
	SystemPrompt   string        `koanf:"system_prompt"`
	WindowMessages int           `koanf:"window_messages"`
	ArchiveAfter   time.Duration `koanf:"archive_after"`
	AgentsMD       bool          `koanf:"agents_md"` // append AGENTS.md to the system prompt
}

type HistoryConfig struct {
	Driver string `koanf:"driver"` // memory, file, sqlite
	Path   string `koanf:"path"`
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"llm.provider":           "ollama",
		"llm.model":              "qwen2.5:7b-instruct",
		"llm.base_url":           "",
		"llm.max_context_tokens": 32000,
		"llm.retry_attempts":     3,
		"llm.breaker_failures":   5,
		"llm.breaker_cooldown":   30 * time.Second,

		"skills.dir":              "skills",
		"skills.timeout":          30 * time.Second,
		"skills.max_output_bytes": 64 * 1024,

		"task.max_steps": 16,
		"task.agents_md": true,

		"history.driver": "memory",

		"telemetry.exporter":      "stdout",
		"telemetry.otlp_endpoint": "localhost:4317",
		"telemetry.otlp_insecure": true,
	}
}

// Load reads the configuration at path. An empty path means defaults and
// environment only.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, "", nil)
}

// LoadWithProfile layers <name>.<profile>.<ext> next to path over path.
// A missing profile file is not an error.
func LoadWithProfile(path, profile string) (*Config, error) {
	return LoadWithOverrides(path, profile, nil)
}

// LoadWithOverrides is LoadWithProfile followed by key=value overrides.
// Values are parsed as YAML, so "true", "12" and "30s" keep their types.
func LoadWithOverrides(path, profile string, sets []string) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if profile != "" {
			pp := ProfilePath(path, profile)
			if _, err := os.Stat(pp); err == nil {
				if err := k.Load(file.Provider(pp), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load profile %s: %w", pp, err)
				}
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for _, set := range sets {
		key, value, err := ParseOverride(set)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ProfilePath returns the profile file that LoadWithProfile reads for path.
func ProfilePath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + rest
}

// ParseOverride splits a key=value override. Scalar YAML values keep their
// type; anything else is taken as a plain string.
func ParseOverride(set string) (string, any, error) {
	key, raw, ok := strings.Cut(set, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid override %q: expected key=value", set)
	}
	var node yamlv3.Node
	if err := yamlv3.Unmarshal([]byte(raw), &node); err != nil || len(node.Content) != 1 || node.Content[0].Kind != yamlv3.ScalarNode {
		return key, raw, nil
	}
	var value any
	if err := node.Content[0].Decode(&value); err != nil || value == nil {
		return key, raw, nil
	}
	return key, value, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	var problems []string
	switch c.LLM.Provider {
	case "ollama", "openai", "anthropic", "gemini":
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q is not one of ollama, openai, anthropic, gemini", c.LLM.Provider))
	}
	switch c.History.Driver {
	case "memory", "file", "sqlite":
		if c.History.Driver != "memory" && c.History.Path == "" {
			problems = append(problems, fmt.Sprintf("history.path is required for driver %q", c.History.Driver))
		}
	default:
		problems = append(problems, fmt.Sprintf("history.driver %q is not one of memory, file, sqlite", c.History.Driver))
	}
	switch c.Telemetry.Exporter {
	case "stdout", "otlp":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.exporter %q is not one of stdout, otlp", c.Telemetry.Exporter))
	}
	if c.Task.MaxSteps < 1 {
		problems = append(problems, "task.max_steps must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
