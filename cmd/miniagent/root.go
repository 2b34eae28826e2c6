// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/puppylab/miniagent/pkg/config"
)

const defaultConfigFile = "miniagent.yaml"

var (
	configPath string
	profile    string
	overrides  []string
)

var rootCmd = &cobra.Command{
	Use:   "miniagent",
	Short: "miniagent - a terminal agent driven by SKILL.md skills",
	Long: `miniagent runs independent tasks against a language model. Each task keeps
its own conversation and may call skills: local programs described by
SKILL.md documents.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (default ./"+defaultConfigFile+" when present)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Config profile; loads <config>.<profile>.yaml over the base file")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "Override a setting, e.g. --set llm.model=llama3.1 (repeatable)")
}

// resolveConfigPath returns the explicit --config value or the default file
// when it exists in the working directory.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

func loadConfig() (*config.Config, string, error) {
	path := resolveConfigPath()
	cfg, err := config.LoadWithOverrides(path, profile, overrides)
	if err != nil {
		return nil, path, newConfigError(err, path)
	}
	return cfg, path, nil
}
