// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miniagent.yaml")
	start := time.Now().Add(-time.Hour)
	writeFile(t, path, "log:\n  level: info\n", start)

	w, err := NewWatcher(path, "", WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	if w.Config().Log.Level != "info" {
		t.Fatalf("unexpected initial level %q", w.Config().Log.Level)
	}

	changes := make(chan *Config, 4)
	w.OnChange(func(cfg *Config) { changes <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	writeFile(t, path, "log:\n  level: debug\n", start.Add(time.Minute))

	select {
	case cfg := <-changes:
		if cfg.Log.Level != "debug" {
			t.Fatalf("expected reloaded level debug, got %q", cfg.Log.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload observed")
	}
	if w.Config().Log.Level != "debug" {
		t.Fatal("Config() did not return the reloaded configuration")
	}
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miniagent.yaml")
	start := time.Now().Add(-time.Hour)
	writeFile(t, path, "llm:\n  provider: ollama\n", start)

	w, err := NewWatcher(path, "")
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	called := false
	w.OnChange(func(*Config) { called = true })

	writeFile(t, path, "llm:\n  provider: nope\n", start.Add(time.Minute))
	if !w.changed() {
		t.Fatal("expected a change")
	}
	w.reload()
	if called || w.Config().LLM.Provider != "ollama" {
		t.Fatalf("invalid reload must keep the previous config, got %q", w.Config().LLM.Provider)
	}
}

func TestWatcherStopWithoutChanges(t *testing.T) {
	w, err := NewWatcher("", "", WithWatchInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}
