// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and its profile file and reloads the
// configuration when either changes.
type Watcher struct {
	path     string
	profile  string
	sets     []string
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	modTimes  map[string]time.Time
	config    *Config
	listeners []func(*Config)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// WithWatchOverrides reapplies key=value overrides on every reload.
func WithWatchOverrides(sets []string) WatcherOption {
	return func(w *Watcher) { w.sets = sets }
}

// NewWatcher loads the configuration once and records the file mod times.
func NewWatcher(path, profile string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		profile:  profile,
		interval: time.Second,
		logger:   slog.Default(),
		modTimes: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, p := range w.paths() {
		if info, err := os.Stat(p); err == nil {
			w.modTimes[p] = info.ModTime()
		}
	}
	cfg, err := LoadWithOverrides(w.path, w.profile, w.sets)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

func (w *Watcher) paths() []string {
	if w.path == "" {
		return nil
	}
	if w.profile == "" {
		return []string{w.path}
	}
	return []string{w.path, ProfilePath(w.path, w.profile)}
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start polls until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops polling and waits for the poller to exit. Only valid after
// Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.changed() {
				w.reload()
			}
		}
	}
}

func (w *Watcher) changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, p := range w.paths() {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if last, ok := w.modTimes[p]; !ok || info.ModTime().After(last) {
			w.modTimes[p] = info.ModTime()
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload() {
	cfg, err := LoadWithOverrides(w.path, w.profile, w.sets)
	if err != nil {
		w.logger.Error("config.reload.failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("config.reloaded", slog.String("path", w.path))
	for _, fn := range listeners {
		fn(cfg)
	}
}
