// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/puppylab/miniagent/pkg/config"
	"github.com/puppylab/miniagent/pkg/core"
	"github.com/puppylab/miniagent/pkg/governance"
	"github.com/puppylab/miniagent/pkg/history"
	"github.com/puppylab/miniagent/pkg/invoker"
	"github.com/puppylab/miniagent/pkg/orchestrator"
	"github.com/puppylab/miniagent/pkg/resilience"
	"github.com/puppylab/miniagent/pkg/skills"
	"github.com/puppylab/miniagent/pkg/task"
	"github.com/puppylab/miniagent/pkg/telemetry"
)

// app holds the process-wide components shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	level    *slog.LevelVar
	watcher  *config.Watcher
	registry *skills.Registry
	orch     *orchestrator.Orchestrator
	shutdown telemetry.ShutdownFunc
}

// newLogger builds the stderr logger with a level that follows config
// reloads.
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(telemetry.ParseLevel(cfg.Level))
	logger := telemetry.NewLeveledLogger(w, level, cfg.Format)
	slog.SetDefault(logger)
	return logger, level
}

// loadRegistry loads the skills directory. A missing directory yields an
// empty registry so the agent can still chat.
func loadRegistry(ctx context.Context, dir string, logger *slog.Logger) (*skills.Registry, error) {
	reg, err := skills.LoadDir(ctx, dir)
	if err == nil {
		logger.InfoContext(ctx, "skills.loaded", slog.String("dir", dir), slog.Int("count", reg.Len()))
		return reg, nil
	}
	if stderrors.Is(err, fs.ErrNotExist) {
		logger.WarnContext(ctx, "skills.dir.missing", slog.String("dir", dir))
		return skills.Load(ctx, nil)
	}
	return nil, err
}

// governRegistry drops the skills the allow and deny lists exclude.
func governRegistry(ctx context.Context, reg *skills.Registry, cfg config.SkillsConfig, logger *slog.Logger) (*skills.Registry, error) {
	filter, err := governance.NewSkillFilter(cfg.Allow, cfg.Deny)
	if err != nil {
		return nil, err
	}
	reg, dropped := filter.Apply(reg)
	for _, name := range dropped {
		logger.InfoContext(ctx, "skills.excluded", slog.String("skill", name), slog.String("reason", filter.Check(name).Reason))
	}
	return reg, nil
}

// systemPrompt appends the nearest AGENTS.md to the configured prompt.
func systemPrompt(ctx context.Context, cfg config.TaskConfig, logger *slog.Logger) string {
	if !cfg.AgentsMD {
		return cfg.SystemPrompt
	}
	wd, err := os.Getwd()
	if err != nil {
		return cfg.SystemPrompt
	}
	ins, err := governance.LoadInstructions(wd)
	if err != nil {
		logger.WarnContext(ctx, "agents_md.failed", slog.String("error", err.Error()))
		return cfg.SystemPrompt
	}
	if ins != nil {
		logger.InfoContext(ctx, "agents_md.loaded", slog.String("path", ins.Path))
	}
	return governance.SystemPrompt(cfg.SystemPrompt, ins)
}

// newApp wires configuration, telemetry, skills, history and the
// orchestrator. Assistant deltas and lifecycle events go to emitter.
func newApp(ctx context.Context, emitter core.EventEmitter) (*app, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, level := newLogger(os.Stderr, cfg.Log)
	a := &app{cfg: cfg, logger: logger, level: level}

	a.shutdown, err = telemetry.Init(ctx, "miniagent", version, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		Writer:       os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		if metrics, err = telemetry.NewMetrics(); err != nil {
			_ = a.shutdown(ctx)
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	if a.registry, err = loadRegistry(ctx, cfg.Skills.Dir, logger); err != nil {
		_ = a.shutdown(ctx)
		return nil, err
	}
	if a.registry, err = governRegistry(ctx, a.registry, cfg.Skills, logger); err != nil {
		_ = a.shutdown(ctx)
		return nil, newConfigError(err, path)
	}

	provider, err := newProvider(ctx, cfg.LLM)
	if err != nil {
		_ = a.shutdown(ctx)
		return nil, newConfigError(err, path)
	}

	store, err := history.Open(cfg.History.Driver, cfg.History.Path)
	if err != nil {
		_ = a.shutdown(ctx)
		return nil, newConfigError(err, path)
	}

	inv := invoker.New(invoker.Config{
		Timeout:        cfg.Skills.Timeout,
		WorkDir:        cfg.Skills.WorkDir,
		MaxOutputBytes: cfg.Skills.MaxOutputBytes,
	}, invoker.WithLogger(logger), invoker.WithMetrics(metrics))

	retry := resilience.DefaultRetryConfig().WithMaxAttempts(cfg.LLM.RetryAttempts)
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("llm.retry", slog.Int("attempt", attempt), slog.Duration("delay", delay), slog.String("error", err.Error()))
	}
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name:             "llm",
		FailureThreshold: cfg.LLM.BreakerFailures,
		Cooldown:         cfg.LLM.BreakerCooldown,
	})

	if emitter == nil {
		emitter = core.NoopEventEmitter{}
	}
	a.orch = orchestrator.New(provider, a.registry, inv, orchestrator.Config{
		Model:            cfg.LLM.Model,
		Temperature:      cfg.LLM.Temperature,
		MaxContextTokens: cfg.LLM.MaxContextTokens,
		SystemPrompt:     systemPrompt(ctx, cfg.Task, logger),
		WindowMessages:   cfg.Task.WindowMessages,
		Task: task.Config{
			MaxSteps:      cfg.Task.MaxSteps,
			AllowFollowUp: cfg.Task.AllowFollowUp,
		},
		Stream:       cfg.LLM.Stream,
		ArchiveAfter: cfg.Task.ArchiveAfter,
	},
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithEmitter(core.Multi(emitter, core.LogEmitter{Logger: logger})),
		orchestrator.WithStore(store),
		orchestrator.WithRetry(retry),
		orchestrator.WithBreaker(breaker),
	)

	if path != "" {
		a.watcher, err = config.NewWatcher(path, profile,
			config.WithWatchOverrides(overrides),
			config.WithWatchLogger(logger),
		)
		if err != nil {
			logger.WarnContext(ctx, "config.watch.disabled", slog.String("path", path), slog.String("error", err.Error()))
		} else {
			a.watcher.OnChange(a.reconfigure)
			a.watcher.Start(ctx)
		}
	}
	return a, nil
}

// reconfigure applies the settings that can change at runtime. Everything
// else needs a restart.
func (a *app) reconfigure(cfg *config.Config) {
	a.level.Set(telemetry.ParseLevel(cfg.Log.Level))
	a.logger.Info("log.level.changed", slog.String("level", a.level.Level().String()))
}

// Close stops the watcher, cancels and drains every task, closes the
// history store and flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	var errs []error
	if a.orch != nil {
		errs = append(errs, a.orch.Close(ctx))
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	return stderrors.Join(errs...)
}
