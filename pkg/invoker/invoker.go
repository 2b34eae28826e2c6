// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package invoker executes skills as captured, time-bounded subprocesses.
//
// An invocation validates its arguments, renders the skill's usage template
// into argv without going through a shell, and runs the program in a fresh
// temporary directory with a filtered environment. Standard output, standard
// error and the exit status are captured into the returned skills.Result;
// nothing reaches the caller's terminal. Data-level failures (timeout,
// non-zero exit, bad arguments) are results, while an environment that
// cannot run the program at all is reported as an infrastructure error.
package invoker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/skills"
	"github.com/puppylab/miniagent/pkg/telemetry"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 64 * 1024
	defaultWaitDelay      = 2 * time.Second

	// TempDirEnv names the per-invocation scratch directory.
	TempDirEnv = "MINIAGENT_SKILL_TMP"
)

// Config holds the invoker limits.
type Config struct {
	// Timeout applies to skills that do not declare their own.
	Timeout time.Duration
	// WorkDir is the working directory of every skill. Empty means the
	// per-invocation temp directory.
	WorkDir string
	// MaxOutputBytes bounds stdout and stderr separately.
	MaxOutputBytes int
	// WaitDelay bounds how long Wait drains pipes after the process exits
	// or is killed.
	WaitDelay time.Duration
	// Env is appended to the filtered parent environment.
	Env []string
}

// Invoker runs skills. It holds no per-invocation state and is safe for
// concurrent use.
type Invoker struct {
	cfg     Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	environ func() []string
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(inv *Invoker) {
		if l != nil {
			inv.logger = l
		}
	}
}

// WithMetrics records invocation counts and durations.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(inv *Invoker) {
		inv.metrics = m
	}
}

// New creates an Invoker, filling zero config fields with defaults.
func New(cfg Config, opts ...Option) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	inv := &Invoker{
		cfg:     cfg,
		logger:  slog.Default(),
		tracer:  telemetry.Tracer(),
		environ: parentEnv,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke validates args against d and runs the skill. A validation failure
// returns both a validation failure result and the typed error, and nothing
// is executed.
func (inv *Invoker) Invoke(ctx context.Context, d skills.Descriptor, args map[string]any) (skills.Result, error) {
	ctx, span := inv.tracer.Start(ctx, "Invoker.Invoke",
		trace.WithAttributes(telemetry.SkillAttributes(d.Name, "")...))
	defer span.End()

	start := time.Now()
	res, err := inv.invoke(ctx, d, args)
	elapsed := time.Since(start)

	outcome := res.Kind()
	if err != nil && !stderrors.Is(err, errors.ErrValidation) {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		inv.metrics.RecordError(ctx, err, "invoker")
	}
	span.SetAttributes(attribute.String(telemetry.AttrSkillOutcome, outcome))
	inv.metrics.RecordInvocation(ctx, d.Name, outcome, elapsed)

	inv.logger.InfoContext(ctx, "skill.invoke.complete",
		"skill", d.Name,
		"outcome", outcome,
		"duration_ms", elapsed.Milliseconds(),
	)
	return res, err
}

func (inv *Invoker) invoke(ctx context.Context, d skills.Descriptor, args map[string]any) (skills.Result, error) {
	if err := Validate(d, args); err != nil {
		return skills.Failed(d.Name, skills.FailureValidation, errors.As(err).Message), err
	}

	argv, err := Render(d.Template, args)
	if err != nil {
		return skills.Result{}, errors.Infrastructure("cannot render skill command", err).WithContext("skill", d.Name)
	}
	program, err := inv.lookup(d, argv[0])
	if err != nil {
		return skills.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return skills.Result{}, errors.Infrastructure("skill not started", err).WithContext("skill", d.Name)
	}

	tmp, err := os.MkdirTemp("", "miniagent-skill-*")
	if err != nil {
		return skills.Result{}, errors.Infrastructure("cannot create skill temp dir", err).WithContext("skill", d.Name)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmp); rmErr != nil {
			inv.logger.WarnContext(ctx, "skill.tmp.cleanup_failed", "skill", d.Name, "dir", tmp, "error", rmErr)
		}
	}()

	timeout := inv.cfg.Timeout
	if d.Timeout > 0 {
		timeout = d.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newBoundedBuffer(inv.cfg.MaxOutputBytes)
	stderr := newBoundedBuffer(inv.cfg.MaxOutputBytes)

	cmd := exec.CommandContext(runCtx, program, argv[1:]...)
	cmd.Dir = tmp
	if inv.cfg.WorkDir != "" {
		cmd.Dir = inv.cfg.WorkDir
	}
	extra := append(slices.Clone(inv.cfg.Env), TempDirEnv+"="+tmp)
	cmd.Env = filterEnv(inv.environ(), extra...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = inv.cfg.WaitDelay
	setProcessGroup(cmd)

	inv.logger.DebugContext(ctx, "skill.invoke.start",
		"skill", d.Name,
		"argv", argv,
		"timeout", timeout,
	)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	meta := map[string]any{
		"command":     strings.Join(argv, " "),
		"duration_ms": elapsed.Milliseconds(),
	}
	if s := stderr.String(); s != "" {
		meta["stderr"] = s
	}
	if stdout.truncated || stderr.truncated {
		meta["truncated"] = true
	}
	res := skills.Result{Skill: d.Name, Output: stdout.String(), Metadata: meta}

	switch {
	case runErr == nil:
		meta["exit_code"] = 0
		return res, nil

	case stderrors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Failure = &skills.Failure{
			Kind:    skills.FailureTimeout,
			Message: fmt.Sprintf("skill %q timed out after %s", d.Name, timeout),
		}
		return res, nil

	case ctx.Err() != nil:
		return skills.Result{}, errors.Infrastructure("skill interrupted", ctx.Err()).WithContext("skill", d.Name)
	}

	var exitErr *exec.ExitError
	if stderrors.As(runErr, &exitErr) {
		code := exitErr.ExitCode()
		meta["exit_code"] = code
		msg := fmt.Sprintf("skill %q exited with status %d", d.Name, code)
		if tail := lastLine(stderr.String()); tail != "" {
			msg += ": " + tail
		}
		res.Failure = &skills.Failure{Kind: skills.FailureExitStatus, Message: msg}
		return res, nil
	}

	return skills.Result{}, errors.Infrastructure("cannot run skill", runErr).
		WithContext("skill", d.Name).
		WithContext("program", program)
}

// lookup resolves the program. Paths starting with ./ or ../ are relative to
// the skill document directory.
func (inv *Invoker) lookup(d skills.Descriptor, name string) (string, error) {
	if (strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../")) && d.Source != "" {
		name = filepath.Join(filepath.Dir(d.Source), name)
		if abs, err := filepath.Abs(name); err == nil {
			name = abs
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", errors.Infrastructure("skill program not found", err).
			WithContext("skill", d.Name).
			WithContext("program", name)
	}
	return path, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
