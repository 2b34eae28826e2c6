// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/puppylab/miniagent/pkg/task"
	"github.com/puppylab/miniagent/pkg/telemetry"
)

const defaultSweepInterval = time.Minute

func (o *Orchestrator) startSweeper() {
	if o.cfg.ArchiveAfter <= 0 {
		return
	}
	interval := o.cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.sweepCancel = cancel
	o.sweepDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		o.logger.Info("orchestrator.sweeper.start",
			slog.Duration("interval", interval),
			slog.Duration("archive_after", o.cfg.ArchiveAfter),
		)
		for {
			select {
			case <-ctx.Done():
				o.logger.Info("orchestrator.sweeper.stop")
				return
			case <-ticker.C:
				o.Sweep(ctx)
			}
		}
	}()
}

func (o *Orchestrator) stopSweeper() {
	if o.sweepCancel == nil {
		return
	}
	o.sweepCancel()
	<-o.sweepDone
	o.sweepCancel = nil
	o.sweepDone = nil
}

// Sweep removes finished tasks that no longer accept input and have been
// idle for longer than ArchiveAfter. It returns the number removed. Their
// histories remain in the history store.
func (o *Orchestrator) Sweep(ctx context.Context) int {
	if o.cfg.ArchiveAfter <= 0 {
		return 0
	}
	ctx, span := telemetry.Tracer().Start(ctx, "Orchestrator.Sweep")
	defer span.End()

	cutoff := o.now().Add(-o.cfg.ArchiveAfter)
	var stale []*task.Task
	o.mu.RLock()
	for _, id := range o.order {
		t := o.tasks[id]
		if t.Busy() || t.Accepting() {
			continue
		}
		if t.Snapshot().LastActive.Before(cutoff) {
			stale = append(stale, t)
		}
	}
	o.mu.RUnlock()

	archived := 0
	for _, t := range stale {
		if o.remove(ctx, t) == nil {
			archived++
		}
	}
	span.SetAttributes(attribute.Int("archived", archived))
	if archived > 0 {
		o.logger.InfoContext(ctx, "orchestrator.sweep.complete", slog.Int("archived", archived))
	}
	return archived
}
