// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/puppylab/miniagent/pkg/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the task orchestrator to other programs",
}

var serveMCPCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve tasks as MCP tools over stdio",
	Long: `Expose start_task, send_input, cancel_task, list_tasks and task_history
as MCP tools on stdin/stdout. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runServeMCP,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.AddCommand(serveMCPCmd)
}

func runServeMCP(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.logger.Warn("serve.close.failed", slog.String("error", err.Error()))
		}
	}()

	srv := mcp.NewServer("miniagent", version, a.orch, a.logger)
	a.logger.InfoContext(ctx, "serve.mcp.start", slog.Int("skills", a.registry.Len()))
	return srv.ServeStdio()
}
