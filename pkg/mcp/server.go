// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes the task orchestrator as an MCP server, so another
// agent or editor can start tasks and route input to them.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/history"
	"github.com/puppylab/miniagent/pkg/task"
)

// Orchestrator is the subset of the orchestrator served over MCP.
type Orchestrator interface {
	StartTask(ctx context.Context, name string) (task.ID, error)
	SendInput(ctx context.Context, id task.ID, text string) (task.Outcome, error)
	CancelTask(id task.ID) error
	ListTasks() []task.Snapshot
	History(id task.ID) ([]history.Message, error)
}

// Server wraps the mcp-go server.
type Server struct {
	mcpServer *mcpserver.MCPServer
	orch      Orchestrator
	logger    *slog.Logger
}

// NewServer creates a server with the task tools registered.
func NewServer(name, version string, orch Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcpServer: mcpserver.NewMCPServer(name, version, mcpserver.WithToolCapabilities(false)),
		orch:      orch,
		logger:    logger,
	}
	s.mcpServer.AddTools(
		s.startTaskTool(),
		s.sendInputTool(),
		s.cancelTaskTool(),
		s.listTasksTool(),
		s.taskHistoryTool(),
	)
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on stdin and stdout until they close.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) startTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("start_task",
		mcplib.WithDescription("Start a new task with its own conversation and return its id"),
		mcplib.WithString("name", mcplib.Description("Optional human readable task name")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStartTask}
}

func (s *Server) sendInputTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("send_input",
		mcplib.WithDescription("Send user input to a task and wait for the final answer or a terminal state"),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("Task id returned by start_task")),
		mcplib.WithString("text", mcplib.Required(), mcplib.Description("User message")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSendInput}
}

func (s *Server) cancelTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("cancel_task",
		mcplib.WithDescription("Request cancellation of a task; it stops at its next check point"),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("Task id")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCancelTask}
}

func (s *Server) listTasksTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_tasks",
		mcplib.WithDescription("List every known task with its state"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListTasks}
}

func (s *Server) taskHistoryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("task_history",
		mcplib.WithDescription("Return the message history of a task"),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("Task id")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleTaskHistory}
}

func (s *Server) handleStartTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name, _ := req.GetArguments()["name"].(string)
	id, err := s.orch.StartTask(ctx, name)
	if err != nil {
		return s.failure("start_task", err), nil
	}
	return jsonResult(map[string]string{"task_id": string(id)})
}

func (s *Server) handleSendInput(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	args := req.GetArguments()
	id, _ := args["task_id"].(string)
	text, _ := args["text"].(string)
	if id == "" || text == "" {
		return mcplib.NewToolResultError("task_id and text are required"), nil
	}
	out, err := s.orch.SendInput(ctx, task.ID(id), text)
	if err != nil {
		return s.failure("send_input", err), nil
	}
	return jsonResult(out)
}

func (s *Server) handleCancelTask(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, _ := req.GetArguments()["task_id"].(string)
	if id == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	if err := s.orch.CancelTask(task.ID(id)); err != nil {
		return s.failure("cancel_task", err), nil
	}
	return jsonResult(map[string]any{"task_id": id, "cancel_requested": true})
}

func (s *Server) handleListTasks(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(s.orch.ListTasks())
}

func (s *Server) handleTaskHistory(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, _ := req.GetArguments()["task_id"].(string)
	if id == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	msgs, err := s.orch.History(task.ID(id))
	if err != nil {
		return s.failure("task_history", err), nil
	}
	return jsonResult(msgs)
}

// failure reports err to the MCP client as a tool error result. Errors are
// never returned as protocol errors.
func (s *Server) failure(tool string, err error) *mcplib.CallToolResult {
	s.logger.Warn("mcp.tool.error",
		slog.String("tool", tool),
		slog.String("code", string(errors.CodeOf(err))),
		slog.String("error", err.Error()),
	)
	return mcplib.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
