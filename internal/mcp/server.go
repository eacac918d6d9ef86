package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentboard/agentboard/internal/agents"
	"github.com/agentboard/agentboard/internal/auth"
	"github.com/agentboard/agentboard/internal/messages"
	"github.com/agentboard/agentboard/internal/models"
	"github.com/agentboard/agentboard/internal/store"
)

// Server wraps the agentboard data layer and exposes it as MCP tools.
type Server struct {
	store    store.Store
	agents   *agents.Service
	messages *messages.Service
	sender   string
}

// NewServer creates the MCP server wrapper. queue may be nil; tool-sent
// messages then skip dispatch. sender names the principal used for
// ab_send_message.
func NewServer(s store.Store, queue messages.Enqueuer, sender string) *Server {
	if sender == "" {
		sender = "mcp"
	}
	return &Server{
		store:    s,
		agents:   agents.NewService(s),
		messages: messages.NewService(s, queue),
		sender:   sender,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("agentboard", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listAgentsTool())
	srv.AddTool(s.agentStatusTool())
	srv.AddTool(s.listRunsTool())
	srv.AddTool(s.runDetailTool())
	srv.AddTool(s.sendMessageTool())
	srv.AddTool(s.listMessagesTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// ab_list_agents
func (s *Server) listAgentsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ab_list_agents",
		mcp.WithDescription("List all registered agents. Returns a JSON array with id, name, effective status (offline when heartbeats are stale), current task, and last heartbeat time."),
	)
	return tool, s.handleListAgents
}

func (s *Server) handleListAgents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	views, err := s.agents.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list agents: %v", err)), nil
	}

	type agentOut struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		Status        string `json:"status"`
		CurrentTask   string `json:"current_task"`
		LastHeartbeat string `json:"last_heartbeat"`
	}

	out := make([]agentOut, len(views))
	for i, v := range views {
		out[i] = agentOut{
			ID:            v.ID,
			Name:          v.Name,
			Status:        string(v.EffectiveStatus),
			CurrentTask:   v.CurrentTask,
			LastHeartbeat: v.LastHeartbeat.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal agents: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ab_agent_status
func (s *Server) agentStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ab_agent_status",
		mcp.WithDescription("Get one agent's detail: urls, branch, effective status, current task, and its most recent runs."),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Agent id")),
	)
	return tool, s.handleAgentStatus
}

func (s *Server) handleAgentStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := request.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: agent"), nil
	}

	view, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("agent not found: %s", agentID)), nil
	}

	recent, err := s.store.ListRuns(ctx, store.RunListFilter{AgentID: agentID, Limit: 5})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	runsOut := make([]map[string]any, len(recent))
	for i, run := range recent {
		runsOut[i] = map[string]any{
			"id":         run.ID,
			"status":     string(run.Status),
			"commit_sha": run.CommitSHA,
			"passed":     run.Passed,
			"failed":     run.Failed,
			"started_at": run.StartedAt.Format(time.RFC3339),
		}
	}

	result := map[string]any{
		"agent": map[string]any{
			"id":             view.ID,
			"name":           view.Name,
			"status":         string(view.EffectiveStatus),
			"current_task":   view.CurrentTask,
			"dev_url":        view.DevURL,
			"repo_url":       view.RepoURL,
			"branch":         view.Branch,
			"last_heartbeat": view.LastHeartbeat.Format(time.RFC3339),
		},
		"recent_runs": runsOut,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ab_list_runs
func (s *Server) listRunsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ab_list_runs",
		mcp.WithDescription("List test runs, newest first, optionally filtered by agent and/or status (queued, running, passed, failed, cancelled, timed_out)."),
		mcp.WithString("agent", mcp.Description("Agent id to filter by")),
		mcp.WithString("status", mcp.Description("Status filter: queued, running, passed, failed, cancelled, timed_out")),
	)
	return tool, s.handleListRuns
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.RunListFilter{
		AgentID: request.GetString("agent", ""),
		Status:  models.RunStatus(request.GetString("status", "")),
		Limit:   50,
	}

	result, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	type runOut struct {
		ID         string `json:"id"`
		AgentID    string `json:"agent_id"`
		Status     string `json:"status"`
		CommitSHA  string `json:"commit_sha"`
		TotalTests int    `json:"total_tests"`
		Passed     int    `json:"passed"`
		Failed     int    `json:"failed"`
		Skipped    int    `json:"skipped"`
		StartedAt  string `json:"started_at"`
	}

	out := make([]runOut, len(result))
	for i, run := range result {
		out[i] = runOut{
			ID:         run.ID,
			AgentID:    run.AgentID,
			Status:     string(run.Status),
			CommitSHA:  run.CommitSHA,
			TotalTests: run.TotalTests,
			Passed:     run.Passed,
			Failed:     run.Failed,
			Skipped:    run.Skipped,
			StartedAt:  run.StartedAt.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal runs: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ab_run_detail
func (s *Server) runDetailTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ab_run_detail",
		mcp.WithDescription("Get a run with all of its test cases, including per-case status, bug descriptions, and severities."),
		mcp.WithString("run", mcp.Required(), mcp.Description("Run id")),
	)
	return tool, s.handleRunDetail
}

func (s *Server) handleRunDetail(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: run"), nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run not found: %s", runID)), nil
	}
	cases, err := s.store.ListRunCases(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list cases: %v", err)), nil
	}

	casesOut := make([]map[string]any, len(cases))
	for i, tc := range cases {
		casesOut[i] = map[string]any{
			"id":              tc.ID,
			"name":            tc.Name,
			"status":          string(tc.Status),
			"expected":        tc.Expected,
			"actual":          tc.Actual,
			"bug_description": tc.BugDescription,
			"bug_severity":    string(tc.BugSeverity),
			"duration_ms":     tc.DurationMS,
		}
	}

	result := map[string]any{
		"run": map[string]any{
			"id":             run.ID,
			"agent_id":       run.AgentID,
			"status":         string(run.Status),
			"commit_sha":     run.CommitSHA,
			"commit_message": run.CommitMessage,
			"total_tests":    run.TotalTests,
			"passed":         run.Passed,
			"failed":         run.Failed,
			"skipped":        run.Skipped,
			"duration_ms":    run.DurationMS,
		},
		"cases": casesOut,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal run: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ab_send_message
func (s *Server) sendMessageTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ab_send_message",
		mcp.WithDescription("Post a message to a channel. @mentions in the content are extracted and the mentioned agents are notified asynchronously."),
		mcp.WithString("channel", mcp.Required(), mcp.Description("Channel name, e.g. general or bugs")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
	)
	return tool, s.handleSendMessage
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	channel, err := request.RequireString("channel")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: channel"), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: content"), nil
	}

	msg, err := s.messages.Send(ctx, auth.Session(s.sender), messages.SendParams{
		Channel: channel,
		Content: content,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to send message: %v", err)), nil
	}

	result := map[string]any{
		"id":       msg.ID,
		"mentions": msg.Mentions,
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal message: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ab_list_messages
func (s *Server) listMessagesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ab_list_messages",
		mcp.WithDescription("List recent messages in a channel in chronological order. Use before with a message id to page further back."),
		mcp.WithString("channel", mcp.Required(), mcp.Description("Channel name")),
		mcp.WithString("before", mcp.Description("Message id to page backwards from")),
		mcp.WithNumber("limit", mcp.Description("Page size, default 50, max 200")),
	)
	return tool, s.handleListMessages
}

func (s *Server) handleListMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	channel, err := request.RequireString("channel")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: channel"), nil
	}

	page, err := s.messages.List(ctx, messages.ListParams{
		Channel: channel,
		Before:  request.GetString("before", ""),
		Limit:   request.GetInt("limit", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list messages: %v", err)), nil
	}

	type messageOut struct {
		ID         string   `json:"id"`
		SenderName string   `json:"sender_name"`
		Type       string   `json:"type"`
		Content    string   `json:"content"`
		Mentions   []string `json:"mentions"`
		CreatedAt  string   `json:"created_at"`
	}

	out := make([]messageOut, len(page.Messages))
	for i, m := range page.Messages {
		out[i] = messageOut{
			ID:         m.ID,
			SenderName: m.SenderName,
			Type:       string(m.Type),
			Content:    m.Content,
			Mentions:   m.Mentions,
			CreatedAt:  m.CreatedAt.Format(time.RFC3339),
		}
	}

	result := map[string]any{
		"messages": out,
		"has_more": page.HasMore,
		"cursor":   page.Cursor,
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal messages: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
