// Package mcp exposes healthsync to MCP-compatible agents: sync, status,
// conflict listing and resolution, priorities, and history.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperengineering/healthsync"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the MCP server with healthsync tools.
type Server struct {
	client    *healthsync.Client
	mcpServer *server.MCPServer
}

// ToolResult represents the result of a tool call.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolInfo represents a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

type handler func(ctx context.Context, args map[string]any) (*ToolResult, error)

var tools = []ToolInfo{
	{Name: "healthsync_sync", Description: "Sync every active source now and report the outcome"},
	{Name: "healthsync_status", Description: "Show sync state, sources, and the number of conflicts awaiting input"},
	{Name: "healthsync_conflicts", Description: "List conflicts awaiting input with short references (C1, C2, ...)"},
	{Name: "healthsync_resolve", Description: "Resolve a conflict, or all pending conflicts, with a strategy"},
	{Name: "healthsync_undo", Description: "Reopen a resolved conflict"},
	{Name: "healthsync_priority", Description: "Show or replace the source priority for a category"},
	{Name: "healthsync_history", Description: "List past sync sessions, newest first"},
}

// NewServer creates an MCP server with healthsync tools registered.
func NewServer(client *healthsync.Client) *Server {
	s := &Server{client: client}
	s.mcpServer = server.NewMCPServer(
		"healthsync",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// Run serves MCP over stdin/stdout.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// HandleMessage processes a raw JSON-RPC message and returns a response.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool executes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	h, ok := s.handlers()[name]
	if !ok {
		return &ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
	return h(ctx, args)
}

func (s *Server) handlers() map[string]handler {
	return map[string]handler{
		"healthsync_sync":      s.handleSync,
		"healthsync_status":    s.handleStatus,
		"healthsync_conflicts": s.handleConflicts,
		"healthsync_resolve":   s.handleResolve,
		"healthsync_undo":      s.handleUndo,
		"healthsync_priority":  s.handlePriority,
		"healthsync_history":   s.handleHistory,
	}
}

func (s *Server) registerTools() {
	h := s.handlers()
	strategies := make([]string, 0, len(healthsync.ValidStrategies()))
	for _, st := range healthsync.ValidStrategies() {
		strategies = append(strategies, string(st))
	}
	categories := make([]string, 0, len(healthsync.ValidCategories()))
	for _, c := range healthsync.ValidCategories() {
		categories = append(categories, string(c))
	}

	s.mcpServer.AddTool(mcp.NewTool("healthsync_sync",
		mcp.WithDescription("Sync every active source now. Returns the session outcome, per-source results, and how many conflicts need input. Joins a sync that is already running."),
	), wrap(h["healthsync_sync"]))

	s.mcpServer.AddTool(mcp.NewTool("healthsync_status",
		mcp.WithDescription("Show the current sync state, registered sources, the last session, and the number of conflicts awaiting input."),
		mcp.WithReadOnlyHintAnnotation(true),
	), wrap(h["healthsync_status"]))

	s.mcpServer.AddTool(mcp.NewTool("healthsync_conflicts",
		mcp.WithDescription("List conflicts awaiting input. Each conflict gets a short reference (C1, C2, ...) usable with healthsync_resolve."),
		mcp.WithReadOnlyHintAnnotation(true),
	), wrap(h["healthsync_conflicts"]))

	s.mcpServer.AddTool(mcp.NewTool("healthsync_resolve",
		mcp.WithDescription("Resolve a conflict by reference or ID, or every pending conflict with conflict=\"all\". Manual resolution needs a value or a contributing source."),
		mcp.WithString("conflict",
			mcp.Description("Conflict reference (C1), full ID, or \"all\""),
			mcp.Required(),
		),
		mcp.WithString("strategy",
			mcp.Description("Resolution strategy"),
			mcp.Required(),
			mcp.Enum(strategies...),
		),
		mcp.WithNumber("value",
			mcp.Description("Value for manual resolution"),
		),
		mcp.WithString("source",
			mcp.Description("Contributing source to pick for manual resolution"),
		),
		mcp.WithString("note",
			mcp.Description("Note stored with the resolution"),
		),
	), wrap(h["healthsync_resolve"]))

	s.mcpServer.AddTool(mcp.NewTool("healthsync_undo",
		mcp.WithDescription("Reopen a resolved conflict. The original resolution stays in history, marked undone."),
		mcp.WithString("conflict",
			mcp.Description("Conflict ID"),
			mcp.Required(),
		),
	), wrap(h["healthsync_undo"]))

	s.mcpServer.AddTool(mcp.NewTool("healthsync_priority",
		mcp.WithDescription("Show the source priority for a category, or replace it when sources is given."),
		mcp.WithString("category",
			mcp.Description("Health data category"),
			mcp.Required(),
			mcp.Enum(categories...),
		),
		mcp.WithArray("sources",
			mcp.Description("New ranking, highest priority first"),
			mcp.WithStringItems(),
		),
	), wrap(h["healthsync_priority"]))

	s.mcpServer.AddTool(mcp.NewTool("healthsync_history",
		mcp.WithDescription("List past sync sessions, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum sessions to return (default: 10)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	), wrap(h["healthsync_history"]))
}

func wrap(h handler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := h(ctx, req.GetArguments())
		if err != nil {
			return nil, err
		}
		return toMCPResult(result), nil
	}
}

func toMCPResult(r *ToolResult) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: r.Content,
			},
		},
		IsError: r.IsError,
	}
}

func failure(format string, args ...any) *ToolResult {
	return &ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

func (s *Server) handleSync(ctx context.Context, args map[string]any) (*ToolResult, error) {
	summary, err := s.client.StartSync(ctx, healthsync.TriggerManual)
	if err != nil {
		return failure("sync failed: %v", err), nil
	}
	return &ToolResult{Content: formatSummary(summary), IsError: summary.Status == healthsync.StateFailed}, nil
}

func (s *Server) handleStatus(ctx context.Context, args map[string]any) (*ToolResult, error) {
	st, err := s.client.Status(ctx)
	if err != nil {
		return failure("status failed: %v", err), nil
	}
	return &ToolResult{Content: formatStatus(st)}, nil
}

func (s *Server) handleConflicts(ctx context.Context, args map[string]any) (*ToolResult, error) {
	conflicts, err := s.client.PendingConflicts(ctx)
	if err != nil {
		return failure("list conflicts failed: %v", err), nil
	}
	return &ToolResult{Content: formatConflicts(s.client, conflicts)}, nil
}

func (s *Server) handleResolve(ctx context.Context, args map[string]any) (*ToolResult, error) {
	ref, _ := args["conflict"].(string)
	if ref == "" {
		return failure("conflict is required"), nil
	}
	strategyStr, _ := args["strategy"].(string)
	strategy := healthsync.Strategy(strategyStr)
	if !strategy.IsValid() {
		return failure("invalid strategy: %q", strategyStr), nil
	}

	if ref == "all" {
		resolutions, err := s.client.ResolveAll(ctx, strategy, "agent")
		content := fmt.Sprintf("Resolved %d conflict(s) with %s.", len(resolutions), strategy)
		if err != nil {
			return failure("%s\nFailures:\n%v", content, err), nil
		}
		return &ToolResult{Content: content}, nil
	}

	opts := healthsync.ResolveOptions{ResolvedBy: "agent"}
	if v, ok := args["value"].(float64); ok {
		opts.Value = &v
	}
	opts.SourceID, _ = args["source"].(string)
	opts.Note, _ = args["note"].(string)

	res, err := s.client.ResolveConflict(ctx, ref, strategy, opts)
	if errors.Is(err, healthsync.ErrManualInputRequired) {
		return failure("manual resolution of %s needs a value or a contributing source", ref), nil
	}
	if err != nil {
		return failure("resolve failed: %v", err), nil
	}
	return &ToolResult{Content: formatResolution(ref, res)}, nil
}

func (s *Server) handleUndo(ctx context.Context, args map[string]any) (*ToolResult, error) {
	ref, _ := args["conflict"].(string)
	if ref == "" {
		return failure("conflict is required"), nil
	}
	if err := s.client.UndoResolution(ctx, ref, "agent"); err != nil {
		return failure("undo failed: %v", err), nil
	}
	return &ToolResult{Content: fmt.Sprintf("Reopened %s.", ref)}, nil
}

func (s *Server) handlePriority(ctx context.Context, args map[string]any) (*ToolResult, error) {
	catStr, _ := args["category"].(string)
	cat := healthsync.Category(catStr)
	if !cat.IsValid() {
		return failure("invalid category: %q", catStr), nil
	}

	if ids := toStringSlice(args["sources"]); len(ids) > 0 {
		if err := s.client.SetPriority(ctx, cat, ids); err != nil {
			return failure("set priority failed: %v", err), nil
		}
	}
	return &ToolResult{Content: formatPriority(cat, s.client.PriorityFor(cat), s.client.ResolvedOrderFor(cat))}, nil
}

func (s *Server) handleHistory(ctx context.Context, args map[string]any) (*ToolResult, error) {
	limit := 10
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}
	sessions, err := s.client.History(ctx, limit)
	if err != nil {
		return failure("history failed: %v", err), nil
	}
	return &ToolResult{Content: formatSessions(sessions)}, nil
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
