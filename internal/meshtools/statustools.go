package meshtools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"crewmesh/internal/status"
)

// BroadcastStatusTool handles the broadcast_status MCP tool.
type BroadcastStatusTool struct {
	board *status.Board
}

// NewBroadcastStatusTool creates a BroadcastStatusTool.
func NewBroadcastStatusTool(b *status.Board) *BroadcastStatusTool {
	return &BroadcastStatusTool{board: b}
}

// Definition returns the MCP tool definition for broadcast_status.
func (t *BroadcastStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("broadcast_status",
		mcp.WithDescription(
			"Announce your current state so other agents can coordinate around you. "+
				"Call this when starting, finishing or getting blocked on a task.",
		),
		mcp.WithString("agent",
			mcp.Required(),
			mcp.Description("Your agent name"),
		),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Description("idle, working, blocked or completed"),
		),
		mcp.WithString("current_task",
			mcp.Description("What you are working on"),
		),
		mcp.WithNumber("progress",
			mcp.Description("Progress percentage 0-100"),
		),
	)
}

// Handle processes the broadcast_status tool call.
func (t *BroadcastStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent := req.GetString("agent", "")
	state := req.GetString("status", "")
	if agent == "" || state == "" {
		return mcp.NewToolResultError("'agent' and 'status' are required"), nil
	}

	task := req.GetString("current_task", "")
	progress := intArg(req, "progress", 0)
	if err := t.board.Broadcast(ctx, agent, state, task, progress); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to broadcast status: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Status broadcast: %s is %s (%d%%)", agent, state, clampProgress(progress))), nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ─── GetAllAgentStatusesTool ────────────────────────────────────────────────

// GetAllAgentStatusesTool handles the get_all_agent_statuses MCP tool.
type GetAllAgentStatusesTool struct {
	board *status.Board
}

// NewGetAllAgentStatusesTool creates a GetAllAgentStatusesTool.
func NewGetAllAgentStatusesTool(b *status.Board) *GetAllAgentStatusesTool {
	return &GetAllAgentStatusesTool{board: b}
}

// Definition returns the MCP tool definition for get_all_agent_statuses.
func (t *GetAllAgentStatusesTool) Definition() mcp.Tool {
	return mcp.NewTool("get_all_agent_statuses",
		mcp.WithDescription(
			"Show the latest known status of every agent, derived from recent status broadcasts.",
		),
	)
}

// Handle processes the get_all_agent_statuses tool call.
func (t *GetAllAgentStatusesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snaps, err := t.board.All(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch statuses: %v", err)), nil
	}

	latest := status.Latest(snaps)
	if len(latest) == 0 {
		return mcp.NewToolResultText("No agent statuses broadcast yet"), nil
	}

	agents := make([]string, 0, len(latest))
	for agent := range latest {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	var b strings.Builder
	fmt.Fprintf(&b, "%d agent(s):\n", len(agents))
	for _, agent := range agents {
		s := latest[agent]
		fmt.Fprintf(&b, "- %s: %s (%d%%)", s.Agent, s.State, s.Progress)
		if s.CurrentTask != "" {
			fmt.Fprintf(&b, ": %s", s.CurrentTask)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
