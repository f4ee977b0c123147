package meshtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"crewmesh/internal/broker"
	"crewmesh/internal/store"
)

// ShareResultTool handles the share_result MCP tool.
type ShareResultTool struct {
	broker *broker.Client
	store  *store.Store
	logger *zap.Logger
}

// NewShareResultTool creates a ShareResultTool.
func NewShareResultTool(b *broker.Client, s *store.Store, logger *zap.Logger) *ShareResultTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShareResultTool{broker: b, store: s, logger: logger}
}

// Definition returns the MCP tool definition for share_result.
func (t *ShareResultTool) Definition() mcp.Tool {
	return mcp.NewTool("share_result",
		mcp.WithDescription(
			"Share a completed work artifact with the other agents. The result is stored "+
				"durably and announced on the results stream.",
		),
		mcp.WithString("sender",
			mcp.Required(),
			mcp.Description("Your agent name"),
		),
		mcp.WithString("result_type",
			mcp.Required(),
			mcp.Description("Kind of result: implementation, analysis, report, decision"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Short title for the result"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The result body"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags, e.g. 'auth,backend'"),
		),
	)
}

// Handle processes the share_result tool call.
func (t *ShareResultTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sender := req.GetString("sender", "")
	resultType := req.GetString("result_type", "")
	title := req.GetString("title", "")
	content := req.GetString("content", "")
	if sender == "" || resultType == "" || title == "" || content == "" {
		return mcp.NewToolResultError("'sender', 'result_type', 'title' and 'content' are required"), nil
	}
	tags := stringSliceArg(req, "tags")

	resultID := uuid.NewString()
	if err := t.store.InsertResult(store.InsertResultParams{
		ResultID:   resultID,
		Sender:     sender,
		ResultType: resultType,
		Title:      title,
		Content:    content,
		Tags:       tags,
	}); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store result: %v", err)), nil
	}

	body, _ := json.Marshal(map[string]any{
		"result_id":   resultID,
		"result_type": resultType,
		"title":       title,
		"tags":        tags,
	})
	subject := fmt.Sprintf("results.%s.%s", resultType, sender)
	if _, err := t.broker.Publish(ctx, subject, broker.Envelope{Sender: sender, Message: body}); err != nil {
		// The durable record exists; the announcement is best effort.
		t.logger.Warn("result stored but announcement failed", zap.String("result_id", resultID), zap.Error(err))
		return mcp.NewToolResultText(fmt.Sprintf(
			"Result stored (ID: %s) but the stream announcement failed: %v", resultID, err)), nil
	}

	if err := t.store.InsertActivity(sender, "result_shared", title, resultType); err != nil {
		t.logger.Warn("activity log write failed", zap.Error(err))
	}

	return mcp.NewToolResultText(fmt.Sprintf("Result shared: %q (ID: %s)", title, resultID)), nil
}

// ─── GetAgentResultsTool ────────────────────────────────────────────────────

// GetAgentResultsTool handles the get_agent_results MCP tool.
type GetAgentResultsTool struct {
	store *store.Store
}

// NewGetAgentResultsTool creates a GetAgentResultsTool.
func NewGetAgentResultsTool(s *store.Store) *GetAgentResultsTool {
	return &GetAgentResultsTool{store: s}
}

// Definition returns the MCP tool definition for get_agent_results.
func (t *GetAgentResultsTool) Definition() mcp.Tool {
	return mcp.NewTool("get_agent_results",
		mcp.WithDescription("List results an agent has shared, newest first."),
		mcp.WithString("agent",
			mcp.Required(),
			mcp.Description("Agent name whose results to list"),
		),
		mcp.WithString("result_type",
			mcp.Description("Optional filter by result kind"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (default 10)"),
		),
	)
}

// Handle processes the get_agent_results tool call.
func (t *GetAgentResultsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent := req.GetString("agent", "")
	if agent == "" {
		return mcp.NewToolResultError("'agent' is required"), nil
	}

	results, err := t.store.ResultsForAgent(agent, req.GetString("result_type", ""), intArg(req, "limit", 10))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch results: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No shared results from %s", agent)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d result(s) from %s:\n", len(results), agent)
	for _, r := range results {
		fmt.Fprintf(&b, "- [%s] %s (%s)", r.ResultType, r.Title, r.CreatedAt)
		if len(r.Tags) > 0 {
			fmt.Fprintf(&b, " tags: %s", strings.Join(r.Tags, ", "))
		}
		fmt.Fprintf(&b, "\n  %s\n", store.Truncate(r.Content, 300))
	}
	return mcp.NewToolResultText(b.String()), nil
}
