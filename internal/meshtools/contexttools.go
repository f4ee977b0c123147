package meshtools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"crewmesh/internal/briefing"
)

// GetReviewContextTool handles the get_review_context MCP tool.
type GetReviewContextTool struct {
	assembler *briefing.Assembler
}

// NewGetReviewContextTool creates a GetReviewContextTool.
func NewGetReviewContextTool(a *briefing.Assembler) *GetReviewContextTool {
	return &GetReviewContextTool{assembler: a}
}

// Definition returns the MCP tool definition for get_review_context.
func (t *GetReviewContextTool) Definition() mcp.Tool {
	return mcp.NewTool("get_review_context",
		mcp.WithDescription(
			"Get historical context before reviewing a file: past review outcomes, known "+
				"issues in the file, and patterns you have flagged before. Call this before "+
				"starting a review.",
		),
		mcp.WithString("reviewer",
			mcp.Required(),
			mcp.Description("Your agent name"),
		),
		mcp.WithString("item_path",
			mcp.Required(),
			mcp.Description("Path of the item about to be reviewed"),
		),
	)
}

// Handle processes the get_review_context tool call.
func (t *GetReviewContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reviewer := req.GetString("reviewer", "")
	itemPath := req.GetString("item_path", "")
	if reviewer == "" || itemPath == "" {
		return mcp.NewToolResultError("'reviewer' and 'item_path' are required"), nil
	}

	out, err := t.assembler.ReviewContext(reviewer, itemPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to assemble review context: %v", err)), nil
	}
	return mcp.NewToolResultText(out), nil
}

// ─── GetCoderContextTool ────────────────────────────────────────────────────

// GetCoderContextTool handles the get_coder_context MCP tool.
type GetCoderContextTool struct {
	assembler *briefing.Assembler
}

// NewGetCoderContextTool creates a GetCoderContextTool.
func NewGetCoderContextTool(a *briefing.Assembler) *GetCoderContextTool {
	return &GetCoderContextTool{assembler: a}
}

// Definition returns the MCP tool definition for get_coder_context.
func (t *GetCoderContextTool) Definition() mcp.Tool {
	return mcp.NewTool("get_coder_context",
		mcp.WithDescription(
			"Get warnings before modifying a file: past reviews that requested changes and "+
				"high-severity issues found there before. Call this before editing a file with history.",
		),
		mcp.WithString("coder",
			mcp.Required(),
			mcp.Description("Your agent name"),
		),
		mcp.WithString("item_path",
			mcp.Required(),
			mcp.Description("Path of the file about to be modified"),
		),
	)
}

// Handle processes the get_coder_context tool call.
func (t *GetCoderContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	coder := req.GetString("coder", "")
	itemPath := req.GetString("item_path", "")
	if coder == "" || itemPath == "" {
		return mcp.NewToolResultError("'coder' and 'item_path' are required"), nil
	}

	out, err := t.assembler.CoderContext(coder, itemPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to assemble coder context: %v", err)), nil
	}
	return mcp.NewToolResultText(out), nil
}
