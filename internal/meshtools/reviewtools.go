package meshtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"crewmesh/internal/review"
)

// RequestReviewTool handles the request_review MCP tool.
type RequestReviewTool struct {
	coordinator *review.Coordinator
}

// NewRequestReviewTool creates a RequestReviewTool.
func NewRequestReviewTool(c *review.Coordinator) *RequestReviewTool {
	return &RequestReviewTool{coordinator: c}
}

// Definition returns the MCP tool definition for request_review.
func (t *RequestReviewTool) Definition() mcp.Tool {
	return mcp.NewTool("request_review",
		mcp.WithDescription(
			"Ask another agent to review your work. Publishes the request to the reviewer "+
				"and records it in shared history. Returns the review_id the reviewer must "+
				"pass back when submitting.",
		),
		mcp.WithString("requester",
			mcp.Required(),
			mcp.Description("Your agent name"),
		),
		mcp.WithString("reviewer",
			mcp.Required(),
			mcp.Description("Agent name to request the review from"),
		),
		mcp.WithString("item_path",
			mcp.Required(),
			mcp.Description("Path of the item to review, e.g. 'src/auth.py'"),
		),
		mcp.WithString("item_type",
			mcp.Description("What kind of item: file, design, plan (default: file)"),
		),
		mcp.WithString("description",
			mcp.Description("What to focus on in the review"),
		),
		mcp.WithString("priority",
			mcp.Description("low, normal or high (default: normal)"),
		),
	)
}

// Handle processes the request_review tool call.
func (t *RequestReviewTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reviewID, err := t.coordinator.Request(ctx, review.RequestParams{
		Requester:   req.GetString("requester", ""),
		Reviewer:    req.GetString("reviewer", ""),
		ItemType:    req.GetString("item_type", "file"),
		ItemPath:    req.GetString("item_path", ""),
		Description: req.GetString("description", ""),
		Priority:    req.GetString("priority", "normal"),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to request review: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Review requested (review_id: %s)", reviewID)), nil
}

// ─── SubmitReviewTool ───────────────────────────────────────────────────────

// SubmitReviewTool handles the submit_review MCP tool.
type SubmitReviewTool struct {
	coordinator *review.Coordinator
}

// NewSubmitReviewTool creates a SubmitReviewTool.
func NewSubmitReviewTool(c *review.Coordinator) *SubmitReviewTool {
	return &SubmitReviewTool{coordinator: c}
}

// Definition returns the MCP tool definition for submit_review.
func (t *SubmitReviewTool) Definition() mcp.Tool {
	return mcp.NewTool("submit_review",
		mcp.WithDescription(
			"Submit the outcome of a review you performed. The requester is notified over "+
				"messaging; with a review_id the outcome also enters persistent history and, "+
				"for changes_requested or rejected outcomes with findings, feeds the learning "+
				"store. Without a review_id the outcome is broadcast but NOT recorded.",
		),
		mcp.WithString("requester",
			mcp.Required(),
			mcp.Description("Agent name that asked for the review"),
		),
		mcp.WithString("reviewer",
			mcp.Required(),
			mcp.Description("Your agent name"),
		),
		mcp.WithString("item_path",
			mcp.Required(),
			mcp.Description("Path of the reviewed item"),
		),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Description("approved, changes_requested, needs_discussion or rejected"),
		),
		mcp.WithString("findings",
			mcp.Description(`JSON array of findings: [{"severity":"high","location":"file:line","message":"...","suggestion":"..."}]`),
		),
		mcp.WithString("summary",
			mcp.Description("Short overall assessment"),
		),
		mcp.WithString("review_id",
			mcp.Description("The review_id from the original request. Omitting it skips persistence"),
		),
	)
}

// Handle processes the submit_review tool call.
func (t *SubmitReviewTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	findings, err := findingsArg(req, "findings")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p := review.SubmitParams{
		Requester: req.GetString("requester", ""),
		Reviewer:  req.GetString("reviewer", ""),
		ItemPath:  req.GetString("item_path", ""),
		Status:    req.GetString("status", ""),
		Findings:  findings,
		Summary:   req.GetString("summary", ""),
		ReviewID:  req.GetString("review_id", ""),
	}
	if err := t.coordinator.Submit(ctx, p); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to submit review: %v", err)), nil
	}

	response := fmt.Sprintf("Review submitted: %s for %s (%d findings)", p.Status, p.ItemPath, len(findings))
	if p.ReviewID == "" {
		response += "\nNote: no review_id given, so the outcome was broadcast but not recorded in history."
	}
	return mcp.NewToolResultText(response), nil
}

// ─── GetPendingReviewsTool ──────────────────────────────────────────────────

// GetPendingReviewsTool handles the get_pending_reviews MCP tool.
type GetPendingReviewsTool struct {
	coordinator *review.Coordinator
}

// NewGetPendingReviewsTool creates a GetPendingReviewsTool.
func NewGetPendingReviewsTool(c *review.Coordinator) *GetPendingReviewsTool {
	return &GetPendingReviewsTool{coordinator: c}
}

// Definition returns the MCP tool definition for get_pending_reviews.
func (t *GetPendingReviewsTool) Definition() mcp.Tool {
	return mcp.NewTool("get_pending_reviews",
		mcp.WithDescription(
			"List review requests recently addressed to you. This reads the message stream, "+
				"so it reflects requests within the retention window, including ones already answered.",
		),
		mcp.WithString("agent",
			mcp.Required(),
			mcp.Description("Your agent name"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum requests to return (default 20)"),
		),
	)
}

// Handle processes the get_pending_reviews tool call.
func (t *GetPendingReviewsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent := req.GetString("agent", "")
	if agent == "" {
		return mcp.NewToolResultError("'agent' is required"), nil
	}

	pending, err := t.coordinator.Pending(ctx, agent, intArg(req, "limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch pending reviews: %v", err)), nil
	}
	if len(pending) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No pending review requests for %s", agent)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d review request(s) for %s:\n", len(pending), agent)
	for _, p := range pending {
		fmt.Fprintf(&b, "- [%s] %s %s from %s (review_id: %s)\n",
			p.Priority, p.ItemType, p.ItemPath, p.Requester, p.ReviewID)
		if p.Description != "" {
			fmt.Fprintf(&b, "  %s\n", p.Description)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}
