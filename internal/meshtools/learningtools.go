package meshtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"crewmesh/internal/store"
)

// GetMyLearningsTool handles the get_my_learnings MCP tool.
type GetMyLearningsTool struct {
	store *store.Store
}

// NewGetMyLearningsTool creates a GetMyLearningsTool.
func NewGetMyLearningsTool(s *store.Store) *GetMyLearningsTool {
	return &GetMyLearningsTool{store: s}
}

// Definition returns the MCP tool definition for get_my_learnings.
func (t *GetMyLearningsTool) Definition() mcp.Tool {
	return mcp.NewTool("get_my_learnings",
		mcp.WithDescription(
			"List the recurring patterns recorded from reviews you have performed, most "+
				"frequent first. Use this to stay consistent with issues you have flagged before.",
		),
		mcp.WithString("agent",
			mcp.Required(),
			mcp.Description("Your agent name"),
		),
		mcp.WithString("category",
			mcp.Description("Optional filter: testing, security, documentation, error_handling, performance, code_quality"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum learnings to return (default 10)"),
		),
	)
}

// Handle processes the get_my_learnings tool call.
func (t *GetMyLearningsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent := req.GetString("agent", "")
	if agent == "" {
		return mcp.NewToolResultError("'agent' is required"), nil
	}

	learnings, err := t.store.LearningsForAgent(agent, req.GetString("category", ""), intArg(req, "limit", 10))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch learnings: %v", err)), nil
	}
	if len(learnings) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No learnings recorded for %s", agent)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d learning(s) for %s:\n", len(learnings), agent)
	for _, l := range learnings {
		fmt.Fprintf(&b, "- [%s/%s, seen %dx] %s", l.Category, l.Severity, l.TimesSeen, l.Pattern)
		if l.Recommendation != "" {
			fmt.Fprintf(&b, "\n  Recommendation: %s", l.Recommendation)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ─── GetCommonIssuesTool ────────────────────────────────────────────────────

// GetCommonIssuesTool handles the get_common_issues MCP tool.
type GetCommonIssuesTool struct {
	store *store.Store
}

// NewGetCommonIssuesTool creates a GetCommonIssuesTool.
func NewGetCommonIssuesTool(s *store.Store) *GetCommonIssuesTool {
	return &GetCommonIssuesTool{store: s}
}

// Definition returns the MCP tool definition for get_common_issues.
func (t *GetCommonIssuesTool) Definition() mcp.Tool {
	return mcp.NewTool("get_common_issues",
		mcp.WithDescription(
			"List issues that keep recurring across all agents, most frequent first. "+
				"Useful for spotting team-wide blind spots.",
		),
		mcp.WithString("category",
			mcp.Description("Optional filter: testing, security, documentation, error_handling, performance, code_quality"),
		),
		mcp.WithNumber("min_occurrences",
			mcp.Description("Only include patterns seen at least this many times (default 2)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum issues to return (default 10)"),
		),
	)
}

// Handle processes the get_common_issues tool call.
func (t *GetCommonIssuesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issues, err := t.store.CommonIssues(
		req.GetString("category", ""),
		intArg(req, "min_occurrences", 2),
		intArg(req, "limit", 10),
	)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch common issues: %v", err)), nil
	}
	if len(issues) == 0 {
		return mcp.NewToolResultText("No recurring issues above the threshold"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d recurring issue(s):\n", len(issues))
	for _, i := range issues {
		fmt.Fprintf(&b, "- [%s] seen %dx across %d agent(s): %s", i.Category, i.Occurrences, i.Agents, i.Pattern)
		if i.Recommendation != "" {
			fmt.Fprintf(&b, "\n  Recommendation: %s", i.Recommendation)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ─── GetFileHistoryTool ─────────────────────────────────────────────────────

// GetFileHistoryTool handles the get_file_history MCP tool.
type GetFileHistoryTool struct {
	store *store.Store
}

// NewGetFileHistoryTool creates a GetFileHistoryTool.
func NewGetFileHistoryTool(s *store.Store) *GetFileHistoryTool {
	return &GetFileHistoryTool{store: s}
}

// Definition returns the MCP tool definition for get_file_history.
func (t *GetFileHistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("get_file_history",
		mcp.WithDescription("Show the review history of a file, newest first."),
		mcp.WithString("item_path",
			mcp.Required(),
			mcp.Description("Path of the file"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum records to return (default 10)"),
		),
	)
}

// Handle processes the get_file_history tool call.
func (t *GetFileHistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	itemPath := req.GetString("item_path", "")
	if itemPath == "" {
		return mcp.NewToolResultError("'item_path' is required"), nil
	}

	reviews, err := t.store.PastReviewsForItem(itemPath, intArg(req, "limit", 10))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch file history: %v", err)), nil
	}
	if len(reviews) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No review history for %s", itemPath)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d review(s) of %s:\n", len(reviews), itemPath)
	for _, r := range reviews {
		outcome := r.Status
		if r.Outcome != nil {
			outcome = *r.Outcome
		}
		fmt.Fprintf(&b, "- [%s] requested by %s from %s on %s", outcome, r.Requester, r.Reviewer, r.RequestedAt)
		if r.Summary != nil && *r.Summary != "" {
			fmt.Fprintf(&b, "\n  %s", store.Truncate(*r.Summary, 200))
		}
		for _, f := range r.Findings {
			fmt.Fprintf(&b, "\n  - (%s) %s", f.Severity, f.Message)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
