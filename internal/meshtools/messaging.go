package meshtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"crewmesh/internal/broker"
)

// PublishMessageTool handles the publish_message MCP tool.
type PublishMessageTool struct {
	broker *broker.Client
}

// NewPublishMessageTool creates a PublishMessageTool.
func NewPublishMessageTool(b *broker.Client) *PublishMessageTool {
	return &PublishMessageTool{broker: b}
}

// Definition returns the MCP tool definition for publish_message.
func (t *PublishMessageTool) Definition() mcp.Tool {
	return mcp.NewTool("publish_message",
		mcp.WithDescription(
			"Publish a message to the shared coordination fabric so other agents can see it. "+
				"Subjects follow <category>.<subcategory>.<target>, e.g. requirements.task.alice.",
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Subject to publish on, e.g. 'requirements.task.alice' or 'integration.note.all'"),
		),
		mcp.WithString("sender",
			mcp.Required(),
			mcp.Description("Your agent name"),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Message body. JSON is passed through as-is; plain text is wrapped"),
		),
		mcp.WithString("metadata",
			mcp.Description("Optional JSON object of string routing fields"),
		),
	)
}

// Handle processes the publish_message tool call.
func (t *PublishMessageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subject := req.GetString("subject", "")
	sender := req.GetString("sender", "")
	message := req.GetString("message", "")

	if subject == "" || sender == "" || message == "" {
		return mcp.NewToolResultError("'subject', 'sender' and 'message' are required"), nil
	}

	fields, err := fieldsArg(req, "metadata")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	body := json.RawMessage(message)
	if !json.Valid(body) {
		wrapped, _ := json.Marshal(map[string]string{"text": message})
		body = wrapped
	}

	env := broker.Envelope{Sender: sender, Message: body}
	if len(fields) > 0 {
		env.Ext = broker.NewExtensions(fields)
	}

	seq, err := t.broker.Publish(ctx, subject, env)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to publish: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Published to %s (sequence %d)", subject, seq)), nil
}

// ─── GetMessagesTool ────────────────────────────────────────────────────────

// GetMessagesTool handles the get_messages MCP tool.
type GetMessagesTool struct {
	broker *broker.Client
}

// NewGetMessagesTool creates a GetMessagesTool.
func NewGetMessagesTool(b *broker.Client) *GetMessagesTool {
	return &GetMessagesTool{broker: b}
}

// Definition returns the MCP tool definition for get_messages.
func (t *GetMessagesTool) Definition() mcp.Tool {
	return mcp.NewTool("get_messages",
		mcp.WithDescription(
			"Read recent messages from a coordination stream. Returns whatever is available "+
				"within a short wait; an empty stream returns quickly with no entries.",
		),
		mcp.WithString("stream",
			mcp.Required(),
			mcp.Description("Stream to read: REQUIREMENTS, INTEGRATION, RESULTS or REVIEWS"),
		),
		mcp.WithString("subject_filter",
			mcp.Description("Subject filter, supports wildcards (e.g. 'reviews.request.*'). Empty reads the whole stream"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum messages to return (default 20, most recent kept)"),
		),
	)
}

// Handle processes the get_messages tool call.
func (t *GetMessagesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stream := strings.ToUpper(req.GetString("stream", ""))
	switch stream {
	case broker.StreamRequirements, broker.StreamIntegration, broker.StreamResults, broker.StreamReviews:
	default:
		return mcp.NewToolResultError("'stream' must be one of REQUIREMENTS, INTEGRATION, RESULTS, REVIEWS"), nil
	}

	filter := req.GetString("subject_filter", "")
	limit := intArg(req, "limit", 20)

	msgs, err := t.broker.Fetch(ctx, stream, filter, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch: %v", err)), nil
	}
	if len(msgs) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No messages on %s", stream)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d message(s) on %s:\n", len(msgs), stream)
	for _, m := range msgs {
		if m.Envelope == nil {
			fmt.Fprintf(&b, "[%d] %s (unparsed payload, %d bytes)\n", m.Sequence, m.Subject, len(m.Raw))
			continue
		}
		fmt.Fprintf(&b, "[%d] %s from %s at %s\n  %s\n",
			m.Sequence, m.Subject, m.Envelope.Sender,
			m.Envelope.Timestamp.Format("2006-01-02 15:04:05"),
			string(m.Envelope.Message),
		)
	}
	return mcp.NewToolResultText(b.String()), nil
}
