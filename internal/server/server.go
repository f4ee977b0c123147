// Package server wires all components and creates the MCP server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools that depend on them. No business logic
// lives here, only wiring.
package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"crewmesh/internal/briefing"
	"crewmesh/internal/broker"
	"crewmesh/internal/config"
	"crewmesh/internal/learning"
	"crewmesh/internal/meshtools"
	"crewmesh/internal/review"
	"crewmesh/internal/status"
	"crewmesh/internal/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server with every coordination tool registered.
// This is the single place where all dependencies are resolved.
//
// The returned cleanup function closes the broker connection and the
// store and must be called on shutdown (typically via defer). It is
// always non-nil and safe to call even when initialization failed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*server.MCPServer, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// --- Create shared dependencies ---

	b := broker.New(cfg.NATSURL, logger, broker.WithFetchWait(cfg.FetchWait))
	if err := b.Connect(ctx); err != nil {
		return nil, noop, fmt.Errorf("connecting broker: %w", err)
	}

	st, err := store.New(store.Config{DataDir: cfg.DataDir})
	if err != nil {
		b.Close()
		return nil, noop, fmt.Errorf("opening store: %w", err)
	}

	cleanup := func() {
		b.Close()
		if err := st.Close(); err != nil {
			logger.Warn("store close", zap.Error(err))
		}
	}

	extractor := learning.NewExtractor(st, learning.NewKeywordClassifier(), logger)
	coordinator := review.New(b, st, extractor, logger)
	board := status.New(b, cfg.StatusWindow, logger)
	assembler := briefing.New(st)

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"crewmesh",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register messaging tools ---

	publishTool := meshtools.NewPublishMessageTool(b)
	s.AddTool(publishTool.Definition(), publishTool.Handle)

	messagesTool := meshtools.NewGetMessagesTool(b)
	s.AddTool(messagesTool.Definition(), messagesTool.Handle)

	// --- Register review tools ---

	requestTool := meshtools.NewRequestReviewTool(coordinator)
	s.AddTool(requestTool.Definition(), requestTool.Handle)

	submitTool := meshtools.NewSubmitReviewTool(coordinator)
	s.AddTool(submitTool.Definition(), submitTool.Handle)

	pendingTool := meshtools.NewGetPendingReviewsTool(coordinator)
	s.AddTool(pendingTool.Definition(), pendingTool.Handle)

	// --- Register result tools ---

	shareTool := meshtools.NewShareResultTool(b, st, logger)
	s.AddTool(shareTool.Definition(), shareTool.Handle)

	resultsTool := meshtools.NewGetAgentResultsTool(st)
	s.AddTool(resultsTool.Definition(), resultsTool.Handle)

	// --- Register status tools ---

	broadcastTool := meshtools.NewBroadcastStatusTool(board)
	s.AddTool(broadcastTool.Definition(), broadcastTool.Handle)

	statusesTool := meshtools.NewGetAllAgentStatusesTool(board)
	s.AddTool(statusesTool.Definition(), statusesTool.Handle)

	// --- Register context and learning tools ---

	reviewCtxTool := meshtools.NewGetReviewContextTool(assembler)
	s.AddTool(reviewCtxTool.Definition(), reviewCtxTool.Handle)

	coderCtxTool := meshtools.NewGetCoderContextTool(assembler)
	s.AddTool(coderCtxTool.Definition(), coderCtxTool.Handle)

	learningsTool := meshtools.NewGetMyLearningsTool(st)
	s.AddTool(learningsTool.Definition(), learningsTool.Handle)

	issuesTool := meshtools.NewGetCommonIssuesTool(st)
	s.AddTool(issuesTool.Definition(), issuesTool.Handle)

	historyTool := meshtools.NewGetFileHistoryTool(st)
	s.AddTool(historyTool.Definition(), historyTool.Handle)

	return s, cleanup, nil
}

// noop is the default cleanup when initialization failed.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to use the coordination layer effectively.
func serverInstructions() string {
	return `You have access to crewmesh, a coordination layer shared by all agents
working on this project. Messages and reviews published here are visible to the
other agents and survive between sessions.

## Identity
Every tool takes your agent name. Pick one name per role (e.g. "coder",
"reviewer", "architect") and use it consistently, it is how history and
learnings are attributed.

## Coordinating work
- broadcast_status when you start, finish or get blocked on a task, so other
  agents can plan around you. get_all_agent_statuses shows everyone's latest state.
- publish_message / get_messages for free-form coordination on the
  REQUIREMENTS and INTEGRATION streams.
- share_result when you complete an artifact worth keeping: it is stored
  durably and announced to the other agents.

## Reviews
1. request_review to ask another agent to review your work. Keep the returned
   review_id.
2. The reviewer calls get_pending_reviews to find requests, and SHOULD call
   get_review_context first: it surfaces past outcomes for the file and
   patterns they have flagged before.
3. submit_review with the review_id. ALWAYS pass the review_id: without it the
   outcome is broadcast but never recorded. Findings on changes_requested or
   rejected outcomes feed the shared learning store automatically.

## Learning from history
- get_coder_context BEFORE modifying a file that may have review history: it
  lists past rejections and high-severity warnings for that file.
- get_my_learnings shows the patterns you have flagged repeatedly.
- get_common_issues shows what the whole team keeps getting wrong.
- get_file_history shows every review a file has been through.

Prefer checking history before acting over rediscovering known issues.`
}
