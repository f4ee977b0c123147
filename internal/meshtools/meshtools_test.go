package meshtools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	natsserver "github.com/nats-io/nats-server/v2/server"

	"crewmesh/internal/briefing"
	"crewmesh/internal/broker"
	"crewmesh/internal/learning"
	"crewmesh/internal/review"
	"crewmesh/internal/status"
	"crewmesh/internal/store"
)

// testEnv wires the full service stack against an embedded broker and a
// temp-dir store.
type testEnv struct {
	broker      *broker.Client
	store       *store.Store
	coordinator *review.Coordinator
	board       *status.Board
	assembler   *briefing.Assembler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	opts := &natsserver.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not start")
	}
	t.Cleanup(srv.Shutdown)

	b := broker.New(srv.ClientURL(), nil, broker.WithFetchWait(500*time.Millisecond))
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("broker connect: %v", err)
	}
	t.Cleanup(b.Close)

	s, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ex := learning.NewExtractor(s, nil, nil)
	return &testEnv{
		broker:      b,
		store:       s,
		coordinator: review.New(b, s, ex, nil),
		board:       status.New(b, 0, nil),
		assembler:   briefing.New(s),
	}
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", result.Content[0])
	}
	return tc.Text
}

func requireOK(t *testing.T, result *mcp.CallToolResult, err error) string {
	t.Helper()
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", resultText(t, result))
	}
	return resultText(t, result)
}

func TestPublishAndGetMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pub := NewPublishMessageTool(env.broker)
	pubRes, pubErr := pub.Handle(ctx, makeReq(map[string]any{
		"subject": "requirements.task.alice",
		"sender":  "bob",
		"message": "please build the login form",
	}))
	out := requireOK(t, pubRes, pubErr)
	if !strings.Contains(out, "sequence 1") {
		t.Errorf("publish output missing sequence: %s", out)
	}

	get := NewGetMessagesTool(env.broker)
	getRes, getErr := get.Handle(ctx, makeReq(map[string]any{
		"stream": "REQUIREMENTS",
	}))
	out = requireOK(t, getRes, getErr)
	if !strings.Contains(out, "from bob") || !strings.Contains(out, "login form") {
		t.Errorf("fetch output missing message: %s", out)
	}
}

func TestPublishMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	pub := NewPublishMessageTool(env.broker)

	result, err := pub.Handle(context.Background(), makeReq(map[string]any{"subject": "requirements.x.y"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("missing sender/message should be a tool error")
	}
}

func TestGetMessagesUnknownStream(t *testing.T) {
	env := newTestEnv(t)
	get := NewGetMessagesTool(env.broker)

	result, err := get.Handle(context.Background(), makeReq(map[string]any{"stream": "BOGUS"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("unknown stream should be a tool error")
	}
}

// TestReviewScenario walks the full review lifecycle through the tools:
// request, pending listing, submission with findings, then history and
// learnings reads.
func TestReviewScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	request := NewRequestReviewTool(env.coordinator)
	reqRes, reqErr := request.Handle(ctx, makeReq(map[string]any{
		"requester": "agent-a",
		"reviewer":  "Q",
		"item_path": "src/auth.py",
		"priority":  "high",
	}))
	out := requireOK(t, reqRes, reqErr)
	const prefix = "Review requested (review_id: "
	if !strings.HasPrefix(out, prefix) {
		t.Fatalf("unexpected request output: %s", out)
	}
	reviewID := strings.TrimSuffix(strings.TrimPrefix(out, prefix), ")")

	pending := NewGetPendingReviewsTool(env.coordinator)
	pendRes, pendErr := pending.Handle(ctx, makeReq(map[string]any{"agent": "Q"}))
	out = requireOK(t, pendRes, pendErr)
	if !strings.Contains(out, "src/auth.py") || !strings.Contains(out, reviewID) {
		t.Errorf("pending output missing request: %s", out)
	}

	submit := NewSubmitReviewTool(env.coordinator)
	subRes, subErr := submit.Handle(ctx, makeReq(map[string]any{
		"requester": "agent-a",
		"reviewer":  "Q",
		"item_path": "src/auth.py",
		"status":    "changes_requested",
		"findings":  `[{"severity":"high","message":"Missing test for expired token"}]`,
		"summary":   "token expiry is untested",
		"review_id": reviewID,
	}))
	requireOK(t, subRes, subErr)

	history := NewGetFileHistoryTool(env.store)
	histRes, histErr := history.Handle(ctx, makeReq(map[string]any{"item_path": "src/auth.py"}))
	out = requireOK(t, histRes, histErr)
	if !strings.Contains(out, "changes_requested") || !strings.Contains(out, "Missing test for expired token") {
		t.Errorf("history output missing outcome: %s", out)
	}

	mine := NewGetMyLearningsTool(env.store)
	mineRes, mineErr := mine.Handle(ctx, makeReq(map[string]any{
		"agent":    "Q",
		"category": "testing",
	}))
	out = requireOK(t, mineRes, mineErr)
	if !strings.Contains(out, "seen 1x") || !strings.Contains(out, "Missing test for expired token") {
		t.Errorf("learnings output missing pattern: %s", out)
	}
}

func TestSubmitReviewBadFindings(t *testing.T) {
	env := newTestEnv(t)
	submit := NewSubmitReviewTool(env.coordinator)

	result, err := submit.Handle(context.Background(), makeReq(map[string]any{
		"requester": "a",
		"reviewer":  "b",
		"item_path": "x.go",
		"status":    "approved",
		"findings":  "not an array",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("malformed findings should be a tool error")
	}
}

func TestSubmitReviewWithoutIDWarnsInOutput(t *testing.T) {
	env := newTestEnv(t)
	submit := NewSubmitReviewTool(env.coordinator)

	subRes, subErr := submit.Handle(context.Background(), makeReq(map[string]any{
		"requester": "agent-a",
		"reviewer":  "Q",
		"item_path": "src/auth.py",
		"status":    "approved",
	}))
	out := requireOK(t, subRes, subErr)
	if !strings.Contains(out, "not recorded") {
		t.Errorf("output should call out the missing review_id: %s", out)
	}
}

func TestShareAndGetResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	share := NewShareResultTool(env.broker, env.store, nil)
	shareRes, shareErr := share.Handle(ctx, makeReq(map[string]any{
		"sender":      "coder",
		"result_type": "implementation",
		"title":       "auth module",
		"content":     "login and logout endpoints are done",
		"tags":        "auth,backend",
	}))
	out := requireOK(t, shareRes, shareErr)
	if !strings.Contains(out, "Result shared") {
		t.Errorf("unexpected share output: %s", out)
	}

	get := NewGetAgentResultsTool(env.store)
	getRes, getErr := get.Handle(ctx, makeReq(map[string]any{"agent": "coder"}))
	out = requireOK(t, getRes, getErr)
	if !strings.Contains(out, "auth module") || !strings.Contains(out, "auth, backend") {
		t.Errorf("results output missing entry: %s", out)
	}

	// The announcement landed on the results stream too.
	msgs, err := env.broker.Fetch(ctx, broker.StreamResults, "results.implementation.coder", 10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d stream announcements, want 1", len(msgs))
	}
}

func TestStatusTools(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bcast := NewBroadcastStatusTool(env.board)
	b1Res, b1Err := bcast.Handle(ctx, makeReq(map[string]any{
		"agent":        "alice",
		"status":       "working",
		"current_task": "auth module",
		"progress":     float64(40),
	}))
	requireOK(t, b1Res, b1Err)
	b2Res, b2Err := bcast.Handle(ctx, makeReq(map[string]any{
		"agent":    "alice",
		"status":   "completed",
		"progress": float64(100),
	}))
	requireOK(t, b2Res, b2Err)

	all := NewGetAllAgentStatusesTool(env.board)
	allRes, allErr := all.Handle(ctx, makeReq(nil))
	out := requireOK(t, allRes, allErr)
	if !strings.Contains(out, "alice: completed (100%)") {
		t.Errorf("statuses should reduce to latest per agent: %s", out)
	}
	if strings.Contains(out, "working") {
		t.Errorf("stale status leaked into output: %s", out)
	}
}

func TestContextTools(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reviewCtx := NewGetReviewContextTool(env.assembler)
	rcRes, rcErr := reviewCtx.Handle(ctx, makeReq(map[string]any{
		"reviewer":  "Q",
		"item_path": "never/seen.go",
	}))
	out := requireOK(t, rcRes, rcErr)
	if out != briefing.NoHistorySentinel {
		t.Errorf("fresh file should return the sentinel, got: %s", out)
	}

	// Seed one negative review and read the coder side.
	if err := env.store.InsertReview(store.InsertReviewParams{
		ReviewID: "rev-1", Requester: "coder", Reviewer: "Q",
		ItemType: "file", ItemPath: "pkg/auth.go",
	}); err != nil {
		t.Fatalf("InsertReview: %v", err)
	}
	if err := env.store.CompleteReview("rev-1", store.OutcomeChangesRequested, []store.Finding{
		{Severity: "high", Message: "SQL injection risk"},
	}, "fix injection"); err != nil {
		t.Fatalf("CompleteReview: %v", err)
	}

	coderCtx := NewGetCoderContextTool(env.assembler)
	ccRes, ccErr := coderCtx.Handle(ctx, makeReq(map[string]any{
		"coder":     "coder",
		"item_path": "pkg/auth.go",
	}))
	out = requireOK(t, ccRes, ccErr)
	if !strings.Contains(out, "SQL injection risk") {
		t.Errorf("coder context missing finding: %s", out)
	}
}

func TestCommonIssuesTool(t *testing.T) {
	env := newTestEnv(t)

	for _, agent := range []string{"a", "b"} {
		if err := env.store.UpsertLearning(store.UpsertLearningParams{
			Agent: agent, Category: "testing", Pattern: "no test coverage",
		}); err != nil {
			t.Fatalf("UpsertLearning: %v", err)
		}
	}

	tool := NewGetCommonIssuesTool(env.store)
	toolRes, toolErr := tool.Handle(context.Background(), makeReq(map[string]any{}))
	out := requireOK(t, toolRes, toolErr)
	if !strings.Contains(out, "no test coverage") || !strings.Contains(out, "2 agent(s)") {
		t.Errorf("common issues output: %s", out)
	}
}

func TestIntArg(t *testing.T) {
	req := makeReq(map[string]any{"limit": float64(7)})
	if got := intArg(req, "limit", 3); got != 7 {
		t.Errorf("intArg = %d, want 7", got)
	}
	if got := intArg(req, "missing", 3); got != 3 {
		t.Errorf("intArg default = %d, want 3", got)
	}
}

func TestStringSliceArg(t *testing.T) {
	req := makeReq(map[string]any{
		"csv":   "a, b ,c",
		"array": []any{"x", "y"},
	})
	if got := stringSliceArg(req, "csv"); len(got) != 3 || got[1] != "b" {
		t.Errorf("csv parse = %v", got)
	}
	if got := stringSliceArg(req, "array"); len(got) != 2 || got[0] != "x" {
		t.Errorf("array parse = %v", got)
	}
	if got := stringSliceArg(req, "missing"); got != nil {
		t.Errorf("missing = %v, want nil", got)
	}
}
