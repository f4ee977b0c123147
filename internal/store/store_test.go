package store

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertTestReview(t *testing.T, s *Store, id, reviewer, path string) {
	t.Helper()
	err := s.InsertReview(InsertReviewParams{
		ReviewID:  id,
		Requester: "coder",
		Reviewer:  reviewer,
		ItemType:  "file",
		ItemPath:  path,
		Priority:  "normal",
	})
	if err != nil {
		t.Fatalf("InsertReview: %v", err)
	}
}

func TestInsertAndGetReview(t *testing.T) {
	s := newTestStore(t)
	insertTestReview(t, s, "rev-1", "reviewer", "pkg/auth/login.go")

	r, err := s.GetReview("rev-1")
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("status = %q, want %q", r.Status, StatusPending)
	}
	if r.Outcome != nil {
		t.Errorf("outcome = %v, want nil before completion", *r.Outcome)
	}
	if r.RequestedAt == "" {
		t.Error("requested_at not set")
	}
}

func TestInsertReviewRequiresID(t *testing.T) {
	s := newTestStore(t)
	err := s.InsertReview(InsertReviewParams{Requester: "a", Reviewer: "b"})
	if err == nil {
		t.Fatal("expected error for missing review_id")
	}
}

func TestCompleteReview(t *testing.T) {
	s := newTestStore(t)
	insertTestReview(t, s, "rev-1", "reviewer", "pkg/auth/login.go")

	findings := []Finding{
		{Severity: "high", Location: "login.go:42", Message: "missing input validation", Suggestion: "validate before use"},
	}
	if err := s.CompleteReview("rev-1", OutcomeChangesRequested, findings, "needs work"); err != nil {
		t.Fatalf("CompleteReview: %v", err)
	}

	r, err := s.GetReview("rev-1")
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if r.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", r.Status, StatusCompleted)
	}
	if r.Outcome == nil || *r.Outcome != OutcomeChangesRequested {
		t.Errorf("outcome = %v, want changes_requested", r.Outcome)
	}
	if len(r.Findings) != 1 || r.Findings[0].Message != "missing input validation" {
		t.Errorf("findings round-trip failed: %+v", r.Findings)
	}
	if r.RespondedAt == nil {
		t.Error("responded_at not set")
	}
	if !r.Negative() {
		t.Error("changes_requested should be a negative outcome")
	}
}

func TestCompleteReviewUnknownID(t *testing.T) {
	s := newTestStore(t)
	if err := s.CompleteReview("nope", OutcomeApproved, nil, ""); err == nil {
		t.Fatal("expected error for unknown review_id")
	}
}

func TestCompleteReviewTwiceOverwrites(t *testing.T) {
	s := newTestStore(t)
	insertTestReview(t, s, "rev-1", "reviewer", "pkg/a.go")

	if err := s.CompleteReview("rev-1", OutcomeChangesRequested, nil, "first"); err != nil {
		t.Fatalf("first CompleteReview: %v", err)
	}
	if err := s.CompleteReview("rev-1", OutcomeApproved, nil, "second"); err != nil {
		t.Fatalf("second CompleteReview: %v", err)
	}

	r, _ := s.GetReview("rev-1")
	if r.Outcome == nil || *r.Outcome != OutcomeApproved {
		t.Errorf("second completion should overwrite, outcome = %v", r.Outcome)
	}
}

func TestPastReviewsForItem(t *testing.T) {
	s := newTestStore(t)
	insertTestReview(t, s, "rev-1", "reviewer", "pkg/a.go")
	insertTestReview(t, s, "rev-2", "reviewer", "pkg/a.go")
	insertTestReview(t, s, "rev-3", "reviewer", "pkg/other.go")

	got, err := s.PastReviewsForItem("pkg/a.go", 10)
	if err != nil {
		t.Fatalf("PastReviewsForItem: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d reviews, want 2", len(got))
	}
	// Newest first.
	if got[0].ReviewID != "rev-2" {
		t.Errorf("got[0] = %s, want rev-2", got[0].ReviewID)
	}
}

func TestUpsertLearningDedup(t *testing.T) {
	s := newTestStore(t)
	p := UpsertLearningParams{
		Agent:    "reviewer",
		Category: "security",
		Pattern:  "SQL injection risk in query builder",
		Severity: "high",
	}
	if err := s.UpsertLearning(p); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertLearning(p); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	learnings, err := s.LearningsForAgent("reviewer", "", 10)
	if err != nil {
		t.Fatalf("LearningsForAgent: %v", err)
	}
	if len(learnings) != 1 {
		t.Fatalf("got %d rows, want 1 deduplicated row", len(learnings))
	}
	if learnings[0].TimesSeen != 2 {
		t.Errorf("times_seen = %d, want 2", learnings[0].TimesSeen)
	}
}

func TestUpsertLearningDistinctAgents(t *testing.T) {
	s := newTestStore(t)
	for _, agent := range []string{"alice", "bob"} {
		err := s.UpsertLearning(UpsertLearningParams{
			Agent: agent, Category: "testing", Pattern: "missing edge case coverage",
		})
		if err != nil {
			t.Fatalf("upsert for %s: %v", agent, err)
		}
	}

	for _, agent := range []string{"alice", "bob"} {
		got, err := s.LearningsForAgent(agent, "", 10)
		if err != nil {
			t.Fatalf("LearningsForAgent(%s): %v", agent, err)
		}
		if len(got) != 1 || got[0].TimesSeen != 1 {
			t.Errorf("%s: got %d rows (times_seen=%v), want separate rows per agent", agent, len(got), got)
		}
	}
}

func TestLearningsForAgentCategoryFilter(t *testing.T) {
	s := newTestStore(t)
	_ = s.UpsertLearning(UpsertLearningParams{Agent: "r", Category: "security", Pattern: "p1"})
	_ = s.UpsertLearning(UpsertLearningParams{Agent: "r", Category: "testing", Pattern: "p2"})

	got, err := s.LearningsForAgent("r", "security", 10)
	if err != nil {
		t.Fatalf("LearningsForAgent: %v", err)
	}
	if len(got) != 1 || got[0].Category != "security" {
		t.Errorf("category filter failed: %+v", got)
	}
}

func TestLearningsForItem(t *testing.T) {
	s := newTestStore(t)
	insertTestReview(t, s, "rev-1", "reviewer", "pkg/a.go")
	_ = s.UpsertLearning(UpsertLearningParams{
		Agent: "reviewer", Category: "security", Pattern: "hardcoded secret",
		SourceReviewID: "rev-1",
	})
	_ = s.UpsertLearning(UpsertLearningParams{
		Agent: "reviewer", Category: "testing", Pattern: "unrelated", SourceReviewID: "rev-other",
	})

	got, err := s.LearningsForItem("pkg/a.go", 10)
	if err != nil {
		t.Fatalf("LearningsForItem: %v", err)
	}
	if len(got) != 1 || got[0].Pattern != "hardcoded secret" {
		t.Errorf("item join failed: %+v", got)
	}
}

func TestCommonIssues(t *testing.T) {
	s := newTestStore(t)
	// Same pattern seen by two agents plus a repeat: 3 occurrences total.
	_ = s.UpsertLearning(UpsertLearningParams{Agent: "a", Category: "testing", Pattern: "no test coverage"})
	_ = s.UpsertLearning(UpsertLearningParams{Agent: "a", Category: "testing", Pattern: "no test coverage"})
	_ = s.UpsertLearning(UpsertLearningParams{Agent: "b", Category: "testing", Pattern: "no test coverage"})
	// Single occurrence, below the default threshold.
	_ = s.UpsertLearning(UpsertLearningParams{Agent: "a", Category: "security", Pattern: "rare issue"})

	got, err := s.CommonIssues("", 2, 10)
	if err != nil {
		t.Fatalf("CommonIssues: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d issues, want 1 above threshold", len(got))
	}
	if got[0].Occurrences != 3 || got[0].Agents != 2 {
		t.Errorf("aggregate = %+v, want 3 occurrences across 2 agents", got[0])
	}
}

func TestInsertAndFetchResults(t *testing.T) {
	s := newTestStore(t)
	err := s.InsertResult(InsertResultParams{
		ResultID:   "res-1",
		Sender:     "coder",
		ResultType: "implementation",
		Title:      "auth module",
		Content:    "done",
		Tags:       []string{"auth", "backend"},
	})
	if err != nil {
		t.Fatalf("InsertResult: %v", err)
	}

	got, err := s.ResultsForAgent("coder", "", 10)
	if err != nil {
		t.Fatalf("ResultsForAgent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if len(got[0].Tags) != 2 || got[0].Tags[0] != "auth" {
		t.Errorf("tags round-trip failed: %+v", got[0].Tags)
	}

	filtered, err := s.ResultsForAgent("coder", "analysis", 10)
	if err != nil {
		t.Fatalf("ResultsForAgent filtered: %v", err)
	}
	if len(filtered) != 0 {
		t.Errorf("type filter failed: %+v", filtered)
	}
}

func TestInsertActivity(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertActivity("coder", "review_requested", "review of pkg/a.go", ""); err != nil {
		t.Fatalf("InsertActivity: %v", err)
	}
}

func TestNormalizeSeverity(t *testing.T) {
	cases := map[string]string{
		"HIGH":     "high",
		"critical": "critical",
		"low":      "low",
		"":         "medium",
		"bogus":    "medium",
	}
	for in, want := range cases {
		if got := NormalizeSeverity(in); got != want {
			t.Errorf("NormalizeSeverity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("a very long string", 6); got != "a very..." {
		t.Errorf("Truncate long = %q", got)
	}
}
