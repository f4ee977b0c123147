// Package store implements the embedded persistence layer for the
// coordination fabric.
//
// It uses SQLite to keep the append-only review history, the deduplicated
// learnings derived from review findings, shared result artifacts, and the
// activity audit trail. All writes are single-statement, auto-committing
// operations; concurrent writers across processes rely on SQLite's own
// busy-timeout behavior.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// Review statuses and outcomes.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"

	OutcomeApproved         = "approved"
	OutcomeChangesRequested = "changes_requested"
	OutcomeNeedsDiscussion  = "needs_discussion"
	OutcomeRejected         = "rejected"
)

// Finding is one discrete issue reported inside a review response. It is
// always owned by exactly one review and never independently addressable.
type Finding struct {
	Severity   string `json:"severity"`
	Location   string `json:"location,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Review is one review request and, once completed, its outcome.
// Records are append-only history: created by a request, mutated exactly
// once by the matching submission, never deleted.
type Review struct {
	ReviewID    string    `json:"review_id"`
	Requester   string    `json:"requester"`
	Reviewer    string    `json:"reviewer"`
	ItemType    string    `json:"item_type"`
	ItemPath    string    `json:"item_path"`
	Description string    `json:"description,omitempty"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	Outcome     *string   `json:"outcome,omitempty"`
	Findings    []Finding `json:"findings,omitempty"`
	Summary     *string   `json:"summary,omitempty"`
	RequestedAt string    `json:"requested_at"`
	RespondedAt *string   `json:"responded_at,omitempty"`
}

// Negative reports whether the review concluded with a negative outcome.
func (r *Review) Negative() bool {
	return r.Outcome != nil && IsNegativeOutcome(*r.Outcome)
}

// IsNegativeOutcome reports whether an outcome should feed the learning
// extraction pipeline.
func IsNegativeOutcome(outcome string) bool {
	return outcome == OutcomeChangesRequested || outcome == OutcomeRejected
}

// Learning is a frequency-counted generalization of one or more findings,
// attributed to the reviewing agent and keyed by (agent, pattern).
type Learning struct {
	ID             int64  `json:"id"`
	Agent          string `json:"agent"`
	Category       string `json:"category"`
	Pattern        string `json:"pattern"`
	Recommendation string `json:"recommendation,omitempty"`
	Severity       string `json:"severity"`
	SourceReviewID string `json:"source_review_id,omitempty"`
	TimesSeen      int    `json:"times_seen"`
	LastSeenAt     string `json:"last_seen_at"`
}

// UpsertLearningParams holds the input for recording one learning occurrence.
type UpsertLearningParams struct {
	Agent          string
	Category       string
	Pattern        string
	Recommendation string
	Severity       string
	SourceReviewID string
}

// CommonIssue aggregates a recurring pattern across all agents.
type CommonIssue struct {
	Category       string `json:"category"`
	Pattern        string `json:"pattern"`
	Recommendation string `json:"recommendation,omitempty"`
	Occurrences    int    `json:"occurrences"`
	Agents         int    `json:"agents"`
}

// Result is a terminal, immutable shared artifact record.
type Result struct {
	ResultID   string   `json:"result_id"`
	Sender     string   `json:"sender"`
	ResultType string   `json:"result_type"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

// ActivityEntry is one row of the append-only audit trail.
type ActivityEntry struct {
	Agent           string `json:"agent"`
	ActivityType    string `json:"activity_type"`
	TaskDescription string `json:"task_description"`
	Details         string `json:"details,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// ─── Config / Store ──────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	DataDir string
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{DataDir: filepath.Join(home, ".crewmesh")}
}

// Store is the persistence engine backed by SQLite.
type Store struct {
	db *sql.DB
}

// New creates a Store with the given configuration. It creates the data
// directory if needed, opens SQLite with WAL mode, and runs migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "crewmesh.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS reviews (
			review_id    TEXT PRIMARY KEY,
			requester    TEXT NOT NULL,
			reviewer     TEXT NOT NULL,
			item_type    TEXT NOT NULL,
			item_path    TEXT NOT NULL,
			description  TEXT,
			priority     TEXT NOT NULL DEFAULT 'normal',
			status       TEXT NOT NULL DEFAULT 'pending',
			outcome      TEXT,
			findings     TEXT,
			summary      TEXT,
			requested_at TEXT NOT NULL DEFAULT (datetime('now')),
			responded_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_reviews_path     ON reviews(item_path, requested_at DESC);
		CREATE INDEX IF NOT EXISTS idx_reviews_reviewer ON reviews(reviewer);
		CREATE INDEX IF NOT EXISTS idx_reviews_status   ON reviews(status);

		CREATE TABLE IF NOT EXISTS learnings (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			agent            TEXT NOT NULL,
			category         TEXT NOT NULL,
			pattern          TEXT NOT NULL,
			recommendation   TEXT,
			severity         TEXT NOT NULL DEFAULT 'medium',
			source_review_id TEXT,
			times_seen       INTEGER NOT NULL DEFAULT 1,
			last_seen_at     TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE (agent, pattern)
		);

		CREATE INDEX IF NOT EXISTS idx_learn_agent    ON learnings(agent, category);
		CREATE INDEX IF NOT EXISTS idx_learn_source   ON learnings(source_review_id);
		CREATE INDEX IF NOT EXISTS idx_learn_seen     ON learnings(times_seen DESC);

		CREATE TABLE IF NOT EXISTS results (
			result_id   TEXT PRIMARY KEY,
			sender      TEXT NOT NULL,
			result_type TEXT NOT NULL,
			title       TEXT NOT NULL,
			content     TEXT NOT NULL,
			tags        TEXT,
			created_at  TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_results_sender ON results(sender, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_results_type   ON results(result_type);

		CREATE TABLE IF NOT EXISTS activity_log (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			agent            TEXT NOT NULL,
			activity_type    TEXT NOT NULL,
			task_description TEXT NOT NULL,
			details          TEXT,
			created_at       TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_activity_agent ON activity_log(agent, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Reviews ─────────────────────────────────────────────────────────────────

// InsertReviewParams holds the input for persisting a pending review.
type InsertReviewParams struct {
	ReviewID    string
	Requester   string
	Reviewer    string
	ItemType    string
	ItemPath    string
	Description string
	Priority    string
}

// InsertReview persists a new PENDING review record.
func (s *Store) InsertReview(p InsertReviewParams) error {
	if p.ReviewID == "" {
		return fmt.Errorf("store: insert review: review_id is required")
	}
	if p.Priority == "" {
		p.Priority = "normal"
	}
	_, err := s.db.Exec(
		`INSERT INTO reviews (review_id, requester, reviewer, item_type, item_path, description, priority, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ReviewID, p.Requester, p.Reviewer, p.ItemType, p.ItemPath,
		nullableString(p.Description), p.Priority, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("store: insert review %s: %w", p.ReviewID, err)
	}
	return nil
}

// CompleteReview marks a review COMPLETED with its outcome, findings, and
// summary. A second completion for the same review_id is accepted and
// overwrites the first. Documented edge case, not a reviewable event.
func (s *Store) CompleteReview(reviewID, outcome string, findings []Finding, summary string) error {
	findingsJSON, err := marshalFindings(findings)
	if err != nil {
		return fmt.Errorf("store: complete review %s: %w", reviewID, err)
	}

	res, err := s.db.Exec(
		`UPDATE reviews
		 SET status = ?, outcome = ?, findings = ?, summary = ?, responded_at = datetime('now')
		 WHERE review_id = ?`,
		StatusCompleted, outcome, findingsJSON, nullableString(summary), reviewID,
	)
	if err != nil {
		return fmt.Errorf("store: complete review %s: %w", reviewID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: complete review: no review with id %s", reviewID)
	}
	return nil
}

// GetReview retrieves one review by ID.
func (s *Store) GetReview(reviewID string) (*Review, error) {
	row := s.db.QueryRow(
		`SELECT review_id, requester, reviewer, item_type, item_path, description, priority,
		        status, outcome, findings, summary, requested_at, responded_at
		 FROM reviews WHERE review_id = ?`, reviewID,
	)
	return scanReview(row)
}

// PastReviewsForItem returns the most recent reviews for an item path,
// newest first, completed or pending.
func (s *Store) PastReviewsForItem(itemPath string, limit int) ([]Review, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT review_id, requester, reviewer, item_type, item_path, description, priority,
		        status, outcome, findings, summary, requested_at, responded_at
		 FROM reviews
		 WHERE item_path = ?
		 ORDER BY requested_at DESC, rowid DESC
		 LIMIT ?`, itemPath, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: past reviews for %s: %w", itemPath, err)
	}
	defer func() { _ = rows.Close() }()

	var results []Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

// ─── Learnings ───────────────────────────────────────────────────────────────

// UpsertLearning records one occurrence of a pattern for an agent. The
// first write creates the row with times_seen = 1; repeats increment
// times_seen and refresh last_seen_at atomically. The UNIQUE(agent,
// pattern) constraint makes concurrent submissions converge on one row.
func (s *Store) UpsertLearning(p UpsertLearningParams) error {
	if p.Agent == "" || p.Pattern == "" {
		return fmt.Errorf("store: upsert learning: agent and pattern are required")
	}
	if p.Severity == "" {
		p.Severity = "medium"
	}
	_, err := s.db.Exec(
		`INSERT INTO learnings (agent, category, pattern, recommendation, severity, source_review_id, times_seen, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, datetime('now'))
		 ON CONFLICT (agent, pattern) DO UPDATE SET
		   times_seen = times_seen + 1,
		   last_seen_at = datetime('now')`,
		p.Agent, p.Category, p.Pattern,
		nullableString(p.Recommendation), p.Severity, nullableString(p.SourceReviewID),
	)
	if err != nil {
		return fmt.Errorf("store: upsert learning for %s: %w", p.Agent, err)
	}
	return nil
}

// LearningsForAgent returns an agent's learnings, optionally filtered by
// category, most-seen first.
func (s *Store) LearningsForAgent(agent, category string, limit int) ([]Learning, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT id, agent, category, pattern, COALESCE(recommendation, ''), severity,
		       COALESCE(source_review_id, ''), times_seen, last_seen_at
		FROM learnings
		WHERE agent = ?
	`
	args := []any{agent}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY times_seen DESC, last_seen_at DESC LIMIT ?"
	args = append(args, limit)

	return s.queryLearnings(query, args...)
}

// LearningsForItem returns learnings attached to an item path via the
// review that produced them, most recent first.
func (s *Store) LearningsForItem(itemPath string, limit int) ([]Learning, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryLearnings(`
		SELECT l.id, l.agent, l.category, l.pattern, COALESCE(l.recommendation, ''), l.severity,
		       COALESCE(l.source_review_id, ''), l.times_seen, l.last_seen_at
		FROM learnings l
		JOIN reviews r ON r.review_id = l.source_review_id
		WHERE r.item_path = ?
		ORDER BY l.last_seen_at DESC
		LIMIT ?`, itemPath, limit,
	)
}

// CommonIssues aggregates recurring patterns across all agents, optionally
// filtered by category, most frequent first.
func (s *Store) CommonIssues(category string, minOccurrences, limit int) ([]CommonIssue, error) {
	if minOccurrences <= 0 {
		minOccurrences = 2
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT category, pattern, COALESCE(MAX(recommendation), ''),
		       SUM(times_seen) AS occurrences, COUNT(DISTINCT agent) AS agents
		FROM learnings
	`
	var args []any
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	query += `
		GROUP BY category, pattern
		HAVING occurrences >= ?
		ORDER BY occurrences DESC
		LIMIT ?`
	args = append(args, minOccurrences, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: common issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []CommonIssue
	for rows.Next() {
		var ci CommonIssue
		if err := rows.Scan(&ci.Category, &ci.Pattern, &ci.Recommendation, &ci.Occurrences, &ci.Agents); err != nil {
			return nil, err
		}
		results = append(results, ci)
	}
	return results, rows.Err()
}

// ─── Results ─────────────────────────────────────────────────────────────────

// InsertResultParams holds the input for persisting a shared result.
type InsertResultParams struct {
	ResultID   string
	Sender     string
	ResultType string
	Title      string
	Content    string
	Tags       []string
}

// InsertResult persists an immutable result artifact.
func (s *Store) InsertResult(p InsertResultParams) error {
	if p.ResultID == "" {
		return fmt.Errorf("store: insert result: result_id is required")
	}
	tagsJSON, err := marshalTags(p.Tags)
	if err != nil {
		return fmt.Errorf("store: insert result %s: %w", p.ResultID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO results (result_id, sender, result_type, title, content, tags)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ResultID, p.Sender, p.ResultType, p.Title, p.Content, tagsJSON,
	)
	if err != nil {
		return fmt.Errorf("store: insert result %s: %w", p.ResultID, err)
	}
	return nil
}

// ResultsForAgent returns a sender's results, optionally filtered by type,
// newest first.
func (s *Store) ResultsForAgent(sender, resultType string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT result_id, sender, result_type, title, content, tags, created_at
		FROM results
		WHERE sender = ?
	`
	args := []any{sender}
	if resultType != "" {
		query += " AND result_type = ?"
		args = append(args, resultType)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: results for %s: %w", sender, err)
	}
	defer func() { _ = rows.Close() }()

	var results []Result
	for rows.Next() {
		var r Result
		var tagsJSON sql.NullString
		if err := rows.Scan(&r.ResultID, &r.Sender, &r.ResultType, &r.Title, &r.Content, &tagsJSON, &r.CreatedAt); err != nil {
			return nil, err
		}
		if tagsJSON.Valid && tagsJSON.String != "" {
			_ = json.Unmarshal([]byte(tagsJSON.String), &r.Tags)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ─── Activity log ────────────────────────────────────────────────────────────

// InsertActivity appends one entry to the audit trail. The log is
// write-only from this layer's perspective.
func (s *Store) InsertActivity(agent, activityType, taskDescription, details string) error {
	_, err := s.db.Exec(
		`INSERT INTO activity_log (agent, activity_type, task_description, details)
		 VALUES (?, ?, ?, ?)`,
		agent, activityType, taskDescription, nullableString(details),
	)
	if err != nil {
		return fmt.Errorf("store: insert activity for %s: %w", agent, err)
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (*Review, error) {
	var r Review
	var description, findingsJSON sql.NullString
	if err := row.Scan(
		&r.ReviewID, &r.Requester, &r.Reviewer, &r.ItemType, &r.ItemPath,
		&description, &r.Priority, &r.Status, &r.Outcome, &findingsJSON,
		&r.Summary, &r.RequestedAt, &r.RespondedAt,
	); err != nil {
		return nil, err
	}
	if description.Valid {
		r.Description = description.String
	}
	if findingsJSON.Valid && findingsJSON.String != "" {
		if err := json.Unmarshal([]byte(findingsJSON.String), &r.Findings); err != nil {
			return nil, fmt.Errorf("store: decode findings for %s: %w", r.ReviewID, err)
		}
	}
	return &r, nil
}

func (s *Store) queryLearnings(query string, args ...any) ([]Learning, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query learnings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Learning
	for rows.Next() {
		var l Learning
		if err := rows.Scan(
			&l.ID, &l.Agent, &l.Category, &l.Pattern, &l.Recommendation,
			&l.Severity, &l.SourceReviewID, &l.TimesSeen, &l.LastSeenAt,
		); err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

func marshalFindings(findings []Finding) (*string, error) {
	if len(findings) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(findings)
	if err != nil {
		return nil, fmt.Errorf("marshal findings: %w", err)
	}
	s := string(data)
	return &s, nil
}

func marshalTags(tags []string) (*string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	s := string(data)
	return &s, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Truncate shortens a string to max length with ellipsis.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Now returns the current time formatted for SQLite.
func Now() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}

// NormalizeSeverity clamps a severity string to the known set, defaulting
// to medium.
func NormalizeSeverity(severity string) string {
	switch strings.TrimSpace(strings.ToLower(severity)) {
	case "low":
		return "low"
	case "high":
		return "high"
	case "critical":
		return "critical"
	default:
		return "medium"
	}
}
