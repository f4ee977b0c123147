// Package review drives the review request/response state machine over the
// messaging fabric and the persistent store.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crewmesh/internal/broker"
	"crewmesh/internal/learning"
	"crewmesh/internal/store"
)

// Extension field keys carried on review messages.
const (
	extReviewID = "review_id"
	extItemPath = "item_path"
	extPriority = "priority"
)

// requestBody is the wire payload of a review request.
type requestBody struct {
	ReviewID    string `json:"review_id"`
	Requester   string `json:"requester"`
	Reviewer    string `json:"reviewer"`
	ItemType    string `json:"item_type"`
	ItemPath    string `json:"item_path"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority"`
}

// responseBody is the wire payload of a review response.
type responseBody struct {
	ReviewID string          `json:"review_id,omitempty"`
	Reviewer string          `json:"reviewer"`
	ItemPath string          `json:"item_path"`
	Status   string          `json:"status"`
	Findings []store.Finding `json:"findings,omitempty"`
	Summary  string          `json:"summary,omitempty"`
}

// PendingReview is one open request as seen from the stream.
type PendingReview struct {
	ReviewID    string    `json:"review_id"`
	Requester   string    `json:"requester"`
	ItemType    string    `json:"item_type"`
	ItemPath    string    `json:"item_path"`
	Description string    `json:"description,omitempty"`
	Priority    string    `json:"priority"`
	RequestedAt time.Time `json:"requested_at"`
	Sequence    uint64    `json:"sequence"`
}

// Coordinator owns the review lifecycle: PENDING on request, COMPLETED on
// submit, with learning extraction on negative outcomes.
type Coordinator struct {
	broker    *broker.Client
	store     *store.Store
	extractor *learning.Extractor
	logger    *zap.Logger
}

// New creates a Coordinator. A nil logger gets a no-op.
func New(b *broker.Client, s *store.Store, ex *learning.Extractor, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{broker: b, store: s, extractor: ex, logger: logger}
}

// RequestParams holds the input for requesting a review.
type RequestParams struct {
	Requester   string
	Reviewer    string
	ItemType    string
	ItemPath    string
	Description string
	Priority    string
}

// Request generates a fresh review ID, publishes the request to the
// reviewer's subject, and persists a PENDING record. Returns the review ID.
func (c *Coordinator) Request(ctx context.Context, p RequestParams) (string, error) {
	if p.Requester == "" || p.Reviewer == "" || p.ItemPath == "" {
		return "", fmt.Errorf("review: request: requester, reviewer and item_path are required")
	}
	if p.ItemType == "" {
		p.ItemType = "file"
	}
	if p.Priority == "" {
		p.Priority = "normal"
	}

	reviewID := uuid.NewString()
	body, err := json.Marshal(requestBody{
		ReviewID:    reviewID,
		Requester:   p.Requester,
		Reviewer:    p.Reviewer,
		ItemType:    p.ItemType,
		ItemPath:    p.ItemPath,
		Description: p.Description,
		Priority:    p.Priority,
	})
	if err != nil {
		return "", fmt.Errorf("review: marshal request: %w", err)
	}

	subject := "reviews.request." + p.Reviewer
	_, err = c.broker.Publish(ctx, subject, broker.Envelope{
		Sender:  p.Requester,
		Message: body,
		Ext: broker.NewExtensions(map[string]string{
			extReviewID: reviewID,
			extItemPath: p.ItemPath,
			extPriority: p.Priority,
		}),
	})
	if err != nil {
		return "", fmt.Errorf("review: publish request: %w", err)
	}

	if err := c.store.InsertReview(store.InsertReviewParams{
		ReviewID:    reviewID,
		Requester:   p.Requester,
		Reviewer:    p.Reviewer,
		ItemType:    p.ItemType,
		ItemPath:    p.ItemPath,
		Description: p.Description,
		Priority:    p.Priority,
	}); err != nil {
		return "", err
	}

	if err := c.store.InsertActivity(p.Requester, "review_requested",
		fmt.Sprintf("requested %s review of %s from %s", p.Priority, p.ItemPath, p.Reviewer), ""); err != nil {
		c.logger.Warn("activity log write failed", zap.Error(err))
	}

	c.logger.Info("review requested",
		zap.String("review_id", reviewID),
		zap.String("reviewer", p.Reviewer),
		zap.String("item_path", p.ItemPath),
	)
	return reviewID, nil
}

// SubmitParams holds the input for submitting a review outcome.
type SubmitParams struct {
	Requester string
	Reviewer  string
	ItemPath  string
	Status    string
	Findings  []store.Finding
	Summary   string
	ReviewID  string
}

// Submit publishes the outcome to the requester's subject and completes
// the matching record. When the outcome is changes_requested or rejected
// and findings are present, learnings are extracted synchronously before
// returning.
//
// When ReviewID is empty the response is still published, but the store
// update and extraction are skipped and a warning is logged. The outcome
// is then visible over messaging but absent from persistent history.
func (c *Coordinator) Submit(ctx context.Context, p SubmitParams) error {
	if p.Requester == "" || p.Reviewer == "" || p.Status == "" {
		return fmt.Errorf("review: submit: requester, reviewer and status are required")
	}

	body, err := json.Marshal(responseBody{
		ReviewID: p.ReviewID,
		Reviewer: p.Reviewer,
		ItemPath: p.ItemPath,
		Status:   p.Status,
		Findings: p.Findings,
		Summary:  p.Summary,
	})
	if err != nil {
		return fmt.Errorf("review: marshal response: %w", err)
	}

	subject := "reviews.response." + p.Requester
	_, err = c.broker.Publish(ctx, subject, broker.Envelope{
		Sender:  p.Reviewer,
		Message: body,
		Ext: broker.NewExtensions(map[string]string{
			extReviewID: p.ReviewID,
			extItemPath: p.ItemPath,
		}),
	})
	if err != nil {
		return fmt.Errorf("review: publish response: %w", err)
	}

	if p.ReviewID == "" {
		c.logger.Warn("review submitted without review_id, outcome not persisted",
			zap.String("reviewer", p.Reviewer),
			zap.String("item_path", p.ItemPath),
		)
		return nil
	}

	if err := c.store.CompleteReview(p.ReviewID, p.Status, p.Findings, p.Summary); err != nil {
		return err
	}

	if store.IsNegativeOutcome(p.Status) && len(p.Findings) > 0 {
		if err := c.extractor.Extract(p.Reviewer, p.ReviewID, p.Findings); err != nil {
			return err
		}
	}

	if err := c.store.InsertActivity(p.Reviewer, "review_submitted",
		fmt.Sprintf("submitted %s for %s", p.Status, p.ItemPath),
		fmt.Sprintf("%d findings", len(p.Findings))); err != nil {
		c.logger.Warn("activity log write failed", zap.Error(err))
	}

	c.logger.Info("review submitted",
		zap.String("review_id", p.ReviewID),
		zap.String("status", p.Status),
		zap.Int("findings", len(p.Findings)),
	)
	return nil
}

// Pending returns recently published requests addressed to the agent. This
// is a messaging read over the REVIEWS stream, so it reflects the stream's
// retention and fetch window, not a precise set of currently open reviews.
func (c *Coordinator) Pending(ctx context.Context, agent string, limit int) ([]PendingReview, error) {
	msgs, err := c.broker.Fetch(ctx, broker.StreamReviews, "reviews.request."+agent, limit)
	if err != nil {
		return nil, err
	}

	var pending []PendingReview
	for _, m := range msgs {
		if m.Envelope == nil {
			continue
		}
		var body requestBody
		if err := json.Unmarshal(m.Envelope.Message, &body); err != nil {
			c.logger.Warn("skipping malformed review request",
				zap.String("subject", m.Subject),
				zap.Uint64("sequence", m.Sequence),
			)
			continue
		}
		pending = append(pending, PendingReview{
			ReviewID:    body.ReviewID,
			Requester:   body.Requester,
			ItemType:    body.ItemType,
			ItemPath:    body.ItemPath,
			Description: body.Description,
			Priority:    body.Priority,
			RequestedAt: m.Envelope.Timestamp,
			Sequence:    m.Sequence,
		})
	}
	return pending, nil
}
