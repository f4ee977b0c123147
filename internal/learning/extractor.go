package learning

import (
	"fmt"

	"go.uber.org/zap"

	"crewmesh/internal/store"
)

// Extractor derives learning records from review findings. Dedup is
// syntactic: the pattern is the finding's message text verbatim, so two
// differently worded findings for the same underlying issue are tracked
// as separate learnings.
type Extractor struct {
	store      *store.Store
	classifier Classifier
	logger     *zap.Logger
}

// NewExtractor creates an Extractor. A nil classifier gets the keyword
// default; a nil logger gets a no-op.
func NewExtractor(s *store.Store, classifier Classifier, logger *zap.Logger) *Extractor {
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{store: s, classifier: classifier, logger: logger}
}

// Extract records one learning per finding, attributed to the reviewing
// agent. Repeat occurrences of the same (agent, message) pair increment
// the existing row's times_seen instead of inserting a duplicate.
func (e *Extractor) Extract(reviewer, reviewID string, findings []store.Finding) error {
	for _, f := range findings {
		if f.Message == "" {
			continue
		}
		category := e.classifier.Classify(f.Message)
		err := e.store.UpsertLearning(store.UpsertLearningParams{
			Agent:          reviewer,
			Category:       category,
			Pattern:        f.Message,
			Recommendation: f.Suggestion,
			Severity:       store.NormalizeSeverity(f.Severity),
			SourceReviewID: reviewID,
		})
		if err != nil {
			return fmt.Errorf("learning: extract from review %s: %w", reviewID, err)
		}
		e.logger.Debug("learning recorded",
			zap.String("agent", reviewer),
			zap.String("category", category),
			zap.String("review_id", reviewID),
		)
	}
	return nil
}
