// Package briefing renders historical review context for agents about to
// act on a file. All compositions are pure reads over the store; any
// sub-query may come back empty without failing the whole briefing.
package briefing

import (
	"fmt"
	"strings"

	"crewmesh/internal/store"
)

// NoHistorySentinel is returned when a reviewer briefing has nothing to
// say. Callers rely on this being an explicit string, never "".
const NoHistorySentinel = "No prior review history for this file or reviewer."

const (
	maxPastReviews      = 3
	maxFileLearnings    = 5
	maxAgentLearnings   = 5
	maxFindingsPerEntry = 3
)

// Assembler builds briefings from stored review history and learnings.
type Assembler struct {
	store *store.Store
}

// New creates an Assembler over the given store.
func New(s *store.Store) *Assembler {
	return &Assembler{store: s}
}

// ReviewContext briefs a reviewer before reviewing a file: recent completed
// reviews of the file, learnings attached to the file, and the reviewer's
// own most frequent learnings. When all three are empty it returns
// NoHistorySentinel.
func (a *Assembler) ReviewContext(reviewer, itemPath string) (string, error) {
	reviews, err := a.completedReviews(itemPath, maxPastReviews)
	if err != nil {
		return "", err
	}
	fileLearnings, err := a.store.LearningsForItem(itemPath, maxFileLearnings)
	if err != nil {
		return "", err
	}
	agentLearnings, err := a.store.LearningsForAgent(reviewer, "", maxAgentLearnings)
	if err != nil {
		return "", err
	}

	if len(reviews) == 0 && len(fileLearnings) == 0 && len(agentLearnings) == 0 {
		return NoHistorySentinel, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Review context for %s\n", itemPath)

	if len(reviews) > 0 {
		b.WriteString("\n## Past reviews\n")
		for _, r := range reviews {
			outcome := "unknown"
			if r.Outcome != nil {
				outcome = *r.Outcome
			}
			fmt.Fprintf(&b, "- [%s] by %s on %s", outcome, r.Reviewer, r.RequestedAt)
			if r.Summary != nil && *r.Summary != "" {
				fmt.Fprintf(&b, ": %s", store.Truncate(*r.Summary, 200))
			}
			b.WriteString("\n")
		}
	}

	if len(fileLearnings) > 0 {
		b.WriteString("\n## Known issues in this file\n")
		writeLearnings(&b, fileLearnings)
	}

	if len(agentLearnings) > 0 {
		fmt.Fprintf(&b, "\n## Patterns %s has flagged before\n", reviewer)
		writeLearnings(&b, agentLearnings)
	}

	return b.String(), nil
}

// CoderContext briefs a coder before modifying a file: past negative
// outcomes with their findings, plus high and critical severity learnings
// for the file rendered as warnings.
func (a *Assembler) CoderContext(coder, itemPath string) (string, error) {
	reviews, err := a.completedReviews(itemPath, maxPastReviews*2)
	if err != nil {
		return "", err
	}
	var negative []store.Review
	for _, r := range reviews {
		if r.Negative() {
			negative = append(negative, r)
		}
		if len(negative) == maxPastReviews {
			break
		}
	}

	fileLearnings, err := a.store.LearningsForItem(itemPath, maxFileLearnings)
	if err != nil {
		return "", err
	}
	var warnings []store.Learning
	for _, l := range fileLearnings {
		if l.Severity == "high" || l.Severity == "critical" {
			warnings = append(warnings, l)
		}
	}

	if len(negative) == 0 && len(warnings) == 0 {
		return fmt.Sprintf("No prior rejected or changes-requested reviews for %s.", itemPath), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Before you modify %s\n", itemPath)

	if len(negative) > 0 {
		b.WriteString("\n## Past reviews that requested changes\n")
		for _, r := range negative {
			fmt.Fprintf(&b, "- [%s] by %s on %s\n", *r.Outcome, r.Reviewer, r.RequestedAt)
			findings := r.Findings
			if len(findings) > maxFindingsPerEntry {
				findings = findings[:maxFindingsPerEntry]
			}
			for _, f := range findings {
				fmt.Fprintf(&b, "  - (%s) %s", f.Severity, f.Message)
				if f.Location != "" {
					fmt.Fprintf(&b, " [%s]", f.Location)
				}
				b.WriteString("\n")
			}
		}
	}

	if len(warnings) > 0 {
		b.WriteString("\n## Warnings\n")
		for _, l := range warnings {
			fmt.Fprintf(&b, "- WARNING (%s, seen %dx): %s", l.Severity, l.TimesSeen, l.Pattern)
			if l.Recommendation != "" {
				fmt.Fprintf(&b, " -> %s", l.Recommendation)
			}
			b.WriteString("\n")
		}
	}

	return b.String(), nil
}

func (a *Assembler) completedReviews(itemPath string, limit int) ([]store.Review, error) {
	all, err := a.store.PastReviewsForItem(itemPath, limit*2)
	if err != nil {
		return nil, err
	}
	var completed []store.Review
	for _, r := range all {
		if r.Status == store.StatusCompleted {
			completed = append(completed, r)
		}
		if len(completed) == limit {
			break
		}
	}
	return completed, nil
}

func writeLearnings(b *strings.Builder, learnings []store.Learning) {
	for _, l := range learnings {
		fmt.Fprintf(b, "- [%s/%s, seen %dx] %s", l.Category, l.Severity, l.TimesSeen, l.Pattern)
		if l.Recommendation != "" {
			fmt.Fprintf(b, " -> %s", l.Recommendation)
		}
		b.WriteString("\n")
	}
}
