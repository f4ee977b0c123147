// Package learning turns review findings into categorized, deduplicated
// learning records.
package learning

import "strings"

// Categories a finding can classify into.
const (
	CategoryTesting       = "testing"
	CategorySecurity      = "security"
	CategoryDocumentation = "documentation"
	CategoryErrorHandling = "error_handling"
	CategoryPerformance   = "performance"
	CategoryCodeQuality   = "code_quality"
)

// Classifier maps a finding's message text to a category. Implementations
// must be deterministic: the same text always yields the same category.
type Classifier interface {
	Classify(text string) string
}

// KeywordClassifier categorizes by case-insensitive keyword containment,
// falling back to code_quality when no keyword matches.
type KeywordClassifier struct{}

// NewKeywordClassifier returns the default keyword-based classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// keywordCategories is checked in order; the first category with a matching
// keyword wins. Security is checked first so that a message like "no test
// for SQL injection" still lands in security.
var keywordCategories = []struct {
	category string
	keywords []string
}{
	{CategorySecurity, []string{"injection", "auth", "password", "secret", "credential", "xss", "csrf", "sanitiz", "vulnerab"}},
	{CategoryTesting, []string{"test", "coverage", "assert", "mock", "fixture"}},
	{CategoryPerformance, []string{"performance", "slow", "n+1", "latency", "memory leak", "inefficien", "optimiz"}},
	{CategoryErrorHandling, []string{"error handling", "unhandled", "exception", "panic", "nil check", "nil pointer", "ignored error", "swallow"}},
	{CategoryDocumentation, []string{"document", "docstring", "comment", "readme", "changelog"}},
}

// Classify returns the category for a finding message.
func (c *KeywordClassifier) Classify(text string) string {
	lower := strings.ToLower(text)
	for _, kc := range keywordCategories {
		if hasAny(lower, kc.keywords) {
			return kc.category
		}
	}
	return CategoryCodeQuality
}

func hasAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
