// Package classifier decides whether an employee's explanation is an
// acceptable reason and which policy category it falls under.
package classifier

import (
	"context"

	"github.com/harunnryd/tally/internal/policy"
)

// Source records which path produced a verdict.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Verdict is the outcome of classifying one reply.
type Verdict struct {
	Valid             bool     `json:"valid"`
	CategoryID        string   `json:"category_id"`
	Confidence        int      `json:"confidence"`
	RequiresApproval  bool     `json:"requires_approval"`
	Explanation       string   `json:"explanation"`
	SuggestedKeywords []string `json:"suggested_keywords,omitempty"`
	Source            Source   `json:"source"`
}

// Classifier scores reply text against the active catalog.
type Classifier interface {
	Classify(ctx context.Context, text string, catalog []policy.Category) (Verdict, error)
}
