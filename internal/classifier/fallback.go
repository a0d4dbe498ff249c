package classifier

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/harunnryd/tally/internal/policy"
)

const (
	fallbackCategory   = "other"
	fallbackConfidence = 30
	minReasonLength    = 10
)

// Fallback is the deterministic classifier used when the model is unavailable.
// A reply is valid when it is longer than ten characters and does not admit
// to forgetting.
type Fallback struct{}

func (Fallback) Classify(_ context.Context, text string, _ []policy.Category) (Verdict, error) {
	trimmed := strings.TrimSpace(text)
	valid := utf8.RuneCountInString(trimmed) > minReasonLength && !strings.Contains(strings.ToLower(trimmed), "forgot")

	return Verdict{
		Valid:            valid,
		CategoryID:       fallbackCategory,
		Confidence:       fallbackConfidence,
		RequiresApproval: true,
		Explanation:      "Model unavailable, deterministic fallback applied",
		Source:           SourceFallback,
	}, nil
}
