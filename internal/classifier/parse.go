package classifier

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	tallyErrors "github.com/harunnryd/tally/internal/errors"
)

type verdictPayload struct {
	IsValid           *bool    `json:"is_valid"`
	ReasonType        string   `json:"reason_type"`
	Confidence        *float64 `json:"confidence"`
	Explanation       string   `json:"explanation"`
	RequiresApproval  *bool    `json:"requires_approval"`
	SuggestedKeywords []string `json:"suggested_keywords"`
}

// parseVerdict reads the first JSON object in a model response and checks it
// carries a validity flag, a reason type and a confidence in [0, 100].
func parseVerdict(raw string) (Verdict, error) {
	normalized := cleanModelJSON(raw)

	var payload verdictPayload
	if err := json.Unmarshal([]byte(normalized), &payload); err != nil {
		extracted := extractFirstBalancedJSON(normalized, '{', '}')
		if extracted == "" {
			return Verdict{}, tallyErrors.InvalidModelOutput("no JSON object in classification response")
		}
		payload = verdictPayload{}
		if err := json.Unmarshal([]byte(extracted), &payload); err != nil {
			return Verdict{}, tallyErrors.InvalidModelOutput(fmt.Sprintf("malformed classification JSON: %v", err))
		}
	}

	if payload.IsValid == nil {
		return Verdict{}, tallyErrors.InvalidModelOutput("classification missing is_valid")
	}
	category := normalizeCategoryID(payload.ReasonType)
	if category == "" {
		return Verdict{}, tallyErrors.InvalidModelOutput("classification missing reason_type")
	}
	if payload.Confidence == nil || *payload.Confidence < 0 || *payload.Confidence > 100 {
		return Verdict{}, tallyErrors.InvalidModelOutput("classification confidence outside 0-100")
	}

	requiresApproval := true
	if payload.RequiresApproval != nil {
		requiresApproval = *payload.RequiresApproval
	}

	return Verdict{
		Valid:             *payload.IsValid,
		CategoryID:        category,
		Confidence:        int(*payload.Confidence + 0.5),
		RequiresApproval:  requiresApproval,
		Explanation:       strings.TrimSpace(payload.Explanation),
		SuggestedKeywords: normalizeKeywords(payload.SuggestedKeywords),
		Source:            SourceModel,
	}, nil
}

// normalizeCategoryID lower-cases s and joins words with underscores.
func normalizeCategoryID(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(s)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	return strings.Join(fields, "_")
}

func normalizeKeywords(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		clean := strings.ToLower(strings.TrimSpace(kw))
		if clean == "" {
			continue
		}
		if _, exists := seen[clean]; exists {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}

func cleanModelJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func extractFirstBalancedJSON(input string, open, close byte) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(input); i++ {
		ch := input[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if ch == '\\' {
				escaped = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return strings.TrimSpace(input[start : i+1])
			}
		}
	}
	return ""
}
