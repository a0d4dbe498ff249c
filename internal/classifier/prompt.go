package classifier

import (
	"fmt"
	"strings"

	"github.com/harunnryd/tally/internal/policy"
)

const systemPrompt = "You are an expert at analyzing employee reasons for missing work hours. " +
	"Provide accurate, fair analysis and answer with a single JSON object only."

// extraReasonTypes are offered to the model beyond the catalog so it can
// name reasons the catalog does not cover yet.
var extraReasonTypes = []string{"training", "bereavement"}

func buildPrompt(text string, catalog []policy.Category) string {
	var b strings.Builder

	b.WriteString("Analyze this employee's reason for missing work hours and determine if it is a valid business reason.\n\n")
	fmt.Fprintf(&b, "Employee response: %q\n\n", strings.TrimSpace(text))

	b.WriteString("Known reason types:\n")
	seen := make(map[string]bool, len(catalog))
	for _, c := range catalog {
		seen[c.ID] = true
		approval := "no approval needed"
		if c.RequiresApproval {
			approval = "requires approval"
		}
		fmt.Fprintf(&b, "- %s: %s (%s; keywords: %s)\n", c.ID, c.Description, approval, strings.Join(c.Keywords, ", "))
	}
	for _, id := range extraReasonTypes {
		if !seen[id] {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}

	b.WriteString(`
Use one of the reason types above when it fits; otherwise propose a short snake_case type.
Respond in JSON format:
{
  "is_valid": true,
  "reason_type": "type",
  "confidence": 85,
  "explanation": "Brief explanation",
  "requires_approval": true,
  "suggested_keywords": ["keyword1", "keyword2"]
}`)
	return b.String()
}
