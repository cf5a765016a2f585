package prompt

import (
	"fmt"

	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
)

// IssueSystemPrompt provides strict directions and schema for per-issue
// verification JSON output.
func IssueSystemPrompt() string {
	return `You are a senior e-commerce quality analyst verifying a single detected issue on a product page. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- confirmed is a boolean verdict on whether the issue is real, not a detector false positive.
- confidence is a number between 0 and 1.
- explanation describes the issue in plain language for a shop owner.
- suggested_fix is one actionable recommendation.

Schema (example with empty values):
{
  "confirmed": false,
  "confidence": 0.0,
  "reasoning": "<string>",
  "explanation": "<string>",
  "suggested_fix": "<string>"
}`
}

// IssueUserPrompt builds the user message for one issue.
func IssueUserPrompt(iss *issues.Issue, pageURL string) string {
	return fmt.Sprintf(
		"Verify this issue on the product page at %s. Type: %s. Severity: %s. Title: %s. Description: %s. Evidence: %s. Seen %d times. Respond with the JSON per schema.",
		pageURL, iss.Type, iss.Severity, iss.Title, iss.Description, iss.Evidence, iss.Occurrences,
	)
}
