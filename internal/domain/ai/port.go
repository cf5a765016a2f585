package ai

import (
	"context"

	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
	"github.com/bryanwahyu/shopwatch/internal/domain/scans"
)

// PageFinding is one AI-level finding from whole-page analysis. Its Type
// either matches an existing open issue (confirmation) or proposes a new one
// the classifier missed.
type PageFinding struct {
	Type       issues.Type     `json:"type"`
	Severity   issues.Severity `json:"severity"`
	Title      string          `json:"title"`
	Summary    string          `json:"summary"`
	Confidence float64         `json:"confidence"`
}

// PageAnalysis is the result of screenshot + detector-output analysis.
type PageAnalysis struct {
	Findings []PageFinding `json:"findings"`
	Summary  string        `json:"summary"`
	Healthy  bool          `json:"page_healthy"`
}

// IssueAnalysis is the per-issue result. Confirmed/Confidence/Reasoning are
// only populated for high-severity issues.
type IssueAnalysis struct {
	Confirmed    *bool   `json:"confirmed,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	Reasoning    string  `json:"reasoning,omitempty"`
	Explanation  string  `json:"explanation"`
	SuggestedFix string  `json:"suggested_fix"`
}

// Analyzer port. Treated as unreliable and slow; callers catch and log every
// error, never propagate it.
type Analyzer interface {
	AnalyzePage(ctx context.Context, screenshotURL string, findings []scans.RawFinding) (PageAnalysis, error)
	AnalyzeIssue(ctx context.Context, iss *issues.Issue, pageURL string) (IssueAnalysis, error)
}
