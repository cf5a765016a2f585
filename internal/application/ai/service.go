package ai

import (
	"context"

	"go.uber.org/zap"

	appissues "github.com/bryanwahyu/shopwatch/internal/application/issues"
	domain "github.com/bryanwahyu/shopwatch/internal/domain/ai"
	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
	"github.com/bryanwahyu/shopwatch/internal/domain/scans"
)

// Service runs the AI confirmation step of a pass. The adapter is treated as
// unreliable and slow: every failure is caught and logged per issue, never
// propagated; issues keep their pre-AI state.
type Service struct {
	Client domain.Analyzer
	Ledger *appissues.Ledger
	Scans  scans.Repository
	Log    *zap.Logger
}

func NewService(client domain.Analyzer, ledger *appissues.Ledger, scanRepo scans.Repository, log *zap.Logger) *Service {
	return &Service{Client: client, Ledger: ledger, Scans: scanRepo, Log: log}
}

// Enrich performs page-level analysis followed by per-issue analysis and
// returns the outcomes augmented with any AI-created issues.
func (s *Service) Enrich(ctx context.Context, run *scans.ScanRun, page *pages.MonitoredPage, outcomes []appissues.Outcome) []appissues.Outcome {
	outcomes = s.analyzePage(ctx, run, page, outcomes)
	s.analyzeIssues(ctx, page, outcomes)
	return outcomes
}

func (s *Service) analyzePage(ctx context.Context, run *scans.ScanRun, page *pages.MonitoredPage, outcomes []appissues.Outcome) []appissues.Outcome {
	analysis, err := s.Client.AnalyzePage(ctx, run.Signals.ScreenshotRef, run.Findings)
	if err != nil {
		s.Log.Warn("page analysis failed", zap.String("page", string(page.ID)), zap.Error(err))
		return outcomes
	}

	if analysis.Summary != "" {
		if err := s.Scans.Annotate(ctx, run.ID, analysis.Summary); err != nil {
			s.Log.Warn("annotating scan run", zap.String("scan", string(run.ID)), zap.Error(err))
		}
	}

	byType := make(map[issues.Type]*issues.Issue)
	for _, o := range outcomes {
		if o.Issue.Active() {
			byType[o.Issue.Type] = o.Issue
		}
	}

	for _, f := range analysis.Findings {
		if existing := byType[f.Type]; existing != nil {
			// AI saw the same problem the classifier did: that is a
			// confirmation, even at occurrence 1.
			confirmed := true
			err := s.Ledger.MarkVerified(ctx, existing, issues.Annotation{
				Confirmed:  &confirmed,
				Confidence: f.Confidence,
				Reasoning:  f.Summary,
			}, true)
			if err != nil {
				s.Log.Warn("confirming issue", zap.String("issue", string(existing.ID)), zap.Error(err))
			}
			continue
		}

		created, err := s.Ledger.CreateFromAI(ctx, page, f)
		if err != nil {
			s.Log.Warn("creating ai-proposed issue", zap.String("type", string(f.Type)), zap.Error(err))
			continue
		}
		byType[created.Type] = created
		outcomes = append(outcomes, appissues.Outcome{Issue: created, Action: appissues.ActionCreated})
	}
	return outcomes
}

func (s *Service) analyzeIssues(ctx context.Context, page *pages.MonitoredPage, outcomes []appissues.Outcome) {
	for _, o := range outcomes {
		iss := o.Issue
		if !iss.Active() {
			continue
		}
		// Already verified issues are skipped unless escalation cleared the
		// annotation this pass.
		if iss.Annotation.VerifiedAt != nil {
			continue
		}

		analysis, err := s.Client.AnalyzeIssue(ctx, iss, page.URL)
		if err != nil {
			s.Log.Warn("issue analysis failed", zap.String("issue", string(iss.ID)), zap.Error(err))
			continue
		}

		ann := issues.Annotation{
			Explanation:  analysis.Explanation,
			SuggestedFix: analysis.SuggestedFix,
		}
		confirmed := iss.AIConfirmed
		// The confirmed/confidence/reasoning triple only applies to
		// high-severity issues.
		if iss.Severity == issues.SeverityHigh && analysis.Confirmed != nil {
			ann.Confirmed = analysis.Confirmed
			ann.Confidence = analysis.Confidence
			ann.Reasoning = analysis.Reasoning
			confirmed = *analysis.Confirmed
		}
		if err := s.Ledger.MarkVerified(ctx, iss, ann, confirmed); err != nil {
			s.Log.Warn("saving issue annotation", zap.String("issue", string(iss.ID)), zap.Error(err))
		}
	}
}
