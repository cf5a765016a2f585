package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	appissues "github.com/bryanwahyu/shopwatch/internal/application/issues"
	domain "github.com/bryanwahyu/shopwatch/internal/domain/ai"
	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
	"github.com/bryanwahyu/shopwatch/internal/domain/scans"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type memIssueRepo struct {
	items map[issues.IssueID]*issues.Issue
}

func newMemIssueRepo() *memIssueRepo {
	return &memIssueRepo{items: make(map[issues.IssueID]*issues.Issue)}
}

func (m *memIssueRepo) Save(_ context.Context, i *issues.Issue) error {
	cp := *i
	m.items[i.ID] = &cp
	return nil
}

func (m *memIssueRepo) Get(_ context.Context, id issues.IssueID) (*issues.Issue, error) {
	i, ok := m.items[id]
	if !ok {
		return nil, issues.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (m *memIssueRepo) ActiveByPage(_ context.Context, pageID pages.PageID) ([]*issues.Issue, error) {
	var out []*issues.Issue
	for _, i := range m.items {
		if i.PageID == pageID && i.Active() {
			cp := *i
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memIssueRepo) ListByPage(_ context.Context, pageID pages.PageID, vis issues.Visibility) ([]*issues.Issue, error) {
	var out []*issues.Issue
	for _, i := range m.items {
		if i.PageID != pageID {
			continue
		}
		if vis == issues.VisibilityActive && !i.Active() {
			continue
		}
		cp := *i
		out = append(out, &cp)
	}
	return out, nil
}

type memScanRepo struct {
	annotations map[scans.ScanID]string
}

func newMemScanRepo() *memScanRepo {
	return &memScanRepo{annotations: make(map[scans.ScanID]string)}
}

func (m *memScanRepo) Save(context.Context, *scans.ScanRun) error { return nil }

func (m *memScanRepo) Get(context.Context, string, scans.ScanID) (*scans.ScanRun, error) {
	return nil, errors.New("not implemented")
}

func (m *memScanRepo) LatestByPage(context.Context, pages.PageID, int) ([]*scans.ScanRun, error) {
	return nil, nil
}

func (m *memScanRepo) Annotate(_ context.Context, id scans.ScanID, summary string) error {
	m.annotations[id] = summary
	return nil
}

type fakeAnalyzer struct {
	pageRes  domain.PageAnalysis
	pageErr  error
	issueRes domain.IssueAnalysis
	issueErr error

	analyzedIssues []issues.IssueID
}

func (f *fakeAnalyzer) AnalyzePage(context.Context, string, []scans.RawFinding) (domain.PageAnalysis, error) {
	return f.pageRes, f.pageErr
}

func (f *fakeAnalyzer) AnalyzeIssue(_ context.Context, iss *issues.Issue, _ string) (domain.IssueAnalysis, error) {
	f.analyzedIssues = append(f.analyzedIssues, iss.ID)
	return f.issueRes, f.issueErr
}

type fixture struct {
	svc    *Service
	repo   *memIssueRepo
	scans  *memScanRepo
	client *fakeAnalyzer
	page   *pages.MonitoredPage
	run    *scans.ScanRun
}

func newFixture(client *fakeAnalyzer) *fixture {
	repo := newMemIssueRepo()
	scanRepo := newMemScanRepo()
	ledger := appissues.NewLedger(repo, fixedClock{t: testNow}, nil, zap.NewNop())
	return &fixture{
		svc:    NewService(client, ledger, scanRepo, zap.NewNop()),
		repo:   repo,
		scans:  scanRepo,
		client: client,
		page: &pages.MonitoredPage{
			ID:       "page-1",
			TenantID: "acme",
			URL:      "https://shop.example.com/p/1",
			Enabled:  true,
		},
		run: &scans.ScanRun{ID: "scan-1", PageID: "page-1", TenantID: "acme"},
	}
}

func (f *fixture) openIssue(id issues.IssueID, typ issues.Type, sev issues.Severity) *issues.Issue {
	iss := &issues.Issue{
		ID:          id,
		TenantID:    "acme",
		PageID:      f.page.ID,
		Type:        typ,
		Severity:    sev,
		Status:      issues.StatusOpen,
		Occurrences: 1,
	}
	_ = f.repo.Save(context.Background(), iss)
	return iss
}

func TestEnrichConfirmsMatchingPageFinding(t *testing.T) {
	client := &fakeAnalyzer{
		pageRes: domain.PageAnalysis{
			Summary: "price element absent from rendered page",
			Findings: []domain.PageFinding{{
				Type:       issues.TypeMissingPrice,
				Severity:   issues.SeverityHigh,
				Summary:    "no visible price near the buy box",
				Confidence: 0.92,
			}},
		},
	}
	f := newFixture(client)
	iss := f.openIssue("iss-1", issues.TypeMissingPrice, issues.SeverityHigh)

	out := f.svc.Enrich(context.Background(), f.run, f.page,
		[]appissues.Outcome{{Issue: iss, Action: appissues.ActionCreated}})

	if len(out) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(out))
	}
	saved, _ := f.repo.Get(context.Background(), iss.ID)
	if !saved.AIConfirmed {
		t.Error("matching page finding did not confirm the issue")
	}
	if saved.Annotation.VerifiedAt == nil || saved.Annotation.Confidence != 0.92 {
		t.Errorf("annotation = %+v", saved.Annotation)
	}
	if got := f.scans.annotations[f.run.ID]; got != client.pageRes.Summary {
		t.Errorf("scan annotation = %q", got)
	}
	// Confirmation already verified the issue; no second analysis call.
	if len(client.analyzedIssues) != 0 {
		t.Errorf("per-issue analysis ran for already verified issue: %v", client.analyzedIssues)
	}
}

func TestEnrichCreatesAIProposedIssue(t *testing.T) {
	client := &fakeAnalyzer{
		pageRes: domain.PageAnalysis{
			Findings: []domain.PageFinding{{
				Type:       issues.TypeScriptError,
				Severity:   issues.SeverityMedium,
				Title:      "Console errors on load",
				Summary:    "three uncaught exceptions during render",
				Confidence: 0.8,
			}},
		},
	}
	f := newFixture(client)

	out := f.svc.Enrich(context.Background(), f.run, f.page, nil)

	if len(out) != 1 || out[0].Action != appissues.ActionCreated {
		t.Fatalf("outcomes = %+v, want one created", out)
	}
	created := out[0].Issue
	if created.Type != issues.TypeScriptError || !created.AIConfirmed {
		t.Errorf("created issue = %+v", created)
	}
	if _, err := f.repo.Get(context.Background(), created.ID); err != nil {
		t.Errorf("created issue not persisted: %v", err)
	}
}

func TestEnrichIssueVerdictAppliesToHighOnly(t *testing.T) {
	confirmed := true
	client := &fakeAnalyzer{
		issueRes: domain.IssueAnalysis{
			Confirmed:    &confirmed,
			Confidence:   0.88,
			Reasoning:    "reproduced on a fresh session",
			Explanation:  "the add-to-cart handler throws before submit",
			SuggestedFix: "guard the variant lookup against null",
		},
	}
	f := newFixture(client)
	high := f.openIssue("iss-high", issues.TypeBrokenCheckout, issues.SeverityHigh)
	medium := f.openIssue("iss-med", issues.TypeScriptError, issues.SeverityMedium)

	f.svc.Enrich(context.Background(), f.run, f.page, []appissues.Outcome{
		{Issue: high}, {Issue: medium},
	})

	savedHigh, _ := f.repo.Get(context.Background(), high.ID)
	if !savedHigh.AIConfirmed || savedHigh.Annotation.Reasoning == "" {
		t.Errorf("high issue = confirmed %v, annotation %+v", savedHigh.AIConfirmed, savedHigh.Annotation)
	}

	savedMed, _ := f.repo.Get(context.Background(), medium.ID)
	if savedMed.AIConfirmed {
		t.Error("confirmation verdict applied to a medium issue")
	}
	if savedMed.Annotation.Explanation == "" || savedMed.Annotation.SuggestedFix == "" {
		t.Errorf("medium issue lost explanation: %+v", savedMed.Annotation)
	}
}

func TestEnrichPageAnalysisFailureIsIsolated(t *testing.T) {
	client := &fakeAnalyzer{
		pageErr: domain.ErrQuotaExceeded,
		issueRes: domain.IssueAnalysis{
			Explanation: "still analyzable per issue",
		},
	}
	f := newFixture(client)
	iss := f.openIssue("iss-1", issues.TypeMissingPrice, issues.SeverityHigh)

	out := f.svc.Enrich(context.Background(), f.run, f.page,
		[]appissues.Outcome{{Issue: iss}})

	if len(out) != 1 {
		t.Fatalf("outcomes = %d, want unchanged", len(out))
	}
	if len(f.scans.annotations) != 0 {
		t.Error("failed page analysis still annotated the run")
	}
	if len(client.analyzedIssues) != 1 {
		t.Errorf("per-issue analysis calls = %d, want 1", len(client.analyzedIssues))
	}
}

func TestEnrichSkipsVerifiedAndInactiveIssues(t *testing.T) {
	client := &fakeAnalyzer{issueErr: errors.New("should not be called")}
	f := newFixture(client)

	verified := f.openIssue("iss-verified", issues.TypeMissingPrice, issues.SeverityHigh)
	verified.Annotation.VerifiedAt = &testNow
	_ = f.repo.Save(context.Background(), verified)

	resolved := f.openIssue("iss-resolved", issues.TypeSlowLoad, issues.SeverityLow)
	resolved.Status = issues.StatusResolved
	_ = f.repo.Save(context.Background(), resolved)

	f.svc.Enrich(context.Background(), f.run, f.page, []appissues.Outcome{
		{Issue: verified}, {Issue: resolved},
	})

	if len(client.analyzedIssues) != 0 {
		t.Errorf("analyzed = %v, want none", client.analyzedIssues)
	}
}
