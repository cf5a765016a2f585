package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	appissues "github.com/bryanwahyu/shopwatch/internal/application/issues"
	domain "github.com/bryanwahyu/shopwatch/internal/domain/alerts"
	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type memAlertRepo struct {
	// keyed by (issue, channel)
	records map[string]*domain.Alert
}

func newMemAlertRepo() *memAlertRepo {
	return &memAlertRepo{records: make(map[string]*domain.Alert)}
}

func key(issueID issues.IssueID, ch domain.Channel) string {
	return string(issueID) + "|" + string(ch)
}

func (m *memAlertRepo) HasSent(_ context.Context, issueID issues.IssueID, ch domain.Channel) (bool, error) {
	a, ok := m.records[key(issueID, ch)]
	return ok && a.Status == domain.DeliverySent, nil
}

func (m *memAlertRepo) Record(_ context.Context, a *domain.Alert) error {
	cp := *a
	m.records[key(a.IssueID, a.Channel)] = &cp
	return nil
}

func (m *memAlertRepo) ListByIssue(_ context.Context, issueID issues.IssueID) ([]*domain.Alert, error) {
	var out []*domain.Alert
	for _, a := range m.records {
		if a.IssueID == issueID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	fail  bool
	sends []string
}

func (f *fakeNotifier) Send(_ context.Context, _ domain.Channel, recipient string, _ *issues.Issue) error {
	if f.fail {
		return errors.New("smtp relay down")
	}
	f.sends = append(f.sends, recipient)
	return nil
}

func newTestGatekeeper(repo domain.Repository, n domain.Notifier) *Gatekeeper {
	return NewGatekeeper(repo, n, fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		nil, zap.NewNop(), map[string]string{"acme": "owner@acme.example"}, "ops@example.com")
}

func testIssue(sev issues.Severity, status issues.Status, occ int, confirmed bool) *issues.Issue {
	return &issues.Issue{
		ID:          "iss-1",
		TenantID:    "acme",
		PageID:      "page-1",
		Type:        issues.TypeMissingPrice,
		Severity:    sev,
		Status:      status,
		Occurrences: occ,
		AIConfirmed: confirmed,
		Title:       "Product price missing",
	}
}

func TestShouldAlert(t *testing.T) {
	tests := []struct {
		name    string
		iss     *issues.Issue
		hasSent bool
		want    bool
	}{
		{"confirmed first occurrence", testIssue(issues.SeverityHigh, issues.StatusOpen, 1, true), false, true},
		{"unconfirmed second occurrence", testIssue(issues.SeverityHigh, issues.StatusOpen, 2, false), false, true},
		{"unconfirmed first occurrence", testIssue(issues.SeverityHigh, issues.StatusOpen, 1, false), false, false},
		{"already alerted", testIssue(issues.SeverityHigh, issues.StatusOpen, 5, true), true, false},
		{"medium severity", testIssue(issues.SeverityMedium, issues.StatusOpen, 4, true), false, false},
		{"low severity", testIssue(issues.SeverityLow, issues.StatusOpen, 4, true), false, false},
		{"acknowledged never alerts", testIssue(issues.SeverityHigh, issues.StatusAcknowledged, 3, true), false, false},
		{"resolved never alerts", testIssue(issues.SeverityHigh, issues.StatusResolved, 3, true), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldAlert(tt.iss, tt.hasSent); got != tt.want {
				t.Errorf("ShouldAlert = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessSendsOnce(t *testing.T) {
	repo := newMemAlertRepo()
	notifier := &fakeNotifier{}
	g := newTestGatekeeper(repo, notifier)

	iss := testIssue(issues.SeverityHigh, issues.StatusOpen, 2, false)
	outcomes := []appissues.Outcome{{Issue: iss, Action: appissues.ActionRefreshed}}

	results := g.Process(context.Background(), outcomes)
	if len(results) != 1 || !results[0].Alerted {
		t.Fatalf("results = %+v, want one alerted", results)
	}
	if len(notifier.sends) != 1 || notifier.sends[0] != "owner@acme.example" {
		t.Fatalf("sends = %v", notifier.sends)
	}

	rec := repo.records[key(iss.ID, domain.ChannelEmail)]
	if rec == nil || rec.Status != domain.DeliverySent || rec.SentAt == nil {
		t.Fatalf("recorded alert = %+v", rec)
	}

	// A second qualifying pass must not send again.
	results = g.Process(context.Background(), outcomes)
	if results[0].Alerted {
		t.Error("second pass alerted again")
	}
	if len(notifier.sends) != 1 {
		t.Errorf("sends = %d, want 1", len(notifier.sends))
	}
}

func TestProcessFallsBackToDefaultRecipient(t *testing.T) {
	repo := newMemAlertRepo()
	notifier := &fakeNotifier{}
	g := newTestGatekeeper(repo, notifier)

	iss := testIssue(issues.SeverityHigh, issues.StatusOpen, 2, false)
	iss.TenantID = "unknown-tenant"

	g.Process(context.Background(), []appissues.Outcome{{Issue: iss}})
	if len(notifier.sends) != 1 || notifier.sends[0] != "ops@example.com" {
		t.Fatalf("sends = %v, want default recipient", notifier.sends)
	}
}

func TestProcessRecordsFailureAndAllowsRetry(t *testing.T) {
	repo := newMemAlertRepo()
	notifier := &fakeNotifier{fail: true}
	g := newTestGatekeeper(repo, notifier)

	iss := testIssue(issues.SeverityHigh, issues.StatusOpen, 2, false)
	outcomes := []appissues.Outcome{{Issue: iss}}

	results := g.Process(context.Background(), outcomes)
	if results[0].Alerted || results[0].Err == nil {
		t.Fatalf("results = %+v, want failure", results)
	}

	rec := repo.records[key(iss.ID, domain.ChannelEmail)]
	if rec == nil || rec.Status != domain.DeliveryFailed || rec.Error == "" {
		t.Fatalf("recorded alert = %+v, want failed with error", rec)
	}

	// Failed alerts do not block the next qualifying pass.
	notifier.fail = false
	results = g.Process(context.Background(), outcomes)
	if !results[0].Alerted {
		t.Fatal("retry after failure did not alert")
	}
	rec = repo.records[key(iss.ID, domain.ChannelEmail)]
	if rec.Status != domain.DeliverySent {
		t.Errorf("status = %s, want sent", rec.Status)
	}
}

func TestProcessIsolatesPerIssueFailures(t *testing.T) {
	repo := newMemAlertRepo()
	notifier := &fakeNotifier{}
	g := newTestGatekeeper(repo, notifier)

	healthy := testIssue(issues.SeverityHigh, issues.StatusOpen, 2, false)
	healthy.ID = "iss-ok"
	quiet := testIssue(issues.SeverityLow, issues.StatusOpen, 2, false)
	quiet.ID = "iss-quiet"

	results := g.Process(context.Background(), []appissues.Outcome{
		{Issue: quiet}, {Issue: healthy},
	})
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Alerted {
		t.Error("low severity issue alerted")
	}
	if !results[1].Alerted {
		t.Error("high severity issue did not alert")
	}
}
