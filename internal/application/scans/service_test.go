package scans

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	appalerts "github.com/bryanwahyu/shopwatch/internal/application/alerts"
	appissues "github.com/bryanwahyu/shopwatch/internal/application/issues"
	domainalerts "github.com/bryanwahyu/shopwatch/internal/domain/alerts"
	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
	domain "github.com/bryanwahyu/shopwatch/internal/domain/scans"
	"github.com/bryanwahyu/shopwatch/internal/domain/tenants"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// monday keeps the default deep-scan day (Sunday) out of depth decisions.
var monday = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type memPages struct {
	mu    sync.Mutex
	items map[pages.PageID]*pages.MonitoredPage
}

func newMemPages() *memPages {
	return &memPages{items: make(map[pages.PageID]*pages.MonitoredPage)}
}

func (m *memPages) Save(_ context.Context, p *pages.MonitoredPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *memPages) Get(_ context.Context, id pages.PageID) (*pages.MonitoredPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, pages.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPages) ListByTenant(_ context.Context, tenant string) ([]*pages.MonitoredPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*pages.MonitoredPage
	for _, p := range m.items {
		if p.TenantID == tenant {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPages) ListDue(_ context.Context, cutoff time.Time) ([]*pages.MonitoredPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*pages.MonitoredPage
	for _, p := range m.items {
		if p.Enabled && (p.LastScanAt == nil || p.LastScanAt.Before(cutoff)) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPages) UpdateHealth(_ context.Context, id pages.PageID, h pages.Health) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.items[id]; ok {
		p.Health = h
	}
	return nil
}

func (m *memPages) UpdateLastScan(_ context.Context, id pages.PageID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.items[id]; ok {
		p.LastScanAt = &at
	}
	return nil
}

func (m *memPages) SetEnabled(_ context.Context, id pages.PageID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.items[id]; ok {
		p.Enabled = enabled
	}
	return nil
}

type memScans struct {
	mu   sync.Mutex
	runs map[domain.ScanID]*domain.ScanRun
}

func newMemScans() *memScans {
	return &memScans{runs: make(map[domain.ScanID]*domain.ScanRun)}
}

func (m *memScans) Save(_ context.Context, s *domain.ScanRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.runs[s.ID] = &cp
	return nil
}

func (m *memScans) Get(_ context.Context, tenant string, id domain.ScanID) (*domain.ScanRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.runs[id]
	if !ok || s.TenantID != tenant {
		return nil, errors.New("scan not found")
	}
	cp := *s
	return &cp, nil
}

func (m *memScans) LatestByPage(_ context.Context, pageID pages.PageID, _ int) ([]*domain.ScanRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ScanRun
	for _, s := range m.runs {
		if s.PageID == pageID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memScans) Annotate(_ context.Context, id domain.ScanID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.runs[id]; ok {
		s.AnalysisSummary = summary
	}
	return nil
}

func (m *memScans) all() []*domain.ScanRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ScanRun
	for _, s := range m.runs {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

type scriptEngine struct {
	mu     sync.Mutex
	result domain.RunResult
	err    error
	calls  int
	depths []domain.Depth
}

func (e *scriptEngine) Run(_ context.Context, req domain.RunRequest) (domain.RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.depths = append(e.depths, req.Depth)
	return e.result, e.err
}

type memQueue struct {
	mu        sync.Mutex
	scheduled map[pages.PageID]time.Time
}

func newMemQueue() *memQueue {
	return &memQueue{scheduled: make(map[pages.PageID]time.Time)}
}

func (q *memQueue) Schedule(_ context.Context, pageID pages.PageID, at time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.scheduled[pageID]; ok {
		return false, nil
	}
	q.scheduled[pageID] = at
	return true, nil
}

func (q *memQueue) Due(_ context.Context, now time.Time) ([]pages.PageID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []pages.PageID
	for id, at := range q.scheduled {
		if !at.After(now) {
			out = append(out, id)
			delete(q.scheduled, id)
		}
	}
	return out, nil
}

type allowAll struct{}

func (allowAll) IsMonitoringAllowed(context.Context, string) (bool, error) { return true, nil }

type denyAll struct{}

func (denyAll) IsMonitoringAllowed(context.Context, string) (bool, error) { return false, nil }

type memAlerts struct {
	mu      sync.Mutex
	records map[string]*domainalerts.Alert
}

func newMemAlerts() *memAlerts {
	return &memAlerts{records: make(map[string]*domainalerts.Alert)}
}

func (m *memAlerts) HasSent(_ context.Context, issueID issues.IssueID, ch domainalerts.Channel) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.records[string(issueID)+"|"+string(ch)]
	return ok && a.Status == domainalerts.DeliverySent, nil
}

func (m *memAlerts) Record(_ context.Context, a *domainalerts.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.records[string(a.IssueID)+"|"+string(a.Channel)] = &cp
	return nil
}

func (m *memAlerts) ListByIssue(_ context.Context, issueID issues.IssueID) ([]*domainalerts.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domainalerts.Alert
	for _, a := range m.records {
		if a.IssueID == issueID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

type countNotifier struct {
	mu    sync.Mutex
	sends int
}

func (n *countNotifier) Send(context.Context, domainalerts.Channel, string, *issues.Issue) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends++
	return nil
}

func (n *countNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sends
}

type memIssues struct {
	mu    sync.Mutex
	items map[issues.IssueID]*issues.Issue
}

func newMemIssues() *memIssues {
	return &memIssues{items: make(map[issues.IssueID]*issues.Issue)}
}

func (m *memIssues) Save(_ context.Context, i *issues.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *i
	m.items[i.ID] = &cp
	return nil
}

func (m *memIssues) Get(_ context.Context, id issues.IssueID) (*issues.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.items[id]
	if !ok {
		return nil, issues.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (m *memIssues) ActiveByPage(_ context.Context, pageID pages.PageID) ([]*issues.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*issues.Issue
	for _, i := range m.items {
		if i.PageID == pageID && i.Active() {
			cp := *i
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memIssues) ListByPage(_ context.Context, pageID pages.PageID, vis issues.Visibility) ([]*issues.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

type fixture struct {
	svc      *Service
	pages    *memPages
	scans    *memScans
	issues   *memIssues
	alerts   *memAlerts
	notifier *countNotifier
	engine   *scriptEngine
	queue    *memQueue
}

func newFixture(t *testing.T, eng *scriptEngine, entitled bool) *fixture {
	t.Helper()
	log := zap.NewNop()
	clock := fixedClock{t: monday}

	pageRepo := newMemPages()
	scanRepo := newMemScans()
	issueRepo := newMemIssues()
	alertRepo := newMemAlerts()
	notifier := &countNotifier{}
	q := newMemQueue()

	ledger := appissues.NewLedger(issueRepo, clock, nil, log)
	gate := appalerts.NewGatekeeper(alertRepo, notifier, clock, nil, log,
		map[string]string{"acme": "owner@acme.example"}, "ops@example.com")

	var ent tenants.Entitlements = allowAll{}
	if !entitled {
		ent = denyAll{}
	}

	svc := NewService(pageRepo, scanRepo, eng, nil, ent,
		ledger, nil, gate, q, nil, clock, log,
		Options{
			ConfidenceThreshold: 0.7,
			DeepScanDay:         time.Sunday,
			RescanDelay:         30 * time.Minute,
			RefreshInterval:     24 * time.Hour,
			EngineAttempts:      2,
			RetryBase:           time.Millisecond,
			Workers:             1,
			QueueSize:           4,
		})

	return &fixture{
		svc: svc, pages: pageRepo, scans: scanRepo, issues: issueRepo,
		alerts: alertRepo, notifier: notifier, engine: eng, queue: q,
	}
}

func (f *fixture) addPage(t *testing.T, id pages.PageID, enabled bool, scannedBefore bool) *pages.MonitoredPage {
	t.Helper()
	p := &pages.MonitoredPage{
		ID:       id,
		TenantID: "acme",
		URL:      "https://shop.example.com/p/" + string(id),
		Enabled:  enabled,
		Health:   pages.HealthPending,
	}
	if scannedBefore {
		last := monday.Add(-48 * time.Hour)
		p.LastScanAt = &last
	}
	if err := f.pages.Save(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func failFinding(check string, conf float64) domain.RawFinding {
	return domain.RawFinding{Check: check, Verdict: domain.VerdictFail, Confidence: conf, Message: "detector failed"}
}

func passFinding(check string) domain.RawFinding {
	return domain.RawFinding{Check: check, Verdict: domain.VerdictPass, Confidence: 1}
}

func TestTriggerScanSkipPaths(t *testing.T) {
	eng := &scriptEngine{}
	f := newFixture(t, eng, true)
	ctx := context.Background()

	// Unknown page.
	res, err := f.svc.TriggerScan(ctx, "missing", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != TriggerSkipped || res.Reason != SkipNotFound {
		t.Errorf("res = %+v, want not-found skip", res)
	}

	// Disabled page.
	f.addPage(t, "off", false, true)
	res, _ = f.svc.TriggerScan(ctx, "off", "")
	if res.Status != TriggerSkipped || res.Reason != SkipDisabled {
		t.Errorf("res = %+v, want disabled skip", res)
	}

	// Second trigger while one is queued.
	f.addPage(t, "busy", true, true)
	res, _ = f.svc.TriggerScan(ctx, "busy", "")
	if res.Status != TriggerEnqueued {
		t.Fatalf("first trigger = %+v", res)
	}
	res, _ = f.svc.TriggerScan(ctx, "busy", "")
	if res.Status != TriggerSkipped || res.Reason != SkipInFlight {
		t.Errorf("res = %+v, want in-flight skip", res)
	}
}

func TestRunPassUnconfirmedHighDoesNotAlertButSchedulesRescan(t *testing.T) {
	eng := &scriptEngine{result: domain.RunResult{
		LoadTimeMS: 900,
		Findings:   []domain.RawFinding{failFinding("purchase-control", 0.9)},
	}}
	f := newFixture(t, eng, true)
	ctx := context.Background()
	page := f.addPage(t, "p1", true, true)

	f.svc.runPass(ctx, scanJob{pageID: page.ID})

	runs := f.scans.all()
	if len(runs) != 1 || runs[0].Status != domain.StatusCompleted {
		t.Fatalf("runs = %+v, want one completed", runs)
	}

	active, _ := f.issues.ActiveByPage(ctx, page.ID)
	if len(active) != 1 {
		t.Fatalf("active issues = %d, want 1", len(active))
	}
	iss := active[0]
	if iss.Type != issues.TypeMissingPurchaseControl || iss.Severity != issues.SeverityHigh {
		t.Errorf("issue = %s/%s", iss.Type, iss.Severity)
	}
	if iss.Occurrences != 1 {
		t.Errorf("occurrences = %d, want 1", iss.Occurrences)
	}

	// First unconfirmed occurrence: no alert, but a confirmation rescan.
	if f.notifier.count() != 0 {
		t.Errorf("sends = %d, want 0", f.notifier.count())
	}
	if _, ok := f.queue.scheduled[page.ID]; !ok {
		t.Error("no rescan scheduled")
	}

	got, _ := f.pages.Get(ctx, page.ID)
	if got.Health != pages.HealthCritical {
		t.Errorf("health = %s, want critical", got.Health)
	}
	if got.LastScanAt == nil || !got.LastScanAt.Equal(monday) {
		t.Errorf("last_scan_at = %v", got.LastScanAt)
	}
}

func TestRunPassSecondOccurrenceAlertsOnce(t *testing.T) {
	eng := &scriptEngine{result: domain.RunResult{
		Findings: []domain.RawFinding{failFinding("product-price", 0.85)},
	}}
	f := newFixture(t, eng, true)
	ctx := context.Background()
	page := f.addPage(t, "p1", true, true)

	f.svc.runPass(ctx, scanJob{pageID: page.ID})
	if f.notifier.count() != 0 {
		t.Fatalf("alert sent on first occurrence")
	}

	f.svc.runPass(ctx, scanJob{pageID: page.ID})
	if f.notifier.count() != 1 {
		t.Fatalf("sends = %d, want 1 after second occurrence", f.notifier.count())
	}

	active, _ := f.issues.ActiveByPage(ctx, page.ID)
	if len(active) != 1 || active[0].Occurrences != 2 {
		t.Fatalf("issue state = %+v", active)
	}

	// Third pass refreshes again but must not re-alert.
	f.svc.runPass(ctx, scanJob{pageID: page.ID})
	if f.notifier.count() != 1 {
		t.Errorf("sends = %d, want still 1", f.notifier.count())
	}
}

func TestRunPassResolvesOnPassVerdict(t *testing.T) {
	eng := &scriptEngine{result: domain.RunResult{
		Findings: []domain.RawFinding{failFinding("checkout-flow", 0.9)},
	}}
	f := newFixture(t, eng, true)
	ctx := context.Background()
	page := f.addPage(t, "p1", true, true)

	f.svc.runPass(ctx, scanJob{pageID: page.ID})
	active, _ := f.issues.ActiveByPage(ctx, page.ID)
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}

	eng.mu.Lock()
	eng.result = domain.RunResult{Findings: []domain.RawFinding{passFinding("checkout-flow")}}
	eng.mu.Unlock()

	f.svc.runPass(ctx, scanJob{pageID: page.ID})
	active, _ = f.issues.ActiveByPage(ctx, page.ID)
	if len(active) != 0 {
		t.Fatalf("active = %d, want 0 after pass", len(active))
	}

	got, _ := f.pages.Get(ctx, page.ID)
	if got.Health != pages.HealthHealthy {
		t.Errorf("health = %s, want healthy", got.Health)
	}
}

func TestRunPassEngineFailure(t *testing.T) {
	eng := &scriptEngine{err: errors.New("browser crashed")}
	f := newFixture(t, eng, true)
	ctx := context.Background()
	page := f.addPage(t, "p1", true, true)

	f.svc.runPass(ctx, scanJob{pageID: page.ID})

	if eng.calls != 2 {
		t.Errorf("engine calls = %d, want 2 (bounded retry)", eng.calls)
	}
	runs := f.scans.all()
	if len(runs) != 1 || runs[0].Status != domain.StatusFailed || runs[0].Error == "" {
		t.Fatalf("runs = %+v, want one failed with error", runs)
	}
	got, _ := f.pages.Get(ctx, page.ID)
	if got.Health != pages.HealthError {
		t.Errorf("health = %s, want error", got.Health)
	}
	active, _ := f.issues.ActiveByPage(ctx, page.ID)
	if len(active) != 0 {
		t.Errorf("issues created from failed run: %d", len(active))
	}
	// Failed runs do not advance the refresh cursor.
	if got.LastScanAt != nil && got.LastScanAt.Equal(monday) {
		t.Error("last_scan_at advanced on failure")
	}
}

func TestRunPassTargetNotFoundIsPermanent(t *testing.T) {
	eng := &scriptEngine{err: domain.ErrTargetNotFound}
	f := newFixture(t, eng, true)
	ctx := context.Background()
	page := f.addPage(t, "p1", true, true)

	f.svc.runPass(ctx, scanJob{pageID: page.ID})

	if eng.calls != 1 {
		t.Errorf("engine calls = %d, want 1 (no retry)", eng.calls)
	}
	runs := f.scans.all()
	if len(runs) != 1 || runs[0].Status != domain.StatusFailed {
		t.Fatalf("runs = %+v", runs)
	}
	got, _ := f.pages.Get(ctx, page.ID)
	if got.Health != pages.HealthError {
		t.Errorf("health = %s, want error", got.Health)
	}
}

func TestRunPassSkipsUnentitledTenant(t *testing.T) {
	eng := &scriptEngine{}
	f := newFixture(t, eng, false)
	ctx := context.Background()
	page := f.addPage(t, "p1", true, true)

	f.svc.runPass(ctx, scanJob{pageID: page.ID})

	if eng.calls != 0 {
		t.Errorf("engine calls = %d, want 0", eng.calls)
	}
	if len(f.scans.all()) != 0 {
		t.Error("scan run recorded for unentitled tenant")
	}
}

func TestDecideDepth(t *testing.T) {
	eng := &scriptEngine{result: domain.RunResult{
		Findings: []domain.RawFinding{passFinding("purchase-control")},
	}}
	f := newFixture(t, eng, true)
	ctx := context.Background()

	// First-ever scan goes deep.
	first := f.addPage(t, "fresh", true, false)
	d, err := f.svc.decideDepth(ctx, first, "")
	if err != nil {
		t.Fatal(err)
	}
	if d != domain.DepthDeep {
		t.Errorf("first scan depth = %s, want deep", d)
	}

	// Routine scan of a healthy page is quick.
	routine := f.addPage(t, "routine", true, true)
	d, _ = f.svc.decideDepth(ctx, routine, "")
	if d != domain.DepthQuick {
		t.Errorf("routine depth = %s, want quick", d)
	}

	// An open high-severity issue forces deep.
	f.issues.Save(ctx, &issues.Issue{
		ID: "iss-high", TenantID: "acme", PageID: routine.ID,
		Type: issues.TypeMissingPrice, Severity: issues.SeverityHigh,
		Status: issues.StatusOpen, Occurrences: 1,
	})
	d, _ = f.svc.decideDepth(ctx, routine, "")
	if d != domain.DepthDeep {
		t.Errorf("depth with open high issue = %s, want deep", d)
	}

	// Forced depth wins over everything.
	d, _ = f.svc.decideDepth(ctx, routine, domain.DepthQuick)
	if d != domain.DepthQuick {
		t.Errorf("forced depth = %s, want quick", d)
	}
}

func TestTriggerScheduledSweep(t *testing.T) {
	eng := &scriptEngine{}
	f := newFixture(t, eng, true)
	ctx := context.Background()

	f.addPage(t, "never-scanned", true, false)
	f.addPage(t, "stale", true, true)
	f.addPage(t, "disabled", false, false)

	fresh := f.addPage(t, "fresh", true, false)
	now := monday.Add(-time.Hour)
	f.pages.UpdateLastScan(ctx, fresh.ID, now)

	n, err := f.svc.TriggerScheduledSweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("enqueued = %d, want 2 (never-scanned + stale)", n)
	}
}

func TestRescanDedupe(t *testing.T) {
	eng := &scriptEngine{result: domain.RunResult{
		Findings: []domain.RawFinding{failFinding("purchase-control", 0.9)},
	}}
	f := newFixture(t, eng, true)
	ctx := context.Background()
	page := f.addPage(t, "p1", true, true)

	f.svc.runPass(ctx, scanJob{pageID: page.ID})
	firstAt := f.queue.scheduled[page.ID]
	if firstAt.IsZero() {
		t.Fatal("no rescan scheduled")
	}

	// The second pass refreshes the issue to occurrence 2, which no longer
	// qualifies for a rescan; the pending entry must survive untouched.
	f.svc.runPass(ctx, scanJob{pageID: page.ID})
	if len(f.queue.scheduled) != 1 {
		t.Errorf("scheduled = %d entries, want 1", len(f.queue.scheduled))
	}
	if !f.queue.scheduled[page.ID].Equal(firstAt) {
		t.Error("rescan time overwritten; schedule must be NX")
	}
}
