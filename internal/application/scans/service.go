package scans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/shopwatch/internal/application"
	appai "github.com/bryanwahyu/shopwatch/internal/application/ai"
	appalerts "github.com/bryanwahyu/shopwatch/internal/application/alerts"
	appissues "github.com/bryanwahyu/shopwatch/internal/application/issues"
	"github.com/bryanwahyu/shopwatch/internal/domain/events"
	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
	domain "github.com/bryanwahyu/shopwatch/internal/domain/scans"
	"github.com/bryanwahyu/shopwatch/internal/domain/tenants"
)

// RescanQueue schedules exactly one delayed confirmation rescan per page.
// Schedule reports false when one is already pending.
type RescanQueue interface {
	Schedule(ctx context.Context, pageID pages.PageID, at time.Time) (bool, error)
	Due(ctx context.Context, now time.Time) ([]pages.PageID, error)
}

// Options tunes the orchestrator.
type Options struct {
	ConfidenceThreshold float64
	DeepScanDay         time.Weekday
	RescanDelay         time.Duration
	RefreshInterval     time.Duration
	EngineAttempts      int
	RetryBase           time.Duration
	Workers             int
	QueueSize           int
}

// Service is the Scan Orchestrator: it composes eligibility checking, depth
// decision, engine execution, classification, the issue ledger, AI
// confirmation, alert gatekeeping, and rescan scheduling per page run.
type Service struct {
	Pages        pages.Repository
	Scans        domain.Repository
	Engine       domain.Engine
	Artifacts    domain.ArtifactStore
	Entitlements tenants.Entitlements
	Ledger       *appissues.Ledger
	AI           *appai.Service // nil when AI is not configured
	Gate         *appalerts.Gatekeeper
	Rescans      RescanQueue
	Events       events.Publisher
	Clock        application.Clock
	Log          *zap.Logger
	Opts         Options

	inflight *inflight
	jobs     chan scanJob
}

type scanJob struct {
	pageID pages.PageID
	forced domain.Depth
}

func NewService(
	pageRepo pages.Repository,
	scanRepo domain.Repository,
	engine domain.Engine,
	artifacts domain.ArtifactStore,
	entitlements tenants.Entitlements,
	ledger *appissues.Ledger,
	aiSvc *appai.Service,
	gate *appalerts.Gatekeeper,
	rescans RescanQueue,
	pub events.Publisher,
	clock application.Clock,
	log *zap.Logger,
	opts Options,
) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if opts.EngineAttempts <= 0 {
		opts.EngineAttempts = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 2 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	if opts.RescanDelay <= 0 {
		opts.RescanDelay = 30 * time.Minute
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 24 * time.Hour
	}
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = 0.7
	}
	return &Service{
		Pages:        pageRepo,
		Scans:        scanRepo,
		Engine:       engine,
		Artifacts:    artifacts,
		Entitlements: entitlements,
		Ledger:       ledger,
		AI:           aiSvc,
		Gate:         gate,
		Rescans:      rescans,
		Events:       pub,
		Clock:        clock,
		Log:          log,
		Opts:         opts,
		inflight:     newInflight(),
		jobs:         make(chan scanJob, opts.QueueSize),
	}
}

// TriggerStatus of a TriggerScan call.
type TriggerStatus string

const (
	TriggerEnqueued TriggerStatus = "enqueued"
	TriggerSkipped  TriggerStatus = "skipped"
)

// SkipReason explains a skipped trigger.
type SkipReason string

const (
	SkipInFlight  SkipReason = "scan already in flight"
	SkipDisabled  SkipReason = "monitoring disabled"
	SkipNotFound  SkipReason = "page not found"
	SkipQueueFull SkipReason = "scan queue full"
)

// TriggerResult is what callers of TriggerScan get back.
type TriggerResult struct {
	Status TriggerStatus `json:"status"`
	Reason SkipReason    `json:"reason,omitempty"`
}

// TriggerScan submits one page scan. The single-flight marker is taken here,
// so a second trigger while a scan is queued or running is skipped rather
// than queued unboundedly.
func (s *Service) TriggerScan(ctx context.Context, pageID pages.PageID, forced domain.Depth) (TriggerResult, error) {
	page, err := s.Pages.Get(ctx, pageID)
	if err != nil {
		if errors.Is(err, pages.ErrNotFound) {
			return TriggerResult{Status: TriggerSkipped, Reason: SkipNotFound}, nil
		}
		return TriggerResult{}, err
	}
	if !page.Enabled {
		return TriggerResult{Status: TriggerSkipped, Reason: SkipDisabled}, nil
	}

	if !s.inflight.TryAcquire(pageID) {
		return TriggerResult{Status: TriggerSkipped, Reason: SkipInFlight}, nil
	}

	select {
	case s.jobs <- scanJob{pageID: pageID, forced: forced}:
		return TriggerResult{Status: TriggerEnqueued}, nil
	default:
		s.inflight.Release(pageID)
		return TriggerResult{Status: TriggerSkipped, Reason: SkipQueueFull}, nil
	}
}

// TriggerScheduledSweep enqueues every enabled page that was never scanned or
// whose last scan is older than the refresh interval. Entitlement is
// re-checked inside each pass.
func (s *Service) TriggerScheduledSweep(ctx context.Context) (int, error) {
	cutoff := s.Clock.Now().Add(-s.Opts.RefreshInterval)
	due, err := s.Pages.ListDue(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing due pages: %w", err)
	}

	enqueued := 0
	for _, p := range due {
		res, err := s.TriggerScan(ctx, p.ID, "")
		if err != nil {
			s.Log.Warn("sweep trigger failed", zap.String("page", string(p.ID)), zap.Error(err))
			continue
		}
		if res.Status == TriggerEnqueued {
			enqueued++
		}
	}
	return enqueued, nil
}

// runPass executes one full pipeline pass for a page. Stages run sequentially;
// AI and alerting failures are isolated per issue and never abort the pass.
func (s *Service) runPass(ctx context.Context, job scanJob) {
	defer s.inflight.Release(job.pageID)

	page, err := s.Pages.Get(ctx, job.pageID)
	if err != nil {
		// Deleted between trigger and execution: permanent, discard silently.
		if !errors.Is(err, pages.ErrNotFound) {
			s.Log.Error("loading page", zap.String("page", string(job.pageID)), zap.Error(err))
		}
		return
	}
	if !page.Enabled {
		return
	}
	allowed, err := s.Entitlements.IsMonitoringAllowed(ctx, page.TenantID)
	if err != nil {
		s.Log.Warn("entitlement check failed", zap.String("tenant", page.TenantID), zap.Error(err))
		return
	}
	if !allowed {
		return
	}

	depth, err := s.decideDepth(ctx, page, job.forced)
	if err != nil {
		s.Log.Error("deciding depth", zap.String("page", string(page.ID)), zap.Error(err))
		return
	}

	now := s.Clock.Now()
	run := &domain.ScanRun{
		ID:        domain.ScanID(uuid.New().String()),
		PageID:    page.ID,
		TenantID:  page.TenantID,
		Depth:     depth,
		Status:    domain.StatusRunning,
		StartedAt: now,
	}
	if err := s.Scans.Save(ctx, run); err != nil {
		s.Log.Error("creating scan run", zap.String("page", string(page.ID)), zap.Error(err))
		return
	}

	res, err := s.runEngine(ctx, page.URL, depth)
	if err != nil {
		s.failRun(ctx, run, page, err)
		return
	}

	s.completeRun(ctx, run, page, res)

	cls := issues.Classify(res.Findings, s.Opts.ConfidenceThreshold)
	for _, name := range cls.Unmapped {
		s.Log.Warn("unmapped detector check", zap.String("check", name), zap.String("page", string(page.ID)))
	}

	outcomes, err := s.Ledger.Apply(ctx, page, cls)
	if err != nil {
		s.Log.Error("ledger merge failed", zap.String("page", string(page.ID)), zap.Error(err))
		return
	}

	if s.AI != nil {
		outcomes = s.AI.Enrich(ctx, run, page, outcomes)
	}

	s.Gate.Process(ctx, outcomes)

	s.updateHealth(ctx, page)
	s.scheduleRescan(ctx, page, outcomes)
}

// decideDepth: deep on the first-ever scan, when an open high-severity issue
// exists, on the weekly deep-scan day, or when forced by the caller.
func (s *Service) decideDepth(ctx context.Context, page *pages.MonitoredPage, forced domain.Depth) (domain.Depth, error) {
	if forced == domain.DepthDeep || forced == domain.DepthQuick {
		return forced, nil
	}
	if page.LastScanAt == nil {
		return domain.DepthDeep, nil
	}
	if s.Clock.Now().Weekday() == s.Opts.DeepScanDay {
		return domain.DepthDeep, nil
	}
	active, err := s.Ledger.Repo.ActiveByPage(ctx, page.ID)
	if err != nil {
		return "", err
	}
	for _, iss := range active {
		if iss.Status == issues.StatusOpen && iss.Severity == issues.SeverityHigh {
			return domain.DepthDeep, nil
		}
	}
	return domain.DepthQuick, nil
}

// runEngine calls the external engine with bounded retry and increasing
// backoff. A not-found target is permanent and never retried.
func (s *Service) runEngine(ctx context.Context, url string, depth domain.Depth) (domain.RunResult, error) {
	var lastErr error
	backoff := s.Opts.RetryBase
	for attempt := 1; attempt <= s.Opts.EngineAttempts; attempt++ {
		res, err := s.Engine.Run(ctx, domain.RunRequest{URL: url, Depth: depth})
		if err == nil {
			return res, nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrTargetNotFound) {
			return domain.RunResult{}, err
		}
		if attempt == s.Opts.EngineAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return domain.RunResult{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return domain.RunResult{}, lastErr
}

// failRun records an engine failure: scan run failed, page health error,
// no downstream processing.
func (s *Service) failRun(ctx context.Context, run *domain.ScanRun, page *pages.MonitoredPage, cause error) {
	now := s.Clock.Now()
	run.Status = domain.StatusFailed
	run.FinishedAt = &now
	run.Error = cause.Error()
	if err := s.Scans.Save(ctx, run); err != nil {
		s.Log.Error("saving failed run", zap.String("scan", string(run.ID)), zap.Error(err))
	}
	if err := s.Pages.UpdateHealth(ctx, page.ID, pages.HealthError); err != nil {
		s.Log.Error("updating page health", zap.String("page", string(page.ID)), zap.Error(err))
	}
	s.Log.Warn("scan engine failed",
		zap.String("page", string(page.ID)),
		zap.String("url", page.URL),
		zap.Error(cause))
	s.publish(ctx, events.KindScanFailed, page, run)
}

func (s *Service) completeRun(ctx context.Context, run *domain.ScanRun, page *pages.MonitoredPage, res domain.RunResult) {
	now := s.Clock.Now()
	run.Status = domain.StatusCompleted
	run.FinishedAt = &now
	run.LoadTimeMS = res.LoadTimeMS
	run.Findings = res.Findings
	run.Signals = domain.Signals{
		JSErrors:      res.JSErrors,
		NetworkErrors: res.NetworkErrors,
		ConsoleLogs:   res.ConsoleLogs,
	}

	// Artifact upload failures lose the blob reference, nothing else.
	if len(res.Screenshot) > 0 && s.Artifacts != nil {
		key := fmt.Sprintf("%s/%s/%s.png", page.TenantID, page.ID, run.ID)
		url, err := s.Artifacts.UploadBytes(ctx, key, res.Screenshot, "image/png")
		if err != nil {
			s.Log.Warn("uploading screenshot", zap.String("scan", string(run.ID)), zap.Error(err))
		} else {
			run.Signals.ScreenshotRef = url
		}
	}
	if len(res.HTML) > 0 && s.Artifacts != nil {
		key := fmt.Sprintf("%s/%s/%s.html", page.TenantID, page.ID, run.ID)
		url, err := s.Artifacts.UploadBytes(ctx, key, res.HTML, "text/html")
		if err != nil {
			s.Log.Warn("uploading snapshot", zap.String("scan", string(run.ID)), zap.Error(err))
		} else {
			run.Signals.SnapshotRef = url
		}
	}

	if err := s.Scans.Save(ctx, run); err != nil {
		s.Log.Error("saving completed run", zap.String("scan", string(run.ID)), zap.Error(err))
	}
	if err := s.Pages.UpdateLastScan(ctx, page.ID, now); err != nil {
		s.Log.Error("updating last scan", zap.String("page", string(page.ID)), zap.Error(err))
	}
	s.publish(ctx, events.KindScanCompleted, page, run)
}

// updateHealth recomputes the aggregate indicator from remaining active
// issues: open high -> critical, anything active -> warning, none -> healthy.
func (s *Service) updateHealth(ctx context.Context, page *pages.MonitoredPage) {
	active, err := s.Ledger.Repo.ActiveByPage(ctx, page.ID)
	if err != nil {
		s.Log.Error("loading issues for health", zap.String("page", string(page.ID)), zap.Error(err))
		return
	}
	health := pages.HealthHealthy
	for _, iss := range active {
		if iss.Status == issues.StatusOpen && iss.Severity == issues.SeverityHigh {
			health = pages.HealthCritical
			break
		}
		health = pages.HealthWarning
	}
	if err := s.Pages.UpdateHealth(ctx, page.ID, health); err != nil {
		s.Log.Error("updating page health", zap.String("page", string(page.ID)), zap.Error(err))
	}
}

// scheduleRescan queues exactly one follow-up scan when any unconfirmed
// critical finding exists (high severity, first occurrence, not AI-confirmed).
func (s *Service) scheduleRescan(ctx context.Context, page *pages.MonitoredPage, outcomes []appissues.Outcome) {
	needed := false
	for _, o := range outcomes {
		iss := o.Issue
		if iss.Status == issues.StatusOpen &&
			iss.Severity == issues.SeverityHigh &&
			iss.Occurrences == 1 &&
			!iss.AIConfirmed {
			needed = true
			break
		}
	}
	if !needed {
		return
	}
	at := s.Clock.Now().Add(s.Opts.RescanDelay)
	scheduled, err := s.Rescans.Schedule(ctx, page.ID, at)
	if err != nil {
		s.Log.Warn("scheduling rescan", zap.String("page", string(page.ID)), zap.Error(err))
		return
	}
	if scheduled {
		s.Log.Info("confirmation rescan scheduled",
			zap.String("page", string(page.ID)),
			zap.Time("at", at))
	}
}

func (s *Service) publish(ctx context.Context, kind events.Kind, page *pages.MonitoredPage, run *domain.ScanRun) {
	err := s.Events.Publish(ctx, events.Event{
		Kind:     kind,
		TenantID: page.TenantID,
		PageID:   string(page.ID),
		ScanID:   string(run.ID),
		Payload:  map[string]any{"depth": run.Depth, "status": run.Status},
		At:       s.Clock.Now(),
	})
	if err != nil {
		s.Log.Warn("publishing scan event", zap.String("kind", string(kind)), zap.Error(err))
	}
}
