package issues

import (
	"time"
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/shopwatch/internal/application"
	domainai "github.com/bryanwahyu/shopwatch/internal/domain/ai"
	"github.com/bryanwahyu/shopwatch/internal/domain/events"
	domain "github.com/bryanwahyu/shopwatch/internal/domain/issues"
	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
)

// Action taken by the ledger for one issue during a pass.
type Action string

const (
	ActionCreated     Action = "created"
	ActionEscalated   Action = "escalated"
	ActionRefreshed   Action = "refreshed"
	ActionDeescalated Action = "deescalated"
	ActionResolved    Action = "resolved"
)

// Outcome pairs an issue with what happened to it this pass.
type Outcome struct {
	Issue  *domain.Issue
	Action Action
}

// Ledger merges classified candidates into the persistent issue record,
// one state machine per (page, type).
type Ledger struct {
	Repo   domain.Repository
	Clock  application.Clock
	Events events.Publisher
	Log    *zap.Logger
}

func NewLedger(repo domain.Repository, clock application.Clock, pub events.Publisher, log *zap.Logger) *Ledger {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Ledger{Repo: repo, Clock: clock, Events: pub, Log: log}
}

// Apply runs one merge pass for a page. Transitions per (page, type):
//
//   - no active issue + candidate        -> create (occurrences=1)
//   - active issue + heavier candidate   -> escalate: overwrite, occurrences++,
//     clear AI annotation (forces re-verification)
//   - active issue + lighter candidate   -> de-escalate: resolve the old issue;
//     the lighter finding becomes a fresh candidate on the next pass
//   - active issue + equal candidate     -> refresh: overwrite, occurrences++,
//     AI annotation untouched
//   - open issue + pass verdict          -> resolve
//
// Acknowledged issues receive severity/occurrence updates like open ones but
// are exempt from automatic resolution and never auto-revert to open.
//
// Not idempotent on purpose: occurrences is a frequency signal, not a dedupe
// counter.
func (l *Ledger) Apply(ctx context.Context, page *pages.MonitoredPage, cls domain.Classification) ([]Outcome, error) {
	active, err := l.Repo.ActiveByPage(ctx, page.ID)
	if err != nil {
		return nil, fmt.Errorf("loading active issues: %w", err)
	}
	byType := make(map[domain.Type]*domain.Issue, len(active))
	for _, iss := range active {
		byType[iss.Type] = iss
	}

	now := l.Clock.Now()
	var outcomes []Outcome

	seen := make(map[domain.Type]bool, len(cls.Candidates))
	for _, cand := range cls.Candidates {
		seen[cand.Type] = true
		existing := byType[cand.Type]
		if existing == nil {
			created, err := l.create(ctx, page, cand, now, false)
			if err != nil {
				return outcomes, err
			}
			outcomes = append(outcomes, Outcome{Issue: created, Action: ActionCreated})
			continue
		}

		switch {
		case cand.Severity.Weight() > existing.Severity.Weight():
			existing.Severity = cand.Severity
			existing.Title = cand.Title
			existing.Description = cand.Description
			existing.Evidence = cand.Evidence
			existing.Occurrences++
			existing.LastSeenAt = now
			existing.AIConfirmed = false
			existing.Annotation = domain.Annotation{}
			if err := l.Repo.Save(ctx, existing); err != nil {
				return outcomes, fmt.Errorf("escalating issue %s: %w", existing.ID, err)
			}
			outcomes = append(outcomes, Outcome{Issue: existing, Action: ActionEscalated})
			l.publish(ctx, events.KindIssueEscalated, existing)

		case cand.Severity.Weight() < existing.Severity.Weight():
			// Resolve-and-recreate: never downgrade in place. The lighter
			// finding is recreated fresh by the next pass.
			l.resolve(ctx, existing, now)
			outcomes = append(outcomes, Outcome{Issue: existing, Action: ActionDeescalated})

		default:
			existing.Title = cand.Title
			existing.Description = cand.Description
			existing.Evidence = cand.Evidence
			existing.Occurrences++
			existing.LastSeenAt = now
			if err := l.Repo.Save(ctx, existing); err != nil {
				return outcomes, fmt.Errorf("refreshing issue %s: %w", existing.ID, err)
			}
			outcomes = append(outcomes, Outcome{Issue: existing, Action: ActionRefreshed})
		}
	}

	for _, passed := range cls.Passed {
		if seen[passed] {
			continue
		}
		existing := byType[passed]
		if existing == nil || existing.Status != domain.StatusOpen {
			// Acknowledged issues only close via explicit resolve.
			continue
		}
		l.resolve(ctx, existing, now)
		outcomes = append(outcomes, Outcome{Issue: existing, Action: ActionResolved})
	}

	return outcomes, nil
}

// CreateFromAI records a brand-new issue proposed by page-level AI analysis.
// It is trusted outright: ai_confirmed is set with no occurrence gate.
func (l *Ledger) CreateFromAI(ctx context.Context, page *pages.MonitoredPage, f domainai.PageFinding) (*domain.Issue, error) {
	active, err := l.Repo.ActiveByPage(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	for _, iss := range active {
		if iss.Type == f.Type {
			return nil, fmt.Errorf("active issue of type %s already exists", f.Type)
		}
	}
	now := l.Clock.Now()
	iss, err := l.create(ctx, page, domain.Candidate{
		Type:        f.Type,
		Severity:    f.Severity,
		Confidence:  f.Confidence,
		Title:       f.Title,
		Description: f.Summary,
	}, now, true)
	if err != nil {
		return nil, err
	}
	return iss, nil
}

// MarkVerified sets the AI annotation after page- or issue-level analysis.
func (l *Ledger) MarkVerified(ctx context.Context, iss *domain.Issue, a domain.Annotation, confirmed bool) error {
	now := l.Clock.Now()
	a.VerifiedAt = &now
	iss.Annotation = a
	iss.AIConfirmed = confirmed
	return l.Repo.Save(ctx, iss)
}

// Acknowledge marks an open issue as acknowledged by a human.
func (l *Ledger) Acknowledge(ctx context.Context, id domain.IssueID) (*domain.Issue, error) {
	return l.transition(ctx, id, domain.StatusOpen, domain.StatusAcknowledged)
}

// Reopen clears an acknowledgment or a resolution.
func (l *Ledger) Reopen(ctx context.Context, id domain.IssueID) (*domain.Issue, error) {
	iss, err := l.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	iss.Status = domain.StatusOpen
	iss.ResolvedAt = nil
	if err := l.Repo.Save(ctx, iss); err != nil {
		return nil, err
	}
	return iss, nil
}

// Resolve closes an issue manually, acknowledged or not.
func (l *Ledger) Resolve(ctx context.Context, id domain.IssueID) (*domain.Issue, error) {
	iss, err := l.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	l.resolve(ctx, iss, l.Clock.Now())
	return iss, nil
}

func (l *Ledger) transition(ctx context.Context, id domain.IssueID, from, to domain.Status) (*domain.Issue, error) {
	iss, err := l.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if iss.Status != from {
		return nil, fmt.Errorf("issue %s is %s, expected %s", id, iss.Status, from)
	}
	iss.Status = to
	if err := l.Repo.Save(ctx, iss); err != nil {
		return nil, err
	}
	return iss, nil
}

func (l *Ledger) create(ctx context.Context, page *pages.MonitoredPage, cand domain.Candidate, now time.Time, aiConfirmed bool) (*domain.Issue, error) {
	iss := &domain.Issue{
		ID:          domain.IssueID(uuid.New().String()),
		TenantID:    page.TenantID,
		PageID:      page.ID,
		Type:        cand.Type,
		Severity:    cand.Severity,
		Status:      domain.StatusOpen,
		Occurrences: 1,
		Title:       cand.Title,
		Description: cand.Description,
		Evidence:    cand.Evidence,
		AIConfirmed: aiConfirmed,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
	if err := l.Repo.Save(ctx, iss); err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}
	l.publish(ctx, events.KindIssueCreated, iss)
	return iss, nil
}

func (l *Ledger) resolve(ctx context.Context, iss *domain.Issue, now time.Time) {
	iss.Status = domain.StatusResolved
	iss.ResolvedAt = &now
	if err := l.Repo.Save(ctx, iss); err != nil {
		l.Log.Error("resolving issue", zap.String("issue", string(iss.ID)), zap.Error(err))
		return
	}
	l.publish(ctx, events.KindIssueResolved, iss)
}

func (l *Ledger) publish(ctx context.Context, kind events.Kind, iss *domain.Issue) {
	err := l.Events.Publish(ctx, events.Event{
		Kind:     kind,
		TenantID: iss.TenantID,
		PageID:   string(iss.PageID),
		IssueID:  string(iss.ID),
		Payload: map[string]any{
			"type":        iss.Type,
			"severity":    iss.Severity,
			"occurrences": iss.Occurrences,
		},
		At: l.Clock.Now(),
	})
	if err != nil {
		l.Log.Warn("publishing issue event", zap.String("kind", string(kind)), zap.Error(err))
	}
}
