package alerts

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/shopwatch/internal/application"
	appissues "github.com/bryanwahyu/shopwatch/internal/application/issues"
	domain "github.com/bryanwahyu/shopwatch/internal/domain/alerts"
	"github.com/bryanwahyu/shopwatch/internal/domain/events"
	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
)

// Gatekeeper decides alert-worthiness for every issue touched in a pass and
// dispatches exactly-once notifications on the email channel.
type Gatekeeper struct {
	Repo       domain.Repository
	Notifier   domain.Notifier
	Clock      application.Clock
	Events     events.Publisher
	Log        *zap.Logger
	Recipients map[string]string // tenant -> address
	Default    string
}

func NewGatekeeper(repo domain.Repository, notifier domain.Notifier, clock application.Clock, pub events.Publisher, log *zap.Logger, recipients map[string]string, def string) *Gatekeeper {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Gatekeeper{
		Repo:       repo,
		Notifier:   notifier,
		Clock:      clock,
		Events:     pub,
		Log:        log,
		Recipients: recipients,
		Default:    def,
	}
}

// ShouldAlert is the pure alerting predicate:
//
//	open AND high-severity AND no prior sent alert AND (ai_confirmed OR occurrences >= 2)
//
// The two paths encode trust: AI-confirmed issues alert on first occurrence,
// unconfirmed ones need a second independent observation to suppress one-off
// false positives.
func ShouldAlert(iss *issues.Issue, hasSentAlert bool) bool {
	return iss.Status == issues.StatusOpen &&
		iss.Severity == issues.SeverityHigh &&
		!hasSentAlert &&
		(iss.AIConfirmed || iss.Occurrences >= 2)
}

// Result is the per-issue gatekeeper outcome. Failures are carried here, not
// propagated, so one issue's alert failure never blocks its siblings.
type Result struct {
	IssueID issues.IssueID
	Alerted bool
	Err     error
}

// Process evaluates every touched issue and dispatches where warranted.
func (g *Gatekeeper) Process(ctx context.Context, outcomes []appissues.Outcome) []Result {
	results := make([]Result, 0, len(outcomes))
	for _, o := range outcomes {
		res := g.processOne(ctx, o.Issue)
		if res.Err != nil {
			g.Log.Warn("alert dispatch failed",
				zap.String("issue", string(o.Issue.ID)),
				zap.Error(res.Err))
		}
		results = append(results, res)
	}
	return results
}

func (g *Gatekeeper) processOne(ctx context.Context, iss *issues.Issue) Result {
	res := Result{IssueID: iss.ID}

	sent, err := g.Repo.HasSent(ctx, iss.ID, domain.ChannelEmail)
	if err != nil {
		res.Err = err
		return res
	}
	if !ShouldAlert(iss, sent) {
		return res
	}

	recipient := g.Recipients[iss.TenantID]
	if recipient == "" {
		recipient = g.Default
	}

	now := g.Clock.Now()
	alert := &domain.Alert{
		ID:        uuid.New().String(),
		TenantID:  iss.TenantID,
		IssueID:   iss.ID,
		Channel:   domain.ChannelEmail,
		Status:    domain.DeliveryPending,
		Recipient: recipient,
		CreatedAt: now,
	}

	if err := g.Notifier.Send(ctx, domain.ChannelEmail, recipient, iss); err != nil {
		// Failed alerts stay on record but do not block a retry by the next
		// qualifying pass; only sent alerts count for dedupe.
		alert.Status = domain.DeliveryFailed
		alert.Error = err.Error()
		if rerr := g.Repo.Record(ctx, alert); rerr != nil {
			g.Log.Error("recording failed alert", zap.String("issue", string(iss.ID)), zap.Error(rerr))
		}
		res.Err = err
		return res
	}

	alert.Status = domain.DeliverySent
	alert.SentAt = &now
	if err := g.Repo.Record(ctx, alert); err != nil {
		res.Err = err
		return res
	}

	res.Alerted = true
	if err := g.Events.Publish(ctx, events.Event{
		Kind:     events.KindAlertSent,
		TenantID: iss.TenantID,
		PageID:   string(iss.PageID),
		IssueID:  string(iss.ID),
		Payload:  map[string]any{"channel": domain.ChannelEmail, "recipient": recipient},
		At:       now,
	}); err != nil {
		g.Log.Warn("publishing alert event", zap.Error(err))
	}
	return res
}
