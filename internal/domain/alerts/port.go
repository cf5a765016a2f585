package alerts

import (
	"context"

	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
)

// Repository port for alert records.
type Repository interface {
	// HasSent reports whether a sent alert already exists for (issue, channel).
	// Pending/failed rows do not count; they may be retried by a later pass.
	HasSent(ctx context.Context, issueID issues.IssueID, ch Channel) (bool, error)
	// Record upserts on the (issue_id, channel) unique key.
	Record(ctx context.Context, a *Alert) error
	ListByIssue(ctx context.Context, issueID issues.IssueID) ([]*Alert, error)
}

// Notifier port: the outbound messaging collaborator.
type Notifier interface {
	Send(ctx context.Context, ch Channel, recipient string, iss *issues.Issue) error
}
