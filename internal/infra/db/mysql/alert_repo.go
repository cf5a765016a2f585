package mysql

import (
	"context"
	"database/sql"

	domain "github.com/bryanwahyu/shopwatch/internal/domain/alerts"
	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
)

type AlertRepository struct {
	db *sql.DB
}

func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// HasSent reports whether a sent alert exists for (issue, channel). Pending
// and failed rows do not count, so a later pass may retry them.
func (r *AlertRepository) HasSent(ctx context.Context, issueID issues.IssueID, ch domain.Channel) (bool, error) {
	const q = `SELECT COUNT(*) FROM alerts WHERE issue_id=? AND channel=? AND status='sent';`
	var n int
	if err := r.db.QueryRowContext(ctx, q, issueID, ch).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record upserts on the (issue_id, channel) unique key, so overlapping passes
// can never produce two rows for the same issue and channel.
func (r *AlertRepository) Record(ctx context.Context, a *domain.Alert) error {
	const q = `
INSERT INTO alerts
 (id, tenant_id, issue_id, channel, status, recipient, error, sent_at, created_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status), recipient=VALUES(recipient), error=VALUES(error), sent_at=VALUES(sent_at);
`
	_, err := r.db.ExecContext(ctx, q,
		a.ID, a.TenantID, a.IssueID, a.Channel, a.Status, a.Recipient, a.Error,
		nullTime(a.SentAt), a.CreatedAt,
	)
	return err
}

func (r *AlertRepository) ListByIssue(ctx context.Context, issueID issues.IssueID) ([]*domain.Alert, error) {
	const q = `
SELECT id, tenant_id, issue_id, channel, status, recipient, error, sent_at, created_at
FROM alerts
WHERE issue_id=? ORDER BY created_at DESC;
`
	rows, err := r.db.QueryContext(ctx, q, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var sent sql.NullTime
		if err := rows.Scan(&a.ID, &a.TenantID, &a.IssueID, &a.Channel, &a.Status, &a.Recipient, &a.Error, &sent, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.SentAt = timePtr(sent)
		out = append(out, &a)
	}
	return out, rows.Err()
}
