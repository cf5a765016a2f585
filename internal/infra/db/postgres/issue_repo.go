package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/bryanwahyu/shopwatch/internal/domain/issues"
	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
)

type IssueRepository struct {
	db *sql.DB
}

func NewIssueRepository(db *sql.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

func (r *IssueRepository) Save(ctx context.Context, i *domain.Issue) error {
	const q = `
INSERT INTO issues
 (id, tenant_id, page_id, type, severity, status, occurrences,
  title, description, evidence, ai_confirmed, annotation,
  first_seen_at, last_seen_at, resolved_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
 severity = EXCLUDED.severity,
 status = EXCLUDED.status,
 occurrences = EXCLUDED.occurrences,
 title = EXCLUDED.title,
 description = EXCLUDED.description,
 evidence = EXCLUDED.evidence,
 ai_confirmed = EXCLUDED.ai_confirmed,
 annotation = EXCLUDED.annotation,
 last_seen_at = EXCLUDED.last_seen_at,
 resolved_at = EXCLUDED.resolved_at;`
	ann, err := json.Marshal(i.Annotation)
	if err != nil {
		ann = []byte("{}")
	}
	evidence := i.Evidence
	if evidence == "" {
		evidence = "{}"
	}
	_, err = r.db.ExecContext(ctx, q,
		i.ID, i.TenantID, i.PageID, i.Type, i.Severity, i.Status, i.Occurrences,
		i.Title, i.Description, evidence, i.AIConfirmed, string(ann),
		i.FirstSeenAt, i.LastSeenAt, nullTime(i.ResolvedAt),
	)
	return err
}

const issueColumns = `id, tenant_id, page_id, type, severity, status, occurrences,
       title, description, evidence, ai_confirmed, annotation,
       first_seen_at, last_seen_at, resolved_at`

func (r *IssueRepository) Get(ctx context.Context, id domain.IssueID) (*domain.Issue, error) {
	q := `SELECT ` + issueColumns + ` FROM issues WHERE id=$1 LIMIT 1;`
	i, err := scanIssue(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return i, err
}

func (r *IssueRepository) ActiveByPage(ctx context.Context, pageID pages.PageID) ([]*domain.Issue, error) {
	q := `SELECT ` + issueColumns + ` FROM issues
WHERE page_id=$1 AND status IN ('open','acknowledged')
ORDER BY first_seen_at;`
	rows, err := r.db.QueryContext(ctx, q, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIssues(rows)
}

func (r *IssueRepository) ListByPage(ctx context.Context, pageID pages.PageID, vis domain.Visibility) ([]*domain.Issue, error) {
	q := `SELECT ` + issueColumns + ` FROM issues WHERE page_id=$1`
	switch vis {
	case domain.VisibilityActive:
		q += ` AND status IN ('open','acknowledged')`
	case domain.VisibilityAll:
		// no filter
	default:
		return nil, fmt.Errorf("unknown visibility: %s", vis)
	}
	q += ` ORDER BY last_seen_at DESC;`

	rows, err := r.db.QueryContext(ctx, q, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIssues(rows)
}

func scanIssue(row rowScanner) (*domain.Issue, error) {
	var i domain.Issue
	var resolved sql.NullTime
	var ann string
	if err := row.Scan(
		&i.ID, &i.TenantID, &i.PageID, &i.Type, &i.Severity, &i.Status, &i.Occurrences,
		&i.Title, &i.Description, &i.Evidence, &i.AIConfirmed, &ann,
		&i.FirstSeenAt, &i.LastSeenAt, &resolved,
	); err != nil {
		return nil, err
	}
	i.ResolvedAt = timePtr(resolved)
	if ann != "" {
		if err := json.Unmarshal([]byte(ann), &i.Annotation); err != nil {
			i.Annotation = domain.Annotation{}
		}
	}
	return &i, nil
}

func collectIssues(rows *sql.Rows) ([]*domain.Issue, error) {
	var out []*domain.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
