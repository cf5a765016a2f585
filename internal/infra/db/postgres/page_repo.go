package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/bryanwahyu/shopwatch/internal/domain/pages"
)

type PageRepository struct {
	db *sql.DB
}

func NewPageRepository(db *sql.DB) *PageRepository {
	return &PageRepository{db: db}
}

func (r *PageRepository) Save(ctx context.Context, p *domain.MonitoredPage) error {
	const q = `
INSERT INTO monitored_pages
 (id, tenant_id, url, enabled, health, last_scan_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
 url = EXCLUDED.url,
 enabled = EXCLUDED.enabled,
 health = EXCLUDED.health,
 last_scan_at = EXCLUDED.last_scan_at;`
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	health := p.Health
	if health == "" {
		health = domain.HealthPending
	}
	_, err := r.db.ExecContext(ctx, q,
		p.ID, p.TenantID, p.URL, p.Enabled, health, nullTime(p.LastScanAt), created,
	)
	return err
}

func (r *PageRepository) Get(ctx context.Context, id domain.PageID) (*domain.MonitoredPage, error) {
	const q = `
SELECT id, tenant_id, url, enabled, health, last_scan_at, created_at
FROM monitored_pages
WHERE id=$1 LIMIT 1;`
	p, err := scanPage(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

func (r *PageRepository) ListByTenant(ctx context.Context, tenant string) ([]*domain.MonitoredPage, error) {
	const q = `
SELECT id, tenant_id, url, enabled, health, last_scan_at, created_at
FROM monitored_pages
WHERE tenant_id=$1 ORDER BY created_at;`
	rows, err := r.db.QueryContext(ctx, q, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPages(rows)
}

func (r *PageRepository) ListDue(ctx context.Context, cutoff time.Time) ([]*domain.MonitoredPage, error) {
	const q = `
SELECT id, tenant_id, url, enabled, health, last_scan_at, created_at
FROM monitored_pages
WHERE enabled AND (last_scan_at IS NULL OR last_scan_at < $1)
ORDER BY last_scan_at NULLS FIRST;`
	rows, err := r.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPages(rows)
}

func (r *PageRepository) UpdateHealth(ctx context.Context, id domain.PageID, h domain.Health) error {
	_, err := r.db.ExecContext(ctx, `UPDATE monitored_pages SET health=$1 WHERE id=$2;`, h, id)
	return err
}

func (r *PageRepository) UpdateLastScan(ctx context.Context, id domain.PageID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE monitored_pages SET last_scan_at=$1 WHERE id=$2;`, at, id)
	return err
}

func (r *PageRepository) SetEnabled(ctx context.Context, id domain.PageID, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE monitored_pages SET enabled=$1 WHERE id=$2;`, enabled, id)
	return err
}

func scanPage(row rowScanner) (*domain.MonitoredPage, error) {
	var p domain.MonitoredPage
	var last sql.NullTime
	if err := row.Scan(&p.ID, &p.TenantID, &p.URL, &p.Enabled, &p.Health, &last, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.LastScanAt = timePtr(last)
	return &p, nil
}

func collectPages(rows *sql.Rows) ([]*domain.MonitoredPage, error) {
	var out []*domain.MonitoredPage
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
