package mysql

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
	domain "github.com/bryanwahyu/shopwatch/internal/domain/scans"
)

type ScanRepository struct {
	db *sql.DB
}

func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Save insert/update a scan run.
func (r *ScanRepository) Save(ctx context.Context, s *domain.ScanRun) error {
	const q = `
INSERT INTO scan_runs
 (id, page_id, tenant_id, depth, status, started_at, finished_at, load_time_ms,
  js_errors, network_errors, console_logs, snapshot_ref, screenshot_ref,
  findings, analysis_summary, error)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status), finished_at=VALUES(finished_at), load_time_ms=VALUES(load_time_ms),
 js_errors=VALUES(js_errors), network_errors=VALUES(network_errors), console_logs=VALUES(console_logs),
 snapshot_ref=VALUES(snapshot_ref), screenshot_ref=VALUES(screenshot_ref),
 findings=VALUES(findings), error=VALUES(error);
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID, s.PageID, s.TenantID, s.Depth, s.Status, s.StartedAt, nullTime(s.FinishedAt), s.LoadTimeMS,
		jsonOrEmpty(s.Signals.JSErrors), jsonOrEmpty(s.Signals.NetworkErrors), jsonOrEmpty(s.Signals.ConsoleLogs),
		s.Signals.SnapshotRef, s.Signals.ScreenshotRef,
		jsonOrEmpty(s.Findings), s.AnalysisSummary, s.Error,
	)
	return err
}

const scanColumns = `id, page_id, tenant_id, depth, status, started_at, finished_at, load_time_ms,
       js_errors, network_errors, console_logs, snapshot_ref, screenshot_ref,
       findings, analysis_summary, error`

func (r *ScanRepository) Get(ctx context.Context, tenant string, id domain.ScanID) (*domain.ScanRun, error) {
	q := `SELECT ` + scanColumns + ` FROM scan_runs WHERE tenant_id=? AND id=? LIMIT 1;`
	return scanRun(r.db.QueryRowContext(ctx, q, tenant, id))
}

func (r *ScanRepository) LatestByPage(ctx context.Context, pageID pages.PageID, limit int) ([]*domain.ScanRun, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + scanColumns + ` FROM scan_runs WHERE page_id=? ORDER BY started_at DESC LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, pageID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ScanRun
	for rows.Next() {
		s, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Annotate only writes the AI analysis summary column.
func (r *ScanRepository) Annotate(ctx context.Context, id domain.ScanID, summary string) error {
	const q = `UPDATE scan_runs SET analysis_summary=? WHERE id=?;`
	_, err := r.db.ExecContext(ctx, q, summary, id)
	return err
}

func scanRun(row rowScanner) (*domain.ScanRun, error) {
	var s domain.ScanRun
	var finished sql.NullTime
	var jsErrs, netErrs, console, findings string
	if err := row.Scan(
		&s.ID, &s.PageID, &s.TenantID, &s.Depth, &s.Status, &s.StartedAt, &finished, &s.LoadTimeMS,
		&jsErrs, &netErrs, &console, &s.Signals.SnapshotRef, &s.Signals.ScreenshotRef,
		&findings, &s.AnalysisSummary, &s.Error,
	); err != nil {
		return nil, err
	}
	s.FinishedAt = timePtr(finished)
	s.Signals.JSErrors = decodeStrings(jsErrs)
	s.Signals.NetworkErrors = decodeStrings(netErrs)
	s.Signals.ConsoleLogs = decodeStrings(console)
	if findings != "" {
		if err := json.Unmarshal([]byte(findings), &s.Findings); err != nil {
			s.Findings = nil
		}
	}
	return &s, nil
}
