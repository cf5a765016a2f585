package pages

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a page does not exist (e.g. deleted between
// trigger and execution). Callers treat it as permanent, never retried.
var ErrNotFound = errors.New("page not found")

// Repository port for monitored pages.
type Repository interface {
	Save(ctx context.Context, p *MonitoredPage) error
	Get(ctx context.Context, id PageID) (*MonitoredPage, error)
	ListByTenant(ctx context.Context, tenant string) ([]*MonitoredPage, error)
	// ListDue returns enabled pages never scanned or last scanned before cutoff.
	ListDue(ctx context.Context, cutoff time.Time) ([]*MonitoredPage, error)
	UpdateHealth(ctx context.Context, id PageID, h Health) error
	UpdateLastScan(ctx context.Context, id PageID, at time.Time) error
	SetEnabled(ctx context.Context, id PageID, enabled bool) error
}
