package pages

import "time"

// PageID identifier type
type PageID string

// Health is the aggregate health indicator shown for a monitored page.
type Health string

const (
	HealthPending  Health = "pending"
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
	HealthError    Health = "error"
)

// MonitoredPage is a product page under monitoring for a tenant.
type MonitoredPage struct {
	ID         PageID     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	URL        string     `json:"url"`
	Enabled    bool       `json:"enabled"`
	Health     Health     `json:"health"`
	LastScanAt *time.Time `json:"last_scan_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
