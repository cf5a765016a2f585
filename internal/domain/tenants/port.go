package tenants

import "context"

// Entitlements is the billing/entitlement collaborator. A false answer is a
// silent no-op for the pipeline, not an error.
type Entitlements interface {
	IsMonitoringAllowed(ctx context.Context, tenantID string) (bool, error)
}
