package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Allowlist grants monitoring to a fixed set of tenants. Used when no billing
// API is configured; an empty list allows everyone.
type Allowlist struct {
	allowed map[string]struct{}
}

func NewAllowlist(tenants []string) *Allowlist {
	m := make(map[string]struct{}, len(tenants))
	for _, t := range tenants {
		m[t] = struct{}{}
	}
	return &Allowlist{allowed: m}
}

func (a *Allowlist) IsMonitoringAllowed(_ context.Context, tenantID string) (bool, error) {
	if len(a.allowed) == 0 {
		return true, nil
	}
	_, ok := a.allowed[tenantID]
	return ok, nil
}

// Client checks entitlements against the billing service.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type entitlementResponse struct {
	MonitoringAllowed bool `json:"monitoring_allowed"`
}

func (c *Client) IsMonitoringAllowed(ctx context.Context, tenantID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/v1/tenants/%s/entitlements", c.baseURL, url.PathEscape(tenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("billing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("billing: status %d", resp.StatusCode)
	}

	var out entitlementResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("billing: decode response: %w", err)
	}
	return out.MonitoringAllowed, nil
}
