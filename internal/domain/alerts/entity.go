package alerts

import (
	"time"

	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
)

// Channel enum
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelAdmin Channel = "admin-surface"
)

// DeliveryStatus enum
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Alert records one notification for an issue. Uniqueness on
// (issue_id, channel) keeps dispatch idempotent under retries; only a *sent*
// alert blocks a later one.
type Alert struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	IssueID   issues.IssueID `json:"issue_id"`
	Channel   Channel        `json:"channel"`
	Status    DeliveryStatus `json:"status"`
	Recipient string         `json:"recipient"`
	Error     string         `json:"error,omitempty"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
