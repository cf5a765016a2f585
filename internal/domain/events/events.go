package events

import (
	"context"
	"time"
)

// Kind enumerates pipeline events emitted for downstream consumers.
type Kind string

const (
	KindScanCompleted  Kind = "scan.completed"
	KindScanFailed     Kind = "scan.failed"
	KindIssueCreated   Kind = "issue.created"
	KindIssueEscalated Kind = "issue.escalated"
	KindIssueResolved  Kind = "issue.resolved"
	KindAlertSent      Kind = "alert.sent"
)

// Event is one pipeline occurrence.
type Event struct {
	Kind     Kind           `json:"kind"`
	TenantID string         `json:"tenant_id"`
	PageID   string         `json:"page_id,omitempty"`
	ScanID   string         `json:"scan_id,omitempty"`
	IssueID  string         `json:"issue_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	At       time.Time      `json:"at"`
}

// Publisher port. Publishing is best-effort; the pipeline never fails a pass
// because an event could not be written.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events; used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
