package issues

import (
	"time"

	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
)

// IssueID identifier type
type IssueID string

// Type is the closed enumeration of detectable problems.
type Type string

const (
	TypeMissingPurchaseControl Type = "missing-purchase-control"
	TypeBrokenCheckout         Type = "broken-checkout"
	TypeVariantSelectionBroken Type = "variant-selection-broken"
	TypeScriptError            Type = "script-error"
	TypeTemplateError          Type = "template-error"
	TypeMissingImages          Type = "missing-images"
	TypeMissingPrice           Type = "missing-price"
	TypeSlowLoad               Type = "slow-load"
)

// Severity is an ordered enumeration; compare via Weight, never by string.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Weight ranks severities for escalation decisions (high=3, medium=2, low=1).
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Status enum for the issue lifecycle.
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Annotation holds the optional AI verification result. Escalation clears it
// to force re-verification.
type Annotation struct {
	Confirmed    *bool      `json:"confirmed,omitempty"`
	Confidence   float64    `json:"confidence,omitempty"`
	Reasoning    string     `json:"reasoning,omitempty"`
	Explanation  string     `json:"explanation,omitempty"`
	SuggestedFix string     `json:"suggested_fix,omitempty"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
}

// Aggregate Root: Issue, the durable unit of a detected problem.
// Invariant: at most one non-resolved issue per (page, type).
type Issue struct {
	ID          IssueID      `json:"id"`
	TenantID    string       `json:"tenant_id"`
	PageID      pages.PageID `json:"page_id"`
	Type        Type         `json:"type"`
	Severity    Severity     `json:"severity"`
	Status      Status       `json:"status"`
	Occurrences int          `json:"occurrences"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Evidence    string       `json:"evidence,omitempty"` // JSON blob
	AIConfirmed bool         `json:"ai_confirmed"`
	Annotation  Annotation   `json:"annotation,omitzero"`
	FirstSeenAt time.Time    `json:"first_seen_at"`
	LastSeenAt  time.Time    `json:"last_seen_at"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
}

// Active reports whether the issue still blocks a new one of the same type.
func (i *Issue) Active() bool {
	return i.Status == StatusOpen || i.Status == StatusAcknowledged
}
