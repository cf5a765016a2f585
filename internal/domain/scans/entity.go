package scans

import (
	"time"

	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
)

// ScanID identifier type
type ScanID string

// Status enum for a scan run lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Depth enum. Deep scans go through the browser engine and run every check;
// quick scans trade thoroughness for latency.
type Depth string

const (
	DepthQuick Depth = "quick"
	DepthDeep  Depth = "deep"
)

// Verdict of a single detector check.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictWarning Verdict = "warning"
)

// RawFinding is one detector check result as reported by the scan engine.
type RawFinding struct {
	Check      string  `json:"check"`
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message,omitempty"`
	Detail     string  `json:"detail,omitempty"`
}

// Signals is the raw signal bundle captured during a run.
type Signals struct {
	JSErrors      []string `json:"js_errors,omitempty"`
	NetworkErrors []string `json:"network_errors,omitempty"`
	ConsoleLogs   []string `json:"console_logs,omitempty"`
	SnapshotRef   string   `json:"snapshot_ref,omitempty"`
	ScreenshotRef string   `json:"screenshot_ref,omitempty"`
}

// Aggregate Root: ScanRun. Immutable once completed/failed, except for the
// narrow AnalysisSummary annotation written by the AI adapter.
type ScanRun struct {
	ID              ScanID       `json:"id"`
	PageID          pages.PageID `json:"page_id"`
	TenantID        string       `json:"tenant_id"`
	Depth           Depth        `json:"depth"`
	Status          Status       `json:"status"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      *time.Time   `json:"finished_at,omitempty"`
	LoadTimeMS      int64        `json:"load_time_ms"`
	Signals         Signals      `json:"signals"`
	Findings        []RawFinding `json:"findings,omitempty"`
	AnalysisSummary string       `json:"analysis_summary,omitempty"`
	Error           string       `json:"error,omitempty"`
}
