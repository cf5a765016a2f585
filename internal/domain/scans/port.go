package scans

import (
	"context"
	"errors"

	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
)

// ErrTargetNotFound marks a permanently failing target (HTTP 404 and the
// like). The orchestrator does not retry it.
var ErrTargetNotFound = errors.New("scan target not found")

// Repository port for scan runs.
type Repository interface {
	Save(ctx context.Context, s *ScanRun) error
	Get(ctx context.Context, tenant string, id ScanID) (*ScanRun, error)
	LatestByPage(ctx context.Context, pageID pages.PageID, limit int) ([]*ScanRun, error)
	// Annotate writes the AI analysis summary without touching anything else.
	Annotate(ctx context.Context, id ScanID, summary string) error
}

// Engine port: the browser-automation collaborator that loads a page and
// returns raw detector signals.
type Engine interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// ArtifactStore port for screenshot and DOM-snapshot blobs.
type ArtifactStore interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
