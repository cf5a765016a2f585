package engine

import (
	"context"

	domain "github.com/bryanwahyu/shopwatch/internal/domain/scans"
)

// Composite routes quick scans to the static prober and deep scans to the
// browser engine. With no browser engine configured the prober handles both
// depths, degraded to the checks it can run.
type Composite struct {
	Quick domain.Engine
	Deep  domain.Engine
}

func NewComposite(quick, deep domain.Engine) *Composite {
	return &Composite{Quick: quick, Deep: deep}
}

func (c *Composite) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	if req.Depth == domain.DepthDeep && c.Deep != nil {
		return c.Deep.Run(ctx, req)
	}
	return c.Quick.Run(ctx, req)
}
