package scans

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Start launches the scan workers and the rescan poller. Distinct pages scan
// concurrently across workers; the single-flight guard keeps any one page to
// one in-flight scan. Returns after ctx is done and all workers drained.
func (s *Service) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.Opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.rescanLoop(ctx)
	}()

	wg.Wait()
}

func (s *Service) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			// An in-flight scan completes and commits even during shutdown;
			// there is no mid-scan abort.
			s.runPass(context.WithoutCancel(ctx), job)
		}
	}
}

// rescanLoop polls the delayed queue and re-triggers due pages. A rescan for
// a page still in flight is skipped by the normal single-flight path.
func (s *Service) rescanLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.Rescans.Due(ctx, s.Clock.Now())
			if err != nil {
				s.Log.Warn("polling rescan queue", zap.Error(err))
				continue
			}
			for _, pageID := range due {
				res, err := s.TriggerScan(ctx, pageID, "")
				if err != nil {
					s.Log.Warn("rescan trigger failed", zap.String("page", string(pageID)), zap.Error(err))
					continue
				}
				s.Log.Info("rescan triggered",
					zap.String("page", string(pageID)),
					zap.String("status", string(res.Status)))
			}
		}
	}
}

// StartSweeper runs TriggerScheduledSweep on the refresh interval until ctx
// is done.
func (s *Service) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.Opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.TriggerScheduledSweep(ctx)
			if err != nil {
				s.Log.Warn("scheduled sweep failed", zap.Error(err))
				continue
			}
			s.Log.Info("scheduled sweep", zap.Int("enqueued", n))
		}
	}
}
