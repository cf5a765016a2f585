package scans

import (
	"sync"

	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
)

// inflight is the per-page single-flight guard: a second trigger for a page
// while one scan is in flight must be rejected, not queued, to bound browser
// engine usage. Check-and-set is atomic under the mutex.
type inflight struct {
	mu      sync.Mutex
	running map[pages.PageID]struct{}
}

func newInflight() *inflight {
	return &inflight{running: make(map[pages.PageID]struct{})}
}

// TryAcquire marks the page in flight. Returns false if it already is.
func (f *inflight) TryAcquire(id pages.PageID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.running[id]; ok {
		return false
	}
	f.running[id] = struct{}{}
	return true
}

// Release clears the in-flight marker. Safe to call more than once.
func (f *inflight) Release(id pages.PageID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
}
