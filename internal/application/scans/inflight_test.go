package scans

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestInflightSingleAcquire(t *testing.T) {
	f := newInflight()

	if !f.TryAcquire("page-1") {
		t.Fatal("first acquire failed")
	}
	if f.TryAcquire("page-1") {
		t.Fatal("second acquire succeeded while in flight")
	}
	if !f.TryAcquire("page-2") {
		t.Fatal("distinct page blocked")
	}

	f.Release("page-1")
	if !f.TryAcquire("page-1") {
		t.Fatal("acquire after release failed")
	}
}

func TestInflightReleaseIdempotent(t *testing.T) {
	f := newInflight()
	f.TryAcquire("page-1")
	f.Release("page-1")
	f.Release("page-1")
	if !f.TryAcquire("page-1") {
		t.Fatal("acquire after double release failed")
	}
}

func TestInflightConcurrentAcquire(t *testing.T) {
	f := newInflight()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.TryAcquire("page-1") {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}
