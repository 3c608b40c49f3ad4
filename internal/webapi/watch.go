package webapi

import (
	"context"
	"sync"

	"github.com/shc-project/shc/internal/base"
)

// watchEntry holds the latest value seen for one object plus a version
// counter and a broadcast channel, giving long-poll and websocket clients a
// way to wait for "the next value after version N" without spinning. It
// implements base.Writable so it can be Subscribed directly to a
// Subscribable object.
type watchEntry struct {
	mu      sync.Mutex
	value   any
	version uint64
	ready   chan struct{}
}

func newWatchEntry() *watchEntry {
	return &watchEntry{ready: make(chan struct{})}
}

// Identity satisfies base.Writable. A watchEntry is never itself a target of
// Connect, so its identity only needs to be distinct, not meaningful.
func (w *watchEntry) Identity() base.Identity { return w }

// Write implements base.Writable: record the value, bump the version, and
// wake every waiter.
func (w *watchEntry) Write(ctx context.Context, value any, origin base.Origin) error {
	w.set(value)
	return nil
}

func (w *watchEntry) set(value any) {
	w.mu.Lock()
	w.value = value
	w.version++
	closed := w.ready
	w.ready = make(chan struct{})
	w.mu.Unlock()
	close(closed)
}

func (w *watchEntry) current() (any, uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value, w.version
}

// waitFor blocks until the entry's version exceeds since, or ctx is done.
func (w *watchEntry) waitFor(ctx context.Context, since uint64) (any, uint64, error) {
	for {
		value, version, ch := w.snapshot()
		if version > since {
			return value, version, nil
		}
		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return nil, version, ctx.Err()
		}
	}
}

func (w *watchEntry) snapshot() (any, uint64, chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value, w.version, w.ready
}
