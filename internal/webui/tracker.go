package webui

import (
	"context"
	"sync"
	"time"

	"github.com/shc-project/shc/internal/base"
)

// valueTracker records an object's current value and the time it last
// changed, by subscribing itself onto the object like any other graph
// connectable. It backs the "changed N ago" caption on rendered widgets —
// the connection graph itself carries no per-object timestamp, so webui
// keeps its own alongside the rendered value.
type valueTracker struct {
	mu        sync.Mutex
	value     any
	changedAt time.Time
	err       error
}

func newValueTracker(obj any) *valueTracker {
	t := &valueTracker{}
	if r, ok := obj.(base.Readable); ok {
		if v, err := r.Read(context.Background()); err != nil {
			t.err = err
		} else {
			t.value = v
		}
	}
	if s, ok := obj.(base.Subscribable); ok {
		s.Subscribe(t, nil)
	}
	return t
}

// Identity implements base.Writable.
func (t *valueTracker) Identity() base.Identity { return t }

// Write implements base.Writable, recording the new value and its arrival
// time.
func (t *valueTracker) Write(ctx context.Context, value any, origin base.Origin) error {
	t.mu.Lock()
	t.value = value
	t.changedAt = time.Now()
	t.err = nil
	t.mu.Unlock()
	return nil
}

func (t *valueTracker) snapshot() (any, time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.changedAt, t.err
}
