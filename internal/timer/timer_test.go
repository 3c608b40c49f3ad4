package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shc-project/shc/internal/base"
)

type counterSink struct {
	base.Publisher
	n atomic.Int32
}

func (c *counterSink) Identity() base.Identity { return c }
func (c *counterSink) Write(ctx context.Context, v any, o base.Origin) error {
	c.n.Add(1)
	return nil
}

// fastSchedule fires immediately, every time: useful to test that firings
// keep happening without relying on wall-clock alignment maths.
type fastSchedule struct{ interval time.Duration }

func (f fastSchedule) Next(last time.Time, hasLast bool) time.Time {
	if !hasLast {
		return time.Now()
	}
	return last.Add(f.interval)
}

func TestTimerFiresAndStops(t *testing.T) {
	sink := &counterSink{}
	tm := New("test", fastSchedule{interval: 10 * time.Millisecond}, nil)
	tm.Subscribe(sink, nil)

	tm.Start()
	time.Sleep(80 * time.Millisecond)
	tm.Stop()

	if n := sink.n.Load(); n < 2 {
		t.Errorf("expected at least 2 firings, got %d", n)
	}
}

func TestLogarithmicSleepReturnsFalseOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if logarithmicSleep(ctx, time.Now().Add(time.Hour)) {
		t.Fatal("expected false on cancelled context")
	}
}

func TestEveryAlignedIsMultipleOfDelta(t *testing.T) {
	e := Every{Delta: time.Second, Align: true}
	next := e.Next(time.Time{}, false)
	if next.UnixNano()%int64(time.Second) != 0 {
		t.Errorf("aligned next execution %v is not a multiple of delta", next)
	}
	if !next.After(time.Now()) {
		t.Errorf("aligned next execution %v should be in the future", next)
	}
}

func TestEveryUnalignedUsesLastPlusDelta(t *testing.T) {
	e := Every{Delta: time.Minute, Align: false}
	last := time.Now()
	next := e.Next(last, true)
	if next.Sub(last) != time.Minute {
		t.Errorf("next - last = %v, want 1m", next.Sub(last))
	}
}
