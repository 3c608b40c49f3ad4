// Package timer implements the timer scheduler (spec component D): wall-clock
// aligned periodic wakeups that publish to subscribers, using a logarithmic
// sleep so that suspend/resume wall-clock jumps are tolerated without firing
// late by more than the final slice. Grounded on shc/timer.py from the
// original implementation (class AbstractTimer / Every / _TimerSupervisor).
package timer

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shc-project/shc/internal/base"
)

// RandomFunc selects the jitter distribution applied by Every.
type RandomFunc string

const (
	RandomUniform RandomFunc = "uniform"
	RandomGauss   RandomFunc = "gauss"
)

// defaultPublishTimeout bounds how long a timer firing's fire-and-forget
// publish may run before its context is cancelled; the timer loop itself
// never waits on it.
const defaultPublishTimeout = 30 * time.Second

// Schedule computes the next firing time given the last firing (and whether
// there has been one yet).
type Schedule interface {
	Next(last time.Time, hasLast bool) time.Time
}

// Every implements the spec's Every(delta, align, offset, random,
// random_fn) schedule.
//
//   - Align=true: the next execution is the next multiple of Delta seconds
//     since the Unix epoch, wall-clock aligned, regardless of last firing.
//   - Align=false: last+Delta, or now for the very first firing.
//
// Offset shifts the computed time; Random/RandomFunc add jitter drawn
// uniformly from [-Random, Random] (RandomUniform) or from a Gaussian with
// standard deviation Random/2 (RandomGauss).
type Every struct {
	Delta      time.Duration
	Align      bool
	Offset     time.Duration
	Random     time.Duration
	RandomFunc RandomFunc
}

// Next implements Schedule.
func (e Every) Next(last time.Time, hasLast bool) time.Time {
	var next time.Time
	if e.Align {
		deltaSeconds := e.Delta.Seconds()
		nowSeconds := float64(time.Now().UnixNano()) / 1e9
		n := math.Floor(nowSeconds/deltaSeconds) + 1
		next = time.Unix(0, int64(n*deltaSeconds*float64(time.Second)))
	} else if !hasLast {
		next = time.Now()
	} else {
		next = last.Add(e.Delta)
	}
	return next.Add(e.Offset).Add(randomJitter(e.Random, e.RandomFunc))
}

func randomJitter(r time.Duration, fn RandomFunc) time.Duration {
	if r == 0 {
		return 0
	}
	switch fn {
	case RandomGauss:
		return time.Duration(rand.NormFloat64() * 0.5 * float64(r))
	default:
		return time.Duration((rand.Float64()*2 - 1) * float64(r))
	}
}

// Timer is a Subscribable[None] connectable driven by a Schedule. Firing
// publishes the zero value (nil) to subscribers in a new goroutine — the
// timer loop does not await subscriber completion, so a slow subscriber
// cannot delay the next firing.
type Timer struct {
	base.Publisher

	name     string
	schedule Schedule
	logger   *slog.Logger

	mu      sync.Mutex
	last    time.Time
	hasLast bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Timer. It is inert until Start is called; register it
// with a Supervisor so the process supervisor's "start timers" step can
// drive it.
func New(name string, schedule Schedule, logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{name: name, schedule: schedule, logger: logger}
}

// Identity implements base.Subscribable.
func (t *Timer) Identity() base.Identity { return t }

// Name returns the timer's configured name, used in log lines.
func (t *Timer) Name() string { return t.name }

// Start begins the timer's run loop in a new goroutine. Calling Start twice
// without an intervening Stop leaks the first loop.
func (t *Timer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx)
}

// Stop cancels the timer's run loop and waits for it to exit. Cancellation
// mid-sleep is expected and produces no error.
func (t *Timer) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
}

func (t *Timer) run(ctx context.Context) {
	defer close(t.done)
	for {
		t.mu.Lock()
		next := t.schedule.Next(t.last, t.hasLast)
		t.mu.Unlock()

		t.logger.Debug("scheduling next timer execution", "timer", t.name, "at", next)
		if !logarithmicSleep(ctx, next) {
			t.logger.Debug("timer stopped", "timer", t.name)
			return
		}

		t.mu.Lock()
		t.last = next
		t.hasLast = true
		t.mu.Unlock()

		go func() {
			pubCtx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
			defer cancel()
			if err := t.Publish(pubCtx, t, nil, base.NewOrigin()); err != nil {
				t.logger.Error("timer publish failed", "timer", t.name, "err", err)
			}
		}()
	}
}

// logarithmicSleep sleeps until target, halving the remaining wait each
// iteration while more than 200ms remains, then sleeping the exact
// remainder. It returns false if ctx is cancelled before target is reached.
func logarithmicSleep(ctx context.Context, target time.Time) bool {
	for {
		diff := time.Until(target)
		if diff < 200*time.Millisecond {
			if diff > 0 {
				select {
				case <-time.After(diff):
				case <-ctx.Done():
					return false
				}
			}
			return true
		}
		select {
		case <-time.After(diff / 2):
		case <-ctx.Done():
			return false
		}
	}
}

// Supervisor runs a collection of registered timers as a single supervised
// unit, mirroring shc/timer.py's module-level _TimerSupervisor: all
// registered timers start together when the process supervisor reaches its
// "start timers" step, and are cancelled together on shutdown.
type Supervisor struct {
	mu     sync.Mutex
	timers []*Timer
	logger *slog.Logger
}

// NewSupervisor constructs an empty timer Supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{logger: logger}
}

// Register adds t to the set of timers this Supervisor starts and stops.
// Registration after Start has no effect on already-running timers; register
// all timers before calling Start.
func (s *Supervisor) Register(t *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers = append(s.timers, t)
}

// Start starts every registered timer.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("starting timers", "count", len(s.timers))
	for _, t := range s.timers {
		t.Start()
	}
}

// Stop cancels every registered timer's run loop and waits for them all to
// exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("stopping timers", "count", len(s.timers))
	var wg sync.WaitGroup
	wg.Add(len(s.timers))
	for _, t := range s.timers {
		go func(t *Timer) {
			defer wg.Done()
			t.Stop()
		}(t)
	}
	wg.Wait()
}
