package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Interface is the contract every supervised external client implements.
// The four hooks mirror shc/interfaces/_helper.py's SupervisedClientInterface
// exactly:
//
//   - Connect must be idempotent across any prior failure state: no
//     disconnect is issued after a failed Connect, so the next attempt's
//     Connect must tolerate a half-open connection left by its own earlier
//     failure. (A failure later in an attempt, such as Run exiting early,
//     the ready timeout or a Subscribe error, is followed by Disconnect.)
//   - Run is the long-lived task that handles traffic once connected. It
//     must call ready() as soon as it can accept traffic, and must return
//     (or return an error) promptly when ctx is cancelled by Disconnect.
//   - Subscribe runs after Run signals ready, and again after every
//     reconnect.
//   - Disconnect must be idempotent, must never panic, and must cause the
//     in-flight Run's context to be observed as done shortly afterward.
type Interface interface {
	Name() string
	Connect(ctx context.Context) error
	Run(ctx context.Context, ready func()) error
	Subscribe(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Config controls one InterfaceSupervisor's timeouts and reconnect policy.
// Defaults mirror shc/interfaces/_helper.py's backoff_base=1s,
// backoff_exponent=1.25.
type Config struct {
	// AutoReconnect, if false, turns any post-startup failure into a fatal
	// process-wide shutdown (spec §4.C "Fatal path").
	AutoReconnect bool
	// FailsafeStart, if true together with AutoReconnect, reports
	// successful startup to the process supervisor even if the first
	// connection attempt fails, continuing to retry in the background.
	FailsafeStart bool

	BackoffBase     time.Duration
	BackoffExponent float64

	ConnectTimeout   time.Duration
	RunningTimeout   time.Duration
	SubscribeTimeout time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		AutoReconnect:    true,
		BackoffBase:      time.Second,
		BackoffExponent:  1.25,
		ConnectTimeout:   30 * time.Second,
		RunningTimeout:   30 * time.Second,
		SubscribeTimeout: 30 * time.Second,
	}
}

// InterfaceSupervisor drives one Interface through the state machine
// described in spec §4.C.
type InterfaceSupervisor struct {
	iface   Interface
	cfg     Config
	logger  *slog.Logger
	onFatal func(name string)

	mu        sync.RWMutex
	state     State
	lastErr   error
	attemptID string

	stopping chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs an InterfaceSupervisor for iface. onFatal is invoked (from
// the supervise goroutine) when AutoReconnect is false and the interface
// fails after startup — ordinarily wired to ProcessSupervisor.InterfaceFailure.
func New(iface Interface, cfg Config, logger *slog.Logger, onFatal func(name string)) *InterfaceSupervisor {
	if cfg.FailsafeStart && !cfg.AutoReconnect {
		cfg.FailsafeStart = false
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffExponent <= 1 {
		cfg.BackoffExponent = 1.25
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InterfaceSupervisor{
		iface:    iface,
		cfg:      cfg,
		logger:   logger,
		onFatal:  onFatal,
		stopping: make(chan struct{}),
	}
}

// State returns the supervisor's current lifecycle state.
func (s *InterfaceSupervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastError returns the most recent error observed by the supervise loop,
// if any.
func (s *InterfaceSupervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *InterfaceSupervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *InterfaceSupervisor) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// AttemptID returns the identifier of the connection attempt currently (or
// most recently) in progress, letting operators correlate log lines across
// Connect/Run/Subscribe/Disconnect for the same attempt.
func (s *InterfaceSupervisor) AttemptID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attemptID
}

func (s *InterfaceSupervisor) setAttemptID(id string) {
	s.mu.Lock()
	s.attemptID = id
	s.mu.Unlock()
}

// Start launches the supervise loop and blocks until the interface has
// either completed startup (possibly in failsafe mode, with reconnection
// continuing in the background) or failed permanently — in which case the
// returned error is non-nil and the loop has already exited.
func (s *InterfaceSupervisor) Start(ctx context.Context) error {
	s.done = make(chan struct{})
	started := make(chan error, 1)
	go s.supervise(ctx, started)
	return <-started
}

// Stop requests an orderly shutdown: it signals the supervise loop to stop
// reconnecting, calls Disconnect to unwind any active connection, and waits
// for the supervise loop to exit.
func (s *InterfaceSupervisor) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopping) })
	_ = s.iface.Disconnect(ctx)
	if s.done != nil {
		<-s.done
	}
	s.setState(StateStopped)
	return nil
}

func (s *InterfaceSupervisor) isStopping() bool {
	select {
	case <-s.stopping:
		return true
	default:
		return false
	}
}

// supervise is the direct Go translation of SupervisedClientInterface._supervise.
//
// Startup is reported as finished (markStarted, firing `started`) the
// instant Subscribe succeeds for the first time — not when the whole
// attempt "completes", since a successful attempt only ever ends via a
// later Run failure or a stop request. This mirrors the original's
// `self._started.set_result(None)` placement, which happens right after a
// successful subscribe, before awaiting run_task's eventual exit: a fatal
// post-startup failure (AutoReconnect=false) must invoke onFatal, while a
// failure during the very first startup attempt must only surface as
// Start()'s returned error.
func (s *InterfaceSupervisor) supervise(ctx context.Context, started chan<- error) {
	defer close(s.done)
	sleepInterval := s.cfg.BackoffBase
	reportedStart := false
	markStarted := func() {
		if !reportedStart {
			reportedStart = true
			started <- nil
		}
	}

	for {
		attemptErr, reachedRunning := s.runOneAttempt(ctx, markStarted)

		if s.isStopping() {
			return
		}

		s.setLastErr(attemptErr)
		if reachedRunning {
			// Reset the backoff schedule after any clean transition
			// through RUNNING (spec §9 Open Question, resolved this way).
			sleepInterval = s.cfg.BackoffBase
		}

		if !reportedStart {
			if s.cfg.FailsafeStart {
				reportedStart = true
				started <- nil
				s.logger.Warn("interface failed to start, continuing in background (failsafe_start)",
					"interface", s.iface.Name(), "attempt_id", s.AttemptID(), "err", attemptErr)
			} else {
				started <- attemptErr
				return
			}
		}

		if !s.cfg.AutoReconnect {
			s.logger.Error("interface failed and auto_reconnect is disabled, shutting down",
				"interface", s.iface.Name(), "attempt_id", s.AttemptID(), "err", attemptErr)
			s.setState(StateFailed)
			if s.onFatal != nil {
				s.onFatal(s.iface.Name())
			}
			return
		}

		s.setState(StateBackoff)
		s.logger.Error("interface error, reconnecting", "interface", s.iface.Name(), "attempt_id", s.AttemptID(), "err", attemptErr, "wait", sleepInterval)
		select {
		case <-time.After(sleepInterval):
		case <-s.stopping:
			return
		}
		sleepInterval = time.Duration(float64(sleepInterval) * s.cfg.BackoffExponent)
	}
}

// runOneAttempt performs one connect -> run -> subscribe -> wait-for-run-exit
// cycle. It returns the error that ended it (nil only if the cycle ended
// because Stop() was requested; callers must re-check isStopping()), and
// whether the attempt ever reached StateRunning — used by supervise to
// decide whether to reset the backoff schedule. markStarted is invoked the
// instant Subscribe succeeds.
func (s *InterfaceSupervisor) runOneAttempt(ctx context.Context, markStarted func()) (error, bool) {
	attemptID := uuid.NewString()
	s.setAttemptID(attemptID)
	s.logger.Debug("interface connection attempt starting", "interface", s.iface.Name(), "attempt_id", attemptID)
	s.setState(StateConnecting)

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	connectDone := make(chan error, 1)
	go func() { connectDone <- s.iface.Connect(connectCtx) }()

	var connectErr error
	select {
	case connectErr = <-connectDone:
	case <-s.stopping:
		cancel()
		<-connectDone
		return nil, false
	}
	cancel()
	if connectErr != nil {
		return fmt.Errorf("connect: %w", connectErr), false
	}

	s.setState(StateRunningStartup)
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	runErrCh := make(chan error, 1)
	readyCh := make(chan struct{})
	var readyOnce sync.Once
	ready := func() { readyOnce.Do(func() { close(readyCh) }) }
	go func() { runErrCh <- s.iface.Run(runCtx, ready) }()

	select {
	case <-readyCh:
		// fallthrough to Subscribe below
	case runErr := <-runErrCh:
		_ = s.iface.Disconnect(ctx)
		if runErr != nil {
			return fmt.Errorf("run exited before signalling ready: %w", runErr), false
		}
		return errors.New("run exited before signalling ready"), false
	case <-time.After(s.cfg.RunningTimeout):
		_ = s.iface.Disconnect(ctx)
		<-runErrCh
		return errors.New("timed out waiting for run to signal ready"), false
	case <-s.stopping:
		_ = s.iface.Disconnect(ctx)
		<-runErrCh
		return nil, false
	}

	s.setState(StateSubscribing)
	subCtx, subCancel := context.WithTimeout(ctx, s.cfg.SubscribeTimeout)
	subErr := s.iface.Subscribe(subCtx)
	subCancel()
	if subErr != nil {
		_ = s.iface.Disconnect(ctx)
		<-runErrCh
		return fmt.Errorf("subscribe: %w", subErr), false
	}

	s.setState(StateRunning)
	markStarted()
	select {
	case runErr := <-runErrCh:
		if runErr != nil {
			return fmt.Errorf("run: %w", runErr), true
		}
		return errors.New("run exited unexpectedly"), true
	case <-s.stopping:
		_ = s.iface.Disconnect(ctx)
		<-runErrCh
		return nil, true
	}
}
