package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/shc-project/shc/internal/timer"
)

// VariableInitializer is implemented by any Variable-like connectable whose
// configured provider should be consulted during process startup's
// read_initialize_variables step.
type VariableInitializer interface {
	Initialize(ctx context.Context) error
	Name() string
}

// ProcessSupervisor implements spec component G: process-wide state (a
// registry of interfaces, variables and timers, a stop signal, and an exit
// code), startup ordering, and orderly shutdown. Grounded on
// shc/supervisor.py's module-level run()/stop()/register_interface and on
// cmd/thane/main.go's runServe for the Go idiom of threading a single
// *slog.Logger and a cancellable context through startup and shutdown.
type ProcessSupervisor struct {
	logger *slog.Logger
	timers *timer.Supervisor

	mu         sync.Mutex
	interfaces []*InterfaceSupervisor
	variables  []VariableInitializer

	stopCh   chan struct{}
	stopOnce sync.Once
	exitCode atomic.Int32
}

// NewProcessSupervisor constructs an empty ProcessSupervisor. timers may be
// nil if the process registers no timers.
func NewProcessSupervisor(logger *slog.Logger, timers *timer.Supervisor) *ProcessSupervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessSupervisor{
		logger: logger,
		timers: timers,
		stopCh: make(chan struct{}),
	}
}

// RegisterInterface adds is to the set of interfaces started in parallel at
// the beginning of Run and stopped in parallel during Shutdown. Interfaces
// must be registered before Run is called.
func (p *ProcessSupervisor) RegisterInterface(is *InterfaceSupervisor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interfaces = append(p.interfaces, is)
}

// RegisterVariable adds v to the set of variables initialised from their
// provider after interfaces have started. Variables must be registered
// before Run is called.
func (p *ProcessSupervisor) RegisterVariable(v VariableInitializer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.variables = append(p.variables, v)
}

// Run executes the startup sequence (spec §4.G): start all interfaces in
// parallel, initialise all variables from their providers, start timers,
// then block until Shutdown is called (directly, via a fatal
// InterfaceFailure, or via the caller wiring OS signals to Shutdown). It
// returns the process exit code: 0 for an orderly shutdown, 1 if any
// interface failed to start or InterfaceFailure was invoked.
func (p *ProcessSupervisor) Run(ctx context.Context) int {
	p.mu.Lock()
	interfaces := append([]*InterfaceSupervisor(nil), p.interfaces...)
	variables := append([]VariableInitializer(nil), p.variables...)
	p.mu.Unlock()

	p.logger.Info("starting up interfaces", "count", len(interfaces))
	var wg sync.WaitGroup
	errCh := make(chan error, len(interfaces))
	wg.Add(len(interfaces))
	for _, is := range interfaces {
		go func(is *InterfaceSupervisor) {
			defer wg.Done()
			if err := is.Start(ctx); err != nil {
				errCh <- err
			}
		}(is)
	}
	wg.Wait()
	close(errCh)
	failed := false
	for err := range errCh {
		p.logger.Error("interface failed to start", "err", err)
		failed = true
	}
	if failed {
		p.exitCode.Store(1)
		return 1
	}

	p.logger.Info("all interfaces started successfully, initializing variables", "count", len(variables))
	for _, v := range variables {
		if err := v.Initialize(ctx); err != nil {
			p.logger.Error("variable provider failed, continuing startup", "variable", v.Name(), "err", err)
		}
	}

	p.logger.Info("variables initialized, starting timers")
	if p.timers != nil {
		p.timers.Start()
	}

	p.logger.Info("startup finished")
	<-p.stopCh
	return int(p.exitCode.Load())
}

// Shutdown stops every registered interface and the timer subsystem in
// parallel, swallowing individual errors (they are logged, not propagated),
// then unblocks Run. Shutdown is idempotent.
func (p *ProcessSupervisor) Shutdown(ctx context.Context) {
	p.mu.Lock()
	interfaces := append([]*InterfaceSupervisor(nil), p.interfaces...)
	p.mu.Unlock()

	p.logger.Info("shutting down interfaces", "count", len(interfaces))
	var wg sync.WaitGroup
	wg.Add(len(interfaces))
	for _, is := range interfaces {
		go func(is *InterfaceSupervisor) {
			defer wg.Done()
			if err := is.Stop(ctx); err != nil {
				p.logger.Warn("interface stop returned error", "err", err)
			}
		}(is)
	}
	if p.timers != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.timers.Stop()
		}()
	}
	wg.Wait()

	p.stopOnce.Do(func() { close(p.stopCh) })
}

// InterfaceFailure implements the spec's interface_failure(name): it sets
// the exit code to 1 and schedules an orderly shutdown of the whole
// process. It is safe to call from an InterfaceSupervisor's onFatal
// callback, which runs on that supervisor's own goroutine.
func (p *ProcessSupervisor) InterfaceFailure(name string) {
	p.logger.Error("fatal interface failure, initiating process shutdown", "interface", name)
	p.exitCode.Store(1)
	go p.Shutdown(context.Background())
}
