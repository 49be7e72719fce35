package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paintersrp/muther/internal/metrics"
	"github.com/Paintersrp/muther/internal/probe"
	"github.com/Paintersrp/muther/internal/runtime"
)

const (
	DefaultGracePeriod  = 5 * time.Second
	DefaultPollInterval = 2 * time.Second
	DefaultReadyTimeout = 60 * time.Second

	readinessPollInterval = 100 * time.Millisecond
)

var (
	// ErrShuttingDown is returned when a child is launched after the
	// shutdown latch has been set.
	ErrShuttingDown = errors.New("supervisor is shutting down")
	// ErrStartupClosed is returned when a child is launched after startup
	// completed. The children collection is append-only during startup.
	ErrStartupClosed = errors.New("startup already completed")
	// ErrMissingExecutable reports that a required child's executable could
	// not be located during the pre-flight check.
	ErrMissingExecutable = errors.New("required executable missing")
)

// Phase is the supervisor's lifecycle state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseShuttingDown
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseShuttingDown:
		return "shutting-down"
	case PhaseTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// ChildSpec is a launch request plus the supervision policy for one child.
type ChildSpec struct {
	runtime.LaunchSpec

	// Required children abort startup when they cannot be launched.
	Required bool
	// DependsOn names a previously listed child that must be running, and
	// ready when it declares Health, before this child is launched.
	DependsOn string
	// Health establishes readiness of this child for its dependants.
	Health *probe.Spec
	// ReadyTimeout bounds how long dependants wait for Health.
	ReadyTimeout time.Duration
}

type child struct {
	spec     ChildSpec
	handle   runtime.Handle
	reported atomic.Bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithGracePeriod sets how long each child is given to honour a graceful stop
// before it is force-killed.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithPollInterval sets the liveness polling interval of Monitor.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithReadyTimeout sets the default readiness timeout for dependencies.
func WithReadyTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.readyTimeout = d
		}
	}
}

// WithReporter sets the sink for lifecycle events.
func WithReporter(r Reporter) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.reporter = r
		}
	}
}

// Supervisor owns an ordered set of child processes and guarantees that all
// of them are torn down exactly once, whichever trigger arrives first.
type Supervisor struct {
	spawner      runtime.Spawner
	reporter     Reporter
	grace        time.Duration
	poll         time.Duration
	readyTimeout time.Duration

	// mu serialises launches against the shutdown snapshot. children is
	// append-only and is never mutated once the latch is set.
	mu       sync.Mutex
	children []*child

	phase    atomic.Int32
	latch    atomic.Bool
	reason   string
	stopping chan struct{}
	done     chan struct{}
}

// New constructs an idle supervisor that launches children through spawner.
func New(spawner runtime.Spawner, opts ...Option) *Supervisor {
	s := &Supervisor{
		spawner:      spawner,
		reporter:     discardReporter{},
		grace:        DefaultGracePeriod,
		poll:         DefaultPollInterval,
		readyTimeout: DefaultReadyTimeout,
		stopping:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Phase returns the current lifecycle phase.
func (s *Supervisor) Phase() Phase {
	return Phase(s.phase.Load())
}

// GracePeriod returns the configured grace period.
func (s *Supervisor) GracePeriod() time.Duration {
	return s.grace
}

// Stopping is closed as soon as the shutdown sequence starts.
func (s *Supervisor) Stopping() <-chan struct{} {
	return s.stopping
}

// Done is closed once the shutdown sequence has completed.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// ShutdownReason returns the reason passed to the Shutdown call that won the
// latch, or the empty string while running.
func (s *Supervisor) ShutdownReason() string {
	select {
	case <-s.stopping:
		return s.reason
	default:
		return ""
	}
}

// Children returns the launched handles in spawn order.
func (s *Supervisor) Children() []runtime.Handle {
	children := s.snapshot()
	out := make([]runtime.Handle, 0, len(children))
	for _, c := range children {
		out = append(out, c.handle)
	}
	return out
}

func (s *Supervisor) snapshot() []*child {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*child(nil), s.children...)
}

func (s *Supervisor) lookup(name string) *child {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.children {
		if c.spec.Name == name {
			return c
		}
	}
	return nil
}

// Launch spawns one child and registers it. It is only valid during startup
// and fails with ErrShuttingDown once the shutdown latch is set.
func (s *Supervisor) Launch(ctx context.Context, spec ChildSpec) (runtime.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latch.Load() {
		return nil, ErrShuttingDown
	}
	if s.Phase() != PhaseIdle {
		return nil, ErrStartupClosed
	}

	handle, err := s.spawner.Spawn(ctx, spec.LaunchSpec)
	if err != nil {
		return nil, err
	}
	s.children = append(s.children, &child{spec: spec, handle: handle})
	metrics.ChildSpawned(spec.Name)

	evt := newEvent(spec.Name, handle.PID(), EventTypeSpawned, "info", "spawned")
	evt.Reason = ReasonStartup
	s.reporter.Report(evt)
	return handle, nil
}

// Start launches every child in order. Required executables are verified
// before anything is spawned, so a missing one never leaves a partially
// started system behind. A spawn failure of a required child tears down the
// children started so far.
func (s *Supervisor) Start(ctx context.Context, specs []ChildSpec) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.latch.Load() {
		return ErrShuttingDown
	}
	if s.Phase() != PhaseIdle {
		return ErrStartupClosed
	}
	if err := s.preflight(specs); err != nil {
		return err
	}

	for _, spec := range specs {
		if s.latch.Load() {
			return ErrShuttingDown
		}

		if spec.DependsOn != "" && !s.awaitDependency(ctx, spec) {
			// An interrupt while waiting is a shutdown, not a failed start.
			if s.latch.Load() {
				return ErrShuttingDown
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if spec.Required {
				err := fmt.Errorf("start %s: dependency %s unavailable", spec.Name, spec.DependsOn)
				s.failStartup(spec, err)
				return err
			}
			continue
		}

		if !spec.Required {
			if err := runtime.CheckExecutable(spec.Executable); err != nil {
				evt := newEvent(spec.Name, 0, EventTypeSkipped, "warn", "executable not found; continuing without it")
				evt.Err = err
				s.reporter.Report(evt)
				continue
			}
		}

		if _, err := s.Launch(ctx, spec); err != nil {
			if errors.Is(err, ErrShuttingDown) {
				return err
			}
			if spec.Required {
				err = fmt.Errorf("start %s: %w", spec.Name, err)
				s.failStartup(spec, err)
				return err
			}
			evt := newEvent(spec.Name, 0, EventTypeError, "error", "failed to start optional child")
			evt.Reason = ReasonStartupFailure
			evt.Err = err
			s.reporter.Report(evt)
		}
	}

	s.mu.Lock()
	running := !s.latch.Load() && s.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseRunning))
	count := len(s.children)
	s.mu.Unlock()
	if !running {
		return ErrShuttingDown
	}
	s.reporter.Report(newEvent("", 0, EventTypeRunning, "info", fmt.Sprintf("running with %d children", count)))
	return nil
}

func (s *Supervisor) preflight(specs []ChildSpec) error {
	var missing []error
	for _, spec := range specs {
		if !spec.Required {
			continue
		}
		if err := runtime.CheckExecutable(spec.Executable); err != nil {
			evt := newEvent(spec.Name, 0, EventTypeError, "error", "required executable not found")
			evt.Reason = ReasonMissingRequired
			evt.Err = err
			s.reporter.Report(evt)
			missing = append(missing, &runtime.SpawnError{Name: spec.Name, Path: spec.Executable, Err: err})
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %w", ErrMissingExecutable, errors.Join(missing...))
	}
	return nil
}

func (s *Supervisor) failStartup(spec ChildSpec, err error) {
	evt := newEvent(spec.Name, 0, EventTypeError, "error", "failed to start required child")
	evt.Reason = ReasonStartupFailure
	evt.Err = err
	s.reporter.Report(evt)
	s.Shutdown(ReasonStartupFailure)
}

// awaitDependency reports whether spec may be launched now. A dependency that
// never became ready is tolerated with a warning; one that is not running is
// not.
func (s *Supervisor) awaitDependency(ctx context.Context, spec ChildSpec) bool {
	dep := s.lookup(spec.DependsOn)
	if dep == nil || !dep.handle.IsAlive() {
		evt := newEvent(spec.Name, 0, EventTypeSkipped, "warn", fmt.Sprintf("dependency %s is not running", spec.DependsOn))
		evt.Reason = ReasonDependency
		s.reporter.Report(evt)
		return false
	}
	if dep.spec.Health == nil {
		return true
	}

	timeout := dep.spec.ReadyTimeout
	if timeout <= 0 {
		timeout = s.readyTimeout
	}

	waitCtx, cancel := s.readinessContext(ctx, dep)
	err := probe.WaitReady(waitCtx, dep.spec.Health, timeout)
	cancel()

	switch {
	case err == nil:
		s.reporter.Report(newEvent(dep.spec.Name, dep.handle.PID(), EventTypeReady, "info", "ready"))
		return true
	case s.latch.Load() || ctx.Err() != nil:
		return false
	case !dep.handle.IsAlive():
		evt := newEvent(spec.Name, 0, EventTypeSkipped, "warn", fmt.Sprintf("dependency %s exited before becoming ready", spec.DependsOn))
		evt.Reason = ReasonDependency
		s.reporter.Report(evt)
		return false
	default:
		evt := newEvent(dep.spec.Name, dep.handle.PID(), EventTypeUnready, "warn", fmt.Sprintf("not ready; starting %s anyway", spec.Name))
		evt.Err = err
		s.reporter.Report(evt)
		return true
	}
}

// readinessContext is cancelled when shutdown starts or dep exits.
func (s *Supervisor) readinessContext(ctx context.Context, dep *child) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(readinessPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopping:
				cancel()
				return
			case <-ticker.C:
				if !dep.handle.IsAlive() {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, cancel
}

// Monitor polls every child until the shutdown sequence starts or ctx is
// cancelled. A freshly observed exit is reported exactly once. A child
// exiting on its own never triggers shutdown: the remaining children keep
// running and keep being monitored.
func (s *Supervisor) Monitor(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopping:
			return nil
		default:
		}

		s.pollOnce()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopping:
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) pollOnce() {
	for _, c := range s.snapshot() {
		// Handles belong to the shutdown sequence once the latch is set.
		if s.latch.Load() {
			return
		}
		if c.reported.Load() || c.handle.IsAlive() {
			continue
		}
		// Shutdown may have started while IsAlive ran; the exit is then its
		// to report.
		if s.latch.Load() {
			return
		}
		s.reportExit(c, c.handle.Status(), ReasonUnexpectedExit)
	}
}

func (s *Supervisor) reportExit(c *child, status runtime.ExitStatus, reason string) {
	if !c.reported.CompareAndSwap(false, true) {
		return
	}
	if reason == ReasonUnexpectedExit && s.latch.Load() {
		reason = ReasonShutdown
	}
	metrics.ChildExited(c.spec.Name, status.State.String())

	level := "info"
	if status.State != runtime.StateExitedNormally {
		level = "warn"
	}
	evt := newEvent(c.spec.Name, c.handle.PID(), EventTypeExited, level, fmt.Sprintf("exited with code %d", status.Code))
	evt.Code = status.Code
	evt.State = status.State.String()
	evt.Reason = reason
	s.reporter.Report(evt)
}

// Shutdown runs the teardown sequence. Only the first call, from whichever
// goroutine, performs it; concurrent and later calls return false right away
// and may wait on Done. Every live child is asked to stop gracefully in spawn
// order, then each one gets the grace period, measured from its own stop
// request, before it is force-killed. Errors are reported and absorbed so one
// stubborn child never prevents the others from being torn down.
func (s *Supervisor) Shutdown(reason string) bool {
	started, ok := s.beginShutdown(reason)
	if !ok {
		return false
	}
	s.finishShutdown(reason, started)
	return true
}

// ShutdownAsync is Shutdown without waiting for the teardown. It reports
// whether this call won the latch; Stopping is already closed when it
// returns.
func (s *Supervisor) ShutdownAsync(reason string) bool {
	started, ok := s.beginShutdown(reason)
	if !ok {
		return false
	}
	go s.finishShutdown(reason, started)
	return true
}

func (s *Supervisor) beginShutdown(reason string) (time.Time, bool) {
	if !s.latch.CompareAndSwap(false, true) {
		return time.Time{}, false
	}
	started := time.Now()

	s.reason = reason
	s.phase.Store(int32(PhaseShuttingDown))
	close(s.stopping)

	evt := newEvent("", 0, EventTypeShutdown, "info", "shutting down")
	evt.Reason = reason
	s.reporter.Report(evt)
	return started, true
}

func (s *Supervisor) finishShutdown(reason string, started time.Time) {
	// Waits for an in-flight Launch so its child is included.
	children := s.snapshot()

	stopRequested := make([]bool, len(children))
	for i, c := range children {
		if !c.handle.IsAlive() {
			continue
		}
		if err := c.handle.RequestGracefulStop(); err != nil {
			evt := newEvent(c.spec.Name, c.handle.PID(), EventTypeError, "error", "graceful stop failed")
			evt.Reason = ReasonStopFailed
			evt.Err = err
			s.reporter.Report(evt)
			continue
		}
		stopRequested[i] = true
		s.reporter.Report(newEvent(c.spec.Name, c.handle.PID(), EventTypeStopping, "info", "graceful stop requested"))
	}

	var wg sync.WaitGroup
	for i, c := range children {
		wg.Add(1)
		go func(c *child, requested bool) {
			defer wg.Done()
			s.teardown(c, requested)
		}(c, stopRequested[i])
	}
	wg.Wait()

	metrics.ObserveShutdown(time.Since(started))
	s.phase.Store(int32(PhaseTerminated))

	done := newEvent("", 0, EventTypeShutdownComplete, "info", "all children terminated")
	done.Reason = reason
	s.reporter.Report(done)
	close(s.done)
}

func (s *Supervisor) teardown(c *child, stopRequested bool) {
	h := c.handle
	if stopRequested {
		if status, exited := h.WaitForExit(s.grace); exited {
			s.reportExit(c, status, ReasonShutdown)
			return
		}
	} else if !h.IsAlive() {
		s.reportExit(c, h.Status(), ReasonShutdown)
		return
	}

	c.reported.Store(true)
	metrics.ChildForceKilled(c.spec.Name)

	message := "grace period elapsed; force killing"
	reason := ReasonGraceExpired
	if !stopRequested {
		message = "force killing after failed graceful stop"
		reason = ReasonStopFailed
	}
	evt := newEvent(c.spec.Name, h.PID(), EventTypeKilled, "warn", message)
	evt.Reason = reason
	s.reporter.Report(evt)

	if err := h.ForceKill(); err != nil {
		evt := newEvent(c.spec.Name, h.PID(), EventTypeError, "error", "force kill failed")
		evt.Reason = ReasonKillFailed
		evt.Err = err
		s.reporter.Report(evt)
		return
	}
	metrics.ChildExited(c.spec.Name, runtime.StateKilled.String())
}

// Guard returns a function meant to be deferred at the top of the program's
// main body. It runs the shutdown sequence when the body returns and, if the
// body panics, tears the children down before re-raising the panic.
func (s *Supervisor) Guard() func() {
	return func() {
		if r := recover(); r != nil {
			s.Shutdown(ReasonCrash)
			<-s.done
			panic(r)
		}
		s.Shutdown(ReasonExit)
		<-s.done
	}
}
