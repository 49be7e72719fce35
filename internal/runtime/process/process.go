package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paintersrp/muther/internal/runtime"
)

const outputWaitDelay = 2 * time.Second

type spawner struct{}

// New constructs a spawner that launches children as local processes.
func New() runtime.Spawner {
	return spawner{}
}

func (spawner) Spawn(ctx context.Context, spec runtime.LaunchSpec) (runtime.Handle, error) {
	return Spawn(ctx, spec)
}

// Spawn launches the executable described by spec and returns a handle owning
// the new process. The executable must exist; a missing path is reported as a
// SpawnError wrapping runtime.ErrExecutableNotFound so callers get a specific
// diagnostic instead of an opaque OS error.
func Spawn(ctx context.Context, spec runtime.LaunchSpec) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, &runtime.SpawnError{Name: spec.Name, Path: spec.Executable, Err: err}
	}
	if err := runtime.CheckExecutable(spec.Executable); err != nil {
		return nil, &runtime.SpawnError{Name: spec.Name, Path: spec.Executable, Err: err}
	}

	cmd := exec.Command(spec.Executable, spec.Args...)
	if spec.Workdir != "" {
		cmd.Dir = spec.Workdir
	}

	env := os.Environ()
	if spec.Env != nil {
		envOverrides := make([]string, 0, len(spec.Env))
		for k, v := range spec.Env {
			envOverrides = append(envOverrides, fmt.Sprintf("%s=%s", k, v))
		}
		env = append(env, envOverrides...)
	}
	cmd.Env = env

	// Stdin is always the null device so a child never competes with the
	// supervisor's console. Hidden children also lose stdout and stderr
	// unless the caller captures them.
	if !spec.Options.HideWindow {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	}
	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	}
	if spec.Stdout != nil || spec.Stderr != nil {
		// A grandchild holding the pipe open must not keep Wait from
		// reporting the child's exit.
		cmd.WaitDelay = outputWaitDelay
	}

	configureCmdSysProcAttr(cmd, spec.Options)

	if err := cmd.Start(); err != nil {
		return nil, &runtime.SpawnError{Name: spec.Name, Path: spec.Executable, Err: err}
	}

	h := &Handle{
		name: spec.Name,
		pid:  cmd.Process.Pid,
		cmd:  cmd,
		opts: spec.Options,
		done: make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

// Handle is a spawned child process. It is exclusively owned by the
// supervisor that spawned it.
type Handle struct {
	name string
	pid  int
	cmd  *exec.Cmd
	opts runtime.Options

	done   chan struct{}
	killed atomic.Bool

	mu      sync.Mutex
	status  runtime.ExitStatus
	waitErr error
}

var _ runtime.Handle = (*Handle)(nil)

func (h *Handle) Name() string { return h.name }

func (h *Handle) PID() int { return h.pid }

func (h *Handle) reap() {
	err := h.cmd.Wait()
	code := -1
	if state := h.cmd.ProcessState; state != nil {
		code = state.ExitCode()
	}

	h.mu.Lock()
	h.status = runtime.ClassifyExit(code, h.killed.Load())
	h.waitErr = err
	h.mu.Unlock()

	close(h.done)
}

func (h *Handle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Status() runtime.ExitStatus {
	if h.IsAlive() {
		return runtime.ExitStatus{State: runtime.StateRunning}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Err returns the error reported by the wait call, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

func (h *Handle) WaitForExit(timeout time.Duration) (runtime.ExitStatus, bool) {
	if !h.IsAlive() {
		return h.Status(), true
	}
	if timeout <= 0 {
		return h.Status(), false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.Status(), true
	case <-timer.C:
		return h.Status(), false
	}
}

func (h *Handle) RequestGracefulStop() error {
	if !h.IsAlive() {
		return nil
	}
	if err := h.requestStop(); err != nil {
		if !h.IsAlive() {
			return nil
		}
		return &runtime.TerminationError{Name: h.name, PID: h.pid, Op: "stop", Err: err}
	}
	return nil
}

func (h *Handle) ForceKill() error {
	if !h.IsAlive() {
		return nil
	}
	h.killed.Store(true)

	var descendants []treeMember
	if h.walkTreeOnKill() {
		descendants = collectDescendants(h.pid)
	}
	err := h.kill()
	killTree(descendants)

	if err != nil {
		if !h.IsAlive() {
			return nil
		}
		h.killed.Store(false)
		return &runtime.TerminationError{Name: h.name, PID: h.pid, Op: "kill", Err: err}
	}
	return nil
}
