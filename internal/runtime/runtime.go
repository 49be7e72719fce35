package runtime

import (
	"context"
	"io"
	"time"
)

const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "muther"
)

// Options carries the platform-specific launch switches for a child. Options
// that have no meaning on the current platform are ignored.
type Options struct {
	// HideWindow gives the child its own hidden console on Windows and
	// detaches its standard output streams elsewhere.
	HideWindow bool
	// NewProcessGroup places the child in its own process group so that
	// termination signals reach every member of the group.
	NewProcessGroup bool
}

// LaunchSpec describes a single child process. The supervisor treats every
// field as opaque.
type LaunchSpec struct {
	Name       string
	Executable string
	Workdir    string
	Args       []string
	Env        map[string]string
	Options    Options

	// Stdout and Stderr receive the child's output streams when set. When
	// nil the child inherits the supervisor's streams, or the null device
	// for hidden children.
	Stdout io.Writer
	Stderr io.Writer
}

// Handle represents one spawned child process. Implementations must be safe
// for concurrent use: liveness checks may race with termination requests.
type Handle interface {
	// Name returns the human-readable label used in diagnostics.
	Name() string

	// PID returns the platform process identifier assigned at spawn.
	PID() int

	// IsAlive reports whether the process is still running. It never blocks.
	IsAlive() bool

	// RequestGracefulStop delivers the platform's cooperative stop request.
	// It returns without waiting for the process to exit.
	RequestGracefulStop() error

	// WaitForExit blocks for at most timeout. The boolean is false when the
	// process was still running once the timeout elapsed.
	WaitForExit(timeout time.Duration) (ExitStatus, bool)

	// ForceKill terminates the process unconditionally. Calling it on an
	// exited process is not an error.
	ForceKill() error

	// Status returns the most recently observed state.
	Status() ExitStatus
}

// Spawner launches child processes.
type Spawner interface {
	Spawn(ctx context.Context, spec LaunchSpec) (Handle, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(ctx context.Context, spec LaunchSpec) (Handle, error)

// Spawn calls f(ctx, spec).
func (f SpawnerFunc) Spawn(ctx context.Context, spec LaunchSpec) (Handle, error) {
	return f(ctx, spec)
}
