package runtime

import "fmt"

// State is the lifecycle state of a child process. A handle only ever moves
// forward from Running to one of the terminal states.
type State int

const (
	StateRunning State = iota
	StateExitedNormally
	StateExitedAbnormally
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExitedNormally:
		return "exited"
	case StateExitedAbnormally:
		return "exited-abnormally"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is one of the exit states.
func (s State) Terminal() bool {
	return s != StateRunning
}

// ExitStatus pairs a state with the exit code reported by the platform. Code
// is only meaningful for terminal states and is -1 when the process was
// terminated by a signal.
type ExitStatus struct {
	State State
	Code  int
}

// ClassifyExit maps an exit code to its terminal state. killed takes
// precedence because the code of a killed process reflects the kill, not the
// child's own outcome.
func ClassifyExit(code int, killed bool) ExitStatus {
	switch {
	case killed:
		return ExitStatus{State: StateKilled, Code: code}
	case code == 0:
		return ExitStatus{State: StateExitedNormally, Code: code}
	default:
		return ExitStatus{State: StateExitedAbnormally, Code: code}
	}
}

func (s ExitStatus) String() string {
	if s.State == StateRunning {
		return s.State.String()
	}
	return fmt.Sprintf("%s code=%d", s.State, s.Code)
}
