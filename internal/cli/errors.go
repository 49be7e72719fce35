package cli

import (
	"errors"
	"strconv"

	"github.com/Paintersrp/muther/internal/engine"
	"github.com/Paintersrp/muther/internal/runtime"
)

const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitMissingExecutable = 3
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit status " + strconv.Itoa(e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, engine.ErrMissingExecutable) || errors.Is(err, runtime.ErrExecutableNotFound) {
		return ExitMissingExecutable
	}
	return ExitFailure
}
