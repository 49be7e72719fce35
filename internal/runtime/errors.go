package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrExecutableNotFound reports that a child's executable does not exist.
var ErrExecutableNotFound = errors.New("executable not found")

// SpawnError describes a failure to launch a child process.
type SpawnError struct {
	Name string
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// TerminationError describes an OS-level failure to stop or kill a child.
type TerminationError struct {
	Name string
	PID  int
	Op   string
	Err  error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("%s %s (pid %d): %v", e.Op, e.Name, e.PID, e.Err)
}

func (e *TerminationError) Unwrap() error {
	return e.Err
}

// CheckExecutable verifies that path names an existing file that is not a
// directory. Missing paths are reported with ErrExecutableNotFound.
func CheckExecutable(path string) error {
	if path == "" {
		return fmt.Errorf("empty path: %w", ErrExecutableNotFound)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", filepath.Clean(path), ErrExecutableNotFound)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory: %w", path, ErrExecutableNotFound)
	}
	return nil
}
