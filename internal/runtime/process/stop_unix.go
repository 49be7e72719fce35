//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func (h *Handle) requestStop() error {
	return h.signal(unix.SIGTERM)
}

func (h *Handle) kill() error {
	return h.signal(unix.SIGKILL)
}

func (h *Handle) signal(sig unix.Signal) error {
	if h.opts.NewProcessGroup {
		// The child is the leader of its own group, so its pgid is its pid.
		if err := unix.Kill(-h.pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			return err
		}
		return nil
	}
	if err := h.cmd.Process.Signal(syscall.Signal(sig)); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// walkTreeOnKill reports whether descendants have to be killed one by one.
// A process group already covers them.
func (h *Handle) walkTreeOnKill() bool {
	return !h.opts.NewProcessGroup
}
