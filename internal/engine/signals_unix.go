//go:build !windows

package engine

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// SIGHUP is what a closing terminal delivers to its foreground job.
func terminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, unix.SIGTERM, unix.SIGHUP}
}

// DefaultSources returns the termination sources for this platform.
func DefaultSources(time.Duration) []TerminationSource {
	return []TerminationSource{NewSignalSource()}
}
