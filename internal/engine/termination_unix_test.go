//go:build !windows

package engine

import (
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestSignalSourceTriggersShutdown(t *testing.T) {
	trigger := newFakeTrigger()
	stop, err := SignalSource{Signals: []os.Signal{unix.SIGHUP}}.Install(trigger)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	defer stop()

	if err := unix.Kill(os.Getpid(), unix.SIGHUP); err != nil {
		t.Fatalf("send signal: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(trigger.Reasons()) > 0 })

	if got := trigger.Reasons()[0]; !strings.HasPrefix(got, "signal: ") {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestDefaultSourcesCoverTerminalClose(t *testing.T) {
	sources := DefaultSources(time.Second)
	if len(sources) != 1 {
		t.Fatalf("expected one source, got %d", len(sources))
	}
	sig, ok := sources[0].(SignalSource)
	if !ok {
		t.Fatalf("expected SignalSource, got %T", sources[0])
	}
	var hup bool
	for _, s := range sig.Signals {
		if s == unix.SIGHUP {
			hup = true
		}
	}
	if !hup {
		t.Fatalf("expected SIGHUP in %v", sig.Signals)
	}
}
