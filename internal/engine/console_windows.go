//go:build windows

package engine

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/windows"
)

const (
	ctrlCEvent        = 0
	ctrlBreakEvent    = 1
	ctrlCloseEvent    = 2
	ctrlLogoffEvent   = 5
	ctrlShutdownEvent = 6

	consoleHandlerSlack = 2 * time.Second
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procSetConsoleCtrlHandler = kernel32.NewProc("SetConsoleCtrlHandler")
)

func terminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// DefaultSources returns the termination sources for this platform. The
// console handler covers Ctrl+C and Ctrl+Break as well as window close,
// logoff and system shutdown, which never reach os/signal as a catchable
// interrupt.
func DefaultSources(grace time.Duration) []TerminationSource {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return []TerminationSource{ConsoleSource{Ceiling: grace + consoleHandlerSlack}}
}

// ConsoleSource installs a console control handler. Windows terminates the
// process as soon as the handler returns from a close, logoff or shutdown
// event, so the handler blocks until the supervisor is done, bounded by
// Ceiling.
type ConsoleSource struct {
	Ceiling time.Duration
}

func (c ConsoleSource) Install(t Trigger) (func(), error) {
	if err := procSetConsoleCtrlHandler.Find(); err != nil {
		return nil, fmt.Errorf("console source: %w", err)
	}
	ceiling := c.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultGracePeriod + consoleHandlerSlack
	}

	handler := windows.NewCallback(func(ctrlType uint32) uintptr {
		reason, ok := consoleReason(ctrlType)
		if !ok {
			return 0
		}
		go t.Shutdown(reason)

		timer := time.NewTimer(ceiling)
		defer timer.Stop()
		select {
		case <-t.Done():
		case <-timer.C:
		}
		return 1
	})

	if r, _, err := procSetConsoleCtrlHandler.Call(handler, 1); r == 0 {
		return nil, fmt.Errorf("install console control handler: %w", err)
	}
	return func() {
		procSetConsoleCtrlHandler.Call(handler, 0)
	}, nil
}

func consoleReason(ctrlType uint32) (string, bool) {
	switch ctrlType {
	case ctrlCEvent:
		return "console: ctrl-c", true
	case ctrlBreakEvent:
		return "console: ctrl-break", true
	case ctrlCloseEvent:
		return "console: close", true
	case ctrlLogoffEvent:
		return "console: logoff", true
	case ctrlShutdownEvent:
		return "console: shutdown", true
	default:
		return "", false
	}
}
