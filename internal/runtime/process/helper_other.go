//go:build !windows

package process

import "errors"

// ConsoleBreakCommand is the hidden subcommand the supervisor binary exposes
// for RunConsoleBreakHelper.
const ConsoleBreakCommand = "__console-break"

// RunConsoleBreakHelper is only meaningful on Windows.
func RunConsoleBreakHelper(pid int, event string) error {
	return errors.New("console control events are only supported on windows")
}
