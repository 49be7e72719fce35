//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

const (
	ctrlCEvent     uint32 = 0
	ctrlBreakEvent uint32 = 1
)

// ConsoleBreakCommand is the hidden subcommand the supervisor binary exposes
// for RunConsoleBreakHelper.
const ConsoleBreakCommand = "__console-break"

func (h *Handle) requestStop() error {
	switch {
	case h.opts.HideWindow:
		// The child owns a separate console that this process cannot signal
		// directly; a detached helper attaches to it and raises the event.
		return h.runBreakHelper()
	case h.opts.NewProcessGroup:
		return windows.GenerateConsoleCtrlEvent(ctrlBreakEvent, uint32(h.pid))
	default:
		// Without /F taskkill asks windowed processes to close.
		return hiddenCommand("taskkill", "/T", "/PID", strconv.Itoa(h.pid)).Run()
	}
}

func (h *Handle) kill() error {
	treeErr := hiddenCommand("taskkill", "/F", "/T", "/PID", strconv.Itoa(h.pid)).Run()
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		if treeErr != nil {
			return fmt.Errorf("%w (taskkill: %v)", err, treeErr)
		}
		return err
	}
	return nil
}

// walkTreeOnKill is always true on Windows: taskkill may be unavailable and
// there is no kernel-enforced group to fall back on.
func (h *Handle) walkTreeOnKill() bool {
	return true
}

func (h *Handle) runBreakHelper() error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate helper: %w", err)
	}
	event := "c"
	if h.opts.NewProcessGroup {
		// CTRL_C is disabled for processes created in a new group.
		event = "break"
	}
	cmd := exec.Command(self, ConsoleBreakCommand, strconv.Itoa(h.pid), event)
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: detachedProcess, HideWindow: true}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("console break helper: %w", err)
	}
	return nil
}

func hiddenCommand(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	return cmd
}

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procAttachConsole         = kernel32.NewProc("AttachConsole")
	procFreeConsole           = kernel32.NewProc("FreeConsole")
	procSetConsoleCtrlHandler = kernel32.NewProc("SetConsoleCtrlHandler")
)

// RunConsoleBreakHelper attaches the calling process to the console of pid and
// raises a console control event there. It is meant to run in a short-lived
// detached process: attaching would otherwise cost the caller its own
// console.
func RunConsoleBreakHelper(pid int, event string) error {
	ctrl := ctrlCEvent
	switch event {
	case "", "c":
	case "break":
		ctrl = ctrlBreakEvent
	default:
		return fmt.Errorf("unknown console event %q", event)
	}

	_, _, _ = procFreeConsole.Call()
	if r, _, err := procAttachConsole.Call(uintptr(pid)); r == 0 {
		return fmt.Errorf("attachConsole %d: %w", pid, err)
	}
	defer procFreeConsole.Call()

	// Ignore the event in this process; it shares the console now.
	if r, _, err := procSetConsoleCtrlHandler.Call(0, 1); r == 0 {
		return fmt.Errorf("setConsoleCtrlHandler: %w", err)
	}
	if err := windows.GenerateConsoleCtrlEvent(ctrl, 0); err != nil {
		return fmt.Errorf("generateConsoleCtrlEvent: %w", err)
	}
	return nil
}
