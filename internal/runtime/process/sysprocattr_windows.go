//go:build windows

package process

import (
	"os/exec"
	"syscall"

	"github.com/Paintersrp/muther/internal/runtime"
)

const (
	createNewConsole      = 0x00000010
	createNewProcessGroup = 0x00000200
	detachedProcess       = 0x00000008
)

// configureCmdSysProcAttr gives hidden children their own console with its
// window hidden, so their output never lands in the supervisor's console.
func configureCmdSysProcAttr(cmd *exec.Cmd, opts runtime.Options) {
	attr := &syscall.SysProcAttr{}
	if opts.HideWindow {
		attr.HideWindow = true
		attr.CreationFlags |= createNewConsole
	}
	if opts.NewProcessGroup {
		attr.CreationFlags |= createNewProcessGroup
	}
	cmd.SysProcAttr = attr
}
