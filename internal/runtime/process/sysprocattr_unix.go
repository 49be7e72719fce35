//go:build !windows

package process

import (
	"os/exec"
	"syscall"

	"github.com/Paintersrp/muther/internal/runtime"
)

func configureCmdSysProcAttr(cmd *exec.Cmd, opts runtime.Options) {
	if opts.NewProcessGroup {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}
}
