//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// setDetached runs the child in its own session so it outlives the launcher
// and does not receive the launcher's terminal signals.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
