//go:build !windows

package debugger

import (
	"os/exec"
	"syscall"
)

// setupProcAttr puts dlv in its own process group so a Ctrl-C at the REPL
// does not reach the debugger or the attached target.
func setupProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
