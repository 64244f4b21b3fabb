//go:build unix

package provider

import (
	"os/exec"
	"syscall"
	"time"
)

// configureTermination runs the agent in its own process group so
// cancellation reaches any children it started. The group gets SIGTERM,
// then SIGKILL if it is still alive after killGrace.
func configureTermination(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		pgid := -cmd.Process.Pid
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
			return cmd.Process.Kill()
		}
		time.AfterFunc(killGrace, func() {
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		})
		return nil
	}
	cmd.WaitDelay = killGrace
}
