//go:build !unix

package provider

import "os/exec"

func configureTermination(cmd *exec.Cmd) {
	cmd.WaitDelay = killGrace
}
