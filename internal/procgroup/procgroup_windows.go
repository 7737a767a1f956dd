// SPDX-License-Identifier: MIT

//go:build windows

package procgroup

import (
	"os/exec"
	"syscall"
)

// Set is a no-op on Windows; process groups are not used there.
func Set(cmd *exec.Cmd) {
}

// Kill maps SIGKILL to Process.Kill on Windows. SIGTERM is a no-op because
// Windows has no reliable graceful termination via signals; Terminate falls
// through to the SIGKILL path eventually.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}

	return nil
}
