// SPDX-License-Identifier: MIT

package procgroup

import (
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/caelyn-nl/pagerstream/internal/metrics"
)

// Terminate stops a process group. It sends SIGTERM, waits for the process
// to exit (via the provided wait channel), and if it does not exit within
// grace, sends SIGKILL. It consumes and returns the error from waitCh, so
// callers must arm waitCh with the command's Wait result and call Terminate
// at most once per command. Safe to call on nil commands (returns nil).
//
// The decoder chain has no state worth flushing, so callers typically pass
// a short grace and accept the SIGKILL path.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	// A process that already exited makes Kill a harmless no-op (ESRCH).
	if err := Kill(cmd, syscall.SIGTERM); err == nil {
		metrics.IncProcTerminate("SIGTERM", "sent")
	} else if isGone(err) {
		metrics.IncProcTerminate("SIGTERM", "esrch")
	} else {
		metrics.IncProcTerminate("SIGTERM", "error")
	}

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcTerminate("SIGTERM", "exit0")
		} else {
			metrics.IncProcTerminate("SIGTERM", "exit_nonzero")
		}
		return err
	case <-time.After(grace):
		if err := Kill(cmd, syscall.SIGKILL); err == nil {
			metrics.IncProcTerminate("SIGKILL", "sent")
		} else if isGone(err) {
			metrics.IncProcTerminate("SIGKILL", "esrch")
		} else {
			metrics.IncProcTerminate("SIGKILL", "error")
		}

		// Always drain waitCh; SIGKILL frees a blocked Wait.
		err := <-waitCh
		if err == nil {
			metrics.IncProcTerminate("SIGKILL", "exit0")
		} else {
			metrics.IncProcTerminate("SIGKILL", "exit_nonzero")
		}
		return err
	}
}

func isGone(err error) bool {
	return strings.Contains(err.Error(), "process already finished") ||
		strings.Contains(err.Error(), "no such process")
}
