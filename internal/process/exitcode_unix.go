//go:build unix

package process

import (
	"os/exec"
	"syscall"
)

// exitCode reports the exit status, or the negated signal number when the
// process was killed by a signal (a SIGKILL from the OOM killer gives -9).
func exitCode(err *exec.ExitError) int {
	if ws, ok := err.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return err.ExitCode()
}
