//go:build !unix

package process

import "os/exec"

func exitCode(err *exec.ExitError) int {
	return err.ExitCode()
}
