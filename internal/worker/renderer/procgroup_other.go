//go:build !unix

package renderer

import (
	"errors"
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func signalGroup(proc *os.Process, force bool) error {
	if proc == nil {
		return nil
	}
	// No process groups or SIGTERM here; both paths kill.
	return proc.Kill()
}

func isProcessGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}

// Alive is not implemented on this platform.
func Alive(pid int) bool {
	return false
}
