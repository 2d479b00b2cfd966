//go:build unix

package renderer

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalGroup signals the whole process group led by proc.
func signalGroup(proc *os.Process, force bool) error {
	if proc == nil {
		return nil
	}
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	if err := unix.Kill(-proc.Pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return proc.Signal(sig)
		}
		return err
	}
	return nil
}

func isProcessGone(err error) bool {
	return errors.Is(err, unix.ESRCH) || errors.Is(err, os.ErrProcessDone)
}

// Alive reports whether a process with pid still exists and is not a zombie
// waiting to be reaped by us.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}
