//go:build !windows

package lifecycle

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

func forceKill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// detach starts the child in its own session so it outlives the launcher's terminal.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// inheritReady hands w to the child as fd 3.
func inheritReady(cmd *exec.Cmd, w *os.File) (string, error) {
	cmd.ExtraFiles = append(cmd.ExtraFiles, w)
	return strconv.Itoa(2 + len(cmd.ExtraFiles)), nil
}
