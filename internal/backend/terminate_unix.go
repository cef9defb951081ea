//go:build unix

package backend

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureCommand places the backend in its own process group so the
// whole tree can be signalled at once.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

type signalTerminator struct{}

// NewTerminator returns the platform termination capability
func NewTerminator() Terminator {
	return signalTerminator{}
}

// Terminate sends SIGTERM, or SIGKILL when force is set, to the process
// group led by pid. An already exited process is not an error.
func (signalTerminator) Terminate(pid int, force bool) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}

	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}

	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// Not a group leader, fall back to the single process.
		err = unix.Kill(pid, sig)
	}
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to send %s to %d: %w", unix.SignalName(sig), pid, err)
	}
	return nil
}
