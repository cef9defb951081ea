//go:build windows

package backend

import (
	"fmt"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

// configureCommand hides the console window of the Python interpreter.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NO_WINDOW,
		HideWindow:    true,
	}
}

type taskkillTerminator struct{}

// NewTerminator returns the platform termination capability
func NewTerminator() Terminator {
	return taskkillTerminator{}
}

// Terminate asks the process tree rooted at pid to close via taskkill,
// adding /F when force is set.
func (taskkillTerminator) Terminate(pid int, force bool) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}

	args := []string{"/PID", strconv.Itoa(pid), "/T"}
	if force {
		args = append(args, "/F")
	}

	cmd := exec.Command("taskkill", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NO_WINDOW}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("taskkill %v failed: %w (%s)", args, err, out)
	}
	return nil
}
