package main

import "github.com/polaris-antenna/polaris-desktop/internal/shell"

// Exit codes reported by polaris-desktop so launchers and scripts can tell
// startup failures apart

const (
	// ExitCodeSuccess indicates normal program termination
	ExitCodeSuccess = shell.ExitCodeSuccess

	// ExitCodeGeneralError indicates a failure before the shell started
	// (configuration, logging, command line)
	ExitCodeGeneralError = 1

	// ExitCodeBackendStart indicates the backend could not be spawned
	ExitCodeBackendStart = shell.ExitCodeBackendStart

	// ExitCodeWindow indicates the application window could not be opened
	ExitCodeWindow = shell.ExitCodeWindow

	// ExitCodeFatal indicates an unrecoverable error on the control loop
	ExitCodeFatal = shell.ExitCodeFatal
)

// exitCodeDescription returns a human-readable description of the exit code
func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeGeneralError:
		return "General error"
	case ExitCodeBackendStart:
		return "Backend failed to start"
	case ExitCodeWindow:
		return "Window could not be opened"
	case ExitCodeFatal:
		return "Fatal error"
	default:
		return "Unknown error"
	}
}
