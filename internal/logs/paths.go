package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	osWindows = "windows"
	osDarwin  = "darwin"
	osLinux   = "linux"

	appName = "polaris"
)

// GetLogDir returns the standard log directory for the current OS
func GetLogDir() (string, error) {
	switch runtime.GOOS {
	case osWindows:
		return getWindowsLogDir()
	case osDarwin:
		return getMacOSLogDir()
	case osLinux:
		return getLinuxLogDir()
	default:
		// Fallback to home directory for unsupported OS
		return getDefaultLogDir()
	}
}

// getWindowsLogDir returns Windows standard log directory
// Uses %LOCALAPPDATA%\polaris\logs
func getWindowsLogDir() (string, error) {
	localAppData := os.Getenv("LOCALAPPDATA")
	if localAppData == "" {
		// Fallback to %USERPROFILE%\AppData\Local
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return getDefaultLogDir()
		}
		localAppData = filepath.Join(userProfile, "AppData", "Local")
	}
	return filepath.Join(localAppData, appName, "logs"), nil
}

// getMacOSLogDir returns macOS standard log directory
// Uses ~/Library/Logs/polaris
func getMacOSLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return getDefaultLogDir()
	}
	return filepath.Join(homeDir, "Library", "Logs", appName), nil
}

// getLinuxLogDir returns the XDG state log directory,
// $XDG_STATE_HOME/polaris/logs or ~/.local/state/polaris/logs
func getLinuxLogDir() (string, error) {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return getDefaultLogDir()
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateDir, appName, "logs"), nil
}

// getDefaultLogDir returns a fallback log directory
func getDefaultLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Last resort fallback to temp directory
		return filepath.Join(os.TempDir(), appName, "logs"), nil
	}
	return filepath.Join(homeDir, "."+appName, "logs"), nil
}

// EnsureLogDir creates the log directory if it doesn't exist
func EnsureLogDir(logDir string) error {
	return os.MkdirAll(logDir, 0755)
}

// GetLogFilePathWithDir returns the full path for a log file. An empty
// logDir selects the standard directory for the current OS.
func GetLogFilePathWithDir(logDir, filename string) (string, error) {
	if logDir == "" {
		dir, err := GetLogDir()
		if err != nil {
			return "", err
		}
		logDir = dir
	}

	// Expand user home directory if needed
	if strings.HasPrefix(logDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(homeDir, logDir[2:])
	}

	if err := EnsureLogDir(logDir); err != nil {
		return "", err
	}

	return filepath.Join(logDir, filename), nil
}
