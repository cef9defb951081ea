package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// waitDelay bounds how long Wait lingers for output held open by grandchildren.
const waitDelay = 2 * time.Second

// Spec describes how to launch the backend
type Spec struct {
	Command string
	Args    []string
	Env     []string // appended to the parent environment
	Dir     string
}

// Process is a spawned backend. Stdout and Stderr reach EOF once the
// process has exited and its output has been drained.
type Process interface {
	PID() int
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until exit and returns the exit code. Processes killed by
	// a signal report -1.
	Wait() (int, error)
}

// Spawner launches backend processes
type Spawner interface {
	Spawn(spec Spec) (Process, error)
}

// ExecSpawner launches real OS processes
type ExecSpawner struct {
	logger *zap.SugaredLogger
}

// NewExecSpawner creates a spawner backed by os/exec
func NewExecSpawner(logger *zap.SugaredLogger) *ExecSpawner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ExecSpawner{logger: logger}
}

// Spawn starts the process described by spec
func (s *ExecSpawner) Spawn(spec Spec) (Process, error) {
	if spec.Command == "" {
		return nil, errors.New("backend command is empty")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.WaitDelay = waitDelay
	configureCommand(cmd)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	s.logger.Infow("Starting backend process",
		"command", spec.Command,
		"args", maskSensitiveArgs(spec.Args),
		"env", maskSensitiveEnv(spec.Env),
		"working_dir", spec.Dir)

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command, err)
	}

	p := &execProcess{
		cmd:    cmd,
		stdout: stdoutR,
		stderr: stderrR,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		p.err = cmd.Wait()
		p.code = exitCode(p.err)
		stdoutW.Close()
		stderrW.Close()
	}()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout *io.PipeReader
	stderr *io.PipeReader

	done chan struct{}
	code int
	err  error
}

func (p *execProcess) PID() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() (int, error) {
	<-p.done
	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		// A non-zero exit is reported through the code, not as an error.
		return p.code, nil
	}
	return p.code, p.err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// maskSensitiveArgs masks sensitive data in command arguments
func maskSensitiveArgs(args []string) []string {
	masked := make([]string, len(args))
	for i, arg := range args {
		if isSensitive(arg) {
			masked[i] = maskValue(arg)
		} else {
			masked[i] = arg
		}
	}
	return masked
}

// maskSensitiveEnv masks the values of sensitive environment variables
func maskSensitiveEnv(env []string) []string {
	masked := make([]string, len(env))
	for i, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if ok && isSensitive(key) {
			masked[i] = key + "=" + maskValue(value)
		} else {
			masked[i] = kv
		}
	}
	return masked
}

func isSensitive(s string) bool {
	s = strings.ToLower(s)
	for _, marker := range []string{"key", "secret", "token", "password"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func maskValue(v string) string {
	if len(v) > 8 {
		return v[:4] + "****" + v[len(v)-4:]
	}
	return "****"
}
