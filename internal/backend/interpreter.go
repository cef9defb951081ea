package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const probeTimeout = 5 * time.Second

// ErrNoInterpreter is returned when none of the candidate interpreters runs.
var ErrNoInterpreter = errors.New("no usable Python interpreter found")

// Prober checks that an interpreter command runs.
type Prober func(ctx context.Context, name string) error

// ExecProber runs `<name> -c "print('ok')"` and checks its output.
func ExecProber(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, name, "-c", "print('ok')")
	configureCommand(cmd)
	out, err := cmd.Output()
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(out)) != "ok" {
		return fmt.Errorf("unexpected probe output %q", strings.TrimSpace(string(out)))
	}
	return nil
}

// FindInterpreter returns the first candidate accepted by probe.
func FindInterpreter(ctx context.Context, candidates []string, probe Prober, logger *zap.SugaredLogger) (string, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if probe == nil {
		probe = ExecProber
	}

	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := probe(probeCtx, name)
		cancel()

		if err == nil {
			logger.Infow("Using Python interpreter", "interpreter", name)
			return name, nil
		}
		logger.Debugw("Interpreter candidate rejected", "interpreter", name, "error", err)
	}
	return "", fmt.Errorf("%w (tried %s)", ErrNoInterpreter, strings.Join(candidates, ", "))
}

// ResolveScript locates the backend entry script. Absolute paths are used
// as given; relative ones are searched next to the executable, then in the
// working directory.
func ResolveScript(script string) (string, error) {
	if filepath.IsAbs(script) {
		if _, err := os.Stat(script); err != nil {
			return "", fmt.Errorf("backend script %s: %w", script, err)
		}
		return script, nil
	}

	var candidates []string
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), script))
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, script))
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("backend script %s not found in %s", script, strings.Join(candidates, ", "))
}
