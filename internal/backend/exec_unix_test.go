//go:build unix

package backend

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecSpawnerCapturesOutputAndExitCode(t *testing.T) {
	requireShell(t)

	p, err := NewExecSpawner(nil).Spawn(Spec{
		Command: "sh",
		Args:    []string{"-c", `echo "Starting Eel on port 8421"; echo "$POLARIS_DESKTOP" ; echo oops >&2; exit 3`},
		Env:     []string{"POLARIS_DESKTOP=1"},
	})
	require.NoError(t, err)
	assert.Positive(t, p.PID())

	stdout := make(chan string, 1)
	stderr := make(chan string, 1)
	go func() { b, _ := io.ReadAll(p.Stdout()); stdout <- string(b) }()
	go func() { b, _ := io.ReadAll(p.Stderr()); stderr <- string(b) }()

	code, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	out := <-stdout
	assert.Contains(t, out, "Starting Eel on port 8421")
	assert.Contains(t, out, "1\n")
	assert.Equal(t, "oops", strings.TrimSpace(<-stderr))
}

func TestExecSpawnerMissingCommand(t *testing.T) {
	_, err := NewExecSpawner(nil).Spawn(Spec{Command: "/nonexistent/python-polaris"})
	require.Error(t, err)

	_, err = NewExecSpawner(nil).Spawn(Spec{})
	require.Error(t, err)
}

func TestSignalTerminatorStopsProcessGroup(t *testing.T) {
	requireShell(t)

	p, err := NewExecSpawner(nil).Spawn(Spec{Command: "sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)
	go func() { _, _ = io.Copy(io.Discard, p.Stdout()) }()
	go func() { _, _ = io.Copy(io.Discard, p.Stderr()) }()

	require.NoError(t, NewTerminator().Terminate(p.PID(), false))

	done := make(chan int, 1)
	go func() {
		code, _ := p.Wait()
		done <- code
	}()

	select {
	case code := <-done:
		assert.Equal(t, -1, code, "signalled processes report -1")
	case <-time.After(5 * time.Second):
		_ = NewTerminator().Terminate(p.PID(), true)
		t.Fatal("process did not exit after SIGTERM")
	}

	// Signalling an exited process is not an error.
	assert.NoError(t, NewTerminator().Terminate(p.PID(), true))
}

func TestExecProber(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	assert.Error(t, ExecProber(ctx, "/nonexistent/python-polaris"))
}
