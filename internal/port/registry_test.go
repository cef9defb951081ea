package port

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return logger.Sugar()
}

func TestResolvePrecedence(t *testing.T) {
	dir := t.TempDir()
	hint := filepath.Join(dir, "backend.port")

	tests := []struct {
		name       string
		configured int
		hint       string
		want       int
	}{
		{name: "default only", want: 8000},
		{name: "configured beats default", configured: 9000, want: 9000},
		{name: "discovery file beats configured", configured: 9000, hint: "8421\n", want: 8421},
		{name: "prefixed discovery file", hint: "port=8555", want: 8555},
		{name: "garbage discovery file is ignored", configured: 9000, hint: "not-a-port", want: 9000},
		{name: "out of range discovery file is ignored", hint: "70000", want: 8000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = os.Remove(hint)
			if tt.hint != "" {
				require.NoError(t, os.WriteFile(hint, []byte(tt.hint), 0600))
			}

			r := NewRegistry(testLogger(t), 8000, tt.configured, hint)
			assert.Equal(t, tt.want, r.Resolve())
			assert.Equal(t, tt.want, r.Current())
			assert.False(t, r.Pinned())
		})
	}
}

func TestUpdateLaterValueWins(t *testing.T) {
	r := NewRegistry(testLogger(t), 8000, 0, "")
	r.Resolve()

	assert.True(t, r.Update(8421))
	assert.Equal(t, 8421, r.Current())

	r.Pin()
	assert.True(t, r.Update(8500), "pinned ports still accept later announcements")
	assert.Equal(t, 8500, r.Current())
	assert.True(t, r.Pinned())

	r.Unpin()
	assert.False(t, r.Pinned())
}

func TestUpdateRejectsInvalid(t *testing.T) {
	r := NewRegistry(testLogger(t), 8000, 0, "")
	r.Resolve()

	for _, p := range []int{0, -1, 65536, 100000} {
		assert.False(t, r.Update(p), "port %d", p)
	}
	assert.Equal(t, 8000, r.Current())
}

func TestURL(t *testing.T) {
	r := NewRegistry(nil, 8000, 0, "")
	assert.Equal(t, "http://localhost:8000/index.html", r.URL("index.html"))
	assert.Equal(t, "http://localhost:8000/index.html", r.URL("/index.html"))

	r.Update(8421)
	assert.Equal(t, "http://localhost:8421/", r.URL("/"))
}

func TestRemoveHint(t *testing.T) {
	hint := filepath.Join(t.TempDir(), "backend.port")
	require.NoError(t, os.WriteFile(hint, []byte("8421"), 0600))

	r := NewRegistry(testLogger(t), 8000, 0, hint)
	r.RemoveHint()
	assert.NoFileExists(t, hint)

	// Missing file is not an error
	r.RemoveHint()

	NewRegistry(nil, 8000, 0, "").RemoveHint()
}

func TestParseHint(t *testing.T) {
	p, err := ParseHint("  8421 \n")
	require.NoError(t, err)
	assert.Equal(t, 8421, p)

	_, err = ParseHint("")
	assert.ErrorIs(t, err, ErrInvalidPort)

	_, err = ParseHint("0")
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestHintWatcherReportsWrites(t *testing.T) {
	dir := t.TempDir()
	hint := filepath.Join(dir, "backend.port")

	w, err := NewHintWatcher(hint, testLogger(t))
	require.NoError(t, err)

	ports := make(chan int, 4)
	require.NoError(t, w.Start(func(p int) { ports <- p }))
	t.Cleanup(func() { _ = w.Stop() })

	require.Error(t, w.Start(func(int) {}), "second start is rejected")

	require.NoError(t, os.WriteFile(hint, []byte("8421"), 0600))

	select {
	case p := <-ports:
		assert.Equal(t, 8421, p)
	case <-time.After(3 * time.Second):
		t.Fatal("port write was not reported")
	}

	// Writing the same value again is not reported twice
	require.NoError(t, os.WriteFile(hint, []byte("8421"), 0600))
	select {
	case p := <-ports:
		t.Fatalf("unexpected duplicate report %d", p)
	case <-time.After(300 * time.Millisecond):
	}

	// After a reset the same port belongs to a new backend and is reported
	w.Reset()
	require.NoError(t, os.WriteFile(hint, []byte("8421"), 0600))
	select {
	case p := <-ports:
		assert.Equal(t, 8421, p)
	case <-time.After(3 * time.Second):
		t.Fatal("port write after reset was not reported")
	}

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
