package window_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/polaris-antenna/polaris-desktop/internal/loop"
	"github.com/polaris-antenna/polaris-desktop/internal/port"
	"github.com/polaris-antenna/polaris-desktop/internal/window"
	"github.com/polaris-antenna/polaris-desktop/internal/window/windowtest"
)

const retryDelay = 20 * time.Millisecond

// flakyBackend refuses preflight checks until up is set.
type flakyBackend struct {
	up     atomic.Bool
	checks atomic.Int32
}

func (b *flakyBackend) preflight(_ context.Context, url string) error {
	b.checks.Add(1)
	if !b.up.Load() {
		return window.ErrServerNotReady
	}
	return nil
}

type lifecycleHarness struct {
	loop    *loop.Loop
	host    *windowtest.Host
	ports   *port.Registry
	backend *flakyBackend
	lc      *window.Lifecycle

	allClosed atomic.Int32
	mu        sync.Mutex
	sent      []string
	pages     []window.Page
}

func newLifecycleHarness(t *testing.T) *lifecycleHarness {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	sugar := logger.Sugar()

	l := loop.New(sugar)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})

	h := &lifecycleHarness{
		loop:    l,
		host:    &windowtest.Host{},
		ports:   port.NewRegistry(sugar, 8000, 0, ""),
		backend: &flakyBackend{},
	}
	h.ports.Resolve()
	h.lc = window.NewLifecycle(window.Config{
		Logger:         sugar,
		Loop:           l,
		Host:           h.host,
		Ports:          h.ports,
		Window:         window.Options{Title: "Polaris Antenna Visualizer", Width: 1200, Height: 800},
		SplashPath:     "splashIndex.html",
		MainPath:       "index.html",
		LoadRetryDelay: retryDelay,
		Preflight:      h.backend.preflight,
		OnAllClosed:    func() { h.allClosed.Add(1) },
		OnPageReady: func(page window.Page) {
			h.mu.Lock()
			h.pages = append(h.pages, page)
			h.mu.Unlock()
		},
		OnSend: func(channel string) {
			h.mu.Lock()
			h.sent = append(h.sent, channel)
			h.mu.Unlock()
		},
		OnInvoke: func(channel string, payload json.RawMessage, reply func(any, error)) {
			reply([]string{channel, string(payload)}, nil)
		},
	})
	return h
}

func (h *lifecycleHarness) do(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, h.loop.Call(fn))
}

func (h *lifecycleHarness) readyPages() []window.Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]window.Page(nil), h.pages...)
}

func (h *lifecycleHarness) pageLoaded(t *testing.T) bool {
	var loaded bool
	h.do(t, func() { loaded = h.lc.PageLoaded() })
	return loaded
}

func (h *lifecycleHarness) phase(t *testing.T) window.Phase {
	var p window.Phase
	h.do(t, func() { p = h.lc.Phase() })
	return p
}

func TestSplashRetriesUntilServerUp(t *testing.T) {
	h := newLifecycleHarness(t)

	h.do(t, func() { require.NoError(t, h.lc.CreateSplash()) })
	w := h.host.Last()
	require.NotNil(t, w)
	assert.Equal(t, "Polaris Antenna Visualizer", w.Opts.Title)

	assert.Eventually(t, func() bool { return h.backend.checks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, w.Loads(), "nothing is loaded while the server is down")
	assert.Equal(t, 0, w.Shown(), "window stays hidden")
	assert.Equal(t, window.PhaseLoading, h.phase(t))

	h.backend.up.Store(true)
	assert.Eventually(t, func() bool { return len(w.Loads()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "http://localhost:8000/splashIndex.html", w.Loads()[0])

	w.Ready()
	assert.Eventually(t, func() bool { return w.Shown() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, window.PhaseVisible, h.phase(t))
}

func TestLoadFailureNotReadyIsRetried(t *testing.T) {
	h := newLifecycleHarness(t)
	h.backend.up.Store(true)

	h.do(t, func() { require.NoError(t, h.lc.CreateSplash()) })
	w := h.host.Last()
	assert.Eventually(t, func() bool { return len(w.Loads()) == 1 }, time.Second, 5*time.Millisecond)

	w.Fail("http://localhost:8000/splashIndex.html", window.ErrServerNotReady)
	assert.Eventually(t, func() bool { return len(w.Loads()) == 2 }, time.Second, 5*time.Millisecond)

	// Other failures are logged only.
	w.Fail("http://localhost:8000/splashIndex.html", errors.New("certificate error"))
	time.Sleep(3 * retryDelay)
	assert.Len(t, w.Loads(), 2)
}

func TestNavigateToMainReusesWindow(t *testing.T) {
	h := newLifecycleHarness(t)
	h.backend.up.Store(true)

	h.do(t, func() { require.NoError(t, h.lc.CreateSplash()) })
	w := h.host.Last()
	assert.Eventually(t, func() bool { return len(w.Loads()) == 1 }, time.Second, 5*time.Millisecond)
	w.Ready()

	w.SetMinimized(true)
	h.ports.Update(8421)
	h.do(t, func() { require.NoError(t, h.lc.NavigateToMain()) })

	assert.Eventually(t, func() bool { return len(w.Loads()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "http://localhost:8421/index.html", w.Loads()[1])
	assert.Equal(t, 1, h.host.Count(), "no second window")
	assert.Equal(t, 1, w.Restored())
	assert.GreaterOrEqual(t, w.Focused(), 1)

	var page window.Page
	h.do(t, func() { page = h.lc.Page() })
	assert.Equal(t, window.PageMain, page)
}

func TestShowOnlyOnce(t *testing.T) {
	h := newLifecycleHarness(t)
	h.backend.up.Store(true)

	h.do(t, func() { require.NoError(t, h.lc.CreateSplash()) })
	w := h.host.Last()
	w.Ready()
	w.Ready()
	h.do(t, func() {})
	assert.Equal(t, 1, w.Shown())
}

func TestCloseReportsAllClosedAndFocusRecreates(t *testing.T) {
	h := newLifecycleHarness(t)
	h.backend.up.Store(true)

	h.do(t, func() { require.NoError(t, h.lc.CreateSplash()) })
	first := h.host.Last()

	h.do(t, h.lc.Close)
	assert.Eventually(t, func() bool { return h.allClosed.Load() == 1 }, time.Second, 5*time.Millisecond)

	var has bool
	h.do(t, func() { has = h.lc.HasWindow() })
	assert.False(t, has)
	assert.Equal(t, window.PhaseClosed, h.phase(t))

	// Events from the closed window are ignored.
	first.Ready()
	first.Send("launch-main-app")
	h.do(t, func() {})
	assert.Equal(t, 0, first.Shown())

	h.do(t, h.lc.Focus)
	assert.Equal(t, 2, h.host.Count())
	second := h.host.Last()
	assert.Eventually(t, func() bool { return len(second.Loads()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "http://localhost:8000/splashIndex.html", second.Loads()[0])

	h.mu.Lock()
	assert.Empty(t, h.sent)
	h.mu.Unlock()
}

func TestCreateSplashWhenOpenFocuses(t *testing.T) {
	h := newLifecycleHarness(t)
	h.do(t, func() { require.NoError(t, h.lc.CreateSplash()) })
	w := h.host.Last()
	w.SetMinimized(true)

	h.do(t, func() { require.NoError(t, h.lc.CreateSplash()) })
	assert.Equal(t, 1, h.host.Count())
	assert.Equal(t, 1, w.Restored())
	assert.Equal(t, 1, w.Focused())
}

func TestOpenFailure(t *testing.T) {
	h := newLifecycleHarness(t)
	h.host.SetOpenErr(window.ErrUnavailable)

	var err error
	h.do(t, func() { err = h.lc.CreateSplash() })
	assert.ErrorIs(t, err, window.ErrUnavailable)
	assert.Equal(t, window.PhaseClosed, h.phase(t))
}

func TestEmitAndMessages(t *testing.T) {
	h := newLifecycleHarness(t)
	h.do(t, func() { h.lc.Emit("backend-ready") }) // no window, dropped

	h.do(t, func() { require.NoError(t, h.lc.CreateSplash()) })
	w := h.host.Last()

	h.do(t, func() { h.lc.Emit("backend-ready") })
	assert.Equal(t, []string{"backend-ready"}, w.Emitted())

	w.Send("launch-main-app")
	h.do(t, func() {})
	h.mu.Lock()
	assert.Equal(t, []string{"launch-main-app"}, h.sent)
	h.mu.Unlock()

	select {
	case r := <-w.Invoke("open-file-dialog", map[string]string{"title": "Select"}):
		require.NoError(t, r.Err)
		assert.Equal(t, []string{"open-file-dialog", `{"title":"Select"}`}, r.Result)
	case <-time.After(time.Second):
		t.Fatal("invoke was not answered")
	}
}

func TestPageLoadedFollowsNavigation(t *testing.T) {
	h := newLifecycleHarness(t)
	h.backend.up.Store(true)

	h.do(t, func() { require.NoError(t, h.lc.CreateSplash()) })
	w := h.host.Last()
	require.Eventually(t, func() bool { return len(w.Loads()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.pageLoaded(t), "loading is not loaded")
	assert.Empty(t, h.readyPages())

	w.Ready()
	assert.Eventually(t, func() bool { return h.pageLoaded(t) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []window.Page{window.PageSplash}, h.readyPages())

	var loadedAfterNavigate bool
	h.do(t, func() {
		require.NoError(t, h.lc.NavigateToMain())
		loadedAfterNavigate = h.lc.PageLoaded()
	})
	assert.False(t, loadedAfterNavigate, "navigation invalidates the previous page")

	require.Eventually(t, func() bool { return len(w.Loads()) == 2 }, time.Second, 5*time.Millisecond)
	w.Ready()
	assert.Eventually(t, func() bool { return len(h.readyPages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []window.Page{window.PageSplash, window.PageMain}, h.readyPages())
	assert.Equal(t, 1, w.Shown(), "shown once across pages")

	w.Close()
	assert.Eventually(t, func() bool { return !h.pageLoaded(t) && h.allClosed.Load() == 1 }, time.Second, 5*time.Millisecond)
}
