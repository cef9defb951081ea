package window

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/polaris-antenna/polaris-desktop/internal/loop"
	"github.com/polaris-antenna/polaris-desktop/internal/port"
)

// Phase represents the lifecycle phase of the application window
type Phase string

const (
	PhaseNone     Phase = "none"
	PhaseCreating Phase = "creating"
	PhaseLoading  Phase = "loading"
	PhaseVisible  Phase = "visible"
	PhaseClosed   Phase = "closed"
)

// Page identifies which UI page the window should show
type Page string

const (
	PageSplash Page = "splash"
	PageMain   Page = "main"
)

const preflightTimeout = 2 * time.Second

// Config configures a Lifecycle
type Config struct {
	Logger         *zap.SugaredLogger
	Loop           *loop.Loop
	Host           Host
	Ports          *port.Registry
	Window         Options
	SplashPath     string
	MainPath       string
	LoadRetryDelay time.Duration
	Preflight      Preflight

	// Callbacks run on the control loop.
	OnAllClosed func()
	OnPageReady func(page Page)
	OnSend      func(channel string)
	OnInvoke    func(channel string, payload json.RawMessage, reply func(any, error))
}

// Lifecycle owns the single application window. All methods run on the
// control loop.
type Lifecycle struct {
	cfg    Config
	logger *zap.SugaredLogger
	loop   *loop.Loop

	win     Window
	winGen  uint64
	phase   Phase
	page    Page
	shown   bool
	loaded  bool
	loadSeq uint64
	retry   *loop.Timer
	cancel  context.CancelFunc
}

// NewLifecycle creates a controller with no window
func NewLifecycle(cfg Config) *Lifecycle {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.LoadRetryDelay <= 0 {
		cfg.LoadRetryDelay = time.Second
	}
	return &Lifecycle{
		cfg:    cfg,
		logger: cfg.Logger,
		loop:   cfg.Loop,
		phase:  PhaseNone,
		page:   PageSplash,
	}
}

// CreateSplash opens the window hidden and starts loading the splash page.
// It only focuses the window when one is already live.
func (l *Lifecycle) CreateSplash() error {
	if l.win != nil {
		l.Focus()
		return nil
	}
	l.page = PageSplash
	return l.open()
}

// NavigateToMain loads the main page into the existing window, then
// restores and focuses it. A window is created when none is live.
func (l *Lifecycle) NavigateToMain() error {
	l.page = PageMain
	if l.win == nil {
		return l.open()
	}

	l.logger.Infow("Navigating to main application", "window", l.winGen)
	l.load()
	l.raise()
	return nil
}

// Focus restores and focuses the window, recreating it when the app is
// running without one.
func (l *Lifecycle) Focus() {
	if l.win == nil {
		l.logger.Infow("No window open, recreating", "page", l.page)
		if err := l.open(); err != nil {
			l.logger.Errorw("Failed to recreate window", "error", err)
		}
		return
	}
	l.raise()
}

// Emit sends a signal to the page, if a window is live.
func (l *Lifecycle) Emit(channel string) {
	if l.win == nil {
		l.logger.Debugw("No window to receive signal", "channel", channel)
		return
	}
	l.win.Emit(channel)
}

// Close closes the live window. Closed is reported through the handler.
func (l *Lifecycle) Close() {
	if l.win != nil {
		l.win.Close()
	}
}

// HasWindow reports whether a window is live
func (l *Lifecycle) HasWindow() bool { return l.win != nil }

// Phase returns the window phase
func (l *Lifecycle) Phase() Phase { return l.phase }

// Page returns the page the window shows or is loading
func (l *Lifecycle) Page() Page { return l.page }

// PageLoaded reports whether the current page finished loading
func (l *Lifecycle) PageLoaded() bool { return l.win != nil && l.loaded }

func (l *Lifecycle) open() error {
	l.winGen++
	l.phase = PhaseCreating
	l.shown = false

	w, err := l.cfg.Host.Open(l.cfg.Window, &handler{l: l, gen: l.winGen})
	if err != nil {
		l.phase = PhaseClosed
		return err
	}
	l.win = w
	l.logger.Infow("Window created", "window", l.winGen, "page", l.page)
	l.load()
	return nil
}

func (l *Lifecycle) raise() {
	if l.win.Minimized() {
		l.win.Restore()
	}
	l.win.Focus()
}

func (l *Lifecycle) path() string {
	if l.page == PageMain {
		return l.cfg.MainPath
	}
	return l.cfg.SplashPath
}

// load navigates to the current page, after a preflight check that the
// backend is listening.
func (l *Lifecycle) load() {
	l.halt()
	l.loaded = false
	l.loadSeq++
	seq, gen := l.loadSeq, l.winGen
	if l.phase != PhaseVisible {
		l.phase = PhaseLoading
	}

	url := l.cfg.Ports.URL(l.path())
	if l.cfg.Preflight == nil {
		l.win.Load(url)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), preflightTimeout)
	l.cancel = cancel
	go func() {
		err := l.cfg.Preflight(ctx, url)
		l.loop.Post(func() { l.afterPreflight(gen, seq, url, err) })
	}()
}

func (l *Lifecycle) afterPreflight(gen, seq uint64, url string, err error) {
	if gen != l.winGen || seq != l.loadSeq || l.win == nil {
		return
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrServerNotReady) || errors.Is(err, context.DeadlineExceeded):
		l.scheduleRetry(url, err)
		return
	default:
		// The page will show the backend's own error response.
		l.logger.Warnw("Preflight failed, loading anyway", "url", url, "error", err)
	}
	l.win.Load(url)
}

func (l *Lifecycle) scheduleRetry(url string, err error) {
	gen, seq := l.winGen, l.loadSeq
	l.logger.Debugw("Backend not serving yet, retrying load",
		"url", url,
		"retry_in", l.cfg.LoadRetryDelay,
		"error", err)
	l.retry = l.loop.AfterFunc(l.cfg.LoadRetryDelay, func() {
		if gen == l.winGen && seq == l.loadSeq && l.win != nil {
			l.load()
		}
	})
}

func (l *Lifecycle) halt() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.retry.Stop()
	l.retry = nil
}

func (l *Lifecycle) readyToShow(gen uint64) {
	if gen != l.winGen || l.win == nil {
		return
	}
	l.phase = PhaseVisible
	l.loaded = true
	if !l.shown {
		l.shown = true
		l.win.Show()
		l.logger.Infow("Window shown", "window", gen, "page", l.page)
	}
	if l.cfg.OnPageReady != nil {
		l.cfg.OnPageReady(l.page)
	}
}

func (l *Lifecycle) loadFailed(gen uint64, url string, err error) {
	if gen != l.winGen || l.win == nil {
		return
	}
	if errors.Is(err, ErrServerNotReady) {
		l.scheduleRetry(url, err)
		return
	}
	l.logger.Warnw("Window failed to load page", "url", url, "error", err)
}

func (l *Lifecycle) closed(gen uint64) {
	if gen != l.winGen || l.win == nil {
		return
	}
	l.halt()
	l.win = nil
	l.shown = false
	l.loaded = false
	l.phase = PhaseClosed
	l.logger.Infow("Window closed", "window", gen)

	if l.cfg.OnAllClosed != nil {
		l.cfg.OnAllClosed()
	}
}

// handler forwards host events for one window generation onto the loop.
type handler struct {
	l   *Lifecycle
	gen uint64
}

func (h *handler) ReadyToShow(Window) {
	h.l.loop.Post(func() { h.l.readyToShow(h.gen) })
}

func (h *handler) LoadFailed(_ Window, url string, err error) {
	h.l.loop.Post(func() { h.l.loadFailed(h.gen, url, err) })
}

func (h *handler) Closed(Window) {
	h.l.loop.Post(func() { h.l.closed(h.gen) })
}

func (h *handler) Send(_ Window, channel string) {
	h.l.loop.Post(func() {
		if h.gen != h.l.winGen || h.l.win == nil {
			return
		}
		if h.l.cfg.OnSend != nil {
			h.l.cfg.OnSend(channel)
		}
	})
}

func (h *handler) Invoke(_ Window, channel string, payload json.RawMessage, reply func(any, error)) {
	posted := h.l.loop.Post(func() {
		if h.l.cfg.OnInvoke == nil {
			reply(nil, errors.New("no handler for "+channel))
			return
		}
		h.l.cfg.OnInvoke(channel, payload, reply)
	})
	if !posted {
		reply(nil, loop.ErrClosed)
	}
}
