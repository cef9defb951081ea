package window

import (
	"context"
	"sync"

	"github.com/pkg/browser"
	"go.uber.org/zap"
)

// BrowserHost shows the UI in the system browser. There is no IPC bridge:
// the page navigates itself, and the tray or a signal ends the app.
type BrowserHost struct {
	logger  *zap.SugaredLogger
	openURL func(url string) error
}

// NewBrowserHost creates a host backed by github.com/pkg/browser
func NewBrowserHost(logger *zap.SugaredLogger) *BrowserHost {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &BrowserHost{logger: logger, openURL: browser.OpenURL}
}

// Open returns a window that opens a browser tab on its first load.
func (h *BrowserHost) Open(_ Options, handler Handler) (Window, error) {
	return &browserWindow{host: h, handler: handler}, nil
}

// Run blocks until ctx is cancelled.
func (h *BrowserHost) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type browserWindow struct {
	host    *BrowserHost
	handler Handler

	mu     sync.Mutex
	last   string
	closed bool
}

func (w *browserWindow) Load(url string) {
	w.mu.Lock()
	if w.closed || url == w.last {
		w.mu.Unlock()
		return
	}
	w.last = url
	w.mu.Unlock()

	go func() {
		if err := w.host.openURL(url); err != nil {
			w.handler.LoadFailed(w, url, err)
			return
		}
		w.host.logger.Infow("Opened UI in the system browser", "url", url)
		w.handler.ReadyToShow(w)
	}()
}

func (w *browserWindow) Show()           {}
func (w *browserWindow) Restore()        {}
func (w *browserWindow) Focus()          {}
func (w *browserWindow) Minimized() bool { return false }

func (w *browserWindow) Emit(channel string) {
	w.host.logger.Debugw("Browser window has no bridge, signal dropped", "channel", channel)
}

func (w *browserWindow) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.handler.Closed(w)
}
