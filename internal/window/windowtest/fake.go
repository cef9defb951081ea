// Package windowtest provides an in-memory window host for tests.
package windowtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/polaris-antenna/polaris-desktop/internal/window"
)

// Host records opened windows. It never touches a display.
type Host struct {
	mu      sync.Mutex
	windows []*Window
	openErr error

	// AutoReady makes every load report ready-to-show.
	AutoReady bool
}

// SetOpenErr makes subsequent Open calls fail with err.
func (h *Host) SetOpenErr(err error) {
	h.mu.Lock()
	h.openErr = err
	h.mu.Unlock()
}

func (h *Host) Open(opts window.Options, handler window.Handler) (window.Window, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return nil, h.openErr
	}
	w := &Window{Opts: opts, handler: handler, autoReady: h.AutoReady}
	h.windows = append(h.windows, w)
	return w, nil
}

func (h *Host) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Count returns how many windows were opened.
func (h *Host) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.windows)
}

// Last returns the most recently opened window, or nil.
func (h *Host) Last() *Window {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.windows) == 0 {
		return nil
	}
	return h.windows[len(h.windows)-1]
}

// Window is a fake native window.
type Window struct {
	Opts window.Options

	handler   window.Handler
	autoReady bool

	mu        sync.Mutex
	loads     []string
	emitted   []string
	shown     int
	restored  int
	focused   int
	minimized bool
	closed    bool
}

func (w *Window) Load(url string) {
	w.mu.Lock()
	w.loads = append(w.loads, url)
	auto := w.autoReady && !w.closed
	w.mu.Unlock()
	if auto {
		go w.handler.ReadyToShow(w)
	}
}

func (w *Window) Show() {
	w.mu.Lock()
	w.shown++
	w.mu.Unlock()
}

func (w *Window) Restore() {
	w.mu.Lock()
	w.restored++
	w.minimized = false
	w.mu.Unlock()
}

func (w *Window) Focus() {
	w.mu.Lock()
	w.focused++
	w.mu.Unlock()
}

func (w *Window) Minimized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.minimized
}

func (w *Window) Emit(channel string) {
	w.mu.Lock()
	w.emitted = append(w.emitted, channel)
	w.mu.Unlock()
}

func (w *Window) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	go w.handler.Closed(w)
}

// SetMinimized simulates the user minimizing the window.
func (w *Window) SetMinimized(v bool) {
	w.mu.Lock()
	w.minimized = v
	w.mu.Unlock()
}

// Ready simulates the page finishing its first paint.
func (w *Window) Ready() { w.handler.ReadyToShow(w) }

// Fail simulates a failed navigation.
func (w *Window) Fail(url string, err error) { w.handler.LoadFailed(w, url, err) }

// Send simulates the page sending a message.
func (w *Window) Send(channel string) { w.handler.Send(w, channel) }

// Invoke simulates a page request and returns a channel with the reply.
func (w *Window) Invoke(channel string, payload any) <-chan Reply {
	raw, _ := json.Marshal(payload)
	out := make(chan Reply, 1)
	w.handler.Invoke(w, channel, raw, func(result any, err error) {
		out <- Reply{Result: result, Err: err}
	})
	return out
}

// Reply is the answer to an Invoke.
type Reply struct {
	Result any
	Err    error
}

// Loads returns the URLs loaded so far.
func (w *Window) Loads() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.loads...)
}

// Emitted returns the signals sent to the page so far.
func (w *Window) Emitted() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.emitted...)
}

// Shown returns how many times Show was called.
func (w *Window) Shown() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shown
}

// Restored returns how many times Restore was called.
func (w *Window) Restored() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.restored
}

// Focused returns how many times Focus was called.
func (w *Window) Focused() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.focused
}

// Closed reports whether Close was called.
func (w *Window) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
