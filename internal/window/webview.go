//go:build !nogui && !headless

package window

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	webview "github.com/webview/webview_go"
	"go.uber.org/zap"
)

// bridgeScript runs before every page load. It exposes window.polaris to
// the UI and reports DOMContentLoaded as ready-to-show.
const bridgeScript = `
(function () {
  if (window.polaris) { return; }
  var listeners = {};
  var pending = {};
  var seq = 0;
  window.polaris = {
    send: function (channel) { window.polarisSend(String(channel)); },
    invoke: function (channel, payload) {
      return new Promise(function (resolve, reject) {
        var id = ++seq;
        pending[id] = { resolve: resolve, reject: reject };
        window.polarisInvoke(id, String(channel), JSON.stringify(payload === undefined ? null : payload));
      });
    },
    on: function (channel, fn) { (listeners[channel] = listeners[channel] || []).push(fn); }
  };
  window.__polarisResolve = function (id, error, value) {
    var p = pending[id];
    if (!p) { return; }
    delete pending[id];
    if (error) { p.reject(new Error(error)); } else { p.resolve(value); }
  };
  window.__polarisEmit = function (channel) {
    (listeners[channel] || []).forEach(function (fn) { try { fn(); } catch (e) { console.error(e); } });
    window.dispatchEvent(new CustomEvent(channel));
  };
  document.addEventListener('DOMContentLoaded', function () { window.polarisReady(location.href); });
})();
`

type openRequest struct {
	opts    Options
	handler Handler
	reply   chan *webviewWindow
}

// WebviewHost renders windows with the system webview. Only one window is
// live at a time; it runs the native event loop on the calling thread.
type WebviewHost struct {
	logger  *zap.SugaredLogger
	openCh  chan openRequest
	stopped chan struct{}

	mu      sync.Mutex
	current *webviewWindow
}

// NewWebviewHost creates the native webview host
func NewWebviewHost(logger *zap.SugaredLogger) (*WebviewHost, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WebviewHost{
		logger:  logger,
		openCh:  make(chan openRequest),
		stopped: make(chan struct{}),
	}, nil
}

// Open asks the UI thread for a new window and waits for it.
func (h *WebviewHost) Open(opts Options, handler Handler) (Window, error) {
	h.mu.Lock()
	busy := h.current != nil
	h.mu.Unlock()
	if busy {
		return nil, ErrWindowOpen
	}

	req := openRequest{opts: opts, handler: handler, reply: make(chan *webviewWindow, 1)}
	select {
	case h.openCh <- req:
	case <-h.stopped:
		return nil, fmt.Errorf("%w: host stopped", ErrUnavailable)
	}
	w := <-req.reply
	if w == nil {
		return nil, fmt.Errorf("%w: failed to create webview", ErrUnavailable)
	}
	return w, nil
}

// Run services window requests on the current thread until ctx is done.
func (h *WebviewHost) Run(ctx context.Context) error {
	defer close(h.stopped)
	go func() {
		<-ctx.Done()
		h.mu.Lock()
		w := h.current
		h.mu.Unlock()
		if w != nil {
			w.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-h.openCh:
			h.runWindow(ctx, req)
		}
	}
}

func (h *WebviewHost) runWindow(ctx context.Context, req openRequest) {
	wv := webview.New(req.opts.Debug)
	if wv == nil {
		req.reply <- nil
		return
	}

	w := &webviewWindow{wv: wv, handle: wv.Window(), handler: req.handler, logger: h.logger}
	if err := w.configure(req.opts); err != nil {
		h.logger.Errorw("Failed to configure webview", "error", err)
		wv.Destroy()
		req.reply <- nil
		return
	}

	h.mu.Lock()
	h.current = w
	h.mu.Unlock()
	req.reply <- w

	if ctx.Err() == nil {
		w.hideUntilShown()
		wv.Run()
	}

	w.markClosed()
	wv.Destroy()

	h.mu.Lock()
	h.current = nil
	h.mu.Unlock()

	req.handler.Closed(w)
}

type webviewWindow struct {
	wv      webview.WebView
	handle  unsafe.Pointer // native window, only touched on the UI thread
	handler Handler
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
	shown  bool
}

func (w *webviewWindow) configure(opts Options) error {
	w.wv.SetTitle(opts.Title)
	w.wv.SetSize(opts.Width, opts.Height, webview.HintNone)
	if opts.MinWidth > 0 && opts.MinHeight > 0 {
		w.wv.SetSize(opts.MinWidth, opts.MinHeight, webview.HintMin)
	}
	w.wv.Init(bridgeScript)

	if err := w.wv.Bind("polarisReady", func(href string) {
		// about:blank and data: pages are not ours
		if strings.HasPrefix(href, "http") {
			w.handler.ReadyToShow(w)
		}
	}); err != nil {
		return err
	}
	if err := w.wv.Bind("polarisSend", func(channel string) {
		w.handler.Send(w, channel)
	}); err != nil {
		return err
	}
	return w.wv.Bind("polarisInvoke", func(id int, channel, payload string) {
		w.handler.Invoke(w, channel, json.RawMessage(payload), func(result any, err error) {
			w.resolve(id, result, err)
		})
	})
}

func (w *webviewWindow) dispatch(fn func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.wv.Dispatch(fn)
	return true
}

// hideUntilShown keeps the window off screen until the first Show. Some
// toolkits map the window when their loop starts, so the hide is repeated
// from inside the loop.
func (w *webviewWindow) hideUntilShown() {
	nativeHide(w.handle)
	w.wv.Dispatch(func() {
		w.mu.Lock()
		shown := w.shown
		w.mu.Unlock()
		if !shown {
			nativeHide(w.handle)
		}
	})
}

func (w *webviewWindow) markClosed() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (w *webviewWindow) Load(url string) {
	w.dispatch(func() { w.wv.Navigate(url) })
}

func (w *webviewWindow) Show() {
	w.mu.Lock()
	w.shown = true
	w.mu.Unlock()
	w.dispatch(func() { nativeShow(w.handle) })
}

func (w *webviewWindow) Restore() {
	w.dispatch(func() { nativeRestore(w.handle) })
}

func (w *webviewWindow) Focus() {
	w.dispatch(func() { nativeFocus(w.handle) })
}

// Minimized asks the UI thread and reports false if it does not answer.
func (w *webviewWindow) Minimized() bool {
	return queryUI(w.dispatch, func() bool { return nativeMinimized(w.handle) }, uiQueryTimeout)
}

func (w *webviewWindow) Emit(channel string) {
	arg, _ := json.Marshal(channel)
	w.dispatch(func() {
		w.wv.Eval(fmt.Sprintf("window.__polarisEmit && window.__polarisEmit(%s);", arg))
	})
}

func (w *webviewWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.wv.Terminate()
}

func (w *webviewWindow) resolve(id int, result any, err error) {
	errArg := []byte("null")
	if err != nil {
		errArg, _ = json.Marshal(err.Error())
	}
	value, merr := json.Marshal(result)
	if merr != nil {
		errArg, _ = json.Marshal(merr.Error())
		value = []byte("null")
	}
	w.dispatch(func() {
		w.wv.Eval(fmt.Sprintf("window.__polarisResolve(%d, %s, %s);", id, errArg, value))
	})
}
