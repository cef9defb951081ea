// Package window manages the single application window: splash first,
// then the main UI loaded in place.
package window

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrServerNotReady marks load failures caused by the backend not
// listening yet. Such failures are retried silently.
var ErrServerNotReady = errors.New("server not ready")

// ErrUnavailable is returned by hosts that cannot run in this build or
// environment.
var ErrUnavailable = errors.New("window host unavailable")

// ErrWindowOpen is returned by hosts that allow a single live window.
var ErrWindowOpen = errors.New("a window is already open")

// Options describe a native window
type Options struct {
	Title      string
	Width      int
	Height     int
	MinWidth   int
	MinHeight  int
	Background string
	Debug      bool // enables the web inspector
}

// Host creates windows and owns the UI thread.
type Host interface {
	// Open creates a window that stays hidden until Show. Events for it
	// are delivered to h from any goroutine.
	Open(opts Options, h Handler) (Window, error)
	// Run drives the UI until ctx is cancelled. It must be called from
	// the main goroutine.
	Run(ctx context.Context) error
}

// Window is a live native window. Methods may be called from any goroutine.
type Window interface {
	Load(url string)
	Show()
	Restore()
	Focus()
	Minimized() bool
	// Emit sends a payload-free signal to the page.
	Emit(channel string)
	Close()
}

// Handler receives window and page events.
type Handler interface {
	ReadyToShow(w Window)
	LoadFailed(w Window, url string, err error)
	Closed(w Window)
	// Send delivers a fire-and-forget message from the page.
	Send(w Window, channel string)
	// Invoke delivers a request from the page; reply must be called once.
	Invoke(w Window, channel string, payload json.RawMessage, reply func(result any, err error))
}

// Preflight checks that url can be loaded before the window navigates.
type Preflight func(ctx context.Context, url string) error
