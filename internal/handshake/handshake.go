// Package handshake couples the UI to the shell through named signals:
// backend-ready flows to the page, launch-main-app flows back.
package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/polaris-antenna/polaris-desktop/internal/dialog"
	"github.com/polaris-antenna/polaris-desktop/internal/loop"
)

// Channel names shared with the UI
const (
	ChannelLaunchMainApp  = "launch-main-app"
	ChannelBackendReady   = "backend-ready"
	ChannelOpenFileDialog = "open-file-dialog"
	ChannelSecondInstance = "second-instance"
)

// Gate is a single-shot guard.
type Gate struct {
	opened bool
}

// Open reports true only on its first call.
func (g *Gate) Open() bool {
	if g.opened {
		return false
	}
	g.opened = true
	return true
}

// Opened reports whether Open has been called
func (g *Gate) Opened() bool { return g.opened }

// Readiness records which backend generation has been reported ready.
// The flag moves false to true once per generation and never resets for it.
type Readiness struct {
	gen   uint64
	ready bool
}

// Mark records readiness for gen and reports whether this is the first
// time for that generation. Generations older than the latest are ignored.
func (r *Readiness) Mark(gen uint64) bool {
	if gen < r.gen || (gen == r.gen && r.ready) {
		return false
	}
	r.gen = gen
	r.ready = true
	return true
}

// Ready reports whether gen has been reported ready
func (r *Readiness) Ready(gen uint64) bool { return r.ready && r.gen == gen }

// Backend is the part of the backend controller the handshake drives
type Backend interface {
	// EnsureStarted starts the backend unless it is starting or running.
	EnsureStarted() error
}

// Window is the part of the window controller the handshake drives
type Window interface {
	NavigateToMain() error
	Emit(channel string)
	// PageLoaded reports whether the current page finished loading and
	// can receive signals.
	PageLoaded() bool
}

// Options configures a Handshake
type Options struct {
	Logger  *zap.SugaredLogger
	Loop    *loop.Loop
	Backend Backend
	Window  Window
	Picker  dialog.FilePicker
	// AutoAfter launches the main app this long after readiness. Zero
	// waits for the user.
	AutoAfter time.Duration
	// OnSecondInstance runs on the loop when another launch was forwarded.
	OnSecondInstance func()
}

// Handshake dispatches UI messages. All methods run on the control loop.
type Handshake struct {
	opts   Options
	logger *zap.SugaredLogger

	launch    Gate
	readiness Readiness
	auto      *loop.Timer
}

// New creates a handshake with a closed launch gate
func New(opts Options) *Handshake {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Picker == nil {
		opts.Picker = dialog.NativePicker{}
	}
	return &Handshake{opts: opts, logger: opts.Logger}
}

// BackendReady records readiness once per generation and notifies the
// page if one is loaded; otherwise PageReady delivers it. It never
// navigates by itself unless auto-launch is configured.
func (h *Handshake) BackendReady(gen uint64) {
	if !h.readiness.Mark(gen) {
		h.logger.Debugw("Readiness already reported", "generation", gen)
		return
	}
	if h.opts.Window.PageLoaded() {
		h.logger.Infow("Backend ready, notifying UI", "generation", gen)
		h.opts.Window.Emit(ChannelBackendReady)
	} else {
		h.logger.Infow("Backend ready before the page loaded, deferring notification", "generation", gen)
	}

	if h.opts.AutoAfter > 0 && !h.launch.Opened() {
		h.auto.Stop()
		h.logger.Infow("Auto-launch armed", "after", h.opts.AutoAfter)
		h.auto = h.opts.Loop.AfterFunc(h.opts.AutoAfter, h.LaunchMainApp)
	}
}

// PageReady runs when a page finished loading. A page that loads after
// readiness of gen was recorded missed the signal and gets it now.
func (h *Handshake) PageReady(gen uint64) {
	if !h.readiness.Ready(gen) {
		return
	}
	h.logger.Infow("Page loaded after backend readiness, notifying UI", "generation", gen)
	h.opts.Window.Emit(ChannelBackendReady)
}

// LaunchMainApp opens the launch gate. The first call makes sure the
// backend is started and navigates to the main page; later calls are
// ignored.
func (h *Handshake) LaunchMainApp() {
	if !h.launch.Open() {
		h.logger.Debugw("Launch already handled, ignoring")
		return
	}
	h.auto.Stop()
	h.auto = nil

	h.logger.Infow("Launching main application")
	if err := h.opts.Backend.EnsureStarted(); err != nil {
		h.logger.Errorw("Failed to ensure backend is started", "error", err)
	}
	if err := h.opts.Window.NavigateToMain(); err != nil {
		h.logger.Errorw("Failed to navigate to main application", "error", err)
	}
}

// Launched reports whether the launch gate is open
func (h *Handshake) Launched() bool { return h.launch.Opened() }

// Ready reports whether gen has been reported ready
func (h *Handshake) Ready(gen uint64) bool { return h.readiness.Ready(gen) }

// SecondInstance handles a forwarded launch of another instance.
func (h *Handshake) SecondInstance() {
	h.logger.Infow("Second instance launched, focusing window")
	if h.opts.OnSecondInstance != nil {
		h.opts.OnSecondInstance()
	}
}

// Send handles a fire-and-forget message from the page.
func (h *Handshake) Send(channel string) {
	switch channel {
	case ChannelLaunchMainApp:
		h.LaunchMainApp()
	default:
		h.logger.Warnw("Unknown message from UI", "channel", channel)
	}
}

// Invoke handles a request from the page. reply may be called from
// another goroutine.
func (h *Handshake) Invoke(channel string, payload json.RawMessage, reply func(any, error)) {
	switch channel {
	case ChannelOpenFileDialog:
		h.openFileDialog(payload, reply)
	default:
		h.logger.Warnw("Unknown request from UI", "channel", channel)
		reply(nil, fmt.Errorf("unknown request %q", channel))
	}
}

// Stop disarms the auto-launch timer
func (h *Handshake) Stop() {
	h.auto.Stop()
	h.auto = nil
}

func (h *Handshake) openFileDialog(payload json.RawMessage, reply func(any, error)) {
	req, err := dialog.ParseFileRequest(payload)
	if err != nil {
		reply(nil, err)
		return
	}
	picker := h.opts.Picker
	logger := h.logger
	go func() {
		paths, err := picker.PickFiles(context.Background(), req)
		if err != nil {
			logger.Warnw("File dialog failed", "error", err)
			reply(nil, err)
			return
		}
		logger.Debugw("Files selected", "count", len(paths))
		reply(paths, nil)
	}()
}
