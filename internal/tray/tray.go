//go:build !nogui && !headless

package tray

import (
	"context"
	"runtime"
	"sync"

	"fyne.io/systray"
	"go.uber.org/zap"
)

// App is the system tray presence. It keeps the app reachable when the
// window is closed on platforms that keep running without windows.
type App struct {
	actions Actions
	logger  *zap.SugaredLogger

	mu         sync.Mutex
	status     string
	statusItem *systray.MenuItem

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a tray application
func New(actions Actions, logger *zap.SugaredLogger) *App {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		actions: actions,
		logger:  logger,
		status:  StatusLabel("", false),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the tray with a UI loop owned by someone else (the
// webview host). The returned function removes it.
func (a *App) Start() (stop func()) {
	a.logger.Infow("Starting system tray with external loop")
	start, end := systray.RunWithExternalLoop(a.onReady, a.onExit)
	start()
	return end
}

// Run owns the main thread until ctx is cancelled. Used when no native
// window host runs the UI loop.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infow("Starting system tray application")
	go func() {
		<-ctx.Done()
		a.logger.Infow("Context cancelled, quitting systray")
		systray.Quit()
	}()

	// Blocking; must run on the main thread.
	systray.Run(a.onReady, a.onExit)
	return ctx.Err()
}

// SetStatus updates the status line
func (a *App) SetStatus(label string) {
	a.mu.Lock()
	a.status = label
	item := a.statusItem
	a.mu.Unlock()

	if item != nil {
		item.SetTitle(label)
		systray.SetTooltip("Polaris Antenna Visualizer\n" + label)
	}
}

func (a *App) onReady() {
	icon := iconPNG(32)
	if runtime.GOOS == "darwin" {
		systray.SetTemplateIcon(icon, icon)
	} else {
		systray.SetIcon(icon)
	}
	systray.SetTooltip("Polaris Antenna Visualizer")

	a.mu.Lock()
	a.statusItem = systray.AddMenuItem(a.status, "Backend status")
	a.statusItem.Disable()
	a.mu.Unlock()

	systray.AddSeparator()
	mShow := systray.AddMenuItem("Show Window", "Bring the application window to front")
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Quit Polaris Antenna Visualizer")

	go func() {
		for {
			select {
			case <-mShow.ClickedCh:
				a.actions.Focus()
			case <-mQuit.ClickedCh:
				a.logger.Infow("Quit selected from tray menu")
				a.actions.Quit()
				return
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) onExit() {
	a.logger.Infow("System tray exiting")
	a.cancel()
}
