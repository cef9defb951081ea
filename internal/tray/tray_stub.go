//go:build nogui || headless

package tray

import (
	"context"

	"go.uber.org/zap"
)

// App represents the system tray application (stub version)
type App struct {
	logger *zap.SugaredLogger
}

// New creates a new tray application (stub version)
func New(_ Actions, logger *zap.SugaredLogger) *App {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &App{logger: logger}
}

// Start does nothing in this build
func (a *App) Start() (stop func()) {
	a.logger.Infow("Tray functionality disabled (nogui/headless build)")
	return func() {}
}

// Run waits for ctx (stub version)
func (a *App) Run(ctx context.Context) error {
	a.logger.Infow("Tray functionality disabled (nogui/headless build)")
	<-ctx.Done()
	return ctx.Err()
}

// SetStatus does nothing in this build
func (a *App) SetStatus(string) {}
