package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/polaris-antenna/polaris-desktop/internal/backend"
	"github.com/polaris-antenna/polaris-desktop/internal/config"
	"github.com/polaris-antenna/polaris-desktop/internal/diag"
	"github.com/polaris-antenna/polaris-desktop/internal/instance"
	"github.com/polaris-antenna/polaris-desktop/internal/logs"
	"github.com/polaris-antenna/polaris-desktop/internal/loop"
	"github.com/polaris-antenna/polaris-desktop/internal/shell"
	"github.com/polaris-antenna/polaris-desktop/internal/tray"
	"github.com/polaris-antenna/polaris-desktop/internal/window"
)

const (
	forwardTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

var version = "v0.1.0" // This will be injected by -ldflags during build

func init() {
	// The native window and the tray both need the main thread.
	runtime.LockOSThread()
}

func main() {
	code := ExitCodeSuccess
	rootCmd := newRootCommand(&code)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitCodeGeneralError)
	}
	os.Exit(code)
}

func newRootCommand(code *int) *cobra.Command {
	var dev bool
	cmd := &cobra.Command{
		Use:           "polaris-desktop",
		Short:         "Polaris Antenna Visualizer desktop shell",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			c, err := runDesktop(dev)
			*code = c
			return err
		},
	}
	cmd.Flags().BoolVar(&dev, "dev", false, "Development mode: debug logging, web inspector and diagnostics server")
	return cmd
}

func runDesktop(dev bool) (int, error) {
	cfg, err := config.Load("")
	if err != nil {
		return ExitCodeGeneralError, fmt.Errorf("failed to load configuration: %w", err)
	}
	applyDevMode(cfg, dev)

	zl, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return ExitCodeGeneralError, fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	runID := uuid.NewString()
	logger := zl.Sugar().With("run_id", runID)
	logger.Infow("Starting polaris-desktop",
		"version", version,
		"os", runtime.GOOS,
		"arch", runtime.GOARCH,
		"data_dir", cfg.DataDir,
		"dev", cfg.Dev)

	var guard *instance.Guard
	if !cfg.AllowMultipleInstances {
		guard = instance.New(cfg.DataDir, logger.Named("instance"))
		held, err := guard.Acquire()
		switch {
		case err != nil:
			logger.Warnw("Single instance guard unavailable, continuing without it", "error", err)
			guard = nil
		case !held:
			logger.Infow("Another instance is running, asking it to come to the front")
			ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
			defer cancel()
			if err := guard.Forward(ctx); err != nil {
				logger.Warnw("Failed to reach the running instance", "error", err)
			}
			return ExitCodeSuccess, nil
		default:
			defer func() {
				if err := guard.Release(); err != nil {
					logger.Warnw("Failed to release instance lock", "error", err)
				}
			}()
		}
	}

	ctl := loop.New(logger.Named("loop"))
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go ctl.Run(loopCtx)

	host, native := selectHost(cfg, logger.Named("window"))
	metrics := diag.NewMetrics()

	var trayApp *tray.App
	sh, err := shell.New(shell.Options{
		Logger:  logger,
		Loop:    ctl,
		Config:  cfg,
		RunID:   runID,
		Host:    host,
		Metrics: metrics,
		OnStatus: func(state backend.State, ready bool) {
			if trayApp != nil {
				trayApp.SetStatus(tray.StatusLabel(string(state), ready))
			}
		},
	})
	if err != nil {
		return ExitCodeGeneralError, err
	}
	trayApp = tray.New(sh, logger.Named("tray"))

	if guard != nil {
		go func() {
			if err := guard.Serve(sh.SecondInstance); err != nil {
				logger.Warnw("Instance listener stopped", "error", err)
			}
		}()
	}

	if cfg.Dev {
		srv := diag.NewServer(cfg.Diagnostics.Listen, sh.Snapshot, metrics, logger.Named("diag"))
		if err := srv.Start(); err != nil {
			logger.Warnw("Diagnostics server not started", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
		}
	}

	uiCtx, cancelUI := context.WithCancel(context.Background())
	defer cancelUI()
	go func() {
		<-sh.Done()
		cancelUI()
	}()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Infow("Received shutdown signal", "signal", sig.String())
			sh.Quit()
		case <-sh.Done():
		}
	}()

	// Opening the splash needs the UI loop below, so start from a goroutine.
	go func() {
		if err := sh.Start(); err != nil {
			logger.Errorw("Shell failed to start", "error", err)
		}
	}()

	logger.Infow("Starting UI event loop", "native_window", native)
	if native {
		stopTray := trayApp.Start()
		err = host.Run(uiCtx)
		stopTray()
	} else {
		err = trayApp.Run(uiCtx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorw("UI event loop error", "error", err)
	}

	// The UI may end on its own, e.g. when the native loop is torn down.
	sh.Quit()
	select {
	case <-sh.Done():
	case <-time.After(cfg.Backend.GracePeriod + shutdownTimeout):
		logger.Warnw("Timed out waiting for shutdown")
	}

	code := sh.ExitCode()
	logger.Infow("polaris-desktop shutdown complete", "exit_code", code, "reason", exitCodeDescription(code))
	return code, nil
}

// applyDevMode turns on the development conveniences for --dev.
func applyDevMode(cfg *config.Config, dev bool) {
	if dev {
		cfg.Dev = true
	}
	if cfg.Dev && cfg.Logging != nil {
		cfg.Logging.Level = logs.LogLevelDebug
	}
}

// selectHost picks the native webview unless the browser host is
// configured or the webview cannot run here. native reports whether the
// host owns the UI loop.
func selectHost(cfg *config.Config, logger *zap.SugaredLogger) (host window.Host, native bool) {
	if cfg.Window.Host == config.WindowHostBrowser {
		return window.NewBrowserHost(logger), false
	}
	wv, err := window.NewWebviewHost(logger)
	if err != nil {
		logger.Warnw("Native window unavailable, using the system browser", "error", err)
		return window.NewBrowserHost(logger), false
	}
	return wv, true
}
