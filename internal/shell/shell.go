// Package shell wires the single instance guard, backend controller,
// health poller, window lifecycle and launch handshake together on one
// control loop.
package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/polaris-antenna/polaris-desktop/internal/backend"
	"github.com/polaris-antenna/polaris-desktop/internal/config"
	"github.com/polaris-antenna/polaris-desktop/internal/diag"
	"github.com/polaris-antenna/polaris-desktop/internal/dialog"
	"github.com/polaris-antenna/polaris-desktop/internal/handshake"
	"github.com/polaris-antenna/polaris-desktop/internal/health"
	"github.com/polaris-antenna/polaris-desktop/internal/loop"
	"github.com/polaris-antenna/polaris-desktop/internal/port"
	"github.com/polaris-antenna/polaris-desktop/internal/window"
)

// Exit codes reported by ExitCode
const (
	ExitCodeSuccess      = 0
	ExitCodeBackendStart = 2
	ExitCodeWindow       = 3
	ExitCodeFatal        = 4
)

// quitSlack is added to the grace period when waiting for the backend on quit
const quitSlack = 2 * time.Second

// SpecResolver produces the backend command line
type SpecResolver func(ctx context.Context) (backend.Spec, error)

// Options configures a Shell. Zero values select the production
// implementations.
type Options struct {
	Logger     *zap.SugaredLogger
	Loop       *loop.Loop
	Config     *config.Config
	RunID      string
	Host       window.Host
	Ports      *port.Registry
	Spawner    backend.Spawner
	Terminator backend.Terminator
	Prober     backend.Prober
	Client     *resty.Client
	Notifier   dialog.Notifier
	Picker     dialog.FilePicker
	Metrics    *diag.Metrics
	Preflight  window.Preflight
	Resolve    SpecResolver
	// OnStatus receives backend state changes, from the loop.
	OnStatus func(state backend.State, ready bool)
}

// Shell owns the application lifecycle. Exported methods may be called from
// any goroutine; everything else runs on the loop.
type Shell struct {
	opts     Options
	cfg      *config.Config
	logger   *zap.SugaredLogger
	loop     *loop.Loop
	notifier dialog.Notifier

	ports     *port.Registry
	backend   *backend.Controller
	poller    *health.Poller
	window    *window.Lifecycle
	handshake *handshake.Handshake
	watcher   *port.HintWatcher

	spec      *backend.Spec
	resolving bool
	started   bool
	quitting  bool
	exitCode  int

	done     chan struct{}
	doneOnce sync.Once
}

// New builds the component graph. Nothing runs until Start.
func New(opts Options) (*Shell, error) {
	if opts.Loop == nil || opts.Config == nil || opts.Host == nil {
		return nil, errors.New("shell requires a loop, a config and a window host")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	cfg := opts.Config
	logger := opts.Logger

	if opts.Ports == nil {
		opts.Ports = port.NewRegistry(logger.Named("port"), cfg.Port.Default, cfg.Port.Value, cfg.HintFilePath())
	}
	if opts.Client == nil {
		opts.Client = health.NewClient(cfg.Health.Timeout, logger.Named("health"))
	}
	if opts.Notifier == nil {
		opts.Notifier = dialog.NewAlertNotifier(logger.Named("dialog"))
	}
	if opts.Preflight == nil {
		opts.Preflight = ProbePreflight(opts.Client)
	}

	s := &Shell{
		opts:     opts,
		cfg:      cfg,
		logger:   logger,
		loop:     opts.Loop,
		notifier: opts.Notifier,
		ports:    opts.Ports,
		done:     make(chan struct{}),
	}
	if s.opts.Resolve == nil {
		s.opts.Resolve = s.resolveSpec
	}

	var backendRec backend.Recorder
	var healthRec health.Recorder
	if opts.Metrics != nil {
		backendRec, healthRec = opts.Metrics, opts.Metrics
	}

	s.backend = backend.NewController(backend.Options{
		Logger:      logger.Named("backend"),
		Loop:        s.loop,
		Ports:       s.ports,
		Spawner:     opts.Spawner,
		Terminator:  opts.Terminator,
		GracePeriod: cfg.Backend.GracePeriod,
		Recorder:    backendRec,
		Hooks: backend.Hooks{
			OnStateChange: s.onBackendState,
			OnPort:        s.onBackendPort,
			OnAttach:      s.onBackendAttach,
			OnExit:        s.onBackendExit,
		},
	})

	s.poller = health.NewPoller(health.Options{
		Logger:   logger.Named("health"),
		Loop:     s.loop,
		Ports:    s.ports,
		Client:   opts.Client,
		Interval: cfg.Health.Interval,
		Path:     cfg.Health.Path,
		Recorder: healthRec,
		OnReady:  s.onReady,
	})

	s.window = window.NewLifecycle(window.Config{
		Logger: logger.Named("window"),
		Loop:   s.loop,
		Host:   opts.Host,
		Ports:  s.ports,
		Window: window.Options{
			Title:     cfg.Window.Title,
			Width:     cfg.Window.Width,
			Height:    cfg.Window.Height,
			MinWidth:  cfg.Window.MinWidth,
			MinHeight: cfg.Window.MinHeight,
			Debug:     cfg.Dev,
		},
		SplashPath:     cfg.Window.SplashPath,
		MainPath:       cfg.Window.MainPath,
		LoadRetryDelay: cfg.Window.LoadRetryDelay,
		Preflight:      opts.Preflight,
		OnAllClosed:    s.onAllWindowsClosed,
		OnPageReady:    s.onPageReady,
		OnSend:         func(channel string) { s.handshake.Send(channel) },
		OnInvoke: func(channel string, payload json.RawMessage, reply func(any, error)) {
			s.handshake.Invoke(channel, payload, reply)
		},
	})

	s.handshake = handshake.New(handshake.Options{
		Logger:    logger.Named("handshake"),
		Loop:      s.loop,
		Backend:   backendStarter{s},
		Window:    s.window,
		Picker:    opts.Picker,
		AutoAfter: cfg.Launch.AutoAfter,
		OnSecondInstance: func() {
			if opts.Metrics != nil {
				opts.Metrics.SecondInstance()
			}
			s.window.Focus()
		},
	})

	s.loop.OnPanic(s.onPanic)
	return s, nil
}

// Start opens the splash window and starts the backend in parallel.
func (s *Shell) Start() error {
	return s.loop.Call(s.start)
}

// Quit stops the backend and ends the application. It is idempotent.
func (s *Shell) Quit() {
	s.loop.Post(func() { s.quit(ExitCodeSuccess) })
}

// Focus restores and focuses the window, recreating it if needed.
func (s *Shell) Focus() {
	s.loop.Post(s.window.Focus)
}

// SecondInstance handles a launch forwarded by another instance.
func (s *Shell) SecondInstance() {
	s.loop.Post(s.handshake.SecondInstance)
}

// Done is closed once quitting has finished
func (s *Shell) Done() <-chan struct{} { return s.done }

// ExitCode is the process exit code. It is final once Done is closed.
func (s *Shell) ExitCode() int {
	select {
	case <-s.done:
		return s.exitCode
	default:
		var code int
		if err := s.loop.Call(func() { code = s.exitCode }); err != nil {
			return ExitCodeFatal
		}
		return code
	}
}

// Snapshot reports the current state for diagnostics
func (s *Shell) Snapshot(ctx context.Context) (diag.Snapshot, error) {
	var snap diag.Snapshot
	err := s.loop.Call(func() {
		info := s.backend.Info()
		snap = diag.Snapshot{
			RunID:       s.opts.RunID,
			Backend:     info,
			Ready:       s.handshake.Ready(info.Generation),
			Launched:    s.handshake.Launched(),
			WindowPhase: string(s.window.Phase()),
			WindowPage:  string(s.window.Page()),
			Quitting:    s.quitting,
		}
	})
	if err == nil {
		err = ctx.Err()
	}
	return snap, err
}

func (s *Shell) start() {
	if s.started {
		return
	}
	s.started = true

	s.ports.Resolve()
	s.startWatcher()

	if err := s.window.CreateSplash(); err != nil {
		s.fail(dialog.TitleFatal, ExitCodeWindow, fmt.Errorf("failed to open the application window: %w", err))
		return
	}
	s.ensureBackend()
}

func (s *Shell) startWatcher() {
	path := s.ports.HintPath()
	if path == "" {
		return
	}
	w, err := port.NewHintWatcher(path, s.logger.Named("port"))
	if err != nil {
		s.logger.Warnw("Discovery file watch unavailable", "path", path, "error", err)
		return
	}
	if err := w.Start(func(p int) {
		s.loop.Post(func() { s.backend.Announce(s.backend.Generation(), p) })
	}); err != nil {
		s.logger.Warnw("Discovery file watch unavailable", "path", path, "error", err)
		return
	}
	s.watcher = w
}

// ensureBackend starts the backend unless it is starting, running or
// attached. Interpreter discovery runs off the loop.
func (s *Shell) ensureBackend() {
	if s.quitting || s.backend.State().Active() || s.backend.Attached() {
		return
	}
	if s.spec != nil {
		s.startBackend(*s.spec)
		return
	}
	if s.resolving {
		return
	}

	s.resolving = true
	resolve := s.opts.Resolve
	go func() {
		spec, err := resolve(context.Background())
		s.loop.Post(func() {
			s.resolving = false
			if err != nil {
				s.fail(dialog.TitleBackendStartError, ExitCodeBackendStart, err)
				return
			}
			s.spec = &spec
			s.startBackend(spec)
		})
	}()
}

func (s *Shell) startBackend(spec backend.Spec) {
	if s.quitting {
		return
	}
	prev := s.backend.Generation()
	info, err := s.backend.Start(spec)
	switch {
	case errors.Is(err, backend.ErrStopping):
		s.logger.Warnw("Backend still stopping, start deferred", "generation", info.Generation)
		return
	case err != nil:
		s.fail(dialog.TitleBackendStartError, ExitCodeBackendStart, err)
		return
	}
	if s.watcher != nil && info.Generation != prev {
		s.watcher.Reset()
	}
	s.poller.Start(info.Generation)
}

func (s *Shell) resolveSpec(ctx context.Context) (backend.Spec, error) {
	bc := s.cfg.Backend

	interpreter := bc.Interpreter
	if interpreter == "" {
		found, err := backend.FindInterpreter(ctx, bc.Interpreters, s.opts.Prober, s.logger.Named("backend"))
		if err != nil {
			return backend.Spec{}, err
		}
		interpreter = found
	}

	script, err := backend.ResolveScript(bc.Script)
	if err != nil {
		return backend.Spec{}, err
	}

	dir := bc.WorkingDir
	if dir == "" {
		dir = filepath.Dir(script)
	}
	env := []string{}
	if bc.HostedEnv != "" {
		env = append(env, bc.HostedEnv)
	}
	if hint := s.ports.HintPath(); hint != "" {
		env = append(env, "POLARIS_PORT_FILE="+hint)
	}

	return backend.Spec{
		Command: interpreter,
		Args:    append([]string{script}, bc.Args...),
		Env:     env,
		Dir:     dir,
	}, nil
}

func (s *Shell) onReady(gen uint64) {
	s.backend.MarkRunning(gen)
	s.handshake.BackendReady(gen)
	s.status()
}

func (s *Shell) onBackendState(uint64, backend.State, backend.State) { s.status() }

func (s *Shell) onBackendPort(gen uint64, p int) {
	s.logger.Infow("Backend announced its port", "generation", gen, "port", p)
}

func (s *Shell) onBackendAttach(gen uint64) {
	s.logger.Infow("Using the server already listening on the backend port",
		"generation", gen,
		"url", s.ports.URL(""))
}

func (s *Shell) onBackendExit(ev backend.ExitEvent) {
	// An attached server outlives the process that found it; keep polling
	// until it answers.
	if !ev.Attached || s.quitting {
		s.poller.Stop()
	}
	s.status()

	if s.quitting || !ev.Unexpected {
		return
	}
	if ev.State != backend.StateFailed {
		s.logger.Warnw("Backend exited on its own", "generation", ev.Generation, "exit_code", ev.Code)
		return
	}
	if !s.window.HasWindow() {
		s.logger.Errorw("Backend failed with no window open", "generation", ev.Generation, "exit_code", ev.Code)
		return
	}

	msg := fmt.Sprintf("The backend process exited with code %d.", ev.Code)
	go s.notifier.Error(dialog.TitleBackendError, msg)
}

func (s *Shell) onPageReady(page window.Page) {
	s.logger.Debugw("Page loaded", "page", page)
	s.handshake.PageReady(s.backend.Generation())
}

func (s *Shell) onAllWindowsClosed() {
	if s.quitting {
		return
	}
	if s.cfg.Window.KeepAlive {
		s.logger.Infow("All windows closed, staying alive in the background")
		return
	}
	s.logger.Infow("All windows closed, quitting")
	s.quit(ExitCodeSuccess)
}

func (s *Shell) onPanic(r any) {
	err := fmt.Errorf("unexpected error: %v", r)
	s.logger.Errorw("Fatal error on the control loop", "error", err)
	s.fail(dialog.TitleFatal, ExitCodeFatal, err)
}

// fail shows err in a dialog and quits once it is dismissed.
func (s *Shell) fail(title string, code int, err error) {
	s.logger.Errorw("Fatal error, quitting", "title", title, "error", err)
	if s.exitCode == ExitCodeSuccess {
		s.exitCode = code
	}
	if s.quitting {
		return
	}
	// Stop the backend right away; the dialog may stay open for a while.
	s.backend.Stop()
	notifier := s.notifier
	go func() {
		notifier.Error(title, err.Error())
		s.loop.Post(func() { s.quit(code) })
	}()
}

func (s *Shell) quit(code int) {
	if s.exitCode == ExitCodeSuccess {
		s.exitCode = code
	}
	if s.quitting {
		return
	}
	s.quitting = true
	s.logger.Infow("Quitting", "exit_code", s.exitCode)

	s.handshake.Stop()
	s.poller.Stop()
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Debugw("Failed to stop discovery watcher", "error", err)
		}
	}
	s.backend.Stop()
	s.window.Close()

	exited := s.backend.Exited()
	bound := s.cfg.Backend.GracePeriod + quitSlack
	go func() {
		select {
		case <-exited:
		case <-time.After(bound):
			s.logger.Warnw("Backend did not exit in time, quitting anyway", "waited", bound)
		}
		if !s.loop.Post(s.finish) {
			s.finish()
		}
	}()
}

func (s *Shell) finish() {
	s.ports.RemoveHint()
	s.doneOnce.Do(func() {
		s.logger.Infow("Shutdown complete", "exit_code", s.exitCode)
		close(s.done)
	})
}

func (s *Shell) status() {
	if s.opts.OnStatus == nil {
		return
	}
	info := s.backend.Info()
	ready := s.handshake.Ready(info.Generation)
	state := info.State
	if info.Attached && ready {
		state = backend.StateRunning
	}
	s.opts.OnStatus(state, ready)
}

// backendStarter adapts the shell to handshake.Backend
type backendStarter struct{ s *Shell }

func (b backendStarter) EnsureStarted() error {
	if b.s.quitting {
		return errors.New("application is quitting")
	}
	b.s.ensureBackend()
	return nil
}

// ProbePreflight checks page URLs with the readiness probe. Unreachable
// servers are reported as window.ErrServerNotReady.
func ProbePreflight(client *resty.Client) window.Preflight {
	return func(ctx context.Context, url string) error {
		err := health.Probe(ctx, client, url)
		if errors.Is(err, health.ErrUnreachable) {
			return fmt.Errorf("%w: %v", window.ErrServerNotReady, err)
		}
		return err
	}
}
