// Package backend owns the Python web-server process that serves the UI.
package backend

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/polaris-antenna/polaris-desktop/internal/loop"
	"github.com/polaris-antenna/polaris-desktop/internal/port"
)

// DefaultGracePeriod is the delay between graceful and forceful termination
const DefaultGracePeriod = time.Second

// ErrStopping is returned by Start while the previous process is still exiting.
var ErrStopping = errors.New("backend is stopping")

var (
	announcePattern = regexp.MustCompile(`(?i)\b(?:start(?:ing|ed)?|serv(?:ing|er)|running|listening)\b.*?\bport\s*[:=]?\s*(\d{1,5})\b`)
	urlPattern      = regexp.MustCompile(`(?i)\b(?:running|serving|listening)\b.*?https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1?\]):(\d{1,5})\b`)
)

var addressInUseMarkers = []string{
	"Address already in use",
	"[Errno 48]",
	"[Errno 98]",
	"WinError 10048",
}

// Terminator ends a process tree, gracefully or forcefully
type Terminator interface {
	Terminate(pid int, force bool) error
}

// Recorder receives lifecycle measurements
type Recorder interface {
	BackendStarted()
	BackendExited(state State)
	BackendForceKilled()
}

type nopRecorder struct{}

func (nopRecorder) BackendStarted()     {}
func (nopRecorder) BackendExited(State) {}
func (nopRecorder) BackendForceKilled() {}

// Info is a snapshot of the current backend process
type Info struct {
	Generation uint64    `json:"generation"`
	PID        int       `json:"pid,omitempty"`
	State      State     `json:"state"`
	Port       int       `json:"port"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Attached   bool      `json:"attached"`
	StartedAt  time.Time `json:"started_at,omitempty"`
}

// ExitEvent describes the end of one backend generation
type ExitEvent struct {
	Generation uint64
	Code       int
	Err        error
	State      State
	// Unexpected is set when the exit was neither requested nor caused by
	// attaching to an already running server.
	Unexpected bool
	Attached   bool
}

// Hooks are invoked on the control loop
type Hooks struct {
	OnStateChange func(gen uint64, from, to State)
	OnPort        func(gen uint64, port int)
	OnAttach      func(gen uint64)
	OnExit        func(ev ExitEvent)
}

// Options configures a Controller
type Options struct {
	Logger      *zap.SugaredLogger
	Loop        *loop.Loop
	Ports       *port.Registry
	Spawner     Spawner
	Terminator  Terminator
	GracePeriod time.Duration
	Recorder    Recorder
	Hooks       Hooks
}

// Controller owns the backend process. Every method except the output
// readers and the exit waiter runs on the control loop, so fields are not
// locked.
type Controller struct {
	logger  *zap.SugaredLogger
	loop    *loop.Loop
	ports   *port.Registry
	spawner Spawner
	term    Terminator
	grace   time.Duration
	rec     Recorder
	hooks   Hooks

	gen       uint64
	state     State
	proc      Process
	pid       int
	exitCode  *int
	attached  bool
	startedAt time.Time
	killTimer *loop.Timer
	exited    chan struct{}
}

// NewController creates a controller in StateNotStarted
func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Terminator == nil {
		opts.Terminator = NewTerminator()
	}
	if opts.Spawner == nil {
		opts.Spawner = NewExecSpawner(opts.Logger)
	}

	exited := make(chan struct{})
	close(exited)

	return &Controller{
		logger:  opts.Logger,
		loop:    opts.Loop,
		ports:   opts.Ports,
		spawner: opts.Spawner,
		term:    opts.Terminator,
		grace:   opts.GracePeriod,
		rec:     opts.Recorder,
		hooks:   opts.Hooks,
		state:   StateNotStarted,
		exited:  exited,
	}
}

// Start spawns a new backend generation. While a process is starting or
// running, or an existing server was attached to, it returns the current
// info without spawning.
func (c *Controller) Start(spec Spec) (Info, error) {
	if c.state.Active() {
		c.logger.Debugw("Backend already active, start ignored", "state", c.state, "generation", c.gen)
		return c.Info(), nil
	}
	if c.attached {
		c.logger.Debugw("Attached to an existing server, start ignored", "generation", c.gen)
		return c.Info(), nil
	}
	if c.state == StateStopping {
		return c.Info(), ErrStopping
	}

	c.gen++
	gen := c.gen
	c.pid = 0
	c.exitCode = nil
	c.proc = nil
	c.startedAt = time.Now()
	c.transition(StateStarting)

	proc, err := c.spawner.Spawn(spec)
	if err != nil {
		c.logger.Errorw("Failed to spawn backend", "generation", gen, "error", err)
		c.transition(StateFailed)
		c.rec.BackendExited(StateFailed)
		return c.Info(), fmt.Errorf("failed to start backend: %w", err)
	}

	c.proc = proc
	c.pid = proc.PID()
	c.exited = make(chan struct{})
	c.rec.BackendStarted()

	c.logger.Infow("Backend process started",
		"generation", gen,
		"pid", c.pid,
		"command", spec.Command)

	var readers sync.WaitGroup
	readers.Add(2)
	go c.readLines(gen, "stdout", proc.Stdout(), c.handleStdout, &readers)
	go c.readLines(gen, "stderr", proc.Stderr(), c.handleStderr, &readers)
	go func() {
		code, err := proc.Wait()
		readers.Wait()
		c.loop.Post(func() { c.handleExit(gen, code, err) })
	}()

	return c.Info(), nil
}

// Stop requests termination. The first request sends the graceful signal
// and arms a single forceful kill after the grace period; later requests
// are ignored.
func (c *Controller) Stop() {
	if !c.state.Active() {
		c.logger.Debugw("Backend stop ignored", "state", c.state, "generation", c.gen)
		return
	}

	gen, pid := c.gen, c.pid
	c.transition(StateStopping)

	c.logger.Infow("Stopping backend", "generation", gen, "pid", pid, "grace_period", c.grace)
	if err := c.term.Terminate(pid, false); err != nil {
		c.logger.Warnw("Graceful termination failed, killing backend", "pid", pid, "error", err)
		c.forceKill(gen)
		return
	}

	c.killTimer = c.loop.AfterFunc(c.grace, func() {
		if gen != c.gen || c.state != StateStopping {
			return
		}
		c.logger.Warnw("Backend did not exit within grace period, killing",
			"generation", gen,
			"pid", pid,
			"grace_period", c.grace)
		c.forceKill(gen)
	})
}

// MarkRunning promotes a starting backend once readiness was observed
// without a port announcement.
func (c *Controller) MarkRunning(gen uint64) {
	if gen != c.gen || c.state != StateStarting {
		return
	}
	c.transition(StateRunning)
	c.ports.Pin()
}

// Info returns a snapshot of the current generation
func (c *Controller) Info() Info {
	info := Info{
		Generation: c.gen,
		PID:        c.pid,
		State:      c.state,
		Port:       c.ports.Current(),
		Attached:   c.attached,
		StartedAt:  c.startedAt,
	}
	if c.exitCode != nil {
		code := *c.exitCode
		info.ExitCode = &code
	}
	return info
}

// State returns the current state
func (c *Controller) State() State { return c.state }

// Generation returns the current generation number
func (c *Controller) Generation() uint64 { return c.gen }

// Attached reports whether an already running server is being used
func (c *Controller) Attached() bool { return c.attached }

// Exited is closed once the current generation's process has exited. It
// is already closed when no process exists.
func (c *Controller) Exited() <-chan struct{} { return c.exited }

func (c *Controller) forceKill(gen uint64) {
	c.rec.BackendForceKilled()
	if err := c.term.Terminate(c.pid, true); err != nil {
		c.logger.Errorw("Failed to kill backend", "generation", gen, "pid", c.pid, "error", err)
	}
}

func (c *Controller) readLines(gen uint64, stream string, r io.Reader, handle func(uint64, string), wg *sync.WaitGroup) {
	defer wg.Done()
	if r == nil {
		return
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		c.loop.Post(func() { handle(gen, line) })
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warnw("Error reading backend output", "stream", stream, "generation", gen, "error", err)
		// Keep draining so the process never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

func (c *Controller) handleStdout(gen uint64, line string) {
	if c.stale(gen) {
		c.logger.Debugw("Dropping output from stale backend", "generation", gen, "line", line)
		return
	}
	c.logger.Infow("Backend output", "generation", gen, "line", line)

	p, ok := ParseAnnouncement(line)
	if !ok {
		return
	}
	c.Announce(gen, p)
}

// Announce records a port reported by generation gen, from its output or
// from the discovery file.
func (c *Controller) Announce(gen uint64, p int) {
	if c.stale(gen) {
		c.logger.Debugw("Ignoring port from stale backend", "generation", gen, "port", p)
		return
	}
	if !c.ports.Update(p) {
		return
	}
	if c.state == StateStarting {
		c.transition(StateRunning)
	}
	c.ports.Pin()
	if c.hooks.OnPort != nil {
		c.hooks.OnPort(gen, p)
	}
}

func (c *Controller) handleStderr(gen uint64, line string) {
	if c.stale(gen) {
		c.logger.Debugw("Dropping error output from stale backend", "generation", gen, "line", line)
		return
	}
	c.logger.Errorw("Backend error output", "generation", gen, "line", line)

	if c.attached || !IsAddressInUse(line) {
		return
	}
	c.attached = true
	c.logger.Warnw("Backend port already in use, attaching to the existing server",
		"generation", gen,
		"port", c.ports.Current())
	if c.hooks.OnAttach != nil {
		c.hooks.OnAttach(gen)
	}
}

func (c *Controller) handleExit(gen uint64, code int, err error) {
	if gen != c.gen {
		c.logger.Debugw("Ignoring exit of stale backend", "generation", gen, "current_generation", c.gen)
		return
	}

	c.killTimer.Stop()
	c.killTimer = nil
	c.proc = nil
	c.exitCode = &code

	requested := c.state == StateStopping
	next := StateStopped
	if code != 0 && !requested && !c.attached {
		next = StateFailed
	}
	c.transition(next)
	c.rec.BackendExited(next)

	if !c.attached {
		c.ports.Unpin()
	}
	close(c.exited)

	ev := ExitEvent{
		Generation: gen,
		Code:       code,
		Err:        err,
		State:      next,
		Unexpected: !requested && !c.attached,
		Attached:   c.attached,
	}
	logFn := c.logger.Infow
	if ev.Unexpected {
		logFn = c.logger.Errorw
	}
	logFn("Backend process exited",
		"generation", gen,
		"pid", c.pid,
		"exit_code", code,
		"state", next,
		"requested", requested,
		"attached", c.attached,
		"runtime", time.Since(c.startedAt))

	if c.hooks.OnExit != nil {
		c.hooks.OnExit(ev)
	}
}

// stale reports whether callbacks of generation gen must not touch shared state
func (c *Controller) stale(gen uint64) bool {
	return gen != c.gen || !c.state.Active()
}

func (c *Controller) transition(to State) {
	from := c.state
	if !CanTransition(from, to) {
		c.logger.Errorw("Invalid backend state transition", "from", from, "to", to, "generation", c.gen)
		return
	}
	c.state = to
	c.logger.Debugw("Backend state transition", "from", from, "to", to, "generation", c.gen)
	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(c.gen, from, to)
	}
}

// ParseAnnouncement extracts the port from a backend startup line such as
// "Starting Eel on port 8421".
func ParseAnnouncement(line string) (int, bool) {
	for _, re := range []*regexp.Regexp{announcePattern, urlPattern} {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		p, err := strconv.Atoi(m[1])
		if err != nil || !port.Valid(p) {
			continue
		}
		return p, true
	}
	return 0, false
}

// IsAddressInUse reports whether a backend error line means another server
// already holds the port.
func IsAddressInUse(line string) bool {
	for _, marker := range addressInUseMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
