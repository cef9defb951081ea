package backend

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/polaris-antenna/polaris-desktop/internal/loop"
	"github.com/polaris-antenna/polaris-desktop/internal/port"
)

type fakeProcess struct {
	pid int

	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	once sync.Once
	code chan int
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{pid: pid, code: make(chan int, 1)}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) PID() int          { return p.pid }
func (p *fakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader { return p.stderrR }

func (p *fakeProcess) Wait() (int, error) {
	return <-p.code, nil
}

func (p *fakeProcess) writeStdout(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(p.stdoutW, line+"\n")
	require.NoError(t, err)
}

func (p *fakeProcess) writeStderr(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(p.stderrW, line+"\n")
	require.NoError(t, err)
}

// exit closes the output streams and reports code. Later calls are ignored.
func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.stdoutW.Close()
		p.stderrW.Close()
		p.code <- code
	})
}

type fakeSpawner struct {
	mu      sync.Mutex
	procs   []*fakeProcess
	specs   []Spec
	err     error
	nextPID int
}

func (s *fakeSpawner) Spawn(spec Spec) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.nextPID++
	p := newFakeProcess(1000 + s.nextPID)
	s.procs = append(s.procs, p)
	s.specs = append(s.specs, spec)
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

type termCall struct {
	pid   int
	force bool
	at    time.Time
}

// fakeTerminator records calls. When exitOnGraceful is set the graceful
// request makes the process exit; forceful requests always do.
type fakeTerminator struct {
	mu             sync.Mutex
	calls          []termCall
	spawner        *fakeSpawner
	exitOnGraceful bool
	gracefulErr    error
}

func (ft *fakeTerminator) Terminate(pid int, force bool) error {
	ft.mu.Lock()
	ft.calls = append(ft.calls, termCall{pid: pid, force: force, at: time.Now()})
	exit := force || ft.exitOnGraceful
	gracefulErr := ft.gracefulErr
	ft.mu.Unlock()

	if !force && gracefulErr != nil {
		return gracefulErr
	}
	if exit {
		if p := ft.find(pid); p != nil {
			go p.exit(-1)
		}
	}
	return nil
}

func (ft *fakeTerminator) find(pid int) *fakeProcess {
	ft.spawner.mu.Lock()
	defer ft.spawner.mu.Unlock()
	for _, p := range ft.spawner.procs {
		if p.pid == pid {
			return p
		}
	}
	return nil
}

func (ft *fakeTerminator) snapshot() []termCall {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]termCall(nil), ft.calls...)
}

func (ft *fakeTerminator) count(force bool) int {
	n := 0
	for _, c := range ft.snapshot() {
		if c.force == force {
			n++
		}
	}
	return n
}

type harness struct {
	t       *testing.T
	loop    *loop.Loop
	ports   *port.Registry
	spawner *fakeSpawner
	term    *fakeTerminator
	ctrl    *Controller
	exits   chan ExitEvent
	attach  chan uint64
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	sugar := logger.Sugar()

	l := loop.New(sugar)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)

	h := &harness{
		t:       t,
		loop:    l,
		ports:   port.NewRegistry(sugar, 8000, 0, ""),
		spawner: &fakeSpawner{},
		exits:   make(chan ExitEvent, 8),
		attach:  make(chan uint64, 8),
	}
	h.term = &fakeTerminator{spawner: h.spawner}
	h.ports.Resolve()
	h.ctrl = NewController(Options{
		Logger:      sugar,
		Loop:        l,
		Ports:       h.ports,
		Spawner:     h.spawner,
		Terminator:  h.term,
		GracePeriod: grace,
		Hooks: Hooks{
			OnExit:   func(ev ExitEvent) { h.exits <- ev },
			OnAttach: func(gen uint64) { h.attach <- gen },
		},
	})

	t.Cleanup(func() {
		for i := 0; i < h.spawner.count(); i++ {
			h.spawner.proc(i).exit(0)
		}
		cancel()
		<-l.Done()
	})
	return h
}

func (h *harness) call(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Call(fn))
}

func (h *harness) start() Info {
	h.t.Helper()
	var info Info
	var err error
	h.call(func() { info, err = h.ctrl.Start(Spec{Command: "python", Args: []string{"main.py"}}) })
	require.NoError(h.t, err)
	return info
}

func (h *harness) state() State {
	var s State
	h.call(func() { s = h.ctrl.State() })
	return s
}

func (h *harness) waitExit() ExitEvent {
	h.t.Helper()
	select {
	case ev := <-h.exits:
		return ev
	case <-time.After(3 * time.Second):
		h.t.Fatal("backend exit was not observed")
		return ExitEvent{}
	}
}

var errSpawn = errors.New("exec: \"python\": executable file not found in $PATH")
