// Package loop provides the single control goroutine that owns every
// lifecycle transition in the shell. Work produced elsewhere (process
// readers, probes, timers, window and IPC events) is posted back here.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by Call once the loop has stopped.
var ErrClosed = errors.New("control loop closed")

// PanicHandler receives the value recovered from a panicking callback.
type PanicHandler func(recovered any)

// Loop executes posted callbacks one at a time, in order.
type Loop struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	queue   []func()
	closed  bool
	onPanic PanicHandler

	wake chan struct{}
	done chan struct{}
}

// New creates a loop. Run must be called for callbacks to execute.
func New(logger *zap.SugaredLogger) *Loop {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// OnPanic installs the handler invoked when a callback panics.
func (l *Loop) OnPanic(h PanicHandler) {
	l.mu.Lock()
	l.onPanic = h
	l.mu.Unlock()
}

// Run processes callbacks until ctx is cancelled. Callbacks still queued at
// that point are discarded.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Debug("Control loop starting")
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
		l.logger.Debug("Control loop stopped")
	}()

	for {
		fn, ok := l.next()
		if ok {
			l.execute(fn)
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed after Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues fn for execution on the loop. It never blocks and reports
// false when the loop has already stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to return. It must not be
// called from the loop goroutine itself.
func (l *Loop) Call(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Timer is a cancellable delayed callback that runs on the loop.
type Timer struct {
	t     *time.Timer
	fired bool
}

// AfterFunc arms a timer whose callback is posted onto the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.fired {
				return
			}
			tm.fired = true
			fn()
		})
	})
	return tm
}

// Stop cancels the timer. Called on the loop, it guarantees the callback
// will not run afterwards even if the timer already expired. It reports
// whether the callback was still pending.
func (t *Timer) Stop() bool {
	if t == nil || t.fired {
		return false
	}
	t.fired = true
	t.t.Stop()
	return true
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) execute(fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		l.logger.Errorw("Panic in control loop callback",
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()))

		l.mu.Lock()
		h := l.onPanic
		l.mu.Unlock()
		if h != nil {
			l.safeHandle(h, r)
		}
	}()
	fn()
}

func (l *Loop) safeHandle(h PanicHandler, r any) {
	defer func() {
		if again := recover(); again != nil {
			l.logger.Errorw("Panic handler panicked", "panic", fmt.Sprint(again))
		}
	}()
	h(r)
}
