// Package instance makes sure only one shell runs per user. Later launches
// forward a refocus request to the running instance and exit.
package instance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	requestName  = "second-instance"
	readTimeout  = 2 * time.Second
	forwardRetry = 50 * time.Millisecond
)

// ErrNotHolder is returned by Serve when Acquire did not succeed
var ErrNotHolder = errors.New("instance lock not held")

// Guard is the process-wide single instance lock
type Guard struct {
	logger *zap.SugaredLogger
	addr   string // socket path or pipe name
	lockAt string // lock file, unix only

	mu     sync.Mutex
	ln     net.Listener
	held   bool
	unlock func() error
}

// Acquire takes the lock. It reports false when another instance holds it.
func (g *Guard) Acquire() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return true, nil
	}

	ok, err := g.acquire()
	if err != nil || !ok {
		return ok, err
	}
	g.held = true
	g.logger.Infow("Single instance lock acquired", "address", g.addr)
	return true, nil
}

// Forward asks the holder to focus its window. There is no acknowledgment.
func (g *Guard) Forward(ctx context.Context) error {
	var lastErr error
	for {
		conn, err := g.dial(ctx)
		if err == nil {
			defer conn.Close()
			_ = conn.SetWriteDeadline(time.Now().Add(readTimeout))
			if _, err := conn.Write([]byte(requestName + "\n")); err != nil {
				return fmt.Errorf("failed to forward to running instance: %w", err)
			}
			g.logger.Infow("Forwarded launch to running instance", "address", g.addr)
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("running instance not reachable at %s: %w", g.addr, lastErr)
		case <-time.After(forwardRetry):
		}
	}
}

// Serve accepts forwarded requests and calls onSecondInstance for each.
// It returns once the guard is released.
func (g *Guard) Serve(onSecondInstance func()) error {
	g.mu.Lock()
	ln := g.ln
	g.mu.Unlock()
	if ln == nil {
		return ErrNotHolder
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			g.logger.Warnw("Failed to accept instance request", "error", err)
			continue
		}
		go g.handle(conn, onSecondInstance)
	}
}

func (g *Guard) handle(conn net.Conn, onSecondInstance func()) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		g.logger.Debugw("Incomplete instance request", "error", err)
		return
	}
	if strings.TrimSpace(line) != requestName {
		g.logger.Warnw("Unknown instance request", "request", strings.TrimSpace(line))
		return
	}
	g.logger.Infow("Received second instance request")
	onSecondInstance()
}

// Release closes the listener and drops the lock. It is safe to call more
// than once.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return nil
	}
	g.held = false

	var errs []error
	if g.ln != nil {
		if err := g.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		g.ln = nil
	}
	if g.unlock != nil {
		if err := g.unlock(); err != nil {
			errs = append(errs, err)
		}
		g.unlock = nil
	}
	g.logger.Infow("Single instance lock released", "address", g.addr)
	return errors.Join(errs...)
}

// Held reports whether this process holds the lock
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
