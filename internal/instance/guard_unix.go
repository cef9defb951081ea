//go:build unix

package instance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	lockFileName   = "polaris.lock"
	socketFileName = "polaris.sock"
)

// New creates a guard that locks <dataDir>/polaris.lock and listens on
// <dataDir>/polaris.sock.
func New(dataDir string, logger *zap.SugaredLogger) *Guard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Guard{
		logger: logger,
		addr:   filepath.Join(dataDir, socketFileName),
		lockAt: filepath.Join(dataDir, lockFileName),
	}
}

func (g *Guard) acquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(g.lockAt), 0700); err != nil {
		return false, fmt.Errorf("cannot create lock directory: %w", err)
	}

	f, err := os.OpenFile(g.lockAt, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, fmt.Errorf("cannot open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			g.logger.Infow("Another instance holds the lock", "lock", g.lockAt)
			return false, nil
		}
		return false, fmt.Errorf("cannot lock %s: %w", g.lockAt, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	unlock := func() error {
		_ = os.Remove(g.addr)
		err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	}

	// Holding the lock means any socket file left behind is stale.
	if err := os.Remove(g.addr); err != nil && !os.IsNotExist(err) {
		_ = unlock()
		return false, fmt.Errorf("cannot remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", g.addr)
	if err != nil {
		_ = unlock()
		return false, fmt.Errorf("cannot create instance socket: %w", err)
	}
	if err := os.Chmod(g.addr, 0600); err != nil {
		ln.Close()
		_ = unlock()
		return false, fmt.Errorf("cannot set socket permissions: %w", err)
	}
	if ul, ok := ln.(*net.UnixListener); ok {
		// Release removes the file after unlocking.
		ul.SetUnlinkOnClose(false)
	}

	g.ln = ln
	g.unlock = unlock
	return true, nil
}

func (g *Guard) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", g.addr)
}
