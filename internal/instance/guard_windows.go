//go:build windows

package instance

import (
	"context"
	"fmt"
	"net"
	"os/user"
	"strings"
	"time"

	winio "github.com/Microsoft/go-winio"
	"go.uber.org/zap"
)

const pipePrefix = `\\.\pipe\polaris-desktop-`

// New creates a guard backed by a per-user named pipe. dataDir is unused
// on Windows.
func New(_ string, logger *zap.SugaredLogger) *Guard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Guard{logger: logger, addr: pipeName()}
}

func pipeName() string {
	name := "user"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	name = strings.NewReplacer(`\`, "-", "/", "-", " ", "_").Replace(name)
	return pipePrefix + name
}

func (g *Guard) acquire() (bool, error) {
	ln, err := winio.ListenPipe(g.addr, &winio.PipeConfig{
		InputBufferSize:  4096,
		OutputBufferSize: 4096,
	})
	if err != nil {
		// The first pipe instance belongs to whoever created it.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if conn, derr := winio.DialPipeContext(ctx, g.addr); derr == nil {
			conn.Close()
			g.logger.Infow("Another instance holds the pipe", "pipe", g.addr)
			return false, nil
		}
		return false, fmt.Errorf("cannot create instance pipe: %w", err)
	}
	g.ln = ln
	return true, nil
}

func (g *Guard) dial(ctx context.Context) (net.Conn, error) {
	return winio.DialPipeContext(ctx, g.addr)
}
