// Package port tracks which local port the backend web server listens on.
package port

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrInvalidPort is returned for values outside 1..65535.
var ErrInvalidPort = errors.New("invalid port")

// Registry holds the current backend port. Writes happen on the control
// loop; probes and URL builders may read concurrently.
type Registry struct {
	logger *zap.SugaredLogger

	defaultPort    int
	configuredPort int
	hintPath       string

	mu      sync.RWMutex
	current int
	pinned  bool
}

// NewRegistry creates a registry. configured may be 0 when no port was set
// explicitly; hintPath may be empty when no discovery file is used.
func NewRegistry(logger *zap.SugaredLogger, defaultPort, configured int, hintPath string) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		logger:         logger,
		defaultPort:    defaultPort,
		configuredPort: configured,
		hintPath:       hintPath,
		current:        defaultPort,
	}
}

// Resolve picks the startup port: discovery file, then configured port,
// then the default.
func (r *Registry) Resolve() int {
	port, source := r.defaultPort, "default"

	if r.configuredPort != 0 {
		port, source = r.configuredPort, "config"
	}

	if r.hintPath != "" {
		hinted, err := ReadHint(r.hintPath)
		switch {
		case err == nil:
			port, source = hinted, "discovery file"
		case errors.Is(err, os.ErrNotExist):
		default:
			r.logger.Warnw("Ignoring unreadable port discovery file",
				"path", r.hintPath,
				"error", err)
		}
	}

	r.mu.Lock()
	r.current = port
	r.pinned = false
	r.mu.Unlock()

	r.logger.Infow("Resolved backend port", "port", port, "source", source)
	return port
}

// Update records an announced port. The later value wins even when the
// port is pinned by a running backend; that case is logged as a warning.
func (r *Registry) Update(p int) bool {
	if !Valid(p) {
		r.logger.Warnw("Ignoring invalid announced port", "port", p)
		return false
	}

	r.mu.Lock()
	prev, pinned := r.current, r.pinned
	r.current = p
	r.mu.Unlock()

	if prev == p {
		return true
	}
	if pinned {
		r.logger.Warnw("Backend port changed while running",
			"previous_port", prev,
			"port", p)
	} else {
		r.logger.Infow("Backend port announced", "previous_port", prev, "port", p)
	}
	return true
}

// Current returns the port to use right now. Callers must not cache it
// across asynchronous boundaries.
func (r *Registry) Current() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Pin marks the port as confirmed by a running backend.
func (r *Registry) Pin() {
	r.mu.Lock()
	r.pinned = true
	r.mu.Unlock()
}

// Unpin clears the confirmation, typically when the backend stops.
func (r *Registry) Unpin() {
	r.mu.Lock()
	r.pinned = false
	r.mu.Unlock()
}

// Pinned reports whether a running backend confirmed the current port.
func (r *Registry) Pinned() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pinned
}

// URL builds http://localhost:<current>/<path>.
func (r *Registry) URL(path string) string {
	return fmt.Sprintf("http://localhost:%d/%s", r.Current(), strings.TrimPrefix(path, "/"))
}

// HintPath returns the discovery file location, or "".
func (r *Registry) HintPath() string {
	return r.hintPath
}

// RemoveHint deletes the discovery file. Failures are logged only.
func (r *Registry) RemoveHint() {
	if r.hintPath == "" {
		return
	}
	if err := os.Remove(r.hintPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warnw("Failed to remove port discovery file",
			"path", r.hintPath,
			"error", err)
		return
	}
	r.logger.Debugw("Removed port discovery file", "path", r.hintPath)
}

// ReadHint parses a discovery file containing a decimal port number.
func ReadHint(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return ParseHint(string(data))
}

// ParseHint accepts "8421" or "port=8421", surrounded by whitespace.
func ParseHint(s string) (int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "port=")
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	if !Valid(p) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, p)
	}
	return p, nil
}

// Valid reports whether p is a usable TCP port.
func Valid(p int) bool {
	return p > 0 && p <= 65535
}
