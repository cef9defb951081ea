package port

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const hintDebounce = 100 * time.Millisecond

// HintWatcher reports ports written to the discovery file by the backend.
type HintWatcher struct {
	path    string
	logger  *zap.SugaredLogger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	last    int
}

// NewHintWatcher creates a watcher for path. The parent directory is
// watched so the file may be created after the watcher starts.
func NewHintWatcher(path string, logger *zap.SugaredLogger) (*HintWatcher, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &HintWatcher{
		path:    filepath.Clean(path),
		logger:  logger,
		watcher: w,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins delivering valid ports to onPort, from a watcher goroutine.
func (hw *HintWatcher) Start(onPort func(int)) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	if hw.running {
		return fmt.Errorf("watcher is already running")
	}

	dir := filepath.Dir(hw.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create discovery directory: %w", err)
	}
	if err := hw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	hw.running = true
	go hw.watchLoop(onPort)
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (hw *HintWatcher) Stop() error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	if !hw.running {
		return nil
	}
	hw.running = false
	close(hw.stopCh)
	return hw.watcher.Close()
}

// Reset forgets the last reported port so a new backend generation that
// writes the same value is reported again.
func (hw *HintWatcher) Reset() {
	hw.mu.Lock()
	hw.last = 0
	hw.mu.Unlock()
}

func (hw *HintWatcher) watchLoop(onPort func(int)) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-hw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != hw.path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(hintDebounce, func() { hw.handleChange(onPort) })

		case err, ok := <-hw.watcher.Errors:
			if !ok {
				return
			}
			hw.logger.Warnw("Discovery file watcher error", "error", err)

		case <-hw.stopCh:
			return
		}
	}
}

func (hw *HintWatcher) handleChange(onPort func(int)) {
	p, err := ReadHint(hw.path)
	if err != nil {
		hw.logger.Debugw("Discovery file not usable yet", "path", hw.path, "error", err)
		return
	}

	hw.mu.Lock()
	if !hw.running || p == hw.last {
		hw.mu.Unlock()
		return
	}
	hw.last = p
	hw.mu.Unlock()

	onPort(p)
}
