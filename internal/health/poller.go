// Package health polls the backend until it answers HTTP requests.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/polaris-antenna/polaris-desktop/internal/loop"
	"github.com/polaris-antenna/polaris-desktop/internal/port"
)

// State represents the poller state for the current generation
type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	StateReady   State = "ready"
)

// DefaultInterval is the constant backoff between failed probes
const DefaultInterval = time.Second

// Recorder receives probe measurements
type Recorder interface {
	ProbeCompleted(success bool)
	Ready(elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ProbeCompleted(bool) {}
func (nopRecorder) Ready(time.Duration) {}

// Options configures a Poller
type Options struct {
	Logger   *zap.SugaredLogger
	Loop     *loop.Loop
	Ports    *port.Registry
	Client   *resty.Client
	Interval time.Duration
	Path     string
	Recorder Recorder
	// OnReady runs on the control loop, at most once per generation.
	OnReady func(gen uint64)
}

// Poller probes http://localhost:<current port>/ with constant backoff and
// no retry cap. All methods run on the control loop.
type Poller struct {
	logger   *zap.SugaredLogger
	loop     *loop.Loop
	ports    *port.Registry
	client   *resty.Client
	interval time.Duration
	path     string
	rec      Recorder
	onReady  func(gen uint64)

	state     State
	gen       uint64
	chain     uint64 // bumped per Start so results of a halted chain are dropped
	readyGen  uint64
	hasReady  bool
	attempts  int
	startedAt time.Time
	cancel    context.CancelFunc
	retry     *loop.Timer
}

// NewPoller creates an idle poller
func NewPoller(opts Options) *Poller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Client == nil {
		opts.Client = NewClient(time.Second, opts.Logger)
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Poller{
		logger:   opts.Logger,
		loop:     opts.Loop,
		ports:    opts.Ports,
		client:   opts.Client,
		interval: opts.Interval,
		path:     opts.Path,
		rec:      opts.Recorder,
		onReady:  opts.OnReady,
		state:    StateIdle,
	}
}

// Start begins polling for generation gen. It is a no-op while already
// polling gen, and once gen has been reported ready.
func (p *Poller) Start(gen uint64) {
	if p.hasReady && p.readyGen == gen {
		return
	}
	if gen == p.gen && p.state == StatePolling {
		return
	}

	p.halt()
	p.gen = gen
	p.chain++
	p.state = StatePolling
	p.attempts = 0
	p.startedAt = time.Now()
	p.logger.Infow("Waiting for backend to answer", "generation", gen, "port", p.ports.Current())
	p.probe()
}

// Stop cancels the in-flight probe and any pending retry. Results that
// arrive afterwards are dropped.
func (p *Poller) Stop() {
	if p.state != StatePolling {
		return
	}
	p.halt()
	p.state = StateIdle
	p.logger.Debugw("Health polling stopped", "generation", p.gen, "attempts", p.attempts)
}

// State returns the poller state
func (p *Poller) State() State { return p.state }

// Ready reports whether generation gen was observed ready
func (p *Poller) Ready(gen uint64) bool { return p.hasReady && p.readyGen == gen }

func (p *Poller) halt() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.retry.Stop()
	p.retry = nil
}

func (p *Poller) probe() {
	gen, chain := p.gen, p.chain
	p.attempts++

	// The port is re-read for every attempt; announcements may move it.
	url := p.ports.URL(p.path)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go func() {
		err := Probe(ctx, p.client, url)
		p.loop.Post(func() { p.handleResult(gen, chain, url, err) })
	}()
}

func (p *Poller) handleResult(gen, chain uint64, url string, err error) {
	if gen != p.gen || chain != p.chain || p.state != StatePolling {
		return
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.rec.ProbeCompleted(err == nil)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Debugw("Backend not ready yet",
			"generation", gen,
			"url", url,
			"attempt", p.attempts,
			"error", err)
		p.retry = p.loop.AfterFunc(p.interval, func() {
			if gen == p.gen && chain == p.chain && p.state == StatePolling {
				p.probe()
			}
		})
		return
	}

	elapsed := time.Since(p.startedAt)
	p.state = StateReady
	p.readyGen = gen
	p.hasReady = true
	p.rec.Ready(elapsed)
	p.logger.Infow("Backend is ready",
		"generation", gen,
		"url", url,
		"attempts", p.attempts,
		"elapsed", elapsed)

	if p.onReady != nil {
		p.onReady(gen)
	}
}
