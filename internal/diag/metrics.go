// Package diag exposes lifecycle metrics and a development state endpoint.
package diag

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polaris-antenna/polaris-desktop/internal/backend"
)

// Metrics records backend and readiness measurements on a private
// registry. It implements backend.Recorder and health.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	backendStarts  prometheus.Counter
	backendExits   *prometheus.CounterVec
	forcedKills    prometheus.Counter
	probes         *prometheus.CounterVec
	readyLatency   prometheus.Histogram
	secondLaunches prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		backendStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polaris_backend_starts_total",
			Help: "Backend processes spawned",
		}),
		backendExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polaris_backend_exits_total",
			Help: "Backend generations ended, by final state",
		}, []string{"state"}),
		forcedKills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polaris_backend_forced_kills_total",
			Help: "Forceful terminations issued after the grace period",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polaris_health_probes_total",
			Help: "Readiness probes, by result",
		}, []string{"result"}),
		readyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "polaris_backend_ready_seconds",
			Help:    "Time from poll start to first successful probe",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		secondLaunches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polaris_second_instance_total",
			Help: "Launches forwarded from another instance",
		}),
	}

	m.registry.MustRegister(
		m.backendStarts,
		m.backendExits,
		m.forcedKills,
		m.probes,
		m.readyLatency,
		m.secondLaunches,
	)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) BackendStarted() { m.backendStarts.Inc() }

func (m *Metrics) BackendExited(state backend.State) {
	m.backendExits.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) BackendForceKilled() { m.forcedKills.Inc() }

func (m *Metrics) ProbeCompleted(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.probes.WithLabelValues(result).Inc()
}

func (m *Metrics) Ready(elapsed time.Duration) {
	m.readyLatency.Observe(elapsed.Seconds())
}

// SecondInstance counts a forwarded launch
func (m *Metrics) SecondInstance() { m.secondLaunches.Inc() }
