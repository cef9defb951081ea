package diag

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-antenna/polaris-desktop/internal/backend"
)

func TestStateEndpoint(t *testing.T) {
	snap := Snapshot{
		RunID:       "run-1",
		Backend:     backend.Info{Generation: 2, PID: 4242, State: backend.StateRunning, Port: 8421},
		Ready:       true,
		WindowPhase: "visible",
		WindowPage:  "splash",
	}
	s := NewServer("127.0.0.1:0", func(context.Context) (Snapshot, error) { return snap, nil }, NewMetrics(), nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, snap.Backend.Port, got.Backend.Port)
	assert.Equal(t, backend.StateRunning, got.Backend.State)
	assert.True(t, got.Ready)
}

func TestStateEndpointUnavailable(t *testing.T) {
	s := NewServer("127.0.0.1:0", func(context.Context) (Snapshot, error) {
		return Snapshot{}, errors.New("loop closed")
	}, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/state", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "loop closed")
}

func TestMetricsEndpoint(t *testing.T) {
	m := NewMetrics()
	m.BackendStarted()
	m.BackendExited(backend.StateFailed)
	m.BackendForceKilled()
	m.ProbeCompleted(false)
	m.ProbeCompleted(true)
	m.Ready(1500 * time.Millisecond)
	m.SecondInstance()

	s := NewServer("127.0.0.1:0", func(context.Context) (Snapshot, error) { return Snapshot{}, nil }, m, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "polaris_backend_starts_total 1")
	assert.Contains(t, body, `polaris_backend_exits_total{state="failed"} 1`)
	assert.Contains(t, body, "polaris_backend_forced_kills_total 1")
	assert.Contains(t, body, `polaris_health_probes_total{result="success"} 1`)
	assert.Contains(t, body, "polaris_backend_ready_seconds_count 1")
	assert.Contains(t, body, "polaris_second_instance_total 1")
}

func TestServerStartAndShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", func(context.Context) (Snapshot, error) {
		return Snapshot{RunID: "abc"}, nil
	}, nil, nil)
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/debug/state")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"run_id":"abc"`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
