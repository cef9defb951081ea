package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/polaris-antenna/polaris-desktop/internal/dialog"
	"github.com/polaris-antenna/polaris-desktop/internal/loop"
)

type fakeBackend struct {
	starts int
	err    error
}

func (b *fakeBackend) EnsureStarted() error {
	b.starts++
	return b.err
}

type fakeWindow struct {
	navigations int
	emitted     []string
	loading     bool
}

func (w *fakeWindow) PageLoaded() bool { return !w.loading }

func (w *fakeWindow) NavigateToMain() error {
	w.navigations++
	return nil
}

func (w *fakeWindow) Emit(channel string) { w.emitted = append(w.emitted, channel) }

type fakePicker struct {
	paths []string
	err   error
	got   dialog.FileRequest
}

func (p *fakePicker) PickFiles(_ context.Context, req dialog.FileRequest) ([]string, error) {
	p.got = req
	return p.paths, p.err
}

func newHandshake(b *fakeBackend, w *fakeWindow, p dialog.FilePicker) *Handshake {
	return New(Options{
		Logger:  zap.NewNop().Sugar(),
		Backend: b,
		Window:  w,
		Picker:  p,
	})
}

func TestLaunchMainAppIsSingleShot(t *testing.T) {
	b, w := &fakeBackend{}, &fakeWindow{}
	h := newHandshake(b, w, nil)

	h.Send(ChannelLaunchMainApp)
	h.Send(ChannelLaunchMainApp)
	h.LaunchMainApp()

	assert.Equal(t, 1, w.navigations)
	assert.Equal(t, 1, b.starts)
	assert.True(t, h.Launched())
}

func TestLaunchNavigatesEvenIfStartFails(t *testing.T) {
	b, w := &fakeBackend{err: errors.New("no interpreter")}, &fakeWindow{}
	h := newHandshake(b, w, nil)

	h.LaunchMainApp()
	assert.Equal(t, 1, w.navigations)
}

func TestBackendReadyDoesNotNavigate(t *testing.T) {
	b, w := &fakeBackend{}, &fakeWindow{}
	h := newHandshake(b, w, nil)

	h.BackendReady(1)
	h.BackendReady(1)

	assert.Equal(t, []string{ChannelBackendReady}, w.emitted)
	assert.Zero(t, w.navigations)
	assert.True(t, h.Ready(1))
	assert.False(t, h.Ready(2))

	h.BackendReady(2)
	assert.Len(t, w.emitted, 2)
	h.BackendReady(1) // older generation
	assert.Len(t, w.emitted, 2)
}

func TestReadyBeforePageIsDeliveredOnLoad(t *testing.T) {
	b, w := &fakeBackend{}, &fakeWindow{loading: true}
	h := newHandshake(b, w, nil)

	h.BackendReady(1)
	assert.Empty(t, w.emitted, "no page to receive the signal yet")
	assert.True(t, h.Ready(1))

	w.loading = false
	h.PageReady(1)
	assert.Equal(t, []string{ChannelBackendReady}, w.emitted)

	// Readiness is still recorded once.
	h.BackendReady(1)
	assert.Len(t, w.emitted, 1)

	// A page of a generation that is not ready gets nothing.
	h.PageReady(2)
	assert.Len(t, w.emitted, 1)
}

func TestPageLoadedBeforeReady(t *testing.T) {
	b, w := &fakeBackend{}, &fakeWindow{}
	h := newHandshake(b, w, nil)

	h.PageReady(1)
	assert.Empty(t, w.emitted)

	h.BackendReady(1)
	assert.Equal(t, []string{ChannelBackendReady}, w.emitted)
}

func TestUnknownMessages(t *testing.T) {
	b, w := &fakeBackend{}, &fakeWindow{}
	h := newHandshake(b, w, nil)

	h.Send("reset-application")
	assert.Zero(t, w.navigations)

	var gotErr error
	h.Invoke("get-graph-stats", nil, func(_ any, err error) { gotErr = err })
	assert.Error(t, gotErr)
}

func TestOpenFileDialog(t *testing.T) {
	tests := []struct {
		name    string
		picker  *fakePicker
		payload string
		want    any
		wantErr bool
	}{
		{
			name:   "selection",
			picker: &fakePicker{paths: []string{"/data/a.txt", "/data/b.txt"}},
			want:   []string{"/data/a.txt", "/data/b.txt"},
		},
		{
			name:   "cancelled",
			picker: &fakePicker{paths: []string{}},
			want:   []string{},
		},
		{
			name:    "picker error",
			picker:  &fakePicker{err: errors.New("no display")},
			wantErr: true,
		},
		{
			name:    "bad payload",
			picker:  &fakePicker{},
			payload: "{",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandshake(&fakeBackend{}, &fakeWindow{}, tt.picker)

			type result struct {
				v   any
				err error
			}
			done := make(chan result, 1)
			h.Invoke(ChannelOpenFileDialog, json.RawMessage(tt.payload), func(v any, err error) {
				done <- result{v, err}
			})

			select {
			case r := <-done:
				if tt.wantErr {
					assert.Error(t, r.err)
					return
				}
				require.NoError(t, r.err)
				assert.Equal(t, tt.want, r.v)
				assert.Equal(t, "Select antenna data files", tt.picker.got.Title)
			case <-time.After(time.Second):
				t.Fatal("no reply")
			}
		})
	}
}

func TestAutoLaunchAfterReadiness(t *testing.T) {
	l := loop.New(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})

	b, w := &fakeBackend{}, &fakeWindow{}
	h := New(Options{Loop: l, Backend: b, Window: w, AutoAfter: 30 * time.Millisecond})

	require.NoError(t, l.Call(func() { h.BackendReady(1) }))
	assert.Eventually(t, func() bool {
		var n int
		_ = l.Call(func() { n = w.navigations })
		return n == 1
	}, time.Second, 5*time.Millisecond)

	// A user click after auto-launch is absorbed by the gate.
	require.NoError(t, l.Call(func() { h.Send(ChannelLaunchMainApp) }))
	require.NoError(t, l.Call(func() { assert.Equal(t, 1, w.navigations) }))
}

func TestAutoLaunchDisarmedByClick(t *testing.T) {
	l := loop.New(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})

	b, w := &fakeBackend{}, &fakeWindow{}
	h := New(Options{Loop: l, Backend: b, Window: w, AutoAfter: 20 * time.Millisecond})

	require.NoError(t, l.Call(func() {
		h.BackendReady(1)
		h.Send(ChannelLaunchMainApp)
	}))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, l.Call(func() {
		assert.Equal(t, 1, w.navigations)
		assert.Equal(t, 1, b.starts)
	}))
}

func TestSecondInstanceCallback(t *testing.T) {
	focused := 0
	h := New(Options{
		Backend:          &fakeBackend{},
		Window:           &fakeWindow{},
		OnSecondInstance: func() { focused++ },
	})
	h.SecondInstance()
	assert.Equal(t, 1, focused)
}

// Any interleaving of launch messages and readiness reports yields exactly
// one navigation and at most one start attempt.
func TestLaunchIdempotenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b, w := &fakeBackend{}, &fakeWindow{}
		h := newHandshake(b, w, nil)

		launches := 0
		ops := rapid.SliceOfN(rapid.IntRange(0, 2), 1, 50).Draw(t, "ops")
		var gen uint64 = 1
		for _, op := range ops {
			switch op {
			case 0:
				h.Send(ChannelLaunchMainApp)
				launches++
			case 1:
				h.BackendReady(gen)
			case 2:
				gen++
			}
		}

		if launches == 0 {
			assert.Zero(t, w.navigations)
			assert.Zero(t, b.starts)
			return
		}
		assert.Equal(t, 1, w.navigations)
		assert.LessOrEqual(t, b.starts, 1)
	})
}

// Readiness is reported at most once per generation, whatever the order
// of reports.
func TestReadinessMonotonicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var r Readiness
		fired := map[uint64]int{}
		reports := rapid.SliceOfN(rapid.Uint64Range(1, 5), 1, 40).Draw(t, "reports")
		for _, gen := range reports {
			if r.Mark(gen) {
				fired[gen]++
			}
		}
		for gen, n := range fired {
			if n != 1 {
				t.Fatalf("generation %d fired %d times", gen, n)
			}
		}
	})
}
