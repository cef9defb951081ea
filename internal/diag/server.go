package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/polaris-antenna/polaris-desktop/internal/backend"
)

// Snapshot is the shell state reported by /debug/state
type Snapshot struct {
	RunID       string       `json:"run_id"`
	Backend     backend.Info `json:"backend"`
	Ready       bool         `json:"ready"`
	Launched    bool         `json:"launched"`
	WindowPhase string       `json:"window_phase"`
	WindowPage  string       `json:"window_page"`
	Quitting    bool         `json:"quitting"`
}

// SnapshotFunc reads the current state, typically through the control loop
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

// Server is the development diagnostics endpoint
type Server struct {
	logger   *zap.SugaredLogger
	addr     string
	snapshot SnapshotFunc
	metrics  *Metrics
	router   *chi.Mux

	srv *http.Server
	ln  net.Listener
}

// NewServer creates a diagnostics server for addr
func NewServer(addr string, snapshot SnapshotFunc, metrics *Metrics, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		logger:   logger,
		addr:     addr,
		snapshot: snapshot,
		metrics:  metrics,
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(5 * time.Second))

	s.router.Get("/debug/state", s.handleState)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("diagnostics listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warnw("Diagnostics server stopped", "error", err)
		}
	}()
	s.logger.Infow("Diagnostics server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}
