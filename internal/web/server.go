// Package web is the HTTP transport for the MCP server: a single /mcp
// endpoint multiplexing many client sessions over one process, an
// unauthenticated health endpoint the port prober checks, and a small
// admin surface for operational session recovery.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cfdude/mcp-perplexity-pro/internal/logging"
	"github.com/cfdude/mcp-perplexity-pro/internal/port"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port to bind on 127.0.0.1. Zero selects a random free port.
	Port int

	// SessionTimeout is the idle timeout after which sessions are swept.
	SessionTimeout time.Duration

	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration
}

// Server is the long-lived HTTP listener owning the session table.
type Server struct {
	cfg     ServerConfig
	manager *SessionManager
	logger  *slog.Logger

	mu          sync.Mutex
	httpSrv     *http.Server
	listener    *LocalhostListener
	port        int
	running     bool
	sweepCancel context.CancelFunc
}

// NewServer creates the HTTP server. The session table is owned by this
// server and discarded when the process exits.
func NewServer(cfg ServerConfig, factory HandlerFactory) *Server {
	logger := logging.Web()
	return &Server{
		cfg:     cfg,
		manager: NewSessionManager(factory, cfg.SessionTimeout, logging.Session()),
		logger:  logger,
	}
}

// Manager exposes the session manager for admin handlers and shutdown.
func (s *Server) Manager() *SessionManager {
	return s.manager
}

// Port returns the bound port. Valid after Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Start binds the listener and begins serving in a background goroutine.
// It also starts the idle sweeper.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, actualPort, err := CreateLocalhostListener(s.cfg.Port)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", s.manager)
	mux.HandleFunc(port.HealthPath, s.handleHealth)
	mux.HandleFunc("/api/sessions", s.handleSessions)

	s.listener = listener
	s.port = actualPort
	s.httpSrv = &http.Server{Handler: mux}
	s.running = true

	sweepCtx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	s.manager.StartSweeper(sweepCtx, s.cfg.SweepInterval)

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP listener started",
		"address", fmt.Sprintf("127.0.0.1:%d", actualPort),
		"session_timeout", s.cfg.SessionTimeout,
		"sweep_interval", s.cfg.SweepInterval)
	return nil
}

// Shutdown stops the sweeper, closes every session best-effort, and shuts
// the HTTP server down gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.sweepCancel
	httpSrv := s.httpSrv
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.manager.CloseAll()

	s.logger.Info("HTTP listener stopping")
	return httpSrv.Shutdown(ctx)
}

// handleHealth reports process status for the port prober. The prober
// requires a 2xx response with status == "healthy".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                  "healthy",
		"sessions":                s.manager.Count(),
		"session_timeout_seconds": int(s.cfg.SessionTimeout.Seconds()),
		"sweep_interval_seconds":  int(s.cfg.SweepInterval.Seconds()),
	})
}

// handleSessions is the admin surface: GET reports the live session count,
// DELETE with ?id= force-expires one session, DELETE without id clears all.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"sessions": s.manager.Count(),
		})
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			removed := s.manager.Clear()
			writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
			return
		}
		if !s.manager.ForceExpire(id) {
			http.Error(w, "Unknown session", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": 1})
	default:
		methodNotAllowed(w)
	}
}
