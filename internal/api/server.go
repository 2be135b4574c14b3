package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wiifm74/equilibria/internal/audit"
	"github.com/wiifm74/equilibria/internal/auth"
	"github.com/wiifm74/equilibria/internal/config"
)

// apiVersion is reported by health and status.
const apiVersion = "1.0.0"

// Deps bundles the server's collaborators.
type Deps struct {
	Commands  CommandPort
	Session   SessionPort
	Broadcast BroadcastPort
	Snapshots SnapshotPort
	Auth      *auth.Middleware
	Audit     *audit.Logger
}

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server

	commands  CommandPort
	session   SessionPort
	broadcast BroadcastPort
	snapshots SnapshotPort
	authMw    *auth.Middleware
	auditLog  *audit.Logger

	httpCfg config.HTTPConfig
	telCfg  config.TelemetryConfig

	startTime time.Time
}

// NewServer creates a new API server. A nil Deps.Auth runs with auth
// disabled; a nil Deps.Audit disables the audit trail.
func NewServer(httpCfg config.HTTPConfig, telCfg config.TelemetryConfig, deps Deps) *Server {
	authMw := deps.Auth
	if authMw == nil {
		authMw = auth.NewMiddleware(nil)
	}

	return &Server{
		commands:  deps.Commands,
		session:   deps.Session,
		broadcast: deps.Broadcast,
		snapshots: deps.Snapshots,
		authMw:    authMw,
		auditLog:  deps.Audit,
		httpCfg:   httpCfg,
		telCfg:    telCfg,
		startTime: time.Now(),
	}
}

// Handler builds the routed handler. Exposed so tests can drive the API
// without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Start serves until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.httpCfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.httpCfg.ReadTimeout,
		WriteTimeout: s.httpCfg.WriteTimeout,
		IdleTimeout:  s.httpCfg.IdleTimeout,
	}

	log.WithFields(log.Fields{"component": "api", "addr": s.httpCfg.Addr}).
		Info("HTTP API listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// audit records one command attempt. A nil audit logger disables the trail.
func (s *Server) audit(subject, command string, params map[string]any, outcome string, start time.Time, corrID string) {
	if s.auditLog == nil {
		return
	}
	s.auditLog.LogCommand(subject, command, params, outcome, time.Since(start), corrID)
}
