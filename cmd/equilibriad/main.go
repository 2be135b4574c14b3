// Command equilibriad runs the Equilibria gateway: it keeps a resilient TCP
// session to the still controller southbound and serves REST and WebSocket
// consumers northbound.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wiifm74/equilibria/internal/api"
	"github.com/wiifm74/equilibria/internal/audit"
	"github.com/wiifm74/equilibria/internal/auth"
	"github.com/wiifm74/equilibria/internal/config"
	"github.com/wiifm74/equilibria/internal/controller"
	"github.com/wiifm74/equilibria/internal/logging"
	"github.com/wiifm74/equilibria/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "equilibriad: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Step 1: Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Step 2: Configure logging
	if err := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		Filename:   cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer logging.Close()

	log.WithField("component", "main").Info("Starting Equilibria gateway")

	// Step 3: Audit trail
	auditLog, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	log.WithField("component", "main").
		Infof("Audit trail at %s", filepath.Clean(auditLog.GetFilePath()))

	// Step 4: Telemetry store and fan-out
	store := telemetry.NewStore()
	broadcaster := telemetry.NewBroadcaster(cfg.Telemetry.QueueCapacity, cfg.Telemetry.ReplayCapacity)

	// Step 5: Controller session
	dispatcher := controller.NewDispatcher(store, broadcaster)
	manager := controller.NewManager(cfg.Controller, dispatcher)
	commands := controller.NewCommands(manager)

	// Step 6: Authentication
	verifier, err := auth.FromConfig(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}
	if verifier == nil {
		log.WithField("component", "main").
			Warn("Auth is disabled; all requests run with full access")
	}

	// Step 7: HTTP API
	server := api.NewServer(cfg.HTTP, cfg.Telemetry, api.Deps{
		Commands:  commands,
		Session:   manager,
		Broadcast: broadcaster,
		Snapshots: store,
		Auth:      auth.NewMiddleware(verifier),
		Audit:     auditLog,
	})

	// Step 8: Start the controller session
	if err := manager.Start(); err != nil {
		return fmt.Errorf("failed to start controller session: %w", err)
	}

	// Step 9: Serve
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	log.WithFields(log.Fields{"component": "main", "addr": cfg.HTTP.Addr}).
		Info("Gateway started")

	// Step 10: Wait for a signal or a server failure
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		log.WithField("component", "main").
			Infof("Received signal %v, shutting down", sig)
	case err := <-serverErr:
		log.WithFields(log.Fields{"component": "main", "error": err}).
			Error("HTTP server failed")
	}

	// Step 11: Graceful shutdown, reverse order of startup
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.WithFields(log.Fields{"component": "main", "error": err}).
			Error("Failed to stop HTTP server cleanly")
	}
	manager.Stop()
	broadcaster.Stop()
	if err := auditLog.Close(); err != nil {
		log.WithFields(log.Fields{"component": "main", "error": err}).
			Error("Failed to close audit logger")
	}

	log.WithField("component", "main").Info("Shutdown complete")
	return nil
}
