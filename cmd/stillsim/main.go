// Command stillsim runs a standalone still-controller simulator: a TCP
// listener speaking the v0 newline-delimited JSON protocol, for local
// development against a gateway without real hardware.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wiifm74/equilibria/internal/logging"
	"github.com/wiifm74/equilibria/internal/stillsim"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7002", "listen address")
	interval := flag.Duration("interval", time.Second, "telemetry emission interval")
	level := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	if err := logging.Setup(logging.Options{Level: *level}); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	sim := stillsim.New(stillsim.Config{
		Addr:              *addr,
		TelemetryInterval: *interval,
	})
	if err := sim.Start(); err != nil {
		log.Fatalf("Failed to start simulator: %v", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	log.WithField("component", "stillsim").Infof("Received signal %v, shutting down", sig)

	sim.Stop()
	logging.Close()
}
