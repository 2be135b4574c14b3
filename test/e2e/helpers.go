// Package e2e exercises the full gateway stack in process: a simulated
// controller behind a real TCP socket, the session manager, and the HTTP and
// WebSocket surfaces.
package e2e

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/wiifm74/equilibria/internal/api"
	"github.com/wiifm74/equilibria/internal/audit"
	"github.com/wiifm74/equilibria/internal/auth"
	"github.com/wiifm74/equilibria/internal/config"
	"github.com/wiifm74/equilibria/internal/controller"
	"github.com/wiifm74/equilibria/internal/stillsim"
	"github.com/wiifm74/equilibria/internal/telemetry"
)

// gateway is one fully wired in-process deployment.
type gateway struct {
	t *testing.T

	sim        *stillsim.Simulator
	manager    *controller.Manager
	dispatcher *controller.Dispatcher
	store      *telemetry.Store
	broadcast  *telemetry.Broadcaster

	http *httptest.Server
}

// startGateway boots a simulator on an ephemeral port and a gateway session
// against it. simInterval is the simulator's telemetry period; tests that
// only exercise commands pass something long to keep the wire quiet.
func startGateway(t *testing.T, simInterval time.Duration) *gateway {
	t.Helper()

	sim := stillsim.New(stillsim.Config{
		Addr:              "127.0.0.1:0",
		TelemetryInterval: simInterval,
	})
	if err := sim.Start(); err != nil {
		t.Fatalf("Failed to start simulator: %v", err)
	}
	t.Cleanup(sim.Stop)

	host, portStr, err := net.SplitHostPort(sim.Addr())
	if err != nil {
		t.Fatalf("Failed to split simulator address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Failed to parse simulator port: %v", err)
	}

	cfg := config.Default()
	cfg.Controller.Host = host
	cfg.Controller.Port = port
	cfg.Controller.DialTimeout = time.Second
	cfg.Controller.WriteTimeout = time.Second
	cfg.Controller.ReconnectDelay = 20 * time.Millisecond
	cfg.Telemetry.QueueCapacity = 16
	cfg.Telemetry.ReplayCapacity = 32
	cfg.Telemetry.HeartbeatInterval = 50 * time.Millisecond
	cfg.Telemetry.ClientIdleTimeout = 250 * time.Millisecond

	auditLog, err := audit.NewLogger(config.AuditConfig{
		Dir:        t.TempDir(),
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	store := telemetry.NewStore()
	broadcast := telemetry.NewBroadcaster(cfg.Telemetry.QueueCapacity, cfg.Telemetry.ReplayCapacity)
	t.Cleanup(broadcast.Stop)

	dispatcher := controller.NewDispatcher(store, broadcast)
	manager := controller.NewManager(cfg.Controller, dispatcher)
	commands := controller.NewCommands(manager)

	server := api.NewServer(cfg.HTTP, cfg.Telemetry, api.Deps{
		Commands:  commands,
		Session:   manager,
		Broadcast: broadcast,
		Snapshots: store,
		Auth:      auth.NewMiddleware(nil),
		Audit:     auditLog,
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	if err := manager.Start(); err != nil {
		t.Fatalf("Failed to start session manager: %v", err)
	}
	t.Cleanup(manager.Stop)

	return &gateway{
		t:          t,
		sim:        sim,
		manager:    manager,
		dispatcher: dispatcher,
		store:      store,
		broadcast:  broadcast,
		http:       ts,
	}
}

func (g *gateway) url(path string) string {
	return g.http.URL + path
}

// getJSON fetches path and decodes the response envelope.
func (g *gateway) getJSON(path string) (int, map[string]any) {
	g.t.Helper()

	resp, err := http.Get(g.url(path))
	if err != nil {
		g.t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		g.t.Fatalf("Failed to decode response for GET %s: %v", path, err)
	}
	return resp.StatusCode, body
}

// postJSON posts payload to path and decodes the response envelope.
func (g *gateway) postJSON(path string, payload map[string]any) (int, map[string]any) {
	g.t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		g.t.Fatalf("Failed to marshal payload: %v", err)
	}

	resp, err := http.Post(g.url(path), "application/json", bytes.NewReader(data))
	if err != nil {
		g.t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		g.t.Fatalf("Failed to decode response for POST %s: %v", path, err)
	}
	return resp.StatusCode, body
}

// dataObject returns the data field of an envelope as an object.
func dataObject(t *testing.T, body map[string]any) map[string]any {
	t.Helper()

	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("Expected object data, got %T (%v)", body["data"], body)
	}
	return data
}

// waitForState polls the session state.
func (g *gateway) waitForState(want controller.State, timeout time.Duration) {
	g.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if g.manager.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	g.t.Fatalf("Expected controller state %v, got %v", want, g.manager.State())
}

// waitNotConnected polls until the session has lost its socket.
func (g *gateway) waitNotConnected(timeout time.Duration) {
	g.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if g.manager.State() != controller.StateConnected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	g.t.Fatalf("Expected the session to drop, still %v", g.manager.State())
}

// waitForCondition polls an arbitrary predicate.
func waitForCondition(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
