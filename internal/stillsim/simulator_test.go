package stillsim

import (
	"net"
	"testing"
	"time"

	"github.com/wiifm74/equilibria/internal/protocol"
)

func newTestSim(t *testing.T, interval time.Duration) *Simulator {
	t.Helper()

	sim := New(Config{Addr: "127.0.0.1:0", TelemetryInterval: interval})
	if err := sim.Start(); err != nil {
		t.Fatalf("Failed to start simulator: %v", err)
	}
	t.Cleanup(sim.Stop)
	return sim
}

type simClient struct {
	t    *testing.T
	conn net.Conn
	dec  *protocol.Decoder
	enc  *protocol.Encoder
}

func dialSim(t *testing.T, sim *Simulator) *simClient {
	t.Helper()

	conn, err := net.Dial("tcp", sim.Addr())
	if err != nil {
		t.Fatalf("Failed to dial simulator: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &simClient{
		t:    t,
		conn: conn,
		dec:  protocol.NewDecoder(conn),
		enc:  protocol.NewEncoder(conn),
	}
}

func (c *simClient) send(env *protocol.Envelope) {
	c.t.Helper()
	if err := c.enc.Encode(env); err != nil {
		c.t.Fatalf("Failed to send envelope: %v", err)
	}
}

func (c *simClient) recv(timeout time.Duration) *protocol.Envelope {
	c.t.Helper()

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		c.t.Fatalf("Failed to set read deadline: %v", err)
	}
	line, err := c.dec.Next()
	if err != nil {
		c.t.Fatalf("Failed to read frame: %v", err)
	}
	env, err := protocol.ParseFrame(line)
	if err != nil {
		c.t.Fatalf("Received invalid frame: %v", err)
	}
	return env
}

// recvType reads frames until one of the wanted type arrives, skipping
// anything else (usually ticker telemetry).
func (c *simClient) recvType(msgType string, timeout time.Duration) *protocol.Envelope {
	c.t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("Timed out waiting for a %s envelope", msgType)
		}
		if env := c.recv(remaining); env.Type == msgType {
			return env
		}
	}
}

func waitForSessions(t *testing.T, sim *Simulator, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sim.SessionCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d sessions, got %d", want, sim.SessionCount())
}

func TestTelemetryFlowsOnTicker(t *testing.T) {
	sim := newTestSim(t, 20*time.Millisecond)
	client := dialSim(t, sim)

	env := client.recvType(protocol.TypeTelemetry, 2*time.Second)
	if env.Version != protocol.ProtocolVersion {
		t.Errorf("Expected version %q, got %q", protocol.ProtocolVersion, env.Version)
	}
	if env.Payload["mode"] != ModeIdle {
		t.Errorf("Expected mode %q, got %v", ModeIdle, env.Payload["mode"])
	}
	temps, ok := env.Payload["temps"].(map[string]any)
	if !ok {
		t.Fatalf("Expected temps object, got %T", env.Payload["temps"])
	}
	for _, key := range []string{"vapour_head", "boiler_liquid", "pcb_environment"} {
		if _, ok := temps[key].(float64); !ok {
			t.Errorf("Expected numeric temps[%q], got %v", key, temps[key])
		}
	}
	if _, ok := env.Payload["timestamp_ms"].(float64); !ok {
		t.Errorf("Expected numeric timestamp_ms, got %v", env.Payload["timestamp_ms"])
	}
	faults, ok := env.Payload["faults"].([]any)
	if !ok {
		t.Fatalf("Expected faults array, got %T", env.Payload["faults"])
	}
	if len(faults) != 0 {
		t.Errorf("Expected no faults, got %v", faults)
	}

	// The ticker keeps emitting without any request.
	client.recvType(protocol.TypeTelemetry, 2*time.Second)
}

func TestGetTelemetryAnswersImmediately(t *testing.T) {
	sim := newTestSim(t, time.Hour)
	client := dialSim(t, sim)

	client.send(protocol.NewEnvelope(protocol.TypeGetTelemetry, nil))

	env := client.recvType(protocol.TypeTelemetry, 2*time.Second)
	if env.Payload["mode"] != ModeIdle {
		t.Errorf("Expected mode %q, got %v", ModeIdle, env.Payload["mode"])
	}
}

func TestSetModeAppliesAndAcks(t *testing.T) {
	sim := newTestSim(t, time.Hour)
	client := dialSim(t, sim)

	client.send(protocol.NewEnvelope(protocol.TypeSetMode, map[string]any{"mode": ModeActive}))
	ack := protocol.AckFromPayload(client.recvType(protocol.TypeAck, 2*time.Second).Payload)
	if ack.Command != protocol.TypeSetMode || ack.Status != "ok" {
		t.Fatalf("Expected ok ack for set_mode, got %+v", ack)
	}
	if sim.Mode() != ModeActive {
		t.Errorf("Expected mode %q, got %q", ModeActive, sim.Mode())
	}

	client.send(protocol.NewEnvelope(protocol.TypeSetMode, map[string]any{"mode": "TURBO"}))
	ack = protocol.AckFromPayload(client.recvType(protocol.TypeAck, 2*time.Second).Payload)
	if ack.Status != "error" {
		t.Fatalf("Expected error ack for unknown mode, got %+v", ack)
	}
	if ack.Message == "" {
		t.Error("Expected an error message in the ack")
	}
	if sim.Mode() != ModeActive {
		t.Errorf("Unknown mode must not change state, got %q", sim.Mode())
	}
}

func TestSetTargetsValidatesAndMerges(t *testing.T) {
	sim := newTestSim(t, time.Hour)
	client := dialSim(t, sim)

	client.send(protocol.NewEnvelope(protocol.TypeSetTargets, map[string]any{"target_abv": 95.0}))
	ack := protocol.AckFromPayload(client.recvType(protocol.TypeAck, 2*time.Second).Payload)
	if ack.Command != protocol.TypeSetTargets || ack.Status != "ok" {
		t.Fatalf("Expected ok ack for set_targets, got %+v", ack)
	}
	if got := sim.Targets()["target_abv"]; got != 95.0 {
		t.Errorf("Expected target_abv 95, got %v", got)
	}

	t.Run("non-numeric value rejected", func(t *testing.T) {
		client.send(protocol.NewEnvelope(protocol.TypeSetTargets, map[string]any{"target_abv": "high"}))
		ack := protocol.AckFromPayload(client.recvType(protocol.TypeAck, 2*time.Second).Payload)
		if ack.Status != "error" {
			t.Fatalf("Expected error ack, got %+v", ack)
		}
		if got := sim.Targets()["target_abv"]; got != 95.0 {
			t.Errorf("Rejected update must not change targets, got %v", got)
		}
	})

	t.Run("empty payload rejected", func(t *testing.T) {
		client.send(protocol.NewEnvelope(protocol.TypeSetTargets, nil))
		ack := protocol.AckFromPayload(client.recvType(protocol.TypeAck, 2*time.Second).Payload)
		if ack.Status != "error" {
			t.Fatalf("Expected error ack, got %+v", ack)
		}
	})

	t.Run("new keys merge", func(t *testing.T) {
		client.send(protocol.NewEnvelope(protocol.TypeSetTargets, map[string]any{"flow_ml_min": 300.0}))
		ack := protocol.AckFromPayload(client.recvType(protocol.TypeAck, 2*time.Second).Payload)
		if ack.Status != "ok" {
			t.Fatalf("Expected ok ack, got %+v", ack)
		}
		targets := sim.Targets()
		if len(targets) != 2 || targets["target_abv"] != 95.0 || targets["flow_ml_min"] != 300.0 {
			t.Errorf("Expected merged targets, got %v", targets)
		}
	})
}

func TestActiveModeHeatsTheBoiler(t *testing.T) {
	sim := newTestSim(t, time.Hour)
	client := dialSim(t, sim)

	client.send(protocol.NewEnvelope(protocol.TypeSetMode, map[string]any{"mode": ModeActive}))
	client.recvType(protocol.TypeAck, 2*time.Second)

	client.send(protocol.NewEnvelope(protocol.TypeGetTelemetry, nil))
	first := client.recvType(protocol.TypeTelemetry, 2*time.Second)
	client.send(protocol.NewEnvelope(protocol.TypeGetTelemetry, nil))
	second := client.recvType(protocol.TypeTelemetry, 2*time.Second)

	heaters, ok := first.Payload["heaters"].(map[string]any)
	if !ok {
		t.Fatalf("Expected heaters object, got %T", first.Payload["heaters"])
	}
	if heaters["heater_1"] != 0.8 {
		t.Errorf("Expected heater_1 at 0.8 while active, got %v", heaters["heater_1"])
	}

	boilerAt := func(env *protocol.Envelope) float64 {
		temps, ok := env.Payload["temps"].(map[string]any)
		if !ok {
			t.Fatalf("Expected temps object, got %T", env.Payload["temps"])
		}
		boiler, ok := temps["boiler_liquid"].(float64)
		if !ok {
			t.Fatalf("Expected numeric boiler_liquid, got %v", temps["boiler_liquid"])
		}
		return boiler
	}
	if boilerAt(second) <= boilerAt(first) {
		t.Errorf("Expected the boiler to heat while active: %v then %v",
			boilerAt(first), boilerAt(second))
	}
}

func TestForcedCommandErrors(t *testing.T) {
	sim := newTestSim(t, time.Hour)
	client := dialSim(t, sim)

	sim.ForceCommandError("maintenance window")
	client.send(protocol.NewEnvelope(protocol.TypeSetMode, map[string]any{"mode": ModeActive}))
	ack := protocol.AckFromPayload(client.recvType(protocol.TypeAck, 2*time.Second).Payload)
	if ack.Status != "error" || ack.Message != "maintenance window" {
		t.Fatalf("Expected forced error ack, got %+v", ack)
	}
	if sim.Mode() != ModeIdle {
		t.Errorf("Forced error must not change state, got %q", sim.Mode())
	}

	sim.ClearCommandError()
	client.send(protocol.NewEnvelope(protocol.TypeSetMode, map[string]any{"mode": ModeActive}))
	ack = protocol.AckFromPayload(client.recvType(protocol.TypeAck, 2*time.Second).Payload)
	if ack.Status != "ok" {
		t.Fatalf("Expected ok ack after clearing, got %+v", ack)
	}
}

func TestConcurrentSessionsShareState(t *testing.T) {
	sim := newTestSim(t, time.Hour)
	first := dialSim(t, sim)
	second := dialSim(t, sim)
	waitForSessions(t, sim, 2)

	first.send(protocol.NewEnvelope(protocol.TypeSetMode, map[string]any{"mode": ModeActive}))
	ack := protocol.AckFromPayload(first.recvType(protocol.TypeAck, 2*time.Second).Payload)
	if ack.Status != "ok" {
		t.Fatalf("Expected ok ack, got %+v", ack)
	}

	second.send(protocol.NewEnvelope(protocol.TypeGetTelemetry, nil))
	env := second.recvType(protocol.TypeTelemetry, 2*time.Second)
	if env.Payload["mode"] != ModeActive {
		t.Errorf("Expected the second session to observe mode %q, got %v",
			ModeActive, env.Payload["mode"])
	}
}

func TestStopClosesSessions(t *testing.T) {
	sim := newTestSim(t, time.Hour)
	client := dialSim(t, sim)
	waitForSessions(t, sim, 1)

	sim.Stop()

	if err := client.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, err := client.dec.Next(); err == nil {
		t.Error("Expected the session to be closed after Stop")
	}

	// Stop is idempotent.
	sim.Stop()

	if got := sim.SessionCount(); got != 0 {
		t.Errorf("Expected 0 sessions after Stop, got %d", got)
	}
}
