package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wiifm74/equilibria/internal/auth"
	"github.com/wiifm74/equilibria/internal/telemetry"
)

func newWSFixture(t *testing.T) (*apiFixture, *httptest.Server) {
	t.Helper()

	fx := newFixture(t, nil)
	ts := httptest.NewServer(fx.handler)
	t.Cleanup(ts.Close)
	return fx, ts
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWSSnapshot(t *testing.T, conn *websocket.Conn) *telemetry.Snapshot {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var snap telemetry.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	return &snap
}

func waitForSubscribers(t *testing.T, b *telemetry.Broadcaster, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.SubscriberCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d subscribers, got %d", want, b.SubscriberCount())
}

func TestWSStreamsPublishedSnapshots(t *testing.T) {
	fx, ts := newWSFixture(t)

	conn := dialWS(t, ts, "/api/v1/telemetry/ws")
	waitForSubscribers(t, fx.broadcast, 1)

	fx.broadcast.Publish(fx.store.Set(map[string]any{"mode": "IDLE"}))
	fx.broadcast.Publish(fx.store.Set(map[string]any{"mode": "ACTIVE"}))

	first := readWSSnapshot(t, conn)
	if first.Seq != 1 || first.Mode() != "IDLE" {
		t.Errorf("Expected seq 1 mode IDLE, got seq %d mode %q", first.Seq, first.Mode())
	}
	second := readWSSnapshot(t, conn)
	if second.Seq != 2 || second.Mode() != "ACTIVE" {
		t.Errorf("Expected seq 2 mode ACTIVE, got seq %d mode %q", second.Seq, second.Mode())
	}
}

func TestWSSendsLatestSnapshotOnConnect(t *testing.T) {
	fx, ts := newWSFixture(t)
	fx.broadcast.Publish(fx.store.Set(map[string]any{"mode": "IDLE"}))
	fx.broadcast.Publish(fx.store.Set(map[string]any{"mode": "ACTIVE"}))

	conn := dialWS(t, ts, "/api/v1/telemetry/ws")

	snap := readWSSnapshot(t, conn)
	if snap.Seq != 2 || snap.Mode() != "ACTIVE" {
		t.Errorf("Expected latest snapshot (seq 2), got seq %d mode %q", snap.Seq, snap.Mode())
	}

	fx.broadcast.Publish(fx.store.Set(map[string]any{"mode": "SHUTDOWN"}))
	next := readWSSnapshot(t, conn)
	if next.Seq != 3 {
		t.Errorf("Expected seq 3 after latest, got %d", next.Seq)
	}
}

func TestWSReplayFromSequence(t *testing.T) {
	fx, ts := newWSFixture(t)
	for i := 0; i < 5; i++ {
		fx.broadcast.Publish(fx.store.Set(map[string]any{"n": i + 1}))
	}

	resumed := dialWS(t, ts, "/api/v1/telemetry/ws?since=2")
	for _, want := range []uint64{3, 4, 5} {
		snap := readWSSnapshot(t, resumed)
		if snap.Seq != want {
			t.Fatalf("Expected replayed seq %d, got %d", want, snap.Seq)
		}
	}

	full := dialWS(t, ts, "/api/v1/telemetry/ws?since=0")
	for _, want := range []uint64{1, 2, 3, 4, 5} {
		snap := readWSSnapshot(t, full)
		if snap.Seq != want {
			t.Fatalf("Expected replayed seq %d, got %d", want, snap.Seq)
		}
	}

	// Both connections keep receiving live snapshots after their replays.
	fx.broadcast.Publish(fx.store.Set(map[string]any{"n": 6}))
	if snap := readWSSnapshot(t, resumed); snap.Seq != 6 {
		t.Errorf("Expected live seq 6 on resumed stream, got %d", snap.Seq)
	}
	if snap := readWSSnapshot(t, full); snap.Seq != 6 {
		t.Errorf("Expected live seq 6 on full stream, got %d", snap.Seq)
	}
}

func TestWSRejectsBadSince(t *testing.T) {
	_, ts := newWSFixture(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/telemetry/ws?since=abc"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatal("Expected handshake to fail")
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("Expected bad handshake, got %v", err)
	}
	if resp == nil {
		t.Fatal("Expected an HTTP response")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("Failed to decode error envelope: %v", err)
	}
	if envelope.Code != "BAD_REQUEST" {
		t.Errorf("Expected code BAD_REQUEST, got %q", envelope.Code)
	}
}

func TestWSClosesWhenBroadcasterStops(t *testing.T) {
	fx, ts := newWSFixture(t)

	conn := dialWS(t, ts, "/api/v1/telemetry/ws")
	waitForSubscribers(t, fx.broadcast, 1)

	fx.broadcast.Stop()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var snap telemetry.Snapshot
	err := conn.ReadJSON(&snap)
	if err == nil {
		t.Fatal("Expected the stream to close")
	}
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("Expected going-away close, got %v", err)
	}
}

func TestWSAdmitsTelemetryOnlyToken(t *testing.T) {
	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Algorithm: auth.AlgHS256,
		SecretKey: apiTestSecret,
	})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	fx := newFixture(t, verifier)
	ts := httptest.NewServer(fx.handler)
	t.Cleanup(ts.Close)

	token := mintToken(t, []string{auth.RoleViewer}, []string{auth.ScopeTelemetry})
	header := http.Header{"Authorization": {"Bearer " + token}}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/telemetry/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Expected a telemetry-only token to open the stream: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	waitForSubscribers(t, fx.broadcast, 1)
	fx.broadcast.Publish(fx.store.Set(map[string]any{"mode": "IDLE"}))
	if snap := readWSSnapshot(t, conn); snap.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", snap.Seq)
	}

	// The same token lacks the read scope required for plain REST reads.
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/status", nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	httpResp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Status request failed: %v", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403 for a telemetry-only token, got %d", httpResp.StatusCode)
	}
}

func TestWSHeartbeatKeepsIdleStreamAlive(t *testing.T) {
	fx, ts := newWSFixture(t)

	conn := dialWS(t, ts, "/api/v1/telemetry/ws")
	waitForSubscribers(t, fx.broadcast, 1)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(appData string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(appData),
			time.Now().Add(time.Second))
	})

	snaps := make(chan telemetry.Snapshot, 4)
	readErr := make(chan error, 1)
	go func() {
		for {
			var snap telemetry.Snapshot
			if err := conn.ReadJSON(&snap); err != nil {
				readErr <- err
				return
			}
			snaps <- snap
		}
	}()

	select {
	case <-pinged:
	case err := <-readErr:
		t.Fatalf("Stream died before first ping: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a ping")
	}

	// Stay idle well past the client idle timeout; ping/pong alone must keep
	// the stream open.
	time.Sleep(3 * fx.telCfg.ClientIdleTimeout)

	fx.broadcast.Publish(fx.store.Set(map[string]any{"mode": "IDLE"}))

	select {
	case snap := <-snaps:
		if snap.Seq != 1 {
			t.Errorf("Expected seq 1, got %d", snap.Seq)
		}
	case err := <-readErr:
		t.Fatalf("Stream died while idle: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the post-idle snapshot")
	}
}
