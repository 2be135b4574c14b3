package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/wiifm74/equilibria/internal/telemetry"
)

const (
	// wsWriteWait bounds how long a single frame write may take.
	wsWriteWait = 10 * time.Second

	// wsMaxMessageSize bounds inbound client messages. The stream is
	// one-way; clients only ever need to answer pings.
	wsMaxMessageSize = 1024
)

// The gateway fronts a trusted network and browser dashboards connect
// cross-origin, so origin checking is disabled.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleTelemetryWS upgrades the request and streams snapshots until the
// client goes away, the broadcaster stops, or a write fails. An optional
// ?since=<seq> query replays buffered snapshots newer than seq before live
// delivery starts; without it the client gets the last-known snapshot.
func (s *Server) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	replay := false
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteAPIError(w, r, badRequest("Invalid since parameter",
				map[string]any{"since": raw}))
			return
		}
		since = parsed
		replay = true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.WithFields(log.Fields{"component": "api", "error": err}).
			Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.broadcast.Subscribe()
	defer s.broadcast.Unsubscribe(sub)

	log.WithFields(log.Fields{
		"component":  "api",
		"subscriber": sub.ID(),
		"remote":     conn.RemoteAddr().String(),
	}).Info("Telemetry stream attached")
	defer log.WithFields(log.Fields{"component": "api", "subscriber": sub.ID()}).
		Info("Telemetry stream detached")

	readClosed := make(chan struct{})
	go s.wsReadPump(conn, readClosed)

	// Catch the client up before switching to live delivery. A snapshot
	// published between Subscribe and the backlog read lands in both, so the
	// live loop skips anything at or below the backlog tail.
	var lastSeq uint64
	var backlog []*telemetry.Snapshot
	if replay {
		backlog = s.broadcast.Since(since)
	} else if snap, ok := s.snapshots.Get(); ok {
		backlog = []*telemetry.Snapshot{snap}
	}
	for _, snap := range backlog {
		if err := writeSnapshot(conn, snap); err != nil {
			return
		}
		lastSeq = snap.Seq
	}

	ticker := time.NewTicker(s.telCfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case snap := <-sub.Snapshots():
			if snap.Seq <= lastSeq {
				continue
			}
			if err := writeSnapshot(conn, snap); err != nil {
				log.WithFields(log.Fields{"component": "api", "subscriber": sub.ID(), "error": err}).
					Debug("Telemetry stream write failed")
				return
			}
		case <-sub.Done():
			deadline := time.Now().Add(wsWriteWait)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				deadline)
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-readClosed:
			return
		}
	}
}

// wsReadPump drains inbound frames so pongs are processed and dead peers
// are detected. All data writes stay on the handler goroutine; WriteControl
// is safe to call concurrently with them.
func (s *Server) wsReadPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.telCfg.ClientIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.telCfg.ClientIdleTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap *telemetry.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(snap)
}
