// Package stillsim implements a still-controller simulator speaking the v0
// newline-delimited JSON protocol over TCP. It backs local development and
// the end-to-end suite: sessions receive telemetry on a ticker, get_telemetry
// answers immediately, and set_mode/set_targets mutate shared simulated state
// and reply with acks.
package stillsim

import (
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wiifm74/equilibria/internal/protocol"
)

// Modes the simulated controller accepts.
const (
	ModeIdle   = "IDLE"
	ModeActive = "ACTIVE"
)

// DefaultTelemetryInterval is the emission period when none is configured.
const DefaultTelemetryInterval = time.Second

var validModes = map[string]bool{
	ModeIdle:   true,
	ModeActive: true,
}

// Config holds the simulator's listen address and telemetry period.
type Config struct {
	Addr              string
	TelemetryInterval time.Duration
}

// Simulator is a TCP mock of the still controller. It accepts any number of
// concurrent sessions; all of them observe one shared process state.
type Simulator struct {
	cfg Config

	mu       sync.Mutex
	ln       net.Listener
	sessions map[int64]net.Conn
	nextID   int64
	stopped  bool

	mode    string
	targets map[string]float64
	faults  []string
	ramp    float64
	cmdErr  string

	done chan struct{}
	wg   sync.WaitGroup
}

// session is one accepted connection. wmu serializes writes so ticker
// telemetry and command replies never interleave partial frames.
type session struct {
	id   int64
	conn net.Conn
	enc  *protocol.Encoder
	wmu  sync.Mutex
}

func (s *session) send(env *protocol.Envelope) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.enc.Encode(env)
}

// New creates a simulator. Zero-value config fields select the controller's
// conventional endpoint and a one-second telemetry period.
func New(cfg Config) *Simulator {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7002"
	}
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = DefaultTelemetryInterval
	}

	return &Simulator{
		cfg:      cfg,
		sessions: make(map[int64]net.Conn),
		mode:     ModeIdle,
		targets:  make(map[string]float64),
		faults:   []string{},
		done:     make(chan struct{}),
	}
}

// Start opens the listener and begins accepting sessions.
func (s *Simulator) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ln.Close()
		return errors.New("simulator is stopped")
	}
	s.ln = ln
	s.mu.Unlock()

	log.WithFields(log.Fields{"component": "stillsim", "addr": ln.Addr().String()}).
		Info("Simulator listening")

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address, useful when Start was given :0.
func (s *Simulator) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// Stop closes the listener and every session and waits for all loops to
// exit. Safe to call more than once.
func (s *Simulator) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	ln := s.ln
	conns := make([]net.Conn, 0, len(s.sessions))
	for _, conn := range s.sessions {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	close(s.done)
	if ln != nil {
		ln.Close()
	}
	for _, conn := range conns {
		conn.Close()
	}
	s.wg.Wait()

	log.WithField("component", "stillsim").Info("Simulator stopped")
}

// Mode returns the current simulated mode.
func (s *Simulator) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Targets returns a copy of the accepted setpoints.
func (s *Simulator) Targets() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := make(map[string]float64, len(s.targets))
	for k, v := range s.targets {
		targets[k] = v
	}
	return targets
}

// SessionCount reports the number of open sessions.
func (s *Simulator) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SetFaults replaces the fault list carried in telemetry.
func (s *Simulator) SetFaults(faults ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append([]string{}, faults...)
}

// ForceCommandError makes every subsequent command ack with an error
// carrying message, simulating a controller that refuses changes.
func (s *Simulator) ForceCommandError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmdErr = message
}

// ClearCommandError restores normal command handling.
func (s *Simulator) ClearCommandError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmdErr = ""
}

func (s *Simulator) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !errors.Is(err, net.ErrClosed) {
					log.WithFields(log.Fields{"component": "stillsim", "error": err}).
						Warn("Accept failed")
				}
			}
			return
		}

		s.wg.Add(1)
		go s.serve(conn)
	}
}

// serve owns one session: it registers the connection, runs the ticker
// sender, and reads frames until the peer goes away.
func (s *Simulator) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	sess := &session{conn: conn, enc: protocol.NewEncoder(conn)}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.nextID++
	sess.id = s.nextID
	s.sessions[sess.id] = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		log.WithFields(log.Fields{"component": "stillsim", "session": sess.id}).
			Info("Session closed")
	}()

	log.WithFields(log.Fields{
		"component": "stillsim",
		"session":   sess.id,
		"remote":    conn.RemoteAddr().String(),
	}).Info("Session opened")

	s.wg.Add(1)
	go s.telemetryLoop(sess)

	dec := protocol.NewDecoder(conn)
	for {
		line, err := dec.Next()
		if err != nil {
			return
		}

		env, err := protocol.ParseFrame(line)
		if err != nil {
			log.WithFields(log.Fields{"component": "stillsim", "session": sess.id, "error": err}).
				Warn("Dropped invalid frame")
			continue
		}

		s.handleEnvelope(sess, env)
	}
}

func (s *Simulator) telemetryLoop(sess *session) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TelemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := sess.send(protocol.NewEnvelope(protocol.TypeTelemetry, s.telemetryPayload())); err != nil {
				return
			}
		}
	}
}

func (s *Simulator) handleEnvelope(sess *session, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeGetTelemetry:
		_ = sess.send(protocol.NewEnvelope(protocol.TypeTelemetry, s.telemetryPayload()))

	case protocol.TypeSetMode:
		mode, _ := env.Payload["mode"].(string)
		if err := s.applyMode(mode); err != nil {
			_ = sess.send(ackEnvelope(protocol.TypeSetMode, "error", err.Error()))
			return
		}
		log.WithFields(log.Fields{"component": "stillsim", "session": sess.id, "mode": mode}).
			Info("Mode changed")
		_ = sess.send(ackEnvelope(protocol.TypeSetMode, "ok", ""))

	case protocol.TypeSetTargets:
		if err := s.applyTargets(env.Payload); err != nil {
			_ = sess.send(ackEnvelope(protocol.TypeSetTargets, "error", err.Error()))
			return
		}
		_ = sess.send(ackEnvelope(protocol.TypeSetTargets, "ok", ""))

	default:
		log.WithFields(log.Fields{"component": "stillsim", "session": sess.id, "type": env.Type}).
			Debug("Ignoring envelope")
	}
}

func ackEnvelope(command, status, message string) *protocol.Envelope {
	payload := map[string]any{
		"command": command,
		"status":  status,
	}
	if message != "" {
		payload["message"] = message
	}
	return protocol.NewEnvelope(protocol.TypeAck, payload)
}

func (s *Simulator) applyMode(mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmdErr != "" {
		return errors.New(s.cmdErr)
	}
	if !validModes[mode] {
		return fmt.Errorf("unknown mode %q", mode)
	}

	s.mode = mode
	return nil
}

// applyTargets merges the payload into the setpoints. The whole update is
// rejected if any value fails validation, so a bad frame never half-applies.
func (s *Simulator) applyTargets(payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmdErr != "" {
		return errors.New(s.cmdErr)
	}
	if len(payload) == 0 {
		return errors.New("no targets provided")
	}

	parsed := make(map[string]float64, len(payload))
	for key, raw := range payload {
		val, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("target %q is not a number", key)
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("target %q is not finite", key)
		}
		parsed[key] = val
	}

	for k, v := range parsed {
		s.targets[k] = v
	}
	return nil
}

// telemetryPayload advances the simulated process one step and renders it in
// the controller's telemetry shape. Heat ramps up while ACTIVE and decays
// back toward ambient in IDLE; product flow starts once the boiler passes
// the boil threshold.
func (s *Simulator) telemetryPayload() map[string]any {
	s.mu.Lock()
	if s.mode == ModeActive {
		s.ramp = math.Min(s.ramp+0.5, 62.0)
	} else {
		s.ramp = math.Max(s.ramp-1.5, 0)
	}
	mode := s.mode
	ramp := s.ramp
	faults := append([]string{}, s.faults...)
	targetFlow, hasTargetFlow := s.targets["flow_ml_min"]
	s.mu.Unlock()

	boiler := 18.0 + ramp
	vapour := 16.5 + ramp*0.92
	heat := 0.0
	flow := 0.0
	reflux := 0.0
	takeoff := 0.0

	if mode == ModeActive {
		heat = 0.8
		if boiler > 70 {
			flow = 240.0 + ramp
			if hasTargetFlow {
				flow = targetFlow
			}
			reflux = 0.65
			takeoff = 0.35
		}
	}

	return map[string]any{
		"timestamp_ms": time.Now().UnixMilli(),
		"mode":         mode,
		"temps": map[string]any{
			"vapour_head":     round1(vapour),
			"boiler_liquid":   round1(boiler),
			"pcb_environment": round1(21.0 + ramp*0.05),
		},
		"pressures": map[string]any{
			"ambient": 101.3,
			"vapour":  round1(101.3 + ramp*0.04),
		},
		"flow_ml_min": round1(flow),
		"valves": map[string]any{
			"reflux_control":  reflux,
			"product_takeoff": takeoff,
		},
		"heaters": map[string]any{
			"heater_1": heat,
			"heater_2": heat,
		},
		"faults": faults,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
