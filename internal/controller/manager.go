package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"

	"github.com/wiifm74/equilibria/internal/config"
	"github.com/wiifm74/equilibria/internal/protocol"
)

// Manager maintains the single persistent session with the controller. It
// connects, runs one read loop per session, and on any transport fault tears
// the session down and retries after a delay, forever, until Stop. There is
// no higher-level supervisor to escalate to; the controller may come back at
// any time.
type Manager struct {
	cfg        config.ControllerConfig
	dispatcher *Dispatcher

	mu      sync.Mutex
	state   State
	conn    net.Conn
	enc     *protocol.Encoder
	started bool
	stopped bool

	lastConnectedAt time.Time

	// writeMu serializes Send so concurrent callers never interleave
	// partial frames on the socket.
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	framesIn   atomic.Uint64
	framesOut  atomic.Uint64
	rejects    atomic.Uint64
	reconnects atomic.Uint64
}

// Stats is the manager's northbound status view.
type Stats struct {
	State           string    `json:"state"`
	Connected       bool      `json:"connected"`
	Addr            string    `json:"addr"`
	FramesIn        uint64    `json:"framesIn"`
	FramesOut       uint64    `json:"framesOut"`
	Rejects         uint64    `json:"rejects"`
	Reconnects      uint64    `json:"reconnects"`
	LastConnectedAt time.Time `json:"lastConnectedAt,omitempty"`
}

// NewManager creates a manager for the controller endpoint in cfg. Nothing
// connects until Start.
func NewManager(cfg config.ControllerConfig, dispatcher *Dispatcher) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		state:      StateDisconnected,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start launches the connect/reconnect loop. Calling Start on a running
// manager is a no-op; a stopped manager cannot be restarted.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}
	if m.started {
		return nil
	}
	m.started = true

	go m.run()
	return nil
}

// Stop ends the session and the reconnect loop. It interrupts an in-flight
// read, dial, or retry delay, and returns only after the loop has fully
// exited, so no dispatcher or broadcaster activity happens after Stop
// returns. Stop is safe to call from any state and more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	wasStarted := m.started
	if !m.stopped {
		m.transitionLocked(StateStopping)
		m.stopped = true
	}
	conn := m.conn
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		_ = conn.Close()
	}

	if wasStarted {
		<-m.done
	} else {
		m.mu.Lock()
		m.transitionLocked(StateDisconnected)
		m.mu.Unlock()
	}
}

// Send encodes env and writes it to the session as a single frame,
// returning once the write completed or failed. It fails with
// ErrNotConnected when no session is established. A write failure closes the
// socket so the read loop notices and the reconnect loop takes over.
func (m *Manager) Send(ctx context.Context, env *protocol.Envelope) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	conn, enc, state := m.conn, m.enc, m.state
	m.mu.Unlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(m.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if err := enc.Encode(env); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send %s: %w", env.Type, err)
	}

	m.framesOut.Add(1)
	log.WithFields(log.Fields{"component": "controller", "type": env.Type}).
		Debug("Sent envelope")
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns the status view for the API layer.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	state := m.state
	lastConnected := m.lastConnectedAt
	m.mu.Unlock()

	return Stats{
		State:           state.String(),
		Connected:       state == StateConnected,
		Addr:            m.cfg.Addr(),
		FramesIn:        m.framesIn.Load(),
		FramesOut:       m.framesOut.Load(),
		Rejects:         m.rejects.Load(),
		Reconnects:      m.reconnects.Load(),
		LastConnectedAt: lastConnected,
	}
}

// run is the supervisor loop: connect, read until failure, delay, repeat.
// It is the only goroutine that moves the state machine while running.
func (m *Manager) run() {
	defer close(m.done)
	defer func() {
		m.mu.Lock()
		m.transitionLocked(StateDisconnected)
		m.mu.Unlock()
	}()

	policy := m.newBackOff()
	attempt := 0

	for {
		if m.ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.transitionLocked(StateConnecting)
		m.mu.Unlock()

		attempt++
		conn, err := m.dial()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			delay := m.nextDelay(policy)
			log.WithFields(log.Fields{
				"component": "controller",
				"addr":      m.cfg.Addr(),
				"attempt":   attempt,
				"error":     err,
			}).Warnf("Connect failed, retrying in %v", delay)
			if !m.sleep(delay) {
				return
			}
			continue
		}

		policy.Reset()
		attempt = 0
		if !m.attach(conn) {
			return
		}

		m.readLoop(conn)
		m.detach()

		if m.ctx.Err() != nil {
			return
		}

		m.reconnects.Add(1)
		delay := m.nextDelay(policy)
		log.WithFields(log.Fields{
			"component": "controller",
			"addr":      m.cfg.Addr(),
		}).Infof("Session ended, reconnecting in %v", delay)
		if !m.sleep(delay) {
			return
		}
	}
}

// dial opens the controller socket; Stop cancels an in-flight attempt.
func (m *Manager) dial() (net.Conn, error) {
	dialer := net.Dialer{Timeout: m.cfg.DialTimeout}
	conn, err := dialer.DialContext(m.ctx, "tcp", m.cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.cfg.Addr(), err)
	}
	return conn, nil
}

// attach installs the new session. It refuses the socket when Stop won the
// race against a completing dial.
func (m *Manager) attach(conn net.Conn) bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		_ = conn.Close()
		return false
	}
	m.conn = conn
	m.enc = protocol.NewEncoder(conn)
	m.lastConnectedAt = time.Now().UTC()
	m.transitionLocked(StateConnected)
	m.mu.Unlock()

	log.WithFields(log.Fields{"component": "controller", "addr": m.cfg.Addr()}).
		Info("Connected to controller")
	return true
}

// detach closes and clears the session after the read loop exits.
func (m *Manager) detach() {
	m.mu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
		m.enc = nil
	}
	m.transitionLocked(StateDisconnected)
	m.mu.Unlock()
}

// readLoop consumes frames until the session fails or Stop closes the
// socket. Decode and validation failures drop the frame and keep the
// session; only transport faults end it.
func (m *Manager) readLoop(conn net.Conn) {
	dec := protocol.NewDecoder(conn)
	for {
		line, err := dec.Next()
		if err != nil {
			if m.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if errors.Is(err, io.EOF) {
				log.WithField("component", "controller").Info("Controller closed the session")
			} else {
				log.WithFields(log.Fields{"component": "controller", "error": err}).
					Warn("Session read failed")
			}
			return
		}
		m.framesIn.Add(1)

		env, err := protocol.ParseFrame(line)
		if err != nil {
			m.rejects.Add(1)
			var reject *protocol.RejectError
			if errors.As(err, &reject) {
				log.WithFields(log.Fields{
					"component": "controller",
					"reason":    reject.Reason,
				}).Warn("Dropped invalid envelope")
			} else {
				log.WithFields(log.Fields{"component": "controller", "error": err}).
					Warn("Dropped undecodable frame")
			}
			continue
		}

		m.dispatcher.Dispatch(env)
	}
}

// transitionLocked records a state change. Once stopping, only the terminal
// move to DISCONNECTED is allowed through. Callers hold m.mu.
func (m *Manager) transitionLocked(next State) {
	if m.stopped && next != StateDisconnected {
		return
	}
	if m.state == next {
		return
	}
	m.state = next
	log.WithFields(log.Fields{"component": "controller", "state": next}).
		Info("Connection state changed")
}

// newBackOff builds the retry delay policy. The baseline is a fixed delay
// between attempts; exponential growth is an opt-in enhancement capped at
// BackoffMaxDelay.
func (m *Manager) newBackOff() backoff.BackOff {
	if m.cfg.BackoffPolicy == config.BackoffExponential {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = m.cfg.ReconnectDelay
		bo.MaxInterval = m.cfg.BackoffMaxDelay
		bo.Reset()
		return bo
	}
	return backoff.NewConstantBackOff(m.cfg.ReconnectDelay)
}

// nextDelay reads the policy, falling back to the configured delay if the
// policy signals stop. The reconnect loop never gives up on its own.
func (m *Manager) nextDelay(policy backoff.BackOff) time.Duration {
	delay := policy.NextBackOff()
	if delay == backoff.Stop || delay <= 0 {
		delay = m.cfg.ReconnectDelay
	}
	return delay
}

// sleep waits for d or for Stop, whichever comes first. It reports false
// when the manager is stopping.
func (m *Manager) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-m.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
