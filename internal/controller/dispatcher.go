package controller

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/wiifm74/equilibria/internal/protocol"
	"github.com/wiifm74/equilibria/internal/telemetry"
)

// AckFunc receives controller acknowledgments. It runs on the session's read
// goroutine; a panic inside it is contained and logged, never propagated.
type AckFunc func(protocol.Ack)

// Dispatcher routes validated inbound envelopes. Telemetry replaces the
// shared snapshot and fans out to subscribers; acks go to the registered
// callback; anything else is logged and dropped.
type Dispatcher struct {
	store       *telemetry.Store
	broadcaster *telemetry.Broadcaster

	ackMu sync.RWMutex
	onAck AckFunc
}

// NewDispatcher wires the dispatcher to the snapshot store and broadcaster.
func NewDispatcher(store *telemetry.Store, broadcaster *telemetry.Broadcaster) *Dispatcher {
	return &Dispatcher{
		store:       store,
		broadcaster: broadcaster,
	}
}

// OnAck registers the acknowledgment callback. At most one is active; a
// later call replaces the earlier one, nil unregisters.
func (d *Dispatcher) OnAck(fn AckFunc) {
	d.ackMu.Lock()
	d.onAck = fn
	d.ackMu.Unlock()
}

// Dispatch routes one validated envelope. It blocks only for bounded queue
// work, so a slow consumer never stalls ingestion of the next wire message.
func (d *Dispatcher) Dispatch(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeTelemetry:
		snap := d.store.Set(env.Payload)
		d.broadcaster.Publish(snap)

	case protocol.TypeAck:
		ack := protocol.AckFromPayload(env.Payload)
		log.WithFields(log.Fields{
			"component": "controller",
			"command":   ack.Command,
		}).Infof("Controller ack: %s %s", ack.Status, ack.Message)
		d.invokeAck(ack)

	default:
		log.WithFields(log.Fields{
			"component": "controller",
			"type":      env.Type,
		}).Warn("Dropped envelope with unhandled type")
	}
}

// invokeAck calls the registered callback with panic containment.
func (d *Dispatcher) invokeAck(ack protocol.Ack) {
	d.ackMu.RLock()
	fn := d.onAck
	d.ackMu.RUnlock()

	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"component": "controller",
				"command":   ack.Command,
			}).Errorf("Ack callback panicked: %v", r)
		}
	}()
	fn(ack)
}
