package controller

import (
	"context"

	"github.com/wiifm74/equilibria/internal/protocol"
)

// Sender is the downstream-facing write port of the session.
type Sender interface {
	Send(ctx context.Context, env *protocol.Envelope) error
}

var _ Sender = (*Manager)(nil)

// Commands builds and submits the northbound command envelopes. It adds no
// policy of its own: every method fails exactly when Send fails, and
// succeeds once the frame is on the wire. Acks arrive asynchronously via
// the dispatcher.
type Commands struct {
	sender Sender
}

// NewCommands wraps a sender, usually the manager.
func NewCommands(sender Sender) *Commands {
	return &Commands{sender: sender}
}

// RequestTelemetry asks the controller for an immediate telemetry frame.
func (c *Commands) RequestTelemetry(ctx context.Context) error {
	return c.sender.Send(ctx, protocol.NewEnvelope(protocol.TypeGetTelemetry, nil))
}

// SetMode requests a mode change. Mode strings are passed through opaque;
// the controller decides what it accepts and answers with an ack.
func (c *Commands) SetMode(ctx context.Context, mode string) error {
	payload := map[string]any{"mode": mode}
	return c.sender.Send(ctx, protocol.NewEnvelope(protocol.TypeSetMode, payload))
}

// SetTargets requests setpoint changes. Only the keys present in targets go
// on the wire, so omitted setpoints stay untouched on the controller side.
func (c *Commands) SetTargets(ctx context.Context, targets map[string]any) error {
	payload := make(map[string]any, len(targets))
	for k, v := range targets {
		payload[k] = v
	}
	return c.sender.Send(ctx, protocol.NewEnvelope(protocol.TypeSetTargets, payload))
}
