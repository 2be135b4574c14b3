// Ports (interfaces) for the API server's dependencies.
package api

import (
	"context"

	"github.com/wiifm74/equilibria/internal/controller"
	"github.com/wiifm74/equilibria/internal/telemetry"
)

// CommandPort defines the minimal interface the API needs from the command
// channel.
type CommandPort interface {
	RequestTelemetry(ctx context.Context) error
	SetMode(ctx context.Context, mode string) error
	SetTargets(ctx context.Context, targets map[string]any) error
}

// SessionPort defines the minimal interface the API needs from the
// controller session for status reporting.
type SessionPort interface {
	State() controller.State
	Stats() controller.Stats
}

// BroadcastPort defines the minimal interface the WebSocket stream needs
// from the telemetry broadcaster.
type BroadcastPort interface {
	Subscribe() *telemetry.Subscriber
	Unsubscribe(sub *telemetry.Subscriber)
	Since(seq uint64) []*telemetry.Snapshot
	SubscriberCount() int
	Stats() (published, dropped uint64)
}

// SnapshotPort defines the minimal interface for reading the last-known
// telemetry value.
type SnapshotPort interface {
	Get() (*telemetry.Snapshot, bool)
}

// Compile-time assertions for port conformance
var _ CommandPort = (*controller.Commands)(nil)
var _ SessionPort = (*controller.Manager)(nil)
var _ BroadcastPort = (*telemetry.Broadcaster)(nil)
var _ SnapshotPort = (*telemetry.Store)(nil)
