// Package telemetry implements the telemetry fan-out for the Equilibria
// gateway.
//
// The Store holds the last snapshot received from the controller behind an
// atomically swapped handle; readers never take a lock and never observe a
// torn value. The Broadcaster pushes each new snapshot to every subscriber
// through a bounded per-subscriber queue with a drop-oldest policy, so one
// slow consumer can neither block others nor grow memory without bound. A
// small replay buffer lets reconnecting consumers catch up by sequence
// number.
package telemetry
