// Package controller implements the session with the process controller for
// the Equilibria gateway.
//
// The Manager owns the TCP session lifecycle: one read loop per session, an
// unbounded reconnect loop with an interruptible delay, and a serialized
// write path. The Dispatcher routes validated inbound envelopes to the
// telemetry store and broadcaster, or to the registered ack callback.
// Commands formats outbound requests and stamps the protocol version.
//
// Nothing in this package is fatal to the process: transport faults feed the
// reconnect loop and the only terminal path is an explicit Stop.
package controller
