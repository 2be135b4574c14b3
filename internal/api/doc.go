// Package api implements the northbound HTTP surface of the Equilibria
// gateway.
//
// It exposes command submission, the last-known telemetry snapshot, a
// WebSocket telemetry stream with replay, and status/health endpoints. Every
// response uses one JSON envelope with a correlation ID; command attempts are
// written to the audit trail.
package api
