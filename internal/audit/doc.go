// Package audit implements the command audit trail for the Equilibria gateway.
//
// Every command submitted through the API produces one append-only JSON line
// with subject, command, parameters, outcome, latency and correlation ID. The
// file is size-rotated; a failed audit write never fails the request that
// triggered it.
package audit
