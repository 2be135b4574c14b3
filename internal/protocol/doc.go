// Package protocol implements the v0 controller wire protocol for the
// Equilibria gateway.
//
// The controller session exchanges one JSON envelope per LF-terminated line.
// This package owns the envelope shape, the version gate, and the framing
// codec; it knows nothing about sessions or transport recovery.
package protocol
