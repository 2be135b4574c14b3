package controller

import "fmt"

// State is the connection lifecycle state owned by the Manager. While the
// manager runs, transitions cycle DISCONNECTED, CONNECTING, CONNECTED,
// DISCONNECTED; STOPPING is entered once on explicit stop and drains to a
// terminal DISCONNECTED.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStopping
)

// String returns the wire-log form of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateStopping:
		return "STOPPING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
