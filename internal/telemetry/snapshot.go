package telemetry

import (
	"sync/atomic"
	"time"
)

// Snapshot is one telemetry envelope payload as received from the
// controller, stamped with a gateway sequence number and arrival time.
// Snapshots are immutable after creation; the payload must not be mutated by
// readers.
type Snapshot struct {
	Seq        uint64         `json:"seq"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Payload    map[string]any `json:"payload"`
}

// Mode extracts the controller mode field, or the empty string when the
// payload omits it. The rest of the payload stays opaque to the gateway.
func (s *Snapshot) Mode() string {
	if s == nil {
		return ""
	}
	mode, _ := s.Payload["mode"].(string)
	return mode
}

// Store holds the last-known snapshot. One writer (the dispatcher) replaces
// it; any number of readers load it concurrently without locking.
type Store struct {
	current atomic.Pointer[Snapshot]
	seq     atomic.Uint64
}

// NewStore returns an empty store: Get reports no snapshot until the first
// Set.
func NewStore() *Store {
	return &Store{}
}

// Set stamps payload with the next sequence number and the current time,
// swaps it in as the new snapshot, and returns it.
func (s *Store) Set(payload map[string]any) *Snapshot {
	snap := &Snapshot{
		Seq:        s.seq.Add(1),
		ReceivedAt: time.Now().UTC(),
		Payload:    payload,
	}
	s.current.Store(snap)
	return snap
}

// Get returns the current snapshot, or false when none has been received
// yet.
func (s *Store) Get() (*Snapshot, bool) {
	snap := s.current.Load()
	if snap == nil {
		return nil, false
	}
	return snap, true
}
