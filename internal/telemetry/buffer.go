package telemetry

import "sync"

// Buffer keeps the most recent snapshots for replay to reconnecting
// consumers. Oldest entries are evicted once capacity is reached.
type Buffer struct {
	mu        sync.RWMutex
	snapshots []*Snapshot
	capacity  int
}

// NewBuffer creates a replay buffer holding at most capacity snapshots.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		snapshots: make([]*Snapshot, 0, capacity),
		capacity:  capacity,
	}
}

// Add appends a snapshot, evicting the oldest entry when full.
func (b *Buffer) Add(snap *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snapshots = append(b.snapshots, snap)
	if len(b.snapshots) > b.capacity {
		b.snapshots = b.snapshots[1:]
	}
}

// Since returns the buffered snapshots with a sequence number greater than
// seq, in emission order.
func (b *Buffer) Since(seq uint64) []*Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Snapshot
	for _, snap := range b.snapshots {
		if snap.Seq > seq {
			out = append(out, snap)
		}
	}
	return out
}

// Len reports the number of buffered snapshots.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.snapshots)
}
