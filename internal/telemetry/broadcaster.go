package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultQueueCapacity bounds a subscriber's pending snapshots when no
// explicit capacity is configured.
const DefaultQueueCapacity = 10

// DefaultReplayCapacity bounds the shared replay buffer when no explicit
// capacity is configured.
const DefaultReplayCapacity = 50

// Subscriber is one attached telemetry consumer. It owns a bounded queue of
// pending snapshots; the broadcaster writes to it, exactly one consumer
// reads from it.
type Subscriber struct {
	id    string
	queue chan *Snapshot
	done  chan struct{}
	once  sync.Once
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string {
	return s.id
}

// Snapshots is the subscriber's read side of the queue.
func (s *Subscriber) Snapshots() <-chan *Snapshot {
	return s.queue
}

// Done is closed when the subscriber is detached; consumers select on it to
// stop reading.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// offer enqueues snap, discarding this subscriber's oldest queued item when
// the queue is full. Reports whether anything was dropped. Queue order is
// preserved and a snapshot is never enqueued twice.
func (s *Subscriber) offer(snap *Snapshot) bool {
	dropped := false
	for {
		select {
		case <-s.done:
			return dropped
		default:
		}

		select {
		case s.queue <- snap:
			return dropped
		default:
		}

		// Full: drop the oldest pending item, then retry. Telemetry is a
		// last-value-wins stream under load, never a completeness-guaranteed
		// log.
		select {
		case <-s.queue:
			dropped = true
		default:
		}
	}
}

// Broadcaster distributes snapshots to all current subscribers. Subscribe
// and Unsubscribe are safe to call concurrently with Publish; a slow or dead
// subscriber never affects delivery to the others.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	stopped     bool

	queueCap int
	replay   *Buffer

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBroadcaster creates a broadcaster with the given per-subscriber queue
// capacity and replay buffer capacity. Non-positive values select the
// defaults.
func NewBroadcaster(queueCapacity, replayCapacity int) *Broadcaster {
	if queueCapacity < 1 {
		queueCapacity = DefaultQueueCapacity
	}
	if replayCapacity < 1 {
		replayCapacity = DefaultReplayCapacity
	}
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
		queueCap:    queueCapacity,
		replay:      NewBuffer(replayCapacity),
	}
}

// Subscribe registers a new consumer with an empty queue and returns its
// handle. After Stop the handle comes back already detached.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{
		id:    uuid.NewString(),
		queue: make(chan *Snapshot, b.queueCap),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		sub.close()
		return sub
	}
	b.subscribers[sub.id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	log.WithFields(log.Fields{"component": "telemetry", "subscriber": sub.id}).
		Debugf("Subscriber attached (%d total)", count)
	return sub
}

// Unsubscribe detaches a subscriber. Unknown or already-detached handles are
// a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	_, known := b.subscribers[sub.id]
	delete(b.subscribers, sub.id)
	b.mu.Unlock()

	sub.close()
	if known {
		log.WithFields(log.Fields{"component": "telemetry", "subscriber": sub.id}).
			Debug("Subscriber detached")
	}
}

// Publish records snap in the replay buffer and pushes it to every current
// subscriber under the drop-oldest policy. It never blocks on a slow
// subscriber and never fails because one detached mid-push.
func (b *Broadcaster) Publish(snap *Snapshot) {
	b.replay.Add(snap)
	b.published.Add(1)

	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.offer(snap) {
			b.dropped.Add(1)
			log.WithFields(log.Fields{"component": "telemetry", "subscriber": sub.id}).
				Warn("Subscriber queue full, dropped oldest snapshot")
		}
	}
}

// Since returns replay-buffered snapshots newer than seq, in emission order.
func (b *Broadcaster) Since(seq uint64) []*Snapshot {
	return b.replay.Since(seq)
}

// SubscriberCount reports the number of attached subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats reports totals since startup: snapshots published and queue entries
// dropped under backpressure.
func (b *Broadcaster) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// Stop detaches all subscribers and refuses new ones. Publish calls after
// Stop only feed the replay buffer.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	log.WithField("component", "telemetry").Debug("Broadcaster stopped")
}
