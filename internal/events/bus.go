// Package events provides the in-process broadcast bus for state-change
// notifications. Every mutating operation publishes here; live subscribers
// (SSE sessions) filter by workspace on their side, so the bus keeps a single
// total order and no per-workspace topic state.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a typed change notification scoped to a workspace.
type Event struct {
	WorkspaceID string         `json:"workspace_id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	At          time.Time      `json:"at"`
}

// Subscriber is one receiver's handle onto the bus. Its buffer is bounded;
// when a slow consumer overflows it, events are dropped and counted rather
// than blocking publishers.
type Subscriber struct {
	ch      chan Event
	done    chan struct{}
	dropped atomic.Uint64
}

// Events is the receive channel. It is never closed while the subscriber is
// registered; sessions watch Done for shutdown.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Done is closed when the bus shuts down.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Lagged returns the number of events dropped since the last call and resets
// the counter, so a session can surface one "missed N" notice per burst.
func (s *Subscriber) Lagged() uint64 { return s.dropped.Swap(0) }

type Bus struct {
	buffer int
	now    func() time.Time

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// New creates a bus whose subscribers each buffer up to buffer pending
// events. Values below 1 fall back to 256.
func New(buffer int) *Bus {
	if buffer < 1 {
		buffer = 256
	}
	return &Bus{buffer: buffer, now: time.Now, subs: make(map[*Subscriber]struct{})}
}

// Publish fans the event out to every subscriber without ever blocking.
// A full subscriber buffer costs that subscriber the event, nobody else.
func (b *Bus) Publish(workspaceID, eventType string, payload map[string]any) {
	evt := Event{WorkspaceID: workspaceID, Type: eventType, Payload: payload, At: b.now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe registers a new receiver. Callers must Unsubscribe when done.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{
		ch:   make(chan Event, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.done)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches a receiver. Pending buffered events remain readable.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Close signals shutdown to every subscriber. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.done)
	}
	b.subs = make(map[*Subscriber]struct{})
}

// SubscriberCount reports active subscribers; used by the readiness payload.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
