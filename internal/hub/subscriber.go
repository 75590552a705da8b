package hub

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
)

// Subscriber is one registered observer of a lot's event stream. Events are
// delivered through a bounded queue; the connection owner drains it and
// reports progress back with Ack.
type Subscriber struct {
	ID    string
	LotID uuid.UUID
	Role  engine.Role

	queue   chan engine.Event
	lastAck atomic.Uint64
	lagging bool // guarded by the hub mutex
	closed  bool // guarded by the hub mutex
}

// Events is the ordered delivery channel for this subscriber. It is closed
// on unsubscribe.
func (s *Subscriber) Events() <-chan engine.Event {
	return s.queue
}

// Ack records the last state version the consumer has fully processed.
func (s *Subscriber) Ack(version uint64) {
	for {
		prev := s.lastAck.Load()
		if version <= prev || s.lastAck.CompareAndSwap(prev, version) {
			return
		}
	}
}

// LastAck returns the last acknowledged state version.
func (s *Subscriber) LastAck() uint64 {
	return s.lastAck.Load()
}

// QueueDepth reports how many events are waiting to be delivered.
func (s *Subscriber) QueueDepth() int {
	return len(s.queue)
}
