package engine

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypeBidAccepted      EventType = "bid_accepted"
	EventTypeBidRejected      EventType = "bid_rejected"
	EventTypeLifecycleChanged EventType = "lifecycle_changed"
	EventTypeResync           EventType = "resync"
)

// Event is one entry in a lot's ordered mutation stream. The type field
// selects which optional payload fields are set, so consumers can handle
// the full set exhaustively instead of inspecting loose maps.
type Event struct {
	Type      EventType `json:"type"`
	LotID     uuid.UUID `json:"lot_id"`
	Version   uint64    `json:"version"`
	At        time.Time `json:"at"`
	Bid       *Bid      `json:"bid,omitempty"`
	OldStatus LotStatus `json:"old_status,omitempty"`
	NewStatus LotStatus `json:"new_status,omitempty"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
}

// RedactFor returns a copy of the event safe to deliver to the given role.
func (e Event) RedactFor(role Role) Event {
	if e.Snapshot != nil {
		snap := e.Snapshot.RedactFor(role)
		e.Snapshot = &snap
	}
	return e
}

// Publisher receives every accepted mutation, in version order, together
// with the snapshot that mutation produced. Implementations must not block
// the caller; the engine invokes Publish from the lot's serialization lane.
type Publisher interface {
	Publish(event Event, snap Snapshot)
}

// Recorder is the fire-and-forget persistence sink. Implementations must
// return immediately and handle delivery (and retries) on their own;
// the engine never waits on them inside the mutation path.
type Recorder interface {
	RecordBid(bid Bid)
	RecordLifecycleEvent(lotID uuid.UUID, oldStatus, newStatus LotStatus, version uint64, at time.Time)
}

// NopPublisher and NopRecorder keep the engine usable in tests and tools
// that do not care about fan-out or persistence.
type NopPublisher struct{}

func (NopPublisher) Publish(Event, Snapshot) {}

type NopRecorder struct{}

func (NopRecorder) RecordBid(Bid) {}

func (NopRecorder) RecordLifecycleEvent(uuid.UUID, LotStatus, LotStatus, uint64, time.Time) {}
