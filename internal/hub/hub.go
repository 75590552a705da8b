package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/rs/zerolog/log"
)

// SnapshotSource provides the current consistent state of a lot. The engine
// implements it; the hub uses it for initial subscriptions and resyncs.
type SnapshotSource interface {
	Snapshot(lotID uuid.UUID) (engine.Snapshot, error)
}

// SourceFunc adapts a plain function to the SnapshotSource interface.
type SourceFunc func(lotID uuid.UUID) (engine.Snapshot, error)

func (f SourceFunc) Snapshot(lotID uuid.UUID) (engine.Snapshot, error) {
	return f(lotID)
}

type Config struct {
	// QueueDepth bounds each subscriber's outbound queue. A subscriber
	// that falls further behind than this is switched to a resync.
	QueueDepth int
	// ReplayWindow is how many recent events are retained per lot to let
	// reconnecting subscribers catch up with deltas instead of snapshots.
	ReplayWindow int
}

func (c Config) withDefaults() Config {
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = 128
	}
	return c
}

type lotFeed struct {
	subs     map[string]*Subscriber
	replay   []engine.Event // recent events, oldest first, bounded
	lastSnap engine.Snapshot
	haveSnap bool
}

// Hub fans every accepted lot mutation out to the lot's subscribers in
// state-version order. Delivery is at-least-once and strictly ordered per
// subscriber; a slow subscriber never blocks the publisher — on queue
// overflow its queue is reset and a full resync snapshot takes the place
// of the missed deltas.
type Hub struct {
	cfg Config
	src SnapshotSource

	mu    sync.RWMutex
	feeds map[uuid.UUID]*lotFeed
}

func New(cfg Config, src SnapshotSource) *Hub {
	return &Hub{
		cfg:   cfg.withDefaults(),
		src:   src,
		feeds: make(map[uuid.UUID]*lotFeed),
	}
}

// Publish delivers one mutation event to every live subscriber of the lot.
// Called exactly once per accepted mutation, from the lot's serialization
// lane, so events arrive here already in version order. Never blocks.
func (h *Hub) Publish(event engine.Event, snap engine.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed := h.ensureFeed(event.LotID)
	feed.lastSnap = snap
	feed.haveSnap = true

	feed.replay = append(feed.replay, event)
	if len(feed.replay) > h.cfg.ReplayWindow {
		feed.replay = feed.replay[len(feed.replay)-h.cfg.ReplayWindow:]
	}

	for _, sub := range feed.subs {
		h.deliver(sub, event, snap)
	}
}

// deliver enqueues one event without ever blocking. On overflow the
// subscriber's queue is drained and replaced with a single resync snapshot,
// trading skipped intermediate updates for guaranteed eventual consistency.
func (h *Hub) deliver(sub *Subscriber, event engine.Event, snap engine.Snapshot) {
	select {
	case sub.queue <- event.RedactFor(sub.Role):
		sub.lagging = false
		return
	default:
	}

drain:
	for {
		select {
		case <-sub.queue:
		default:
			break drain
		}
	}
	sub.lagging = true

	redacted := snap.RedactFor(sub.Role)
	sub.queue <- engine.Event{
		Type:     engine.EventTypeResync,
		LotID:    event.LotID,
		Version:  snap.Version,
		At:       event.At,
		Snapshot: &redacted,
	}

	log.Warn().
		Str("connection_id", sub.ID).
		Str("lot_id", event.LotID.String()).
		Uint64("version", snap.Version).
		Msg("subscriber lagging, queue reset to resync snapshot")
}

// Subscribe registers an observer and returns the current snapshot it
// should render first, already redacted for its role. Registration and the
// snapshot read happen under the same lock as Publish, so the queue only
// carries events newer than the returned snapshot.
func (h *Hub) Subscribe(lotID uuid.UUID, connID string, role engine.Role) (engine.Snapshot, *Subscriber, error) {
	sub := &Subscriber{
		ID:    connID,
		LotID: lotID,
		Role:  role,
		queue: make(chan engine.Event, h.cfg.QueueDepth),
	}

	h.mu.Lock()
	feed := h.ensureFeed(lotID)
	snap, err := h.feedSnapshot(feed, lotID)
	if err != nil {
		h.mu.Unlock()
		return engine.Snapshot{}, nil, err
	}
	feed.subs[connID] = sub
	total := len(feed.subs)
	h.mu.Unlock()

	log.Info().
		Str("connection_id", connID).
		Str("lot_id", lotID.String()).
		Str("role", string(role)).
		Int("subscribers", total).
		Msg("observer subscribed")

	return snap.RedactFor(role), sub, nil
}

// Reattach registers a reconnecting observer that already holds state at
// lastVersion. Whatever it missed is preloaded into its queue before
// registration completes: the exact deltas when the replay window still
// covers them, one resync snapshot otherwise. Preload and registration
// happen atomically with respect to Publish, so the queue hands the
// consumer a strictly increasing version sequence with nothing repeated.
func (h *Hub) Reattach(lotID uuid.UUID, connID string, role engine.Role, lastVersion uint64) (*Subscriber, error) {
	sub := &Subscriber{
		ID:    connID,
		LotID: lotID,
		Role:  role,
		queue: make(chan engine.Event, h.cfg.QueueDepth),
	}

	h.mu.Lock()
	feed := h.ensureFeed(lotID)
	snap, err := h.feedSnapshot(feed, lotID)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}

	var preloaded int
	if lastVersion < snap.Version {
		deltas, ok := missedDeltas(feed.replay, lastVersion, snap.Version)
		// The preload must fit the queue with room for live events behind it.
		if ok && len(deltas) < cap(sub.queue) {
			for _, evt := range deltas {
				sub.queue <- evt.RedactFor(role)
			}
			preloaded = len(deltas)
		} else {
			redacted := snap.RedactFor(role)
			sub.queue <- engine.Event{
				Type:     engine.EventTypeResync,
				LotID:    lotID,
				Version:  snap.Version,
				Snapshot: &redacted,
			}
			preloaded = 1
		}
	}
	feed.subs[connID] = sub
	total := len(feed.subs)
	h.mu.Unlock()

	log.Info().
		Str("connection_id", connID).
		Str("lot_id", lotID.String()).
		Str("role", string(role)).
		Uint64("last_version", lastVersion).
		Int("preloaded", preloaded).
		Int("subscribers", total).
		Msg("observer reattached")

	return sub, nil
}

// feedSnapshot resolves the lot's current snapshot while the hub lock is
// held: the one the last publish carried, or the source's view when
// nothing was published yet. The source read is a lock-free atomic load,
// so calling it under the hub lock is safe.
func (h *Hub) feedSnapshot(feed *lotFeed, lotID uuid.UUID) (engine.Snapshot, error) {
	if feed.haveSnap {
		return feed.lastSnap, nil
	}
	return h.src.Snapshot(lotID)
}

// Unsubscribe removes an observer and closes its delivery channel.
func (h *Hub) Unsubscribe(lotID uuid.UUID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.feeds[lotID]
	if !ok {
		return
	}
	sub, ok := feed.subs[connID]
	if !ok {
		return
	}
	delete(feed.subs, connID)
	if !sub.closed {
		sub.closed = true
		close(sub.queue)
	}

	log.Info().
		Str("connection_id", connID).
		Str("lot_id", lotID.String()).
		Int("subscribers", len(feed.subs)).
		Msg("observer unsubscribed")
}

// Resume computes what a reconnecting observer needs after lastVersion.
// If every missed event is still inside the replay window, the missed
// deltas are returned in order; otherwise a single resync snapshot is.
// Either way the observer ends up at the same final state as one that
// stayed connected throughout.
func (h *Hub) Resume(lotID uuid.UUID, role engine.Role, lastVersion uint64) ([]engine.Event, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var snap engine.Snapshot
	feed, ok := h.feeds[lotID]
	if ok && feed.haveSnap {
		snap = feed.lastSnap
	} else {
		var err error
		snap, err = h.src.Snapshot(lotID)
		if err != nil {
			return nil, err
		}
	}

	if lastVersion >= snap.Version {
		return nil, nil
	}

	if feed != nil {
		if deltas, ok := missedDeltas(feed.replay, lastVersion, snap.Version); ok {
			redacted := make([]engine.Event, len(deltas))
			for i, evt := range deltas {
				redacted[i] = evt.RedactFor(role)
			}
			return redacted, nil
		}
	}

	redactedSnap := snap.RedactFor(role)
	return []engine.Event{{
		Type:     engine.EventTypeResync,
		LotID:    lotID,
		Version:  snap.Version,
		Snapshot: &redactedSnap,
	}}, nil
}

// missedDeltas extracts the contiguous run of events covering
// (lastVersion, upTo] from the replay window. Returns false when the
// window no longer reaches back far enough.
func missedDeltas(replay []engine.Event, lastVersion, upTo uint64) ([]engine.Event, bool) {
	if len(replay) == 0 || replay[0].Version > lastVersion+1 {
		return nil, false
	}
	start := -1
	for i, evt := range replay {
		if evt.Version == lastVersion+1 {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, false
	}
	deltas := replay[start:]
	if len(deltas) == 0 || deltas[len(deltas)-1].Version < upTo {
		return nil, false
	}
	return deltas, true
}

// SubscriberCount reports how many observers are registered on a lot.
func (h *Hub) SubscriberCount(lotID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	feed, ok := h.feeds[lotID]
	if !ok {
		return 0
	}
	return len(feed.subs)
}

// LaggingCount reports how many of a lot's observers are currently behind
// and converging through a resync snapshot.
func (h *Hub) LaggingCount(lotID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	feed, ok := h.feeds[lotID]
	if !ok {
		return 0
	}
	lagging := 0
	for _, sub := range feed.subs {
		if sub.lagging {
			lagging++
		}
	}
	return lagging
}

func (h *Hub) ensureFeed(lotID uuid.UUID) *lotFeed {
	feed, ok := h.feeds[lotID]
	if !ok {
		feed = &lotFeed{subs: make(map[string]*Subscriber)}
		h.feeds[lotID] = feed
	}
	return feed
}
