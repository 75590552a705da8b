package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Config tunes the per-lot serialization lanes.
type Config struct {
	// QueueDepth bounds how many mutations may wait for arbitration per lot.
	QueueDepth int
	// SubmitTimeout bounds how long a submission may wait to enter the
	// queue before the caller gets ErrBusy.
	SubmitTimeout time.Duration
	// HistoryWindow is how many accepted bids are retained in memory per
	// lot for display. Durable history lives with the persistence sink.
	HistoryWindow int
	// IdleCloseAfter auto-closes an active lot with no accepted bid for
	// this long. Zero disables idle closing.
	IdleCloseAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 2 * time.Second
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 50
	}
	return c
}

// Engine holds the canonical live state of every registered lot. Each lot
// gets its own serialization lane, so independent lots are arbitrated in
// parallel while mutations to one lot stay strictly ordered.
type Engine struct {
	cfg   Config
	clock clockwork.Clock
	pub   Publisher
	rec   Recorder

	mu      sync.RWMutex
	lanes   map[uuid.UUID]*lane
	stopped bool
}

func New(cfg Config, clock clockwork.Clock, pub Publisher, rec Recorder) *Engine {
	if pub == nil {
		pub = NopPublisher{}
	}
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Engine{
		cfg:   cfg.withDefaults(),
		clock: clock,
		pub:   pub,
		rec:   rec,
		lanes: make(map[uuid.UUID]*lane),
	}
}

// RegisterLot adds a new lot in pending status and returns its initial
// snapshot. Advancing the auction to its next lot is a registration of a
// fresh lot, never a transition of the previous one.
func (e *Engine) RegisterLot(lot Lot) (Snapshot, error) {
	if err := lot.Validate(); err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return Snapshot{}, ErrEngineStopped
	}
	if _, ok := e.lanes[lot.ID]; ok {
		return Snapshot{}, ErrLotAlreadyExists
	}

	l := newLane(lot, e.cfg, e.clock, e.pub, e.rec)
	e.lanes[lot.ID] = l

	log.Info().
		Str("lot_id", lot.ID.String()).
		Str("vehicle", lot.Vehicle.String()).
		Int64("opening_price", lot.OpeningPrice).
		Msg("lot registered")

	return l.Snapshot(), nil
}

// SubmitBid routes one bid to its lot's lane and returns the arbitration
// outcome. Rejections come back as sentinel errors alongside the bid
// record carrying the specific decision.
func (e *Engine) SubmitBid(ctx context.Context, lotID uuid.UUID, req BidRequest) (Bid, error) {
	l, err := e.lane(lotID)
	if err != nil {
		return Bid{}, err
	}
	return l.SubmitBid(ctx, req)
}

// Transition drives one lot's state machine.
func (e *Engine) Transition(ctx context.Context, lotID uuid.UUID, to LotStatus) (Snapshot, error) {
	l, err := e.lane(lotID)
	if err != nil {
		return Snapshot{}, err
	}
	return l.Transition(ctx, to)
}

func (e *Engine) OpenLot(ctx context.Context, lotID uuid.UUID) (Snapshot, error) {
	return e.Transition(ctx, lotID, LotStatusActive)
}

func (e *Engine) PauseLot(ctx context.Context, lotID uuid.UUID) (Snapshot, error) {
	return e.Transition(ctx, lotID, LotStatusPaused)
}

func (e *Engine) ResumeLot(ctx context.Context, lotID uuid.UUID) (Snapshot, error) {
	return e.Transition(ctx, lotID, LotStatusActive)
}

func (e *Engine) CloseLotSold(ctx context.Context, lotID uuid.UUID) (Snapshot, error) {
	return e.Transition(ctx, lotID, LotStatusSold)
}

func (e *Engine) CloseLotUnsold(ctx context.Context, lotID uuid.UUID) (Snapshot, error) {
	return e.Transition(ctx, lotID, LotStatusUnsold)
}

// Snapshot returns the latest consistent view of one lot.
func (e *Engine) Snapshot(lotID uuid.UUID) (Snapshot, error) {
	l, err := e.lane(lotID)
	if err != nil {
		return Snapshot{}, err
	}
	return l.Snapshot(), nil
}

// Bids returns the retained accepted-bid window of one lot.
func (e *Engine) Bids(ctx context.Context, lotID uuid.UUID) ([]Bid, error) {
	l, err := e.lane(lotID)
	if err != nil {
		return nil, err
	}
	return l.Bids(ctx)
}

// Lots lists a snapshot of every registered lot.
func (e *Engine) Lots() []Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(e.lanes))
	for _, l := range e.lanes {
		snaps = append(snaps, l.Snapshot())
	}
	return snaps
}

// Stop shuts down every lane. Pending submissions are answered with
// ErrEngineStopped, never silently dropped.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	lanes := make([]*lane, 0, len(e.lanes))
	for _, l := range e.lanes {
		lanes = append(lanes, l)
	}
	e.mu.Unlock()

	for _, l := range lanes {
		l.Stop()
	}
	log.Info().Int("lots", len(lanes)).Msg("auction engine stopped")
}

func (e *Engine) lane(lotID uuid.UUID) (*lane, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.stopped {
		return nil, ErrEngineStopped
	}
	l, ok := e.lanes[lotID]
	if !ok {
		return nil, ErrLotNotFound
	}
	return l, nil
}
