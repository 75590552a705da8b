package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type cmdKind int

const (
	cmdBid cmdKind = iota
	cmdTransition
	cmdHistory
)

type command struct {
	kind  cmdKind
	bid   BidRequest
	to    LotStatus
	reply chan cmdResult
}

type cmdResult struct {
	bid  Bid
	bids []Bid
	snap Snapshot
	err  error
}

// lane is the single-writer serialization point for one lot. All mutations
// (bids and lifecycle transitions) are funneled through its command channel
// and applied by exactly one goroutine, so validation-and-apply is atomic
// per lot without any locking. Readers get consistent snapshots through an
// atomic pointer that is only swapped by the lane goroutine.
type lane struct {
	lot   Lot
	cfg   Config
	clock clockwork.Clock
	pub   Publisher
	rec   Recorder

	cmds chan command
	quit chan struct{}
	done chan struct{}
	stop sync.Once

	snap atomic.Pointer[Snapshot]

	// Everything below is owned by the run goroutine.
	status         LotStatus
	currentPrice   int64
	version        uint64
	nextBidID      int64
	totalBids      int32
	leadingBidder  string
	history        []Bid
	seenRequests   map[string]struct{}
	requestOrder   []string
	idleTimer      clockwork.Timer
	lastActivityAt time.Time
}

const seenRequestWindow = 1024

func newLane(lot Lot, cfg Config, clock clockwork.Clock, pub Publisher, rec Recorder) *lane {
	l := &lane{
		lot:          lot,
		cfg:          cfg,
		clock:        clock,
		pub:          pub,
		rec:          rec,
		cmds:         make(chan command, cfg.QueueDepth),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		status:       LotStatusPending,
		currentPrice: lot.OpeningPrice,
		nextBidID:    1,
		seenRequests: make(map[string]struct{}),
	}
	l.publishSnapshot()

	go l.run()
	return l
}

// Snapshot returns the latest consistent view of the lot. Price, status and
// version always belong to the same mutation.
func (l *lane) Snapshot() Snapshot {
	return *l.snap.Load()
}

// SubmitBid enqueues a bid for arbitration and waits for its outcome. The
// wait is bounded: if the mutation queue is saturated the caller gets
// ErrBusy instead of blocking indefinitely.
func (l *lane) SubmitBid(ctx context.Context, req BidRequest) (Bid, error) {
	cmd := command{kind: cmdBid, bid: req, reply: make(chan cmdResult, 1)}

	select {
	case l.cmds <- cmd:
	case <-l.done:
		return Bid{}, ErrEngineStopped
	case <-ctx.Done():
		return Bid{}, ctx.Err()
	case <-l.clock.After(l.cfg.SubmitTimeout):
		return Bid{}, ErrBusy
	}

	select {
	case res := <-cmd.reply:
		return res.bid, res.err
	case <-l.done:
		return Bid{}, ErrEngineStopped
	}
}

// Transition drives the lot's state machine. Invalid transitions are
// reported to the caller and leave the lot untouched.
func (l *lane) Transition(ctx context.Context, to LotStatus) (Snapshot, error) {
	cmd := command{kind: cmdTransition, to: to, reply: make(chan cmdResult, 1)}

	select {
	case l.cmds <- cmd:
	case <-l.done:
		return Snapshot{}, ErrEngineStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-l.clock.After(l.cfg.SubmitTimeout):
		return Snapshot{}, ErrBusy
	}

	select {
	case res := <-cmd.reply:
		return res.snap, res.err
	case <-l.done:
		return Snapshot{}, ErrEngineStopped
	}
}

// Bids returns the retained window of accepted bids, newest last.
func (l *lane) Bids(ctx context.Context) ([]Bid, error) {
	cmd := command{kind: cmdHistory, reply: make(chan cmdResult, 1)}

	select {
	case l.cmds <- cmd:
	case <-l.done:
		return nil, ErrEngineStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.clock.After(l.cfg.SubmitTimeout):
		return nil, ErrBusy
	}

	select {
	case res := <-cmd.reply:
		return res.bids, res.err
	case <-l.done:
		return nil, ErrEngineStopped
	}
}

func (l *lane) Stop() {
	l.stop.Do(func() {
		close(l.quit)
	})
	<-l.done
}

func (l *lane) run() {
	defer close(l.done)

	for {
		var idleC <-chan time.Time
		if l.idleTimer != nil {
			idleC = l.idleTimer.Chan()
		}

		select {
		case cmd := <-l.cmds:
			l.handle(cmd)
		case <-idleC:
			l.autoClose()
		case <-l.quit:
			l.drain()
			return
		}
	}
}

// drain answers every queued command so no caller is left waiting.
func (l *lane) drain() {
	for {
		select {
		case cmd := <-l.cmds:
			cmd.reply <- cmdResult{err: ErrEngineStopped}
		default:
			return
		}
	}
}

func (l *lane) handle(cmd command) {
	switch cmd.kind {
	case cmdBid:
		bid := l.applyBid(cmd.bid)
		cmd.reply <- cmdResult{bid: bid, snap: l.Snapshot(), err: bid.RejectionError()}
	case cmdTransition:
		snap, err := l.applyTransition(cmd.to)
		cmd.reply <- cmdResult{snap: snap, err: err}
	case cmdHistory:
		bids := make([]Bid, len(l.history))
		copy(bids, l.history)
		cmd.reply <- cmdResult{bids: bids}
	}
}

// applyBid runs the bid validation ladder: first failing rule wins, and
// the outcome is recorded even on rejection so the audit trail covers
// every submission. Re-validation against the current price happens
// implicitly because bids are applied one at a time.
func (l *lane) applyBid(req BidRequest) Bid {
	now := l.clock.Now()
	bid := Bid{
		LotID:     l.lot.ID,
		BidderID:  req.BidderID,
		RequestID: req.RequestID,
		Amount:    req.Amount,
		PlacedAt:  now,
	}

	switch {
	case l.status != LotStatusActive:
		bid.Decision = DecisionRejectedLotClosed
	case req.RequestID != "" && l.requestSeen(req.RequestID):
		bid.Decision = DecisionRejectedStale
	case req.Amount < l.minimumNextBid():
		bid.Decision = DecisionRejectedBelowIncrement
	default:
		bid.Decision = DecisionAccepted
		bid.ID = l.nextBidID
		l.nextBidID++
		l.version++
		l.currentPrice = req.Amount
		l.totalBids++
		l.leadingBidder = req.BidderID
		l.lastActivityAt = now
		l.rememberRequest(req.RequestID)
		l.armIdleTimer()
	}
	bid.ResultingPrice = l.currentPrice
	bid.Version = l.version

	if bid.Accepted() {
		l.appendHistory(bid)
		l.publishSnapshot()
		l.pub.Publish(Event{
			Type:    EventTypeBidAccepted,
			LotID:   l.lot.ID,
			Version: l.version,
			At:      now,
			Bid:     &bid,
		}, l.Snapshot())

		log.Info().
			Str("lot_id", l.lot.ID.String()).
			Str("bidder_id", bid.BidderID).
			Int64("amount", bid.Amount).
			Uint64("version", l.version).
			Msg("bid accepted")
	}

	// Every arbitration outcome is persisted, rejections included.
	l.rec.RecordBid(bid)

	return bid
}

func (l *lane) applyTransition(to LotStatus) (Snapshot, error) {
	if !canTransition(l.status, to) {
		log.Warn().
			Str("lot_id", l.lot.ID.String()).
			Str("from", string(l.status)).
			Str("to", string(to)).
			Msg("rejected lot status transition")
		return l.Snapshot(), ErrInvalidTransition
	}

	now := l.clock.Now()
	from := l.status
	l.status = to
	l.version++

	switch to {
	case LotStatusActive:
		// Opening initializes the price floor; resuming keeps it.
		if from == LotStatusPending {
			l.currentPrice = l.lot.OpeningPrice
		}
		l.lastActivityAt = now
		l.armIdleTimer()
	default:
		l.disarmIdleTimer()
	}

	l.publishSnapshot()
	l.pub.Publish(Event{
		Type:      EventTypeLifecycleChanged,
		LotID:     l.lot.ID,
		Version:   l.version,
		At:        now,
		OldStatus: from,
		NewStatus: to,
	}, l.Snapshot())
	l.rec.RecordLifecycleEvent(l.lot.ID, from, to, l.version, now)

	log.Info().
		Str("lot_id", l.lot.ID.String()).
		Str("old_status", string(from)).
		Str("new_status", string(to)).
		Uint64("version", l.version).
		Msg("lot status changed")

	return l.Snapshot(), nil
}

// autoClose ends an active lot that has seen no accepted bid for the
// configured idle window. Sold when the reserve floor is met, unsold
// otherwise. It goes through the same FSM path as a manual close.
func (l *lane) autoClose() {
	if l.status != LotStatusActive || l.cfg.IdleCloseAfter <= 0 {
		return
	}

	elapsed := l.clock.Now().Sub(l.lastActivityAt)
	if elapsed < l.cfg.IdleCloseAfter {
		// Stale timer fire; re-arm for the remainder.
		l.idleTimer.Reset(l.cfg.IdleCloseAfter - elapsed)
		return
	}

	to := LotStatusUnsold
	if l.totalBids > 0 && (l.lot.ReserveFloor == nil || l.currentPrice >= *l.lot.ReserveFloor) {
		to = LotStatusSold
	}

	log.Info().
		Str("lot_id", l.lot.ID.String()).
		Dur("idle", elapsed).
		Str("closing_as", string(to)).
		Msg("closing idle lot")

	if _, err := l.applyTransition(to); err != nil {
		log.Error().Err(err).Str("lot_id", l.lot.ID.String()).Msg("failed to auto-close lot")
	}
}

func (l *lane) armIdleTimer() {
	if l.cfg.IdleCloseAfter <= 0 {
		return
	}
	if l.idleTimer == nil {
		l.idleTimer = l.clock.NewTimer(l.cfg.IdleCloseAfter)
		return
	}
	l.idleTimer.Reset(l.cfg.IdleCloseAfter)
}

func (l *lane) disarmIdleTimer() {
	if l.idleTimer != nil {
		l.idleTimer.Stop()
	}
}

func (l *lane) minimumNextBid() int64 {
	return l.currentPrice + l.lot.increment(l.currentPrice)
}

func (l *lane) requestSeen(requestID string) bool {
	_, ok := l.seenRequests[requestID]
	return ok
}

func (l *lane) rememberRequest(requestID string) {
	if requestID == "" {
		return
	}
	l.seenRequests[requestID] = struct{}{}
	l.requestOrder = append(l.requestOrder, requestID)
	if len(l.requestOrder) > seenRequestWindow {
		delete(l.seenRequests, l.requestOrder[0])
		l.requestOrder = l.requestOrder[1:]
	}
}

func (l *lane) appendHistory(bid Bid) {
	l.history = append(l.history, bid)
	if len(l.history) > l.cfg.HistoryWindow {
		l.history = l.history[len(l.history)-l.cfg.HistoryWindow:]
	}
}

func (l *lane) publishSnapshot() {
	snap := Snapshot{
		LotID:           l.lot.ID,
		Vehicle:         l.lot.Vehicle,
		Status:          l.status,
		OpeningPrice:    l.lot.OpeningPrice,
		CurrentPrice:    l.currentPrice,
		MinimumNextBid:  l.minimumNextBid(),
		ReserveFloor:    l.lot.ReserveFloor,
		ReserveCeiling:  l.lot.ReserveCeiling,
		LeadingBidderID: l.leadingBidder,
		TotalBids:       l.totalBids,
		Version:         l.version,
	}
	l.snap.Store(&snap)
}
