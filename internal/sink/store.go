package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
)

// Store is the durable side of the auction: every arbitration outcome and
// lifecycle change ends up here, asynchronously. The engine never waits on
// it; retries are the worker queue's job.
type Store interface {
	RecordBid(ctx context.Context, bid engine.Bid) error
	RecordLifecycleEvent(ctx context.Context, lotID uuid.UUID, oldStatus, newStatus engine.LotStatus, version uint64, at time.Time) error
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) RecordBid(ctx context.Context, bid engine.Bid) error {
	const query = `
		INSERT INTO lot_bids (lot_id, bid_id, bidder_id, request_id, amount, decision, resulting_price, version, placed_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		bid.LotID, bid.ID, bid.BidderID, bid.RequestID, bid.Amount, string(bid.Decision), bid.ResultingPrice, bid.Version, bid.PlacedAt)
	if err != nil {
		return fmt.Errorf("failed to record bid: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordLifecycleEvent(ctx context.Context, lotID uuid.UUID, oldStatus, newStatus engine.LotStatus, version uint64, at time.Time) error {
	const query = `
		INSERT INTO lot_lifecycle_events (lot_id, old_status, new_status, version, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`

	_, err := s.pool.Exec(ctx, query, lotID, string(oldStatus), string(newStatus), version, at)
	if err != nil {
		return fmt.Errorf("failed to record lifecycle event: %w", err)
	}
	return nil
}
