package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/rs/zerolog/log"
)

const recordTimeout = 10 * time.Second

// EngineRecorder bridges the engine's fire-and-forget persistence hooks to
// the task queue. Enqueueing happens off the mutation path; delivery and
// retries are the queue's responsibility.
type EngineRecorder struct {
	distributor TaskDistributor
}

func NewEngineRecorder(distributor TaskDistributor) *EngineRecorder {
	return &EngineRecorder{distributor: distributor}
}

func (r *EngineRecorder) RecordBid(bid engine.Bid) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		opts := []asynq.Option{
			asynq.MaxRetry(3),
			asynq.Queue(QueueDefault),
		}
		if err := r.distributor.DistributeTaskRecordBid(ctx, &PayloadRecordBid{Bid: bid}, opts...); err != nil {
			log.Err(err).
				Str("lot_id", bid.LotID.String()).
				Str("bidder_id", bid.BidderID).
				Msg("failed to enqueue bid record task")
		}
	}()
}

func (r *EngineRecorder) RecordLifecycleEvent(lotID uuid.UUID, oldStatus, newStatus engine.LotStatus, version uint64, at time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		opts := []asynq.Option{
			asynq.MaxRetry(3),
			asynq.Queue(QueueCritical),
		}
		err := r.distributor.DistributeTaskRecordLifecycle(ctx, &PayloadRecordLifecycle{
			LotID:      lotID,
			OldStatus:  oldStatus,
			NewStatus:  newStatus,
			Version:    version,
			OccurredAt: at,
		}, opts...)
		if err != nil {
			log.Err(err).
				Str("lot_id", lotID.String()).
				Str("new_status", string(newStatus)).
				Msg("failed to enqueue lifecycle record task")
		}
	}()
}
