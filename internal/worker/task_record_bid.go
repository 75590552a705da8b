package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/rs/zerolog/log"
)

type PayloadRecordBid struct {
	Bid engine.Bid `json:"bid"`
}

// DistributeTaskRecordBid enqueues the durable record of one arbitration
// outcome. Accepted and rejected bids both go through here for audit.
func (distributor *RedisTaskDistributor) DistributeTaskRecordBid(
	ctx context.Context,
	payload *PayloadRecordBid,
	opts ...asynq.Option,
) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskRecordBid, jsonPayload, opts...)
	info, err := distributor.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Debug().
		Str("type", task.Type()).
		Str("lot_id", payload.Bid.LotID.String()).
		Str("decision", string(payload.Bid.Decision)).
		Str("queue", info.Queue).
		Msg("bid record task enqueued")

	return nil
}

func (processor *RedisTaskProcessor) ProcessTaskRecordBid(
	ctx context.Context,
	task *asynq.Task,
) error {
	var payload PayloadRecordBid
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", asynq.SkipRetry)
	}

	if err := processor.store.RecordBid(ctx, payload.Bid); err != nil {
		return err
	}

	log.Debug().
		Str("lot_id", payload.Bid.LotID.String()).
		Str("bidder_id", payload.Bid.BidderID).
		Int64("amount", payload.Bid.Amount).
		Str("decision", string(payload.Bid.Decision)).
		Msg("bid recorded")

	return nil
}
