package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/rs/zerolog/log"
)

type PayloadRecordLifecycle struct {
	LotID      uuid.UUID        `json:"lot_id"`
	OldStatus  engine.LotStatus `json:"old_status"`
	NewStatus  engine.LotStatus `json:"new_status"`
	Version    uint64           `json:"version"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// DistributeTaskRecordLifecycle enqueues the durable record of one lot
// status transition.
func (distributor *RedisTaskDistributor) DistributeTaskRecordLifecycle(
	ctx context.Context,
	payload *PayloadRecordLifecycle,
	opts ...asynq.Option,
) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskRecordLifecycle, jsonPayload, opts...)
	info, err := distributor.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Debug().
		Str("type", task.Type()).
		Str("lot_id", payload.LotID.String()).
		Str("old_status", string(payload.OldStatus)).
		Str("new_status", string(payload.NewStatus)).
		Str("queue", info.Queue).
		Msg("lifecycle record task enqueued")

	return nil
}

func (processor *RedisTaskProcessor) ProcessTaskRecordLifecycle(
	ctx context.Context,
	task *asynq.Task,
) error {
	var payload PayloadRecordLifecycle
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", asynq.SkipRetry)
	}

	if err := processor.store.RecordLifecycleEvent(ctx, payload.LotID, payload.OldStatus, payload.NewStatus, payload.Version, payload.OccurredAt); err != nil {
		return err
	}

	log.Debug().
		Str("lot_id", payload.LotID.String()).
		Str("old_status", string(payload.OldStatus)).
		Str("new_status", string(payload.NewStatus)).
		Uint64("version", payload.Version).
		Msg("lifecycle event recorded")

	return nil
}
