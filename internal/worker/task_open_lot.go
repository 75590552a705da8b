package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/rs/zerolog/log"
)

type PayloadOpenLot struct {
	LotID uuid.UUID `json:"lot_id"`
}

// DistributeTaskOpenLot schedules the opening of a pending lot.
func (distributor *RedisTaskDistributor) DistributeTaskOpenLot(
	ctx context.Context,
	payload *PayloadOpenLot,
	opts ...asynq.Option,
) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	taskID := fmt.Sprintf("lot:open:%s", payload.LotID.String())
	task := asynq.NewTask(TaskOpenLot, jsonPayload, append(opts, asynq.TaskID(taskID))...)
	info, err := distributor.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Info().
		Str("type", task.Type()).
		Str("task_id", taskID).
		Str("lot_id", payload.LotID.String()).
		Str("queue", info.Queue).
		Int("max_retry", info.MaxRetry).
		Msg("lot open task scheduled")

	return nil
}

// ProcessTaskOpenLot drives the pending -> active transition. The engine's
// state machine does the validation; a lot that already moved on is skipped.
func (processor *RedisTaskProcessor) ProcessTaskOpenLot(
	ctx context.Context,
	task *asynq.Task,
) error {
	var payload PayloadOpenLot
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", asynq.SkipRetry)
	}

	log.Info().
		Str("lot_id", payload.LotID.String()).
		Msg("processing lot open task")

	snap, err := processor.engine.OpenLot(ctx, payload.LotID)
	if err != nil {
		if errors.Is(err, engine.ErrLotNotFound) {
			log.Info().
				Str("lot_id", payload.LotID.String()).
				Msg("lot not found, skipping task")
			return nil
		}
		if errors.Is(err, engine.ErrInvalidTransition) {
			log.Info().
				Str("lot_id", payload.LotID.String()).
				Msg("lot is no longer pending, skipping task")
			return nil
		}
		return fmt.Errorf("failed to open lot: %w", err)
	}

	log.Info().
		Str("lot_id", payload.LotID.String()).
		Uint64("version", snap.Version).
		Msg("lot opened")

	return nil
}
