package worker

import (
	"context"

	"github.com/hibiken/asynq"
)

const (
	TaskRecordBid       = "bid:record"
	TaskRecordLifecycle = "lot:record_lifecycle"
	TaskOpenLot         = "lot:open"
)

/*
This file will contain the codes to create tasks and distributes them to the Redis queue.
*/

type TaskDistributor interface {
	DistributeTaskRecordBid(ctx context.Context, payload *PayloadRecordBid, opts ...asynq.Option) error
	DistributeTaskRecordLifecycle(ctx context.Context, payload *PayloadRecordLifecycle, opts ...asynq.Option) error
	DistributeTaskOpenLot(ctx context.Context, payload *PayloadOpenLot, opts ...asynq.Option) error
}

type RedisTaskDistributor struct {
	client *asynq.Client // client sends tasks to redis queue.
}

func NewTaskDistributor(redisOpt asynq.RedisClientOpt) TaskDistributor {
	client := asynq.NewClient(redisOpt)

	return &RedisTaskDistributor{
		client: client,
	}
}
