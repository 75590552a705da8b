package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/mazroni9/dasm-live-engine/api"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/mazroni9/dasm-live-engine/internal/hub"
	"github.com/mazroni9/dasm-live-engine/internal/sink"
	"github.com/mazroni9/dasm-live-engine/internal/util"
	"github.com/mazroni9/dasm-live-engine/internal/worker"
	"github.com/mazroni9/dasm-live-engine/internal/ws"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configurations
	config, err := util.LoadConfig("./app.env")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config file 😣")
	}

	log.Info().Msg("configurations loaded successfully ✅")

	// Create connection pool
	connPool, err := pgxpool.New(context.Background(), config.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to validate db connection string 😣")
	}

	pingErr := connPool.Ping(context.Background())
	if pingErr != nil {
		log.Fatal().Err(pingErr).Msg("failed to connect to db 😣")
	}
	log.Info().Msg("connected to db ✅")

	store := sink.NewPostgresStore(connPool)

	redisDb := redis.NewClient(&redis.Options{
		Addr:     config.RedisServerAddress,
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	redisOpt := asynq.RedisClientOpt{
		Addr: config.RedisServerAddress,
	}

	taskDistributor := worker.NewTaskDistributor(redisOpt)
	taskInspector := worker.NewTaskInspector(redisOpt)
	recorder := worker.NewEngineRecorder(taskDistributor)

	clock := clockwork.NewRealClock()

	// The engine publishes into the hub; the hub reads snapshots back out
	// of the engine. The closure breaks that construction cycle.
	var eng *engine.Engine
	liveHub := hub.New(hub.Config{
		QueueDepth:   config.SubscriberQueueSize,
		ReplayWindow: config.EventReplayWindow,
	}, hub.SourceFunc(func(lotID uuid.UUID) (engine.Snapshot, error) {
		return eng.Snapshot(lotID)
	}))

	eng = engine.New(engine.Config{
		QueueDepth:     config.BidQueueDepth,
		SubmitTimeout:  config.BidSubmitTimeout,
		HistoryWindow:  config.BidHistoryWindow,
		IdleCloseAfter: config.LotIdleCloseAfter,
	}, clock, liveHub, recorder)

	connManager, err := ws.NewManager(ws.Config{
		PongWait:       config.PongWait,
		PingInterval:   config.PingInterval,
		MaxMissedPings: config.MaxMissedPings,
		ResumeTokenTTL: config.ResumeTokenTTL,
	}, liveHub, eng, redisDb, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create connection manager 😣")
	}

	if err = connManager.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start connection manager 😣")
	}

	go runTaskProcessor(redisOpt, store, eng)

	runHTTPServer(&config, eng, liveHub, connManager, taskDistributor, taskInspector)
}

func runTaskProcessor(redisOpt asynq.RedisClientOpt, store sink.Store, eng *engine.Engine) {
	taskProcessor := worker.NewRedisTaskProcessor(redisOpt, store, eng)
	log.Info().Msg("task processor started ✅")

	err := taskProcessor.Start()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start task processor 😣")
	}
}

func runHTTPServer(config *util.Config, eng *engine.Engine, liveHub *hub.Hub, connManager *ws.Manager, taskDistributor worker.TaskDistributor, taskInspector worker.TaskInspector) {
	server, err := api.NewServer(config, eng, liveHub, connManager, taskDistributor, taskInspector)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create HTTP server 😣")
	}

	err = server.Start(config.HTTPServerAddress)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start HTTP server 😣")
	}
}
