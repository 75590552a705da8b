package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/lithammer/shortuuid/v4"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/mazroni9/dasm-live-engine/internal/hub"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMissedPings int
	ResumeTokenTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.MaxMissedPings <= 0 {
		c.MaxMissedPings = 2
	}
	if c.ResumeTokenTTL <= 0 {
		c.ResumeTokenTTL = 15 * time.Minute
	}
	return c
}

// Identity is the resolved result of the connection handshake. It is
// trusted for the lifetime of the connection and re-validated on reconnect.
type Identity struct {
	BidderID string      `json:"bidder_id"`
	Role     engine.Role `json:"role"`
	LotID    uuid.UUID   `json:"lot_id"`
}

// Manager owns the duplex connection lifecycle for every observer:
// handshake bookkeeping, heartbeats, reconnect-with-resume and teardown.
// Auction logic stays in the engine; the manager only moves messages.
type Manager struct {
	cfg       Config
	hub       *hub.Hub
	engine    *engine.Engine
	redis     *redis.Client
	clock     clockwork.Clock
	scheduler gocron.Scheduler

	mu      sync.Mutex
	clients map[string]*client // connection ID -> client
	byToken map[string]string  // resume token -> connection ID
}

func NewManager(cfg Config, h *hub.Hub, eng *engine.Engine, redisClient *redis.Client, clock clockwork.Clock) (*Manager, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create connection sweeper scheduler: %w", err)
	}

	return &Manager{
		cfg:       cfg.withDefaults(),
		hub:       h,
		engine:    eng,
		redis:     redisClient,
		clock:     clock,
		scheduler: scheduler,
		clients:   make(map[string]*client),
		byToken:   make(map[string]string),
	}, nil
}

// Start launches the periodic sweep that tears down connections whose
// heartbeats stopped, freeing their subscription queues.
func (m *Manager) Start() error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(m.cfg.PingInterval),
		gocron.NewTask(func() {
			m.sweepDeadConnections()
		}),
	)
	if err != nil {
		return err
	}

	m.scheduler.Start()
	return nil
}

// Stop shuts the sweeper down and closes every live connection.
func (m *Manager) Stop() error {
	err := m.scheduler.Shutdown()

	m.mu.Lock()
	clients := make([]*client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		c.teardown("server shutting down")
	}
	return err
}

// HandleConnection wires one upgraded websocket into the hub. A non-empty
// resumeToken re-attaches the logical subscription of a previous physical
// connection instead of creating a duplicate; lastVersion is the client's
// last acknowledged state version, used to replay only what it missed.
func (m *Manager) HandleConnection(ctx context.Context, conn *websocket.Conn, identity Identity, resumeToken string, lastVersion uint64) error {
	resumed := false
	if resumeToken != "" {
		stored, err := m.lookupResumeToken(ctx, resumeToken)
		if err != nil {
			return fmt.Errorf("invalid resume token: %w", err)
		}
		// The stored identity wins over whatever the reconnect claims.
		identity = stored
		resumed = true

		// A re-attach replaces the previous physical connection.
		m.mu.Lock()
		if oldID, ok := m.byToken[resumeToken]; ok {
			if old, ok := m.clients[oldID]; ok {
				go old.teardown("replaced by resumed connection")
			}
		}
		m.mu.Unlock()
	} else {
		resumeToken = shortuuid.New()
		if err := m.storeResumeToken(ctx, resumeToken, identity); err != nil {
			return fmt.Errorf("failed to store resume token: %w", err)
		}
	}

	connID := shortuuid.New()

	// A resumed observer already holds state at lastVersion, so its hello
	// carries no snapshot; the hub preloads exactly what it missed (deltas
	// inside the replay window, one resync beyond it) into the queue ahead
	// of any live event. A fresh observer renders the snapshot first and
	// the queue only ever carries events newer than it.
	var helloSnap *engine.Snapshot
	var sub *hub.Subscriber
	var err error
	if resumed {
		sub, err = m.hub.Reattach(identity.LotID, connID, identity.Role, lastVersion)
	} else {
		var snap engine.Snapshot
		snap, sub, err = m.hub.Subscribe(identity.LotID, connID, identity.Role)
		helloSnap = &snap
	}
	if err != nil {
		return err
	}

	c := &client{
		id:          connID,
		resumeToken: resumeToken,
		identity:    identity,
		conn:        conn,
		sub:         sub,
		direct:      make(chan any, directQueueDepth),
		mgr:         m,
	}
	c.lastPong.Store(m.clock.Now().UnixNano())

	m.mu.Lock()
	m.clients[connID] = c
	m.byToken[resumeToken] = connID
	m.mu.Unlock()

	if err = c.sendHello(helloSnap); err != nil {
		c.teardown("handshake write failed")
		return err
	}

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", connID).
		Str("lot_id", identity.LotID.String()).
		Str("bidder_id", identity.BidderID).
		Str("role", string(identity.Role)).
		Bool("resumed", resumed).
		Msg("observer connection established")

	return nil
}

// sweepDeadConnections drops every client that missed too many heartbeats.
func (m *Manager) sweepDeadConnections() {
	deadline := m.clock.Now().Add(-time.Duration(m.cfg.MaxMissedPings) * m.cfg.PongWait)

	m.mu.Lock()
	var dead []*client
	for _, c := range m.clients {
		if time.Unix(0, c.lastPong.Load()).Before(deadline) {
			dead = append(dead, c)
		}
	}
	m.mu.Unlock()

	for _, c := range dead {
		log.Warn().
			Str("connection_id", c.id).
			Str("lot_id", c.identity.LotID.String()).
			Msg("connection missed heartbeats, tearing down")
		c.teardown("missed heartbeats")
	}
}

func (m *Manager) detach(c *client) {
	m.mu.Lock()
	delete(m.clients, c.id)
	if current, ok := m.byToken[c.resumeToken]; ok && current == c.id {
		delete(m.byToken, c.resumeToken)
	}
	m.mu.Unlock()

	m.hub.Unsubscribe(c.identity.LotID, c.id)
}

func resumeKey(token string) string {
	return fmt.Sprintf("resume:%s", token)
}

func (m *Manager) storeResumeToken(ctx context.Context, token string, identity Identity) error {
	payload, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return m.redis.Set(ctx, resumeKey(token), payload, m.cfg.ResumeTokenTTL).Err()
}

func (m *Manager) lookupResumeToken(ctx context.Context, token string) (Identity, error) {
	payload, err := m.redis.Get(ctx, resumeKey(token)).Bytes()
	if err != nil {
		return Identity{}, err
	}

	var identity Identity
	if err = json.Unmarshal(payload, &identity); err != nil {
		return Identity{}, err
	}

	// Keep the token alive while the observer keeps coming back.
	if err = m.redis.Expire(ctx, resumeKey(token), m.cfg.ResumeTokenTTL).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to refresh resume token TTL")
	}
	return identity, nil
}
