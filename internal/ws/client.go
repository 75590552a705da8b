package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/mazroni9/dasm-live-engine/internal/hub"
	"github.com/rs/zerolog/log"
)

const directQueueDepth = 16

// clientMessage is the closed set of inbound frames an observer may send.
type clientMessage struct {
	Type        string `json:"type"` // ack | bid | resync
	Version     uint64 `json:"version,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	LastVersion uint64 `json:"last_version,omitempty"`
}

// helloMessage opens every connection. A fresh observer gets the snapshot
// to render first; a resumed one gets none, because the hub queue already
// starts with whatever it missed.
type helloMessage struct {
	Type         string           `json:"type"` // always "hello"
	ConnectionID string           `json:"connection_id"`
	ResumeToken  string           `json:"resume_token"`
	Snapshot     *engine.Snapshot `json:"snapshot,omitempty"`
}

type errorMessage struct {
	Type      string `json:"type"` // always "error"
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// client is one physical observer connection. The hub queue carries the
// shared ordered stream; the direct queue carries frames addressed only to
// this connection (bid outcomes, requested resyncs).
type client struct {
	id          string
	resumeToken string
	identity    Identity
	conn        *websocket.Conn
	sub         *hub.Subscriber
	direct      chan any
	mgr         *Manager
	lastPong    atomic.Int64
	closed      sync.Once
}

func (c *client) sendHello(snap *engine.Snapshot) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.mgr.cfg.WriteWait))
	return c.conn.WriteJSON(helloMessage{
		Type:         "hello",
		ConnectionID: c.id,
		ResumeToken:  c.resumeToken,
		Snapshot:     snap,
	})
}

// enqueueDirect never blocks: if the private queue is full the frame is
// dropped and the client recovers through the ordered stream or a resync.
func (c *client) enqueueDirect(frame any) {
	select {
	case c.direct <- frame:
	default:
		log.Warn().
			Str("connection_id", c.id).
			Msg("direct queue full, dropping frame")
	}
}

// writePump is the only writer on the connection. It merges the shared
// ordered stream with this connection's private frames and keeps the
// heartbeat going.
func (c *client) writePump() {
	ticker := time.NewTicker(c.mgr.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.teardown("write pump exited")
	}()

	for {
		select {
		case evt, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(c.mgr.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}

		case frame := <-c.direct:
			c.conn.SetWriteDeadline(time.Now().Add(c.mgr.cfg.WriteWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.mgr.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles inbound frames and liveness. Exiting tears the
// connection down.
func (c *client) readPump() {
	defer c.teardown("read pump exited")

	c.conn.SetReadDeadline(time.Now().Add(c.mgr.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.lastPong.Store(c.mgr.clock.Now().UnixNano())
		c.conn.SetReadDeadline(time.Now().Add(c.mgr.cfg.PongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.id).Msg("websocket read failed")
			}
			return
		}

		var msg clientMessage
		if err = json.Unmarshal(payload, &msg); err != nil {
			log.Warn().Err(err).Str("connection_id", c.id).Msg("discarding malformed client frame")
			continue
		}

		switch msg.Type {
		case "ack":
			c.sub.Ack(msg.Version)
		case "bid":
			c.handleBid(msg)
		case "resync":
			c.handleResync(msg)
		default:
			log.Warn().
				Str("connection_id", c.id).
				Str("type", msg.Type).
				Msg("discarding unknown client frame type")
		}
	}
}

// handleBid submits through the same arbiter entry point as every other
// source and answers this connection synchronously with the outcome.
func (c *client) handleBid(msg clientMessage) {
	if c.identity.Role == engine.RoleViewer {
		c.enqueueDirect(errorMessage{Type: "error", Error: "viewer connections cannot bid", RequestID: msg.RequestID})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.mgr.cfg.WriteWait)
	defer cancel()

	bid, err := c.mgr.engine.SubmitBid(ctx, c.identity.LotID, engine.BidRequest{
		BidderID:        c.identity.BidderID,
		Amount:          msg.Amount,
		RequestID:       msg.RequestID,
		ClientTimestamp: time.Now(),
	})
	if err != nil && !bid.Accepted() && bid.Decision == "" {
		// Nothing was arbitrated: lot unknown, queue saturated or the
		// engine is stopping. Busy is safe for the client to retry.
		log.Warn().Err(err).Str("connection_id", c.id).Msg("bid submission failed")
		c.enqueueDirect(errorMessage{Type: "error", Error: err.Error(), RequestID: msg.RequestID})
		return
	}

	evtType := engine.EventTypeBidAccepted
	if !bid.Accepted() {
		evtType = engine.EventTypeBidRejected
	}
	c.enqueueDirect(engine.Event{
		Type:    evtType,
		LotID:   c.identity.LotID,
		Version: bid.Version,
		At:      bid.PlacedAt,
		Bid:     &bid,
	})
}

func (c *client) handleResync(msg clientMessage) {
	deltas, err := c.mgr.hub.Resume(c.identity.LotID, c.identity.Role, msg.LastVersion)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", c.id).Msg("resync request failed")
		c.enqueueDirect(errorMessage{Type: "error", Error: "resync failed"})
		return
	}
	for _, evt := range deltas {
		c.enqueueDirect(evt)
	}
}

func (c *client) teardown(reason string) {
	c.closed.Do(func() {
		c.mgr.detach(c)
		c.conn.Close()
		log.Info().
			Str("connection_id", c.id).
			Str("reason", reason).
			Msg("observer connection closed")
	})
}
