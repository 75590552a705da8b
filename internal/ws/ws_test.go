package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/mazroni9/dasm-live-engine/internal/hub"
	"github.com/mazroni9/dasm-live-engine/internal/util"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// wsFrame is the union of every frame shape the server writes, so tests
// can decode anything that arrives.
type wsFrame struct {
	Type         string           `json:"type"`
	ConnectionID string           `json:"connection_id"`
	ResumeToken  string           `json:"resume_token"`
	Snapshot     *engine.Snapshot `json:"snapshot"`
	LotID        uuid.UUID        `json:"lot_id"`
	Version      uint64           `json:"version"`
	Bid          *engine.Bid      `json:"bid"`
	Error        string           `json:"error"`
	RequestID    string           `json:"request_id"`
}

type testStack struct {
	engine *engine.Engine
	hub    *hub.Hub
	mgr    *Manager
	clock  *clockwork.FakeClock
	server *httptest.Server
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var eng *engine.Engine
	h := hub.New(hub.Config{}, hub.SourceFunc(func(lotID uuid.UUID) (engine.Snapshot, error) {
		return eng.Snapshot(lotID)
	}))
	eng = engine.New(engine.Config{}, clockwork.NewRealClock(), h, nil)
	t.Cleanup(eng.Stop)

	clock := clockwork.NewFakeClock()
	mgr, err := NewManager(Config{PongWait: time.Hour, PingInterval: time.Hour}, h, eng, redisClient, clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Stop() })

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lotID, err := uuid.Parse(r.URL.Query().Get("lot_id"))
		if err != nil {
			http.Error(w, "invalid lot_id", http.StatusBadRequest)
			return
		}
		identity := Identity{
			BidderID: r.URL.Query().Get("bidder"),
			Role:     engine.Role(r.URL.Query().Get("role")),
			LotID:    lotID,
		}
		if !identity.Role.Valid() {
			identity.Role = engine.RoleViewer
		}
		var lastVersion uint64
		if raw := r.URL.Query().Get("last_version"); raw != "" {
			lastVersion, _ = strconv.ParseUint(raw, 10, 64)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if err = mgr.HandleConnection(r.Context(), conn, identity, r.URL.Query().Get("resume"), lastVersion); err != nil {
			conn.Close()
		}
	}))
	t.Cleanup(server.Close)

	return &testStack{engine: eng, hub: h, mgr: mgr, clock: clock, server: server}
}

// openLot registers an active lot with a reserve floor of 90,000.
func (s *testStack) openLot(t *testing.T) uuid.UUID {
	t.Helper()

	lot := engine.Lot{
		ID:             uuid.New(),
		Vehicle:        engine.VehicleSnapshot{Make: "Nissan", Model: "Patrol", Year: 2022, Mileage: 12000},
		SellerID:       "seller-1",
		OpeningPrice:   85_000,
		ReserveFloor:   util.Int64Pointer(90_000),
		IncrementMode:  engine.IncrementModeAbsolute,
		IncrementValue: 1_000,
	}
	_, err := s.engine.RegisterLot(lot)
	require.NoError(t, err)
	_, err = s.engine.OpenLot(context.Background(), lot.ID)
	require.NoError(t, err)
	return lot.ID
}

func (s *testStack) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *testStack) submitBid(t *testing.T, lotID uuid.UUID, bidderID string, amount int64) engine.Bid {
	t.Helper()

	bid, err := s.engine.SubmitBid(context.Background(), lotID, engine.BidRequest{BidderID: bidderID, Amount: amount})
	require.NoError(t, err)
	return bid
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f wsFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHandshakeHelloAndLiveEvents(t *testing.T) {
	rq := require.New(t)
	s := newTestStack(t)
	lotID := s.openLot(t)

	conn := s.dial(t, "lot_id="+lotID.String()+"&role=viewer")

	hello := readFrame(t, conn)
	rq.Equal("hello", hello.Type)
	rq.NotEmpty(hello.ConnectionID)
	rq.NotEmpty(hello.ResumeToken)
	rq.NotNil(hello.Snapshot)
	rq.EqualValues(1, hello.Snapshot.Version)
	rq.Nil(hello.Snapshot.ReserveFloor) // redacted for viewers

	s.submitBid(t, lotID, "alice", 86_000)
	evt := readFrame(t, conn)
	rq.Equal(string(engine.EventTypeBidAccepted), evt.Type)
	rq.EqualValues(2, evt.Version)
	rq.NotNil(evt.Bid)
	rq.EqualValues(86_000, evt.Bid.Amount)
}

func TestHandshakeAuctioneerSeesReserves(t *testing.T) {
	rq := require.New(t)
	s := newTestStack(t)
	lotID := s.openLot(t)

	conn := s.dial(t, "lot_id="+lotID.String()+"&role=auctioneer&bidder=mod-1")

	hello := readFrame(t, conn)
	rq.Equal("hello", hello.Type)
	rq.NotNil(hello.Snapshot)
	rq.NotNil(hello.Snapshot.ReserveFloor)
}

func TestViewerCannotBid(t *testing.T) {
	rq := require.New(t)
	s := newTestStack(t)
	lotID := s.openLot(t)

	conn := s.dial(t, "lot_id="+lotID.String()+"&role=viewer")
	readFrame(t, conn) // hello

	rq.NoError(conn.WriteJSON(map[string]any{"type": "bid", "amount": 86_000, "request_id": "r-1"}))

	frame := readFrame(t, conn)
	rq.Equal("error", frame.Type)
	rq.Contains(frame.Error, "viewer")
	rq.Equal("r-1", frame.RequestID)

	snap, err := s.engine.Snapshot(lotID)
	rq.NoError(err)
	rq.EqualValues(85_000, snap.CurrentPrice)
}

func TestBidThroughSocket(t *testing.T) {
	rq := require.New(t)
	s := newTestStack(t)
	lotID := s.openLot(t)

	conn := s.dial(t, "lot_id="+lotID.String()+"&role=bidder&bidder=alice")
	readFrame(t, conn) // hello

	rq.NoError(conn.WriteJSON(map[string]any{"type": "bid", "amount": 86_000, "request_id": "r-1"}))

	// The outcome arrives both as the private reply and through the
	// shared stream; both carry the real version of the acceptance.
	frame := readFrame(t, conn)
	rq.Equal(string(engine.EventTypeBidAccepted), frame.Type)
	rq.EqualValues(2, frame.Version)
	rq.NotNil(frame.Bid)
	rq.Equal("alice", frame.Bid.BidderID)
	rq.EqualValues(2, frame.Bid.Version)
}

func TestResumeReplaysOnlyMissedDeltas(t *testing.T) {
	rq := require.New(t)
	s := newTestStack(t)
	lotID := s.openLot(t)

	conn := s.dial(t, "lot_id="+lotID.String()+"&role=bidder&bidder=alice")
	hello := readFrame(t, conn)
	rq.NotNil(hello.Snapshot) // fresh connections render a snapshot first
	token := hello.ResumeToken

	s.submitBid(t, lotID, "bob", 86_000)
	evt := readFrame(t, conn)
	rq.EqualValues(2, evt.Version)

	conn.Close()

	// Missed while away.
	s.submitBid(t, lotID, "bob", 87_000)
	s.submitBid(t, lotID, "bob", 88_000)

	// The reconnect claims viewer; the identity pinned to the token wins.
	resumed := s.dial(t, "lot_id="+lotID.String()+"&role=viewer&resume="+token+"&last_version=2")

	hello = readFrame(t, resumed)
	rq.Equal("hello", hello.Type)
	rq.Equal(token, hello.ResumeToken)
	rq.Nil(hello.Snapshot) // only the missed deltas are replayed

	for want := uint64(3); want <= 4; want++ {
		evt = readFrame(t, resumed)
		rq.Equal(string(engine.EventTypeBidAccepted), evt.Type)
		rq.Equal(want, evt.Version)
	}

	// Live events line up strictly after the replayed deltas.
	s.submitBid(t, lotID, "bob", 89_000)
	evt = readFrame(t, resumed)
	rq.EqualValues(5, evt.Version)

	// The pinned bidder identity can still bid.
	rq.NoError(resumed.WriteJSON(map[string]any{"type": "bid", "amount": 90_000, "request_id": "r-after-resume"}))
	evt = readFrame(t, resumed)
	rq.Equal(string(engine.EventTypeBidAccepted), evt.Type)
	rq.EqualValues(6, evt.Version)
	rq.Equal("alice", evt.Bid.BidderID)
}

func TestReattachReplacesOldConnection(t *testing.T) {
	rq := require.New(t)
	s := newTestStack(t)
	lotID := s.openLot(t)

	conn := s.dial(t, "lot_id="+lotID.String()+"&role=bidder&bidder=alice")
	hello := readFrame(t, conn)
	token := hello.ResumeToken

	resumed := s.dial(t, "lot_id="+lotID.String()+"&resume="+token+"&last_version=1")
	hello = readFrame(t, resumed)
	rq.Equal("hello", hello.Type)

	// The logical subscription moved; the old physical connection dies
	// instead of duplicating delivery.
	rq.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	rq.Error(err)

	rq.Eventually(func() bool {
		return s.hub.SubscriberCount(lotID) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweepTearsDownDeadConnections(t *testing.T) {
	rq := require.New(t)
	s := newTestStack(t)
	lotID := s.openLot(t)

	conn := s.dial(t, "lot_id="+lotID.String()+"&role=viewer")
	readFrame(t, conn) // hello
	rq.Equal(1, s.hub.SubscriberCount(lotID))

	// No pong ever arrives; once the heartbeat budget lapses the sweep
	// frees the subscription.
	s.clock.Advance(3 * time.Hour)
	s.mgr.sweepDeadConnections()

	rq.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	rq.Error(err)

	rq.Eventually(func() bool {
		return s.hub.SubscriberCount(lotID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidResumeTokenRejected(t *testing.T) {
	rq := require.New(t)
	s := newTestStack(t)
	lotID := s.openLot(t)

	conn := s.dial(t, "lot_id="+lotID.String()+"&resume=no-such-token&last_version=1")

	// The server refuses the handshake; the socket closes without a hello.
	rq.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	rq.Error(err)
	rq.Zero(s.hub.SubscriberCount(lotID))
}
