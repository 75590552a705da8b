package api

import (
	"fmt"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/mazroni9/dasm-live-engine/internal/hub"
	"github.com/mazroni9/dasm-live-engine/internal/token"
	"github.com/mazroni9/dasm-live-engine/internal/util"
	"github.com/mazroni9/dasm-live-engine/internal/worker"
	"github.com/mazroni9/dasm-live-engine/internal/ws"
	"github.com/rs/zerolog/log"
)

type Server struct {
	router          *gin.Engine
	config          *util.Config
	tokenMaker      token.Maker
	engine          *engine.Engine
	hub             *hub.Hub
	connManager     *ws.Manager
	taskDistributor worker.TaskDistributor
	taskInspector   worker.TaskInspector
}

// NewServer creates a new HTTP server and set up routing.
func NewServer(config *util.Config, eng *engine.Engine, h *hub.Hub, connManager *ws.Manager, taskDistributor worker.TaskDistributor, taskInspector worker.TaskInspector) (*Server, error) {
	// Create a new JWT token maker
	tokenMaker, err := token.NewJWTMaker(config.TokenSecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create token maker: %w", err)
	}
	log.Info().Msg("Token maker created successfully ✅")

	server := &Server{
		config:          config,
		tokenMaker:      tokenMaker,
		engine:          eng,
		hub:             h,
		connManager:     connManager,
		taskDistributor: taskDistributor,
		taskInspector:   taskInspector,
	}

	server.setupRouter()
	return server, nil
}

// setupRouter configures the HTTP server routes.
func (server *Server) setupRouter() *gin.Engine {
	gin.ForceConsoleColor()
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	v1 := router.Group("/v1")

	// Public lot APIs (no login required)
	lotGroup := v1.Group("/lots")
	{
		// List snapshots of every registered lot
		lotGroup.GET("", optionalAuthMiddleware(server.tokenMaker), server.listLots)

		// Latest consistent snapshot of one lot
		lotGroup.GET(":lotID", optionalAuthMiddleware(server.tokenMaker), server.getLot)

		// Recent accepted bids of one lot
		lotGroup.GET(":lotID/bids", server.listLotBids)

		// Live event stream (websocket). Anonymous connections get the
		// viewer role; a valid token upgrades them to their own role.
		lotGroup.GET(":lotID/stream", server.streamLot)
	}

	// Bidding requires a logged-in user
	userLotGroup := v1.Group("/users/me/lots", authMiddleware(server.tokenMaker))
	{
		userLotGroup.POST(":lotID/bids", server.submitBid)
	}

	// Auctioneer console control surface
	modGroup := v1.Group("/mod/lots", authMiddleware(server.tokenMaker), requiredAuctioneerRole())
	{
		// Register the next lot (optionally scheduling its opening)
		modGroup.POST("", server.createLot)

		modGroup.PATCH(":lotID/open", server.openLot)
		modGroup.PATCH(":lotID/pause", server.pauseLot)
		modGroup.PATCH(":lotID/resume", server.resumeLot)
		modGroup.PATCH(":lotID/close-sold", server.closeLotSold)
		modGroup.PATCH(":lotID/close-unsold", server.closeLotUnsold)

		modGroup.GET(":lotID/stats", server.getLotStats)
	}

	server.router = router
	return router
}

// Start runs the HTTP server on a specific address.
func (server *Server) Start(address string) error {
	return server.router.Run(address)
}
