package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/mazroni9/dasm-live-engine/internal/ws"
	"github.com/rs/zerolog/log"
)

// streamLot upgrades the request to a websocket and attaches it to the
// lot's live feed. Browsers cannot set headers on a websocket handshake,
// so the access token travels in the query string; without one the
// connection is a read-only viewer.
func (server *Server) streamLot(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("lotID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("invalid lot ID format")))
		return
	}

	if _, err = server.engine.Snapshot(lotID); err != nil {
		c.JSON(statusFromEngineError(err), errorResponse(err))
		return
	}

	identity := ws.Identity{Role: engine.RoleViewer, LotID: lotID}
	if accessToken := c.Query("token"); accessToken != "" {
		payload, err := server.tokenMaker.VerifyToken(accessToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, errorResponse(err))
			return
		}
		identity.BidderID = payload.Subject
		if payload.Role.Valid() {
			identity.Role = payload.Role
		}
	}

	resumeToken := c.Query("resume")
	var lastVersion uint64
	if raw := c.Query("last_version"); raw != "" {
		lastVersion, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("invalid last_version: %w", err)))
			return
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range server.config.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Warn().Err(err).Str("lot_id", lotID.String()).Msg("websocket upgrade failed")
		return
	}

	if err = server.connManager.HandleConnection(c.Request.Context(), conn, identity, resumeToken, lastVersion); err != nil {
		log.Warn().Err(err).
			Str("lot_id", lotID.String()).
			Str("bidder_id", identity.BidderID).
			Msg("failed to attach observer connection")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
}
