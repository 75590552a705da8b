package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
)

// listLots returns a snapshot of every registered lot, redacted for the
// caller's role.
func (server *Server) listLots(c *gin.Context) {
	role := requestRole(c)

	snaps := server.engine.Lots()
	redacted := make([]engine.Snapshot, len(snaps))
	for i, snap := range snaps {
		redacted[i] = snap.RedactFor(role)
	}

	c.JSON(http.StatusOK, redacted)
}

// getLot returns the latest consistent snapshot of one lot.
func (server *Server) getLot(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("lotID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("invalid lot ID format")))
		return
	}

	snap, err := server.engine.Snapshot(lotID)
	if err != nil {
		c.JSON(statusFromEngineError(err), errorResponse(fmt.Errorf("failed to get lot: %w", err)))
		return
	}

	c.JSON(http.StatusOK, snap.RedactFor(requestRole(c)))
}

// listLotBids returns the retained window of recent accepted bids. The
// full durable history lives with the persistence sink, not here.
func (server *Server) listLotBids(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("lotID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("invalid lot ID format")))
		return
	}

	bids, err := server.engine.Bids(c.Request.Context(), lotID)
	if err != nil {
		c.JSON(statusFromEngineError(err), errorResponse(fmt.Errorf("failed to list bids: %w", err)))
		return
	}

	c.JSON(http.StatusOK, bids)
}
