package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/mazroni9/dasm-live-engine/internal/token"
)

type submitBidRequest struct {
	Amount          int64      `json:"amount" binding:"required"`
	RequestID       string     `json:"request_id"`
	ClientTimestamp *time.Time `json:"client_timestamp"`
}

type submitBidResponse struct {
	Bid            engine.Bid `json:"bid"`
	ResultingPrice int64      `json:"resulting_price"`
}

// submitBid places one bid through the arbiter and returns the outcome
// synchronously. A rejection is a final answer for that submission; the
// client may resubmit at a corrected amount.
func (server *Server) submitBid(c *gin.Context) {
	authPayload := c.MustGet(authorizationPayloadKey).(*token.Payload)
	bidderID := authPayload.Subject

	lotID, err := uuid.Parse(c.Param("lotID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("invalid lot ID format")))
		return
	}

	var req submitBidRequest
	if err = c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("invalid request body: %w", err)))
		return
	}

	if req.Amount <= 0 {
		err = fmt.Errorf("bid amount must be greater than 0, provided: %d", req.Amount)
		c.JSON(http.StatusBadRequest, errorResponse(err))
		return
	}

	clientTimestamp := time.Now()
	if req.ClientTimestamp != nil {
		clientTimestamp = *req.ClientTimestamp
	}

	bid, err := server.engine.SubmitBid(c.Request.Context(), lotID, engine.BidRequest{
		BidderID:        bidderID,
		Amount:          req.Amount,
		RequestID:       req.RequestID,
		ClientTimestamp: clientTimestamp,
	})
	if err != nil && bid.Decision == "" {
		// Nothing was arbitrated (unknown lot, saturated queue, shutdown).
		c.JSON(statusFromEngineError(err), errorResponse(fmt.Errorf("failed to place bid: %w", err)))
		return
	}

	resp := submitBidResponse{Bid: bid, ResultingPrice: bid.ResultingPrice}
	if !bid.Accepted() {
		// The bid record carries the specific reason so the client can
		// distinguish "someone just bid higher" from "lot is paused".
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}
