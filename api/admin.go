package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/mazroni9/dasm-live-engine/internal/validator"
	"github.com/mazroni9/dasm-live-engine/internal/worker"
	"github.com/rs/zerolog/log"
)

type createLotRequest struct {
	LotID          *uuid.UUID             `json:"lot_id"`
	Vehicle        engine.VehicleSnapshot `json:"vehicle" binding:"required"`
	SellerID       string                 `json:"seller_id" binding:"required"`
	OpeningPrice   int64                  `json:"opening_price" binding:"required"`
	ReserveFloor   *int64                 `json:"reserve_floor"`
	ReserveCeiling *int64                 `json:"reserve_ceiling"`
	IncrementMode  engine.IncrementMode   `json:"increment_mode" binding:"required"`
	IncrementValue int64                  `json:"increment_value" binding:"required"`
	StartTime      *time.Time             `json:"start_time"`
}

// createLot registers the next lot in pending status. Advancing the
// auction never touches the previous lot; terminal lots stay terminal.
// An optional start time schedules the opening through the task queue.
func (server *Server) createLot(c *gin.Context) {
	var req createLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("invalid request body: %w", err)))
		return
	}

	if err := validator.ValidateLotOpeningPrice(req.OpeningPrice); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	if err := validator.ValidateLotIncrement(req.OpeningPrice, req.IncrementMode, req.IncrementValue); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	if err := validator.ValidateLotReserves(req.OpeningPrice, req.ReserveFloor, req.ReserveCeiling); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	if req.StartTime != nil && req.StartTime.Before(time.Now()) {
		err := fmt.Errorf("start_time is in the past, provided: %s", req.StartTime.Format(time.RFC3339))
		c.JSON(http.StatusUnprocessableEntity, errorResponse(err))
		return
	}

	lotID := uuid.New()
	if req.LotID != nil {
		lotID = *req.LotID
	}

	snap, err := server.engine.RegisterLot(engine.Lot{
		ID:             lotID,
		Vehicle:        req.Vehicle,
		SellerID:       req.SellerID,
		OpeningPrice:   req.OpeningPrice,
		ReserveFloor:   req.ReserveFloor,
		ReserveCeiling: req.ReserveCeiling,
		IncrementMode:  req.IncrementMode,
		IncrementValue: req.IncrementValue,
	})
	if err != nil {
		c.JSON(statusFromEngineError(err), errorResponse(fmt.Errorf("failed to register lot: %w", err)))
		return
	}

	if req.StartTime != nil {
		opts := []asynq.Option{
			asynq.MaxRetry(3),
			asynq.Queue(worker.QueueCritical),
			asynq.ProcessAt(*req.StartTime),
		}
		err = server.taskDistributor.DistributeTaskOpenLot(c.Request.Context(), &worker.PayloadOpenLot{LotID: lotID}, opts...)
		if err != nil {
			log.Err(err).
				Str("lot_id", lotID.String()).
				Time("start_time", *req.StartTime).
				Msg("failed to schedule lot open task")
			c.JSON(http.StatusInternalServerError, errorResponse(fmt.Errorf("lot registered but opening could not be scheduled: %w", err)))
			return
		}
	}

	c.JSON(http.StatusCreated, snap)
}

// openLot opens a pending lot immediately. Any scheduled opening task is
// removed so the lot is not opened twice.
func (server *Server) openLot(c *gin.Context) {
	server.transitionLot(c, server.engine.OpenLot, func(lotID uuid.UUID) {
		taskID := fmt.Sprintf("lot:open:%s", lotID.String())
		if err := server.taskInspector.DeleteTask(c.Request.Context(), worker.QueueCritical, taskID); err != nil {
			// Nothing scheduled is fine; anything else is worth a trace.
			log.Debug().Err(err).Str("task_id", taskID).Msg("no scheduled open task deleted")
		}
	})
}

func (server *Server) pauseLot(c *gin.Context) {
	server.transitionLot(c, server.engine.PauseLot, nil)
}

func (server *Server) resumeLot(c *gin.Context) {
	server.transitionLot(c, server.engine.ResumeLot, nil)
}

func (server *Server) closeLotSold(c *gin.Context) {
	server.transitionLot(c, server.engine.CloseLotSold, nil)
}

func (server *Server) closeLotUnsold(c *gin.Context) {
	server.transitionLot(c, server.engine.CloseLotUnsold, nil)
}

type transitionFunc func(ctx context.Context, lotID uuid.UUID) (engine.Snapshot, error)

// transitionLot drives one lifecycle transition and reports the outcome.
// An invalid transition leaves the lot untouched and comes back as 422.
func (server *Server) transitionLot(c *gin.Context, fn transitionFunc, onSuccess func(uuid.UUID)) {
	lotID, err := uuid.Parse(c.Param("lotID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("invalid lot ID format")))
		return
	}

	snap, err := fn(c.Request.Context(), lotID)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidTransition) {
			err = fmt.Errorf("transition not allowed from status %s: %w", snap.Status, err)
		}
		c.JSON(statusFromEngineError(err), errorResponse(err))
		return
	}

	if onSuccess != nil {
		onSuccess(lotID)
	}

	c.JSON(http.StatusOK, snap)
}

// getLotStats reports live subscription bookkeeping for one lot.
func (server *Server) getLotStats(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("lotID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("invalid lot ID format")))
		return
	}

	snap, err := server.engine.Snapshot(lotID)
	if err != nil {
		c.JSON(statusFromEngineError(err), errorResponse(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lot_id":      lotID,
		"version":     snap.Version,
		"status":      snap.Status,
		"subscribers": server.hub.SubscriberCount(lotID),
		"lagging":     server.hub.LaggingCount(lotID),
	})
}
