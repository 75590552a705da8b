package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mazroni9/dasm-live-engine/internal/engine"
)

func errorResponse(err error) gin.H {
	return gin.H{"error": err.Error()}
}

// statusFromEngineError maps the engine's error taxonomy onto HTTP
// statuses. Rejections are expected, frequent outcomes, not faults.
func statusFromEngineError(err error) int {
	switch {
	case errors.Is(err, engine.ErrLotNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrLotAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, engine.ErrLotClosed),
		errors.Is(err, engine.ErrBelowIncrement),
		errors.Is(err, engine.ErrStaleBid),
		errors.Is(err, engine.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
