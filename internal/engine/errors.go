package engine

import "errors"

var (
	ErrLotNotFound       = errors.New("lot not found")
	ErrLotAlreadyExists  = errors.New("lot already registered")
	ErrLotClosed         = errors.New("lot is not accepting bids")
	ErrBelowIncrement    = errors.New("bid amount below minimum increment")
	ErrStaleBid          = errors.New("bid request was already processed")
	ErrInvalidTransition = errors.New("invalid lot status transition")
	ErrBusy              = errors.New("lot mutation queue is saturated")
	ErrEngineStopped     = errors.New("engine has been stopped")
)
