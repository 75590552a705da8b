package engine

import (
	"time"

	"github.com/google/uuid"
)

// Role gates which fields of the lot state a connection may see.
type Role string

const (
	RoleAuctioneer Role = "auctioneer"
	RoleBidder     Role = "bidder"
	RoleViewer     Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleAuctioneer || r == RoleBidder || r == RoleViewer
}

type Decision string

const (
	DecisionAccepted               Decision = "accepted"
	DecisionRejectedLotClosed      Decision = "rejected_lot_closed"
	DecisionRejectedBelowIncrement Decision = "rejected_below_increment"
	DecisionRejectedStale          Decision = "rejected_stale"
)

// BidRequest is one bid submission as it enters the arbiter. The client
// timestamp is kept for audit only and never used for ordering; arbitration
// order is arrival order at the lot's serialization point.
type BidRequest struct {
	BidderID        string
	Amount          int64
	RequestID       string
	ClientTimestamp time.Time
}

// Bid is the immutable record of one arbitration outcome. Every submission
// produces one, accepted or not; accepted bids get a monotonically
// increasing per-lot ID. Version is the state version the outcome is bound
// to: the version the acceptance produced, or the version the rejection
// was evaluated against.
type Bid struct {
	ID             int64     `json:"id"`
	LotID          uuid.UUID `json:"lot_id"`
	BidderID       string    `json:"bidder_id"`
	RequestID      string    `json:"request_id,omitempty"`
	Amount         int64     `json:"amount"`
	PlacedAt       time.Time `json:"placed_at"`
	Decision       Decision  `json:"decision"`
	ResultingPrice int64     `json:"resulting_price"`
	Version        uint64    `json:"version"`
}

// Accepted reports whether the bid won its arbitration instant.
func (b Bid) Accepted() bool {
	return b.Decision == DecisionAccepted
}

// RejectionError maps a reject decision back to its sentinel error.
func (b Bid) RejectionError() error {
	switch b.Decision {
	case DecisionRejectedLotClosed:
		return ErrLotClosed
	case DecisionRejectedBelowIncrement:
		return ErrBelowIncrement
	case DecisionRejectedStale:
		return ErrStaleBid
	}
	return nil
}
