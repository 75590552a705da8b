package engine

import (
	"fmt"

	"github.com/google/uuid"
)

type LotStatus string

const (
	LotStatusPending LotStatus = "pending"
	LotStatusActive  LotStatus = "active"
	LotStatusPaused  LotStatus = "paused"
	LotStatusSold    LotStatus = "sold"
	LotStatusUnsold  LotStatus = "unsold"
)

// IsTerminal reports whether no further transition may leave this status.
func (s LotStatus) IsTerminal() bool {
	return s == LotStatusSold || s == LotStatusUnsold
}

// validTransitions is the explicit FSM for a lot. Anything not listed here
// is rejected with ErrInvalidTransition.
var validTransitions = map[LotStatus][]LotStatus{
	LotStatusPending: {LotStatusActive, LotStatusUnsold},
	LotStatusActive:  {LotStatusPaused, LotStatusSold, LotStatusUnsold},
	LotStatusPaused:  {LotStatusActive, LotStatusSold, LotStatusUnsold},
}

func canTransition(from, to LotStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type IncrementMode string

const (
	IncrementModeAbsolute IncrementMode = "absolute"
	IncrementModePercent  IncrementMode = "percent"
)

// VehicleSnapshot is the immutable description of the vehicle under the
// hammer, captured when the lot is registered.
type VehicleSnapshot struct {
	Make    string `json:"make"`
	Model   string `json:"model"`
	Year    int32  `json:"year"`
	Mileage int32  `json:"mileage"`
}

func (v VehicleSnapshot) String() string {
	return fmt.Sprintf("%d %s %s", v.Year, v.Make, v.Model)
}

// Lot describes one item to be auctioned. The identity and pricing terms are
// externally assigned; the live bidding state (price, status, version) is
// owned by the lot's lane and is only visible through Snapshot.
type Lot struct {
	ID             uuid.UUID       `json:"id"`
	Vehicle        VehicleSnapshot `json:"vehicle"`
	SellerID       string          `json:"seller_id"`
	OpeningPrice   int64           `json:"opening_price"`
	ReserveFloor   *int64          `json:"reserve_floor,omitempty"`
	ReserveCeiling *int64          `json:"reserve_ceiling,omitempty"`
	IncrementMode  IncrementMode   `json:"increment_mode"`
	IncrementValue int64           `json:"increment_value"`
}

// Validate checks the pricing terms of a lot before it is registered.
func (l Lot) Validate() error {
	if l.ID == uuid.Nil {
		return fmt.Errorf("lot ID is required")
	}
	if l.OpeningPrice <= 0 {
		return fmt.Errorf("opening_price must be greater than 0, provided: %d", l.OpeningPrice)
	}
	switch l.IncrementMode {
	case IncrementModeAbsolute:
		if l.IncrementValue <= 0 {
			return fmt.Errorf("increment_value must be greater than 0, provided: %d", l.IncrementValue)
		}
	case IncrementModePercent:
		if l.IncrementValue <= 0 || l.IncrementValue > 100 {
			return fmt.Errorf("percent increment_value must be in (0, 100], provided: %d", l.IncrementValue)
		}
	default:
		return fmt.Errorf("invalid increment_mode: %s, allowed modes: [absolute, percent]", l.IncrementMode)
	}
	if l.ReserveFloor != nil && *l.ReserveFloor < l.OpeningPrice {
		return fmt.Errorf("reserve_floor must be at least opening_price, provided: %d", *l.ReserveFloor)
	}
	if l.ReserveCeiling != nil && l.ReserveFloor != nil && *l.ReserveCeiling < *l.ReserveFloor {
		return fmt.Errorf("reserve_ceiling must be at least reserve_floor, provided: %d", *l.ReserveCeiling)
	}
	return nil
}

// increment resolves the minimum increment against a given current price.
func (l Lot) increment(currentPrice int64) int64 {
	if l.IncrementMode == IncrementModePercent {
		step := currentPrice * l.IncrementValue / 100
		if step < 1 {
			step = 1
		}
		return step
	}
	return l.IncrementValue
}

// Snapshot is one consistent view of a lot's live state. A snapshot always
// corresponds to exactly one state version; price and status are never
// observable out of step with each other.
type Snapshot struct {
	LotID           uuid.UUID       `json:"lot_id"`
	Vehicle         VehicleSnapshot `json:"vehicle"`
	Status          LotStatus       `json:"status"`
	OpeningPrice    int64           `json:"opening_price"`
	CurrentPrice    int64           `json:"current_price"`
	MinimumNextBid  int64           `json:"minimum_next_bid"`
	ReserveFloor    *int64          `json:"reserve_floor,omitempty"`
	ReserveCeiling  *int64          `json:"reserve_ceiling,omitempty"`
	LeadingBidderID string          `json:"leading_bidder_id,omitempty"`
	TotalBids       int32           `json:"total_bids"`
	Version         uint64          `json:"version"`
}

// RedactFor strips fields the given role is not allowed to see. Reserve
// prices are only ever sent to the auctioneer console.
func (s Snapshot) RedactFor(role Role) Snapshot {
	if role == RoleAuctioneer {
		return s
	}
	s.ReserveFloor = nil
	s.ReserveCeiling = nil
	return s
}
