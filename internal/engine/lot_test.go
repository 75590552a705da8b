package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to LotStatus
		allowed  bool
	}{
		{LotStatusPending, LotStatusActive, true},
		{LotStatusPending, LotStatusUnsold, true},
		{LotStatusPending, LotStatusPaused, false},
		{LotStatusPending, LotStatusSold, false},
		{LotStatusActive, LotStatusPaused, true},
		{LotStatusActive, LotStatusSold, true},
		{LotStatusActive, LotStatusUnsold, true},
		{LotStatusActive, LotStatusPending, false},
		{LotStatusPaused, LotStatusActive, true},
		{LotStatusPaused, LotStatusSold, true},
		{LotStatusPaused, LotStatusUnsold, true},
		{LotStatusSold, LotStatusActive, false},
		{LotStatusSold, LotStatusUnsold, false},
		{LotStatusUnsold, LotStatusActive, false},
	}

	for _, tc := range cases {
		require.Equal(t, tc.allowed, canTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestLotValidate(t *testing.T) {
	rq := require.New(t)

	floor := int64(90_000)
	ceiling := int64(120_000)
	valid := Lot{
		ID:             uuid.New(),
		OpeningPrice:   85_000,
		ReserveFloor:   &floor,
		ReserveCeiling: &ceiling,
		IncrementMode:  IncrementModeAbsolute,
		IncrementValue: 1_000,
	}
	rq.NoError(valid.Validate())

	lot := valid
	lot.ID = uuid.Nil
	rq.Error(lot.Validate())

	lot = valid
	lot.OpeningPrice = 0
	rq.Error(lot.Validate())

	lot = valid
	lot.IncrementValue = 0
	rq.Error(lot.Validate())

	lot = valid
	lot.IncrementMode = IncrementModePercent
	lot.IncrementValue = 101
	rq.Error(lot.Validate())

	lot = valid
	lowFloor := int64(80_000)
	lot.ReserveFloor = &lowFloor
	rq.Error(lot.Validate())

	lot = valid
	lowCeiling := int64(89_000)
	lot.ReserveCeiling = &lowCeiling
	rq.Error(lot.Validate())
}

func TestIncrement(t *testing.T) {
	rq := require.New(t)

	absolute := Lot{IncrementMode: IncrementModeAbsolute, IncrementValue: 1_000}
	rq.EqualValues(1_000, absolute.increment(85_000))
	rq.EqualValues(1_000, absolute.increment(1_000_000))

	percent := Lot{IncrementMode: IncrementModePercent, IncrementValue: 5}
	rq.EqualValues(4_250, percent.increment(85_000))

	// A percent step never rounds down to nothing.
	rq.EqualValues(1, percent.increment(10))
}

func TestSnapshotRedactFor(t *testing.T) {
	rq := require.New(t)

	floor := int64(90_000)
	ceiling := int64(120_000)
	snap := Snapshot{
		CurrentPrice:   95_000,
		ReserveFloor:   &floor,
		ReserveCeiling: &ceiling,
	}

	rq.NotNil(snap.RedactFor(RoleAuctioneer).ReserveFloor)
	rq.NotNil(snap.RedactFor(RoleAuctioneer).ReserveCeiling)

	for _, role := range []Role{RoleBidder, RoleViewer} {
		redacted := snap.RedactFor(role)
		rq.Nil(redacted.ReserveFloor)
		rq.Nil(redacted.ReserveCeiling)
		rq.EqualValues(95_000, redacted.CurrentPrice)
	}

	// The original is untouched.
	rq.NotNil(snap.ReserveFloor)
}
