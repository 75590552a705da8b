package validator_test

import (
	"testing"

	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/mazroni9/dasm-live-engine/internal/util"
	"github.com/mazroni9/dasm-live-engine/internal/validator"
	"github.com/stretchr/testify/require"
)

func TestValidateLotOpeningPrice(t *testing.T) {
	rq := require.New(t)

	rq.NoError(validator.ValidateLotOpeningPrice(1_000))
	rq.NoError(validator.ValidateLotOpeningPrice(85_000))
	rq.Error(validator.ValidateLotOpeningPrice(999))
	rq.Error(validator.ValidateLotOpeningPrice(0))
}

func TestValidateLotIncrement(t *testing.T) {
	rq := require.New(t)

	// Absolute increments must sit between 0.5% and 10% of the opening price.
	rq.NoError(validator.ValidateLotIncrement(100_000, engine.IncrementModeAbsolute, 1_000))
	rq.NoError(validator.ValidateLotIncrement(100_000, engine.IncrementModeAbsolute, 500))
	rq.NoError(validator.ValidateLotIncrement(100_000, engine.IncrementModeAbsolute, 10_000))
	rq.Error(validator.ValidateLotIncrement(100_000, engine.IncrementModeAbsolute, 499))
	rq.Error(validator.ValidateLotIncrement(100_000, engine.IncrementModeAbsolute, 10_001))

	rq.NoError(validator.ValidateLotIncrement(100_000, engine.IncrementModePercent, 1))
	rq.NoError(validator.ValidateLotIncrement(100_000, engine.IncrementModePercent, 10))
	rq.Error(validator.ValidateLotIncrement(100_000, engine.IncrementModePercent, 0))
	rq.Error(validator.ValidateLotIncrement(100_000, engine.IncrementModePercent, 11))

	rq.Error(validator.ValidateLotIncrement(100_000, "fibonacci", 1_000))
}

func TestValidateLotReserves(t *testing.T) {
	rq := require.New(t)

	rq.NoError(validator.ValidateLotReserves(85_000, nil, nil))
	rq.NoError(validator.ValidateLotReserves(85_000, util.Int64Pointer(90_000), nil))
	rq.NoError(validator.ValidateLotReserves(85_000, util.Int64Pointer(90_000), util.Int64Pointer(120_000)))

	rq.Error(validator.ValidateLotReserves(85_000, util.Int64Pointer(80_000), nil))
	rq.Error(validator.ValidateLotReserves(85_000, util.Int64Pointer(90_000), util.Int64Pointer(89_000)))
}
