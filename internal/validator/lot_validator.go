package validator

import (
	"fmt"
	"math"

	"github.com/mazroni9/dasm-live-engine/internal/engine"
	"github.com/mazroni9/dasm-live-engine/internal/util"
)

const minOpeningPrice = 1000

// ValidateLotOpeningPrice validates minimum opening price
func ValidateLotOpeningPrice(price int64) error {
	if price < minOpeningPrice {
		return fmt.Errorf("opening_price must be at least %s, provided: %s",
			util.FormatMoney(minOpeningPrice), util.FormatMoney(price))
	}
	return nil
}

// ValidateLotIncrement validates bid increment policy against the opening
// price. Absolute increments must fall between 0.5% and 10% of the opening
// price; percentage increments between 1% and 10%.
func ValidateLotIncrement(openingPrice int64, mode engine.IncrementMode, value int64) error {
	switch mode {
	case engine.IncrementModeAbsolute:
		minIncrement := int64(math.Max(1, float64(openingPrice)*0.005))
		maxIncrement := int64(float64(openingPrice) * 0.10)
		if value < minIncrement || value > maxIncrement {
			return fmt.Errorf("increment_value must be between %s and %s (0.5-10%% of opening_price), provided: %s",
				util.FormatMoney(minIncrement), util.FormatMoney(maxIncrement), util.FormatMoney(value))
		}
	case engine.IncrementModePercent:
		if value < 1 || value > 10 {
			return fmt.Errorf("percent increment_value must be between 1 and 10, provided: %d", value)
		}
	default:
		return fmt.Errorf("invalid increment_mode: %s, allowed modes: [absolute, percent]", mode)
	}
	return nil
}

// ValidateLotReserves validates the optional reserve band.
func ValidateLotReserves(openingPrice int64, floor, ceiling *int64) error {
	if floor != nil && *floor < openingPrice {
		return fmt.Errorf("reserve_floor must be at least opening_price %s, provided: %s",
			util.FormatMoney(openingPrice), util.FormatMoney(*floor))
	}
	if ceiling != nil && floor != nil && *ceiling < *floor {
		return fmt.Errorf("reserve_ceiling must be at least reserve_floor %s, provided: %s",
			util.FormatMoney(*floor), util.FormatMoney(*ceiling))
	}
	return nil
}
