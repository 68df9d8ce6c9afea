package market

import (
	"errors"
	"math"

	"scalper-core/pkg/exchanges/common"
)

var (
	errBadPrice     = errors.New("price must be finite and positive")
	errBadTimestamp = errors.New("missing timestamp")
)

// Validate enforces the numeric contract every ticker must meet before it reaches the
// indicator window. Invalid volume is clamped to zero rather than rejected.
func Validate(t common.Ticker) (common.Ticker, error) {
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return common.Ticker{}, &common.MarketDataError{Symbol: t.Symbol, Err: errBadPrice}
	}
	if t.Timestamp.IsZero() {
		return common.Ticker{}, &common.MarketDataError{Symbol: t.Symbol, Err: errBadTimestamp}
	}
	if math.IsNaN(t.Volume) || math.IsInf(t.Volume, 0) || t.Volume < 0 {
		t.Volume = 0
	}
	return t, nil
}
