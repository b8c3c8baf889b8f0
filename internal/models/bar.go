package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsight/analytics-go/internal/utils"
)

// Bar represents one trading period's OHLCV data for a symbol.
type Bar struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Open      decimal.Decimal `json:"open" db:"open"`
	High      decimal.Decimal `json:"high" db:"high"`
	Low       decimal.Decimal `json:"low" db:"low"`
	Close     decimal.Decimal `json:"close" db:"close"`
	Volume    decimal.Decimal `json:"volume" db:"volume"`
}

// Validate checks the OHLCV invariants: low <= open,close <= high and volume >= 0.
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return utils.InvalidParametersError("bar has empty symbol")
	}
	if b.Timestamp.IsZero() {
		return utils.InvalidParametersError("bar for %s has zero timestamp", b.Symbol)
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) {
		return utils.InvalidParametersError("bar for %s at %s: low above open/close", b.Symbol, b.Timestamp.Format(time.RFC3339))
	}
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return utils.InvalidParametersError("bar for %s at %s: high below open/close", b.Symbol, b.Timestamp.Format(time.RFC3339))
	}
	if b.Volume.IsNegative() {
		return utils.InvalidParametersError("bar for %s at %s: negative volume", b.Symbol, b.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// CloseFloat returns the close price as float64 for numeric computation.
func (b *Bar) CloseFloat() float64 {
	f, _ := b.Close.Float64()
	return f
}

// Closes extracts close prices from ordered bars as a float64 slice.
// Engines compute in float64; decimal is the storage/transport representation.
func Closes(bars []Bar) []float64 {
	closes := make([]float64, len(bars))
	for i := range bars {
		closes[i] = bars[i].CloseFloat()
	}
	return closes
}

// HighsLows extracts high and low price slices from ordered bars.
func HighsLows(bars []Bar) (highs, lows []float64) {
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	for i := range bars {
		highs[i], _ = bars[i].High.Float64()
		lows[i], _ = bars[i].Low.Float64()
	}
	return highs, lows
}
