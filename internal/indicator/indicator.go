// Package indicator provides technical indicator calculations over candle data.
//
// Incremental indicators implement the Indicator interface, receiving candles
// one at a time. The window functions in series.go replay a candle window
// through fresh instances, so every exported computation is deterministic and
// free of side effects. A window shorter than an indicator's lookback yields
// ErrInsufficientData instead of a partial value.
package indicator

import (
	"errors"

	"trading-enginev1/internal/model"
)

// ErrInsufficientData is returned when a window is shorter than the lookback
// an indicator needs. Callers treat it as "no decision this cycle".
var ErrInsufficientData = errors.New("indicator: insufficient data")

// Indicator is the interface for incremental technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds a new candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
