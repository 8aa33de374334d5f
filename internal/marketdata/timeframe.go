// Package marketdata holds helpers shared by the market data adapters.
// The adapters themselves live in the rest, ws and replay subpackages.
package marketdata

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownTimeframe is returned for an interval the adapters do not serve.
var ErrUnknownTimeframe = errors.New("marketdata: unknown timeframe")

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseTimeframe returns the candle duration of a Binance-style interval
// such as "1m", "15m" or "4h".
func ParseTimeframe(tf string) (time.Duration, error) {
	d, ok := timeframes[tf]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTimeframe, tf)
	}
	return d, nil
}

// Closed reports whether a candle opened at openTime has closed by now.
func Closed(openTime time.Time, tf time.Duration, now time.Time) bool {
	return !openTime.Add(tf).After(now)
}
