package model

import (
	"encoding/json"
	"time"
)

// Candle is one OHLCV bar for a fixed time bucket.
// Candles are immutable once appended to a store.
type Candle struct {
	OpenTime time.Time `json:"open_time"` // bucket start time (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Closes extracts close prices from a candle window, oldest first.
func Closes(window []Candle) []float64 {
	out := make([]float64, len(window))
	for i, c := range window {
		out[i] = c.Close
	}
	return out
}
