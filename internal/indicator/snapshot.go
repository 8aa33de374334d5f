package indicator

import "fmt"

// Snapshot keys.
const (
	KeyEMAFast      = "ema_fast"
	KeyEMASlow      = "ema_slow"
	KeyRSI          = "rsi"
	KeyMACD         = "macd"
	KeyMACDSignal   = "macd_signal"
	KeyMACDHist     = "macd_hist"
	KeyMACDHistPrev = "macd_hist_prev"
	KeyBBUpper      = "bb_upper"
	KeyBBMiddle     = "bb_middle"
	KeyBBLower      = "bb_lower"
	KeyBreakoutHigh = "breakout_high"
	KeyBreakoutLow  = "breakout_low"
	KeyMomentum     = "momentum"
	KeyVolumeMA     = "volume_ma"
	KeyVolumeRatio  = "volume_ratio"
	KeyVelocity     = "velocity"
	KeySMAShort     = "sma_short"
	KeySMALong      = "sma_long"
	KeyClose        = "close"
)

// Snapshot maps indicator name to its value at the last candle of a window.
// A snapshot lives for one cycle and is never shared across loops.
type Snapshot map[string]float64

// Get returns the value for key and whether it was computed.
func (s Snapshot) Get(key string) (float64, bool) {
	v, ok := s[key]
	return v, ok
}

// Ready reports whether every key is present.
func (s Snapshot) Ready(keys ...string) bool {
	for _, k := range keys {
		if _, ok := s[k]; !ok {
			return false
		}
	}
	return true
}

// Require returns the values for keys in order, or an error naming the
// first missing key.
func (s Snapshot) Require(keys ...string) ([]float64, error) {
	out := make([]float64, len(keys))
	for i, k := range keys {
		v, ok := s[k]
		if !ok {
			return nil, fmt.Errorf("snapshot: missing %q: %w", k, ErrInsufficientData)
		}
		out[i] = v
	}
	return out, nil
}
