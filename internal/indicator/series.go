package indicator

import (
	"errors"
	"fmt"
	"math"

	"trading-enginev1/internal/model"
)

// ErrInvalidPeriod is returned for a non-positive period or lookback.
var ErrInvalidPeriod = errors.New("indicator: invalid period")

// ── Window functions ──
// Every function takes an ordered window (oldest first) and evaluates the
// indicator at its last candle. None of them mutate the window.

func checkWindow(name string, window []model.Candle, period, need int) error {
	if period < 1 {
		return fmt.Errorf("%s(%d): %w", name, period, ErrInvalidPeriod)
	}
	if len(window) < need {
		return fmt.Errorf("%s(%d): have %d candles, need %d: %w",
			name, period, len(window), need, ErrInsufficientData)
	}
	return nil
}

// SMAOf returns the mean close of the last period candles.
func SMAOf(window []model.Candle, period int) (float64, error) {
	if err := checkWindow("sma", window, period, period); err != nil {
		return 0, err
	}
	s := NewSMA(period)
	for _, c := range window[len(window)-period:] {
		s.Update(c)
	}
	return s.Value(), nil
}

// EMAOf returns the exponential moving average seeded with the SMA of the
// first period closes in the window.
func EMAOf(window []model.Candle, period int) (float64, error) {
	if err := checkWindow("ema", window, period, period); err != nil {
		return 0, err
	}
	e := NewEMA(period)
	for _, c := range window {
		e.Update(c)
	}
	return e.Value(), nil
}

// RSIOf returns Wilder's RSI. Needs period+1 candles.
func RSIOf(window []model.Candle, period int) (float64, error) {
	if err := checkWindow("rsi", window, period, period+1); err != nil {
		return 0, err
	}
	r := NewRSI(period)
	for _, c := range window {
		r.Update(c)
	}
	return r.Value(), nil
}

// MACDResult holds the MACD line, its signal line and the histogram at the
// last candle, plus the histogram one candle earlier for crossing detection.
type MACDResult struct {
	MACD     float64
	Signal   float64
	Hist     float64
	PrevHist float64
}

// MACDLookback returns the candles needed for MACD with a previous histogram.
func MACDLookback(slow, signal int) int {
	return slow + signal
}

// MACD computes fast EMA − slow EMA, its signal EMA, and the histogram.
func MACD(window []model.Candle, fast, slow, signal int) (MACDResult, error) {
	if fast < 1 || slow < 1 || signal < 1 || fast >= slow {
		return MACDResult{}, fmt.Errorf("macd(%d,%d,%d): %w", fast, slow, signal, ErrInvalidPeriod)
	}
	need := MACDLookback(slow, signal)
	if len(window) < need {
		return MACDResult{}, fmt.Errorf("macd(%d,%d,%d): have %d candles, need %d: %w",
			fast, slow, signal, len(window), need, ErrInsufficientData)
	}

	fastEMA := NewEMA(fast)
	slowEMA := NewEMA(slow)
	sigEMA := NewEMA(signal)

	var res MACDResult
	hists := 0
	for _, c := range window {
		fastEMA.Update(c)
		slowEMA.Update(c)
		if !slowEMA.Ready() {
			continue
		}
		line := fastEMA.Value() - slowEMA.Value()
		sigEMA.Add(line)
		if !sigEMA.Ready() {
			continue
		}
		res.PrevHist = res.Hist
		res.MACD = line
		res.Signal = sigEMA.Value()
		res.Hist = line - res.Signal
		hists++
	}
	if hists < 2 {
		return MACDResult{}, fmt.Errorf("macd: no previous histogram: %w", ErrInsufficientData)
	}
	return res, nil
}

// Bands is a Bollinger envelope.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger returns mean ± k·σ of the last period closes, σ being the
// population standard deviation.
func Bollinger(window []model.Candle, period int, k float64) (Bands, error) {
	if err := checkWindow("bollinger", window, period, period); err != nil {
		return Bands{}, err
	}
	tail := window[len(window)-period:]
	mean := 0.0
	for _, c := range tail {
		mean += c.Close
	}
	mean /= float64(period)

	variance := 0.0
	for _, c := range tail {
		d := c.Close - mean
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))

	return Bands{Upper: mean + k*sd, Middle: mean, Lower: mean - k*sd}, nil
}

// Breakout returns the highest high and lowest low of the lookback candles
// preceding the last one. The last candle is excluded so its close can be
// compared against the range.
func Breakout(window []model.Candle, lookback int) (high, low float64, err error) {
	if err := checkWindow("breakout", window, lookback, lookback+1); err != nil {
		return 0, 0, err
	}
	n := len(window)
	prior := window[n-1-lookback : n-1]
	high, low = prior[0].High, prior[0].Low
	for _, c := range prior[1:] {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	return high, low, nil
}

// Momentum returns the period-over-period return of the last close.
func Momentum(window []model.Candle, period int) (float64, error) {
	if err := checkWindow("momentum", window, period, period+1); err != nil {
		return 0, err
	}
	n := len(window)
	base := window[n-1-period].Close
	if base == 0 {
		return 0, nil
	}
	return (window[n-1].Close - base) / base, nil
}

// VolumeMA returns the mean volume of the last period candles.
func VolumeMA(window []model.Candle, period int) (float64, error) {
	if err := checkWindow("volume_ma", window, period, period); err != nil {
		return 0, err
	}
	s := NewSMA(period)
	for _, c := range window[len(window)-period:] {
		s.Add(c.Volume)
	}
	return s.Value(), nil
}

// VolumeRatio returns the last volume divided by its period mean
// (the mean includes the last candle). A zero mean yields 1.
func VolumeRatio(window []model.Candle, period int) (float64, error) {
	ma, err := VolumeMA(window, period)
	if err != nil {
		return 0, err
	}
	if ma == 0 {
		return 1, nil
	}
	return window[len(window)-1].Volume / ma, nil
}

// VelocityPeriod is the number of close differences averaged by Velocity.
const VelocityPeriod = 3

// Velocity returns the mean of the last three close-to-close differences.
func Velocity(window []model.Candle) (float64, error) {
	if err := checkWindow("velocity", window, VelocityPeriod, VelocityPeriod+1); err != nil {
		return 0, err
	}
	n := len(window)
	sum := 0.0
	for i := n - VelocityPeriod; i < n; i++ {
		sum += window[i].Close - window[i-1].Close
	}
	return sum / VelocityPeriod, nil
}

// ReturnZScore returns the z-score of the last close-to-close return against
// the mean and sample standard deviation of the last period returns. A flat
// return series yields 0.
func ReturnZScore(window []model.Candle, period int) (float64, error) {
	if period < 2 {
		return 0, fmt.Errorf("return_zscore(%d): %w", period, ErrInvalidPeriod)
	}
	if err := checkWindow("return_zscore", window, period, period+1); err != nil {
		return 0, err
	}
	tail := window[len(window)-period-1:]
	rets := make([]float64, period)
	mean := 0.0
	for i := 1; i < len(tail); i++ {
		if base := tail[i-1].Close; base != 0 {
			rets[i-1] = (tail[i].Close - base) / base
		}
		mean += rets[i-1]
	}
	mean /= float64(period)

	variance := 0.0
	for _, r := range rets {
		d := r - mean
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period-1))
	if sd == 0 {
		return 0, nil
	}
	return (rets[period-1] - mean) / sd, nil
}
