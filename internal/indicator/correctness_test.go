package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"trading-enginev1/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candle(close float64) model.Candle {
	return model.Candle{Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 1}
}

func series(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = candle(c)
		out[i].OpenTime = t0.Add(time.Duration(i) * time.Minute)
	}
	return out
}

func rising(n int) []model.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return series(closes...)
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after candle 3: (100+102+104)/3 = 102.0000
	// SMA after candle 4: (102+104+103)/3 = 103.0000
	// SMA after candle 5: (104+103+105)/3 = 104.0000

	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(candle(p))
		if sma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}

	got, err := SMAOf(series(prices...), 3)
	if err != nil {
		t.Fatalf("SMA: %v", err)
	}
	assertClose(t, "SMA window", got, 104.0, 0.0001)
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_SMASeeded(t *testing.T) {
	// EMA(3), multiplier = 2/(3+1) = 0.5
	// Seed: SMA(10,11,12) = 11
	// 13: 13*0.5 + 11*0.5 = 12
	// 14: 14*0.5 + 12*0.5 = 13
	got, err := EMAOf(series(10, 11, 12, 13, 14), 3)
	if err != nil {
		t.Fatalf("EMA: %v", err)
	}
	assertClose(t, "EMA(3)", got, 13.0, 0.0001)

	seed, err := EMAOf(series(10, 11, 12), 3)
	if err != nil {
		t.Fatalf("EMA seed: %v", err)
	}
	assertClose(t, "EMA(3) seed", seed, 11.0, 0.0001)
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Wilder(t *testing.T) {
	// Closes: 10, 11, 12, 11, 13 → deltas +1, +1, -1, +2
	// Initial (3 deltas): avgGain = 2/3, avgLoss = 1/3, RS = 2 → RSI = 66.6667
	// Next: avgGain = (2/3*2 + 2)/3 = 10/9, avgLoss = (1/3*2)/3 = 2/9
	//       RS = 5 → RSI = 100 - 100/6 = 83.3333
	initial, err := RSIOf(series(10, 11, 12, 11), 3)
	if err != nil {
		t.Fatalf("RSI: %v", err)
	}
	assertClose(t, "RSI(3) initial", initial, 66.6667, 0.001)

	smoothed, err := RSIOf(series(10, 11, 12, 11, 13), 3)
	if err != nil {
		t.Fatalf("RSI: %v", err)
	}
	assertClose(t, "RSI(3) smoothed", smoothed, 83.3333, 0.001)
}

func TestRSI_AllGains_IsFlat100(t *testing.T) {
	got, err := RSIOf(rising(20), 14)
	if err != nil {
		t.Fatalf("RSI: %v", err)
	}
	assertClose(t, "RSI all gains", got, 100, 0)
}

func TestRSI_Range(t *testing.T) {
	w := series(44, 44.3, 44.1, 43.6, 44.3, 44.8, 45.1, 45.4, 45.8, 46.1, 45.9, 46.2, 45.6, 46.3, 46.3, 46.0, 46.4, 46.2)
	got, err := RSIOf(w, 14)
	if err != nil {
		t.Fatalf("RSI: %v", err)
	}
	if got < 0 || got > 100 {
		t.Errorf("RSI out of range: %.4f", got)
	}
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_LineMatchesEMADifference(t *testing.T) {
	w := rising(40)
	m, err := MACD(w, 12, 26, 9)
	if err != nil {
		t.Fatalf("MACD: %v", err)
	}
	fast, _ := EMAOf(w, 12)
	slow, _ := EMAOf(w, 26)
	assertClose(t, "MACD line", m.MACD, fast-slow, 1e-9)
	assertClose(t, "MACD hist", m.Hist, m.MACD-m.Signal, 1e-9)
	if m.MACD <= 0 {
		t.Errorf("rising series should have positive MACD, got %.6f", m.MACD)
	}
}

func TestMACD_FlatSeriesIsZero(t *testing.T) {
	closes := make([]float64, 35)
	for i := range closes {
		closes[i] = 50
	}
	m, err := MACD(series(closes...), 12, 26, 9)
	if err != nil {
		t.Fatalf("MACD: %v", err)
	}
	assertClose(t, "MACD", m.MACD, 0, 1e-12)
	assertClose(t, "Signal", m.Signal, 0, 1e-12)
	assertClose(t, "Hist", m.Hist, 0, 1e-12)
	assertClose(t, "PrevHist", m.PrevHist, 0, 1e-12)
}

func TestMACD_PrevHistIsPreviousCandle(t *testing.T) {
	w := series(10, 11, 13, 12, 15, 14, 16, 18, 17, 19, 21, 20)
	full, err := MACD(w, 3, 6, 3)
	if err != nil {
		t.Fatalf("MACD: %v", err)
	}
	prior, err := MACD(w[:len(w)-1], 3, 6, 3)
	if err != nil {
		t.Fatalf("MACD prior: %v", err)
	}
	assertClose(t, "PrevHist", full.PrevHist, prior.Hist, 1e-12)
}

func TestMACD_Lookback(t *testing.T) {
	if got := MACDLookback(26, 9); got != 35 {
		t.Fatalf("MACDLookback = %d, want 35", got)
	}
	if _, err := MACD(rising(34), 12, 26, 9); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("34 candles: err = %v, want ErrInsufficientData", err)
	}
	if _, err := MACD(rising(35), 12, 26, 9); err != nil {
		t.Errorf("35 candles: %v", err)
	}
	if _, err := MACD(rising(40), 26, 12, 9); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("fast >= slow: err = %v, want ErrInvalidPeriod", err)
	}
}

// ────────────────────────────────────────────────────────────
// Bollinger / Breakout / Momentum / Volume / Velocity
// ────────────────────────────────────────────────────────────

func TestBollinger_PopulationStdDev(t *testing.T) {
	// Closes 2,4,4,4,5,5,7,9: mean 5, population σ 2
	b, err := Bollinger(series(2, 4, 4, 4, 5, 5, 7, 9), 8, 2)
	if err != nil {
		t.Fatalf("Bollinger: %v", err)
	}
	assertClose(t, "middle", b.Middle, 5, 1e-9)
	assertClose(t, "upper", b.Upper, 9, 1e-9)
	assertClose(t, "lower", b.Lower, 1, 1e-9)
}

func TestBreakout_ExcludesCurrentCandle(t *testing.T) {
	// Prior 3 closes: 12, 11, 13 → highs 13, 12, 14; lows 11, 10, 12
	hi, lo, err := Breakout(series(10, 12, 11, 13, 15), 3)
	if err != nil {
		t.Fatalf("Breakout: %v", err)
	}
	assertClose(t, "high", hi, 14, 0)
	assertClose(t, "low", lo, 10, 0)
}

func TestMomentum(t *testing.T) {
	// (15 - 12) / 12 = 0.25
	got, err := Momentum(series(10, 12, 11, 13, 15), 3)
	if err != nil {
		t.Fatalf("Momentum: %v", err)
	}
	assertClose(t, "momentum", got, 0.25, 1e-12)
}

func TestReturnZScore(t *testing.T) {
	// Returns 0, 0, 0.1: mean 1/30, sample σ sqrt(1/300), z = 2/√3
	got, err := ReturnZScore(series(100, 100, 100, 110), 3)
	if err != nil {
		t.Fatalf("ReturnZScore: %v", err)
	}
	assertClose(t, "z", got, 2/math.Sqrt(3), 1e-9)

	flat, err := ReturnZScore(series(100, 100, 100, 100), 3)
	if err != nil {
		t.Fatalf("ReturnZScore flat: %v", err)
	}
	assertClose(t, "flat z", flat, 0, 0)

	if _, err := ReturnZScore(series(100, 100, 100), 3); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("short window: err = %v, want ErrInsufficientData", err)
	}
	if _, err := ReturnZScore(series(100, 100, 100), 1); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("period 1: err = %v, want ErrInvalidPeriod", err)
	}
}

func TestVelocity(t *testing.T) {
	// Diffs of last 3: -1, +2, +2 → 1.0
	got, err := Velocity(series(10, 12, 11, 13, 15))
	if err != nil {
		t.Fatalf("Velocity: %v", err)
	}
	assertClose(t, "velocity", got, 1.0, 1e-12)
}

func TestVolumeRatio(t *testing.T) {
	w := series(1, 1, 1, 1, 1)
	w[4].Volume = 5
	// Last 4 volumes: 1, 1, 1, 5 → mean 2 → ratio 2.5
	got, err := VolumeRatio(w, 4)
	if err != nil {
		t.Fatalf("VolumeRatio: %v", err)
	}
	assertClose(t, "volume ratio", got, 2.5, 1e-12)

	for i := range w {
		w[i].Volume = 0
	}
	got, err = VolumeRatio(w, 4)
	if err != nil {
		t.Fatalf("VolumeRatio: %v", err)
	}
	assertClose(t, "zero volume ratio", got, 1, 0)
}

// ────────────────────────────────────────────────────────────
// Insufficient data
// ────────────────────────────────────────────────────────────

func TestWindowFunctions_InsufficientData(t *testing.T) {
	short := rising(3)
	tests := []struct {
		name string
		fn   func() error
	}{
		{"sma", func() error { _, err := SMAOf(short, 4); return err }},
		{"ema", func() error { _, err := EMAOf(short, 4); return err }},
		{"rsi", func() error { _, err := RSIOf(short, 3); return err }},
		{"macd", func() error { _, err := MACD(short, 2, 3, 2); return err }},
		{"bollinger", func() error { _, err := Bollinger(short, 4, 2); return err }},
		{"breakout", func() error { _, _, err := Breakout(short, 3); return err }},
		{"momentum", func() error { _, err := Momentum(short, 3); return err }},
		{"volume_ratio", func() error { _, err := VolumeRatio(short, 4); return err }},
		{"velocity", func() error { _, err := Velocity(short); return err }},
		{"empty", func() error { _, err := EMAOf(nil, 1); return err }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.fn(); !errors.Is(err, ErrInsufficientData) {
				t.Errorf("err = %v, want ErrInsufficientData", err)
			}
		})
	}
}

func TestWindowFunctions_InvalidPeriod(t *testing.T) {
	if _, err := SMAOf(rising(5), 0); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("SMA(0): err = %v, want ErrInvalidPeriod", err)
	}
	if _, err := RSIOf(rising(5), -1); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("RSI(-1): err = %v, want ErrInvalidPeriod", err)
	}
}

func TestWindowFunctions_DoNotMutate(t *testing.T) {
	w := rising(40)
	before := make([]model.Candle, len(w))
	copy(before, w)

	_, _ = MACD(w, 12, 26, 9)
	_, _ = Bollinger(w, 20, 2)
	_, _, _ = Breakout(w, 5)

	for i := range w {
		if w[i] != before[i] {
			t.Fatalf("candle %d mutated", i)
		}
	}
}
