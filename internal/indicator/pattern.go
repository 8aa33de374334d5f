package indicator

import (
	"fmt"

	"trading-enginev1/internal/model"
)

// Pattern detection windows.
const (
	patternShort = 5
	patternMid   = 10
	patternLong  = 20

	// PatternLookback is the candles needed to evaluate patterns at one index.
	PatternLookback = patternLong

	// PersistenceCandles is how many consecutive candles a pattern must hold.
	PersistenceCandles = 3
)

// PatternSet holds the chart patterns detected at one candle.
//
// Three-point patterns (head-and-shoulders, double top/bottom) are centered
// on the candle before the evaluated one, so only candles at or before the
// evaluated index are read.
type PatternSet struct {
	AscendingTriangle  bool
	DescendingTriangle bool
	HeadAndShoulders   bool
	DoubleTop          bool
	DoubleBottom       bool
	Flag               bool
	Wedge              bool
	Rectangle          bool
	CupAndHandle       bool
}

// Bullish reports whether any bullish pattern is present.
func (p PatternSet) Bullish() bool {
	return p.AscendingTriangle || p.DoubleBottom || p.Flag || p.CupAndHandle
}

// Bearish reports whether any bearish pattern is present.
func (p PatternSet) Bearish() bool {
	return p.DescendingTriangle || p.HeadAndShoulders || p.DoubleTop || p.Wedge
}

// Names lists the detected patterns.
func (p PatternSet) Names() []string {
	var out []string
	add := func(ok bool, name string) {
		if ok {
			out = append(out, name)
		}
	}
	add(p.AscendingTriangle, "ascending_triangle")
	add(p.DescendingTriangle, "descending_triangle")
	add(p.HeadAndShoulders, "head_and_shoulders")
	add(p.DoubleTop, "double_top")
	add(p.DoubleBottom, "double_bottom")
	add(p.Flag, "flag")
	add(p.Wedge, "wedge")
	add(p.Rectangle, "rectangle")
	add(p.CupAndHandle, "cup_and_handle")
	return out
}

func maxHigh(w []model.Candle) float64 {
	m := w[0].High
	for _, c := range w[1:] {
		if c.High > m {
			m = c.High
		}
	}
	return m
}

func minLow(w []model.Candle) float64 {
	m := w[0].Low
	for _, c := range w[1:] {
		if c.Low < m {
			m = c.Low
		}
	}
	return m
}

func meanClose(w []model.Candle) float64 {
	sum := 0.0
	for _, c := range w {
		sum += c.Close
	}
	return sum / float64(len(w))
}

// DetectPatterns evaluates the pattern set at index i of window.
func DetectPatterns(window []model.Candle, i int) (PatternSet, error) {
	if i < 0 || i >= len(window) {
		return PatternSet{}, fmt.Errorf("patterns: index %d out of range [0,%d): %w", i, len(window), ErrInvalidPeriod)
	}
	if i+1 < PatternLookback {
		return PatternSet{}, fmt.Errorf("patterns: have %d candles, need %d: %w", i+1, PatternLookback, ErrInsufficientData)
	}

	upto := window[:i+1]
	tail := func(n int) []model.Candle { return upto[len(upto)-n:] }

	hi5, hi20 := maxHigh(tail(patternShort)), maxHigh(tail(patternLong))
	lo5, lo20 := minLow(tail(patternShort)), minLow(tail(patternLong))
	ma5, ma10, ma20 := meanClose(tail(patternShort)), meanClose(tail(patternMid)), meanClose(tail(patternLong))

	prev, mid, cur := window[i-2], window[i-1], window[i]

	return PatternSet{
		AscendingTriangle:  hi5 == hi20 && lo5 > lo20,
		DescendingTriangle: lo5 == lo20 && hi5 < hi20,
		HeadAndShoulders:   prev.High < mid.High && cur.High < mid.High && prev.Low > mid.Low && cur.Low > mid.Low,
		DoubleTop:          prev.High == mid.High && cur.High == mid.High,
		DoubleBottom:       prev.Low == mid.Low && cur.Low == mid.Low,
		Flag:               ma5 > ma20,
		Wedge:              hi5 < hi20 && lo5 > lo20,
		Rectangle:          hi5 == hi20 && lo5 == lo20,
		CupAndHandle:       ma10 < ma20 && ma5 > ma10,
	}, nil
}

// PersistentLookback is the window needed by PersistentPattern.
const PersistentLookback = PatternLookback + PersistenceCandles - 1

// PersistentPattern reports whether a bullish or bearish pattern held on each
// of the last PersistenceCandles candles. The last candle's set is returned
// for diagnostics.
func PersistentPattern(window []model.Candle) (bullish, bearish bool, last PatternSet, err error) {
	if len(window) < PersistentLookback {
		return false, false, PatternSet{}, fmt.Errorf("patterns: have %d candles, need %d: %w",
			len(window), PersistentLookback, ErrInsufficientData)
	}
	bullish, bearish = true, true
	n := len(window)
	for i := n - PersistenceCandles; i < n; i++ {
		ps, err := DetectPatterns(window, i)
		if err != nil {
			return false, false, PatternSet{}, err
		}
		bullish = bullish && ps.Bullish()
		bearish = bearish && ps.Bearish()
		last = ps
	}
	return bullish, bearish, last, nil
}
