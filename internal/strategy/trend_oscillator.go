package strategy

import (
	"fmt"

	"trading-enginev1/internal/indicator"
	"trading-enginev1/internal/model"
)

// TrendOscillator combines a MACD histogram crossing with an RSI filter.
//
// Buy signal: histogram crosses from ≤ 0 to > 0 while RSI is below overbought.
// Sell signal: histogram crosses from ≥ 0 to < 0 while RSI is above oversold.
type TrendOscillator struct {
	ind        indicator.Config
	overbought float64
	oversold   float64
}

func newTrendOscillator(cfg Config, _ Deps) (Strategy, error) {
	if cfg.RSIOversold <= 0 || cfg.RSIOverbought >= 100 || cfg.RSIOversold >= cfg.RSIOverbought {
		return nil, invalid(NameTrendOscillator, "rsi bounds %.1f/%.1f", cfg.RSIOversold, cfg.RSIOverbought)
	}
	src := cfg.Indicators
	if src.RSIPeriod <= 0 || src.MACDFast <= 0 || src.MACDSlow <= src.MACDFast || src.MACDSignal <= 0 {
		return nil, invalid(NameTrendOscillator, "rsi/macd periods required")
	}
	return &TrendOscillator{
		ind: indicator.Config{
			RSIPeriod:  src.RSIPeriod,
			MACDFast:   src.MACDFast,
			MACDSlow:   src.MACDSlow,
			MACDSignal: src.MACDSignal,
		},
		overbought: cfg.RSIOverbought,
		oversold:   cfg.RSIOversold,
	}, nil
}

func (s *TrendOscillator) Name() string                 { return NameTrendOscillator }
func (s *TrendOscillator) Indicators() indicator.Config { return s.ind }
func (s *TrendOscillator) Lookback() int                { return s.ind.Lookback() }

func (s *TrendOscillator) Evaluate(snap indicator.Snapshot, window []model.Candle) model.Signal {
	price := lastClose(window)
	v, err := snap.Require(indicator.KeyMACDHist, indicator.KeyMACDHistPrev, indicator.KeyRSI)
	if err != nil {
		return model.HoldSignal(price, "indicators not ready: %v", err)
	}
	hist, prev, rsi := v[0], v[1], v[2]

	switch {
	case prev <= 0 && hist > 0:
		if rsi >= s.overbought {
			return model.HoldSignal(price, "bullish MACD cross filtered: RSI %.1f >= %.1f", rsi, s.overbought)
		}
		return model.Signal{
			Direction:      model.Buy,
			Strength:       clamp(50 + (s.overbought - rsi)),
			Reason:         formatCross("bullish", prev, hist, rsi),
			ReferencePrice: price,
		}
	case prev >= 0 && hist < 0:
		if rsi <= s.oversold {
			return model.HoldSignal(price, "bearish MACD cross filtered: RSI %.1f <= %.1f", rsi, s.oversold)
		}
		return model.Signal{
			Direction:      model.Sell,
			Strength:       clamp(50 + (rsi - s.oversold)),
			Reason:         formatCross("bearish", prev, hist, rsi),
			ReferencePrice: price,
		}
	}
	return model.HoldSignal(price, "no MACD cross: hist %.4f prev %.4f", hist, prev)
}

func formatCross(kind string, prev, hist, rsi float64) string {
	return fmt.Sprintf("%s MACD cross: hist %.4f -> %.4f, RSI %.1f", kind, prev, hist, rsi)
}
