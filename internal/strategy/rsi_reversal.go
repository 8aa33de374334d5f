package strategy

import (
	"fmt"

	"trading-enginev1/internal/indicator"
	"trading-enginev1/internal/model"
)

// RSIReversal buys an oversold RSI and sells an overbought one. Strength
// grows with the distance past the bound.
type RSIReversal struct {
	ind        indicator.Config
	overbought float64
	oversold   float64
}

func newRSIReversal(cfg Config, _ Deps) (Strategy, error) {
	if cfg.RSIOversold <= 0 || cfg.RSIOverbought >= 100 || cfg.RSIOversold >= cfg.RSIOverbought {
		return nil, invalid(NameRSIReversal, "rsi bounds %.1f/%.1f", cfg.RSIOversold, cfg.RSIOverbought)
	}
	if cfg.Indicators.RSIPeriod <= 0 {
		return nil, invalid(NameRSIReversal, "rsi period %d", cfg.Indicators.RSIPeriod)
	}
	return &RSIReversal{
		ind:        indicator.Config{RSIPeriod: cfg.Indicators.RSIPeriod},
		overbought: cfg.RSIOverbought,
		oversold:   cfg.RSIOversold,
	}, nil
}

func (s *RSIReversal) Name() string                 { return NameRSIReversal }
func (s *RSIReversal) Indicators() indicator.Config { return s.ind }
func (s *RSIReversal) Lookback() int                { return s.ind.Lookback() }

func (s *RSIReversal) Evaluate(snap indicator.Snapshot, window []model.Candle) model.Signal {
	price := lastClose(window)
	rsi, ok := snap.Get(indicator.KeyRSI)
	if !ok {
		return model.HoldSignal(price, "indicators not ready: rsi missing")
	}

	switch {
	case rsi <= s.oversold:
		return model.Signal{
			Direction:      model.Buy,
			Strength:       clamp(100 * (s.oversold - rsi) / s.oversold),
			Reason:         fmt.Sprintf("RSI %.1f <= oversold %.1f", rsi, s.oversold),
			ReferencePrice: price,
		}
	case rsi >= s.overbought:
		return model.Signal{
			Direction:      model.Sell,
			Strength:       clamp(100 * (rsi - s.overbought) / (100 - s.overbought)),
			Reason:         fmt.Sprintf("RSI %.1f >= overbought %.1f", rsi, s.overbought),
			ReferencePrice: price,
		}
	}
	return model.HoldSignal(price, "RSI %.1f inside [%.1f, %.1f]", rsi, s.oversold, s.overbought)
}
