package strategy

import (
	"fmt"
	"math"

	"trading-enginev1/internal/indicator"
	"trading-enginev1/internal/model"
)

// Breakout trades momentum breakouts of the recent high/low range.
//
// Buy signal: close above the prior range high, momentum above threshold,
// volume ratio at least the multiplier and positive velocity.
// Sell signal is the mirror image.
type Breakout struct {
	ind        indicator.Config
	threshold  float64
	multiplier float64
}

func newBreakout(cfg Config, _ Deps) (Strategy, error) {
	src := cfg.Indicators
	if src.BreakoutLookback < 1 || src.VolumePeriod < 1 {
		return nil, invalid(NameBreakout, "lookback %d volume period %d", src.BreakoutLookback, src.VolumePeriod)
	}
	if cfg.BreakoutThreshold <= 0 || cfg.VolumeMultiplier <= 0 {
		return nil, invalid(NameBreakout, "threshold %.4f multiplier %.2f", cfg.BreakoutThreshold, cfg.VolumeMultiplier)
	}
	return &Breakout{
		ind:        indicator.Config{BreakoutLookback: src.BreakoutLookback, VolumePeriod: src.VolumePeriod},
		threshold:  cfg.BreakoutThreshold,
		multiplier: cfg.VolumeMultiplier,
	}, nil
}

func (s *Breakout) Name() string                 { return NameBreakout }
func (s *Breakout) Indicators() indicator.Config { return s.ind }
func (s *Breakout) Lookback() int                { return s.ind.Lookback() }

func (s *Breakout) Evaluate(snap indicator.Snapshot, window []model.Candle) model.Signal {
	price := lastClose(window)
	v, err := snap.Require(indicator.KeyBreakoutHigh, indicator.KeyBreakoutLow,
		indicator.KeyMomentum, indicator.KeyVolumeRatio, indicator.KeyVelocity)
	if err != nil {
		return model.HoldSignal(price, "indicators not ready: %v", err)
	}
	high, low, mom, vr, vel := v[0], v[1], v[2], v[3], v[4]

	strength := math.Min(90, 50+math.Abs(mom)*1000+vr*10)
	reason := func(kind string) string {
		return fmt.Sprintf("%s breakout: momentum=%.4f volume_ratio=%.2f velocity=%.4f", kind, mom, vr, vel)
	}

	if price > high && mom > s.threshold && vr >= s.multiplier && vel > 0 {
		return model.Signal{
			Direction:      model.Buy,
			Strength:       clamp(strength),
			Reason:         reason("bullish"),
			ReferencePrice: price,
		}
	}
	if price < low && mom < -s.threshold && vr >= s.multiplier && vel < 0 {
		return model.Signal{
			Direction:      model.Sell,
			Strength:       clamp(strength),
			Reason:         reason("bearish"),
			ReferencePrice: price,
		}
	}
	return model.HoldSignal(price, "no breakout: range [%.4f, %.4f] momentum=%.4f volume_ratio=%.2f", low, high, mom, vr)
}
